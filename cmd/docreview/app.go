package main

import (
	"context"
	"fmt"

	"docreview/internal/config"
	"docreview/internal/generate"
	"docreview/internal/persona"
	"docreview/internal/store"
	"docreview/internal/workflow"

	"go.uber.org/zap"
)

// app holds the components every command shares.
type app struct {
	cfg      *config.Config
	store    persona.Store
	current  *workflow.Current
	executor *workflow.Executor
}

func openStore(c *config.Config) (persona.Store, error) {
	switch c.Personas.Store {
	case "sqlite":
		return store.NewLocalStore(c.Personas.Path)
	case "yaml", "":
		return persona.NewFileStore(c.Personas.Path)
	}
	return nil, fmt.Errorf("unknown persona store %q", c.Personas.Store)
}

// newApp opens the persona store and compiles the first graph. With a nil
// generator the configured provider is used.
func newApp(ctx context.Context, c *config.Config, gen generate.Generator) (*app, error) {
	if gen == nil {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}

	st, err := openStore(c)
	if err != nil {
		return nil, fmt.Errorf("open persona store: %w", err)
	}

	current := &workflow.Current{}
	if _, err := current.Reload(ctx, st); err != nil {
		st.Close()
		return nil, fmt.Errorf("compile review graph: %w", err)
	}

	if gen == nil {
		gen, err = generate.New(ctx, c.LLM, c.GetLLMTimeout())
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("create generator: %w", err)
		}
	}

	logger.Debug("app ready",
		zap.String("store", c.Personas.Store),
		zap.String("path", c.Personas.Path),
		zap.Uint64("graph_version", current.Load().Version()))

	return &app{
		cfg:      c,
		store:    st,
		current:  current,
		executor: workflow.NewExecutor(gen, workflow.WithMaxConcurrency(c.Workflow.MaxConcurrency)),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// personaStoreOnly opens just the store, for commands that never generate.
func personaStoreOnly(c *config.Config) (persona.Store, error) {
	st, err := openStore(c)
	if err != nil {
		return nil, fmt.Errorf("open persona store: %w", err)
	}
	return st, nil
}
