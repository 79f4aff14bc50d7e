// Package generate provides the text generation capability workflow nodes call.
package generate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"docreview/internal/config"
	"docreview/internal/logging"
)

// Generator turns a prompt into generated text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, prompt string) (string, error)

// Generate implements Generator.
func (f Func) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Echo is a deterministic offline generator. The reply depends only on the
// prompt, so identical inputs always produce identical output.
type Echo struct{}

// Generate implements Generator.
func (Echo) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(prompt))
	first := prompt
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	if len(first) > 80 {
		first = first[:80]
	}
	return fmt.Sprintf("**Echo %s:**\n%s", hex.EncodeToString(sum[:4]), first), nil
}

// Traced wraps a Generator and logs every call with its duration.
type Traced struct {
	underlying Generator
	name       string
	calls      atomic.Int64
	failures   atomic.Int64
}

// NewTraced wraps g.
func NewTraced(name string, g Generator) *Traced {
	return &Traced{underlying: g, name: name}
}

// Generate implements Generator.
func (t *Traced) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	t.calls.Add(1)
	logging.GenerateDebug("[%s] call started: prompt_len=%d", t.name, len(prompt))

	out, err := t.underlying.Generate(ctx, prompt)
	if err != nil {
		t.failures.Add(1)
		logging.Get(logging.CategoryGenerate).Warn("[%s] call failed after %v: %v", t.name, time.Since(start), err)
		return "", err
	}
	logging.Generate("[%s] call completed in %v: response_len=%d", t.name, time.Since(start), len(out))
	return out, nil
}

// Calls returns the number of Generate calls made.
func (t *Traced) Calls() int64 { return t.calls.Load() }

// Failures returns the number of failed Generate calls.
func (t *Traced) Failures() int64 { return t.failures.Load() }

// New builds the configured generator, wrapped in tracing.
func New(ctx context.Context, cfg config.LLMConfig, timeout time.Duration) (Generator, error) {
	var (
		g   Generator
		err error
	)
	switch cfg.Provider {
	case "gemini":
		g, err = NewGemini(ctx, GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     timeout,
		})
	case "openai":
		g = NewOpenAI(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     timeout,
		})
	case "echo":
		g = Echo{}
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	name := cfg.Provider
	if n, ok := g.(interface{ Name() string }); ok {
		name = n.Name()
	}
	return NewTraced(name, g), nil
}
