// Package persona defines reviewer personas and the stores that hold them.
package persona

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a persona ID is not in the store.
	ErrNotFound = errors.New("persona not found")
	// ErrInvalid is returned for personas missing an ID, name or prompt.
	ErrInvalid = errors.New("invalid persona")
	// ErrDuplicateName is returned when two personas would share a display name.
	// Reviews are keyed by display name, so a duplicate would silently drop one.
	ErrDuplicateName = errors.New("duplicate persona display name")
	// ErrLastPersona is returned when a delete would leave the store empty.
	ErrLastPersona = errors.New("cannot delete the last persona")
)

// Persona is a named reviewer behavior profile.
type Persona struct {
	ID     string `json:"id" yaml:"-"`
	Name   string `json:"name" yaml:"name"`
	Prompt string `json:"prompt" yaml:"prompt"`
}

// Registry supplies persona snapshots keyed by ID.
type Registry interface {
	List(ctx context.Context) (map[string]Persona, error)
}

// Store is a Registry that also supports editing.
type Store interface {
	Registry
	Get(ctx context.Context, id string) (Persona, error)
	Put(ctx context.Context, p Persona) (Persona, error)
	// Delete fails with ErrLastPersona rather than empty the store.
	Delete(ctx context.Context, id string) error
	Replace(ctx context.Context, personas map[string]Persona) error
	Close() error
}

// reservedIDs are node names the workflow graph uses for its fixed nodes.
var reservedIDs = map[string]bool{"supervisor": true, "aggregator": true, "__end__": true}

// NormalizeID lower-cases an ID and replaces spaces with underscores.
func NormalizeID(id string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(id)), " ", "_")
}

// Validate checks a single persona.
func Validate(p Persona) error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalid)
	case reservedIDs[p.ID]:
		return fmt.Errorf("%w: id %q is reserved", ErrInvalid, p.ID)
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: %s: name is required", ErrInvalid, p.ID)
	case strings.TrimSpace(p.Prompt) == "":
		return fmt.Errorf("%w: %s: prompt is required", ErrInvalid, p.ID)
	}
	return nil
}

// ValidateSet checks every persona and rejects duplicate display names.
func ValidateSet(personas map[string]Persona) error {
	owners := make(map[string]string, len(personas))
	for _, id := range SortedIDs(personas) {
		p := personas[id]
		if p.ID == "" {
			p.ID = id
		}
		if p.ID != id {
			return fmt.Errorf("%w: key %q holds persona %q", ErrInvalid, id, p.ID)
		}
		if err := Validate(p); err != nil {
			return err
		}
		if other, ok := owners[p.Name]; ok {
			return fmt.Errorf("%w: %q used by %s and %s", ErrDuplicateName, p.Name, other, id)
		}
		owners[p.Name] = id
	}
	return nil
}

// SortedIDs returns the snapshot's IDs in ascending order.
func SortedIDs(personas map[string]Persona) []string {
	ids := make([]string, 0, len(personas))
	for id := range personas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone copies a snapshot so callers cannot alias a store's internal map.
func Clone(personas map[string]Persona) map[string]Persona {
	out := make(map[string]Persona, len(personas))
	for id, p := range personas {
		p.ID = id
		out[id] = p
	}
	return out
}

// Defaults returns the personas a fresh store is seeded with.
func Defaults() map[string]Persona {
	return map[string]Persona{
		"strict": {
			ID:     "strict",
			Name:   "Strict Reviewer",
			Prompt: "You are a strict reviewer. Hold the document to a high standard, call out every unsupported claim, unclear sentence and structural weakness, and do not soften your criticism.",
		},
		"forgiving": {
			ID:     "forgiving",
			Name:   "Forgiving Reviewer",
			Prompt: "You are a forgiving reviewer. Focus on what the document does well, treat minor issues lightly, and frame suggestions as encouragement.",
		},
	}
}
