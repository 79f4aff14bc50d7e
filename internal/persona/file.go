package persona

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"docreview/internal/logging"

	"gopkg.in/yaml.v3"
)

// FileStore keeps personas in a YAML file keyed by ID:
//
//	strict:
//	  name: Strict Reviewer
//	  prompt: You are a strict reviewer...
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore opens the YAML store at path, seeding it with Defaults when
// the file does not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logging.Personas("persona file %s missing, seeding defaults", path)
		if err := s.write(Defaults()); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat persona file: %w", err)
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// List implements Registry.
func (s *FileStore) List(ctx context.Context) (map[string]Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Get returns one persona.
func (s *FileStore) Get(ctx context.Context, id string) (Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return Persona{}, err
	}
	p, ok := all[NormalizeID(id)]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// Put adds or edits a persona. The ID is normalized first.
func (s *FileStore) Put(ctx context.Context, p Persona) (Persona, error) {
	p.ID = NormalizeID(p.ID)
	if err := Validate(p); err != nil {
		return Persona{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return Persona{}, err
	}
	all[p.ID] = p
	if err := ValidateSet(all); err != nil {
		return Persona{}, err
	}
	if err := s.write(all); err != nil {
		return Persona{}, err
	}
	logging.Personas("persona %s saved (%q)", p.ID, p.Name)
	return p, nil
}

// Delete removes a persona.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	id = NormalizeID(id)
	if _, ok := all[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if len(all) == 1 {
		return fmt.Errorf("%w: %s", ErrLastPersona, id)
	}
	delete(all, id)
	if err := s.write(all); err != nil {
		return err
	}
	logging.Personas("persona %s deleted", id)
	return nil
}

// Replace swaps the whole persona set.
func (s *FileStore) Replace(ctx context.Context, personas map[string]Persona) error {
	next := Clone(personas)
	if err := ValidateSet(next); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(next)
}

// Close is a no-op; the file is not held open.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read() (map[string]Persona, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Persona{}, nil
		}
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}

	raw := make(map[string]Persona)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse persona file %s: %w", s.path, err)
	}
	return Clone(raw), nil
}

// write replaces the file atomically so watchers never see a partial document.
func (s *FileStore) write(personas map[string]Persona) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create persona directory: %w", err)
	}

	data, err := yaml.Marshal(personas)
	if err != nil {
		return fmt.Errorf("failed to marshal personas: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".personas-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp persona file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write personas: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write personas: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace persona file: %w", err)
	}
	return nil
}
