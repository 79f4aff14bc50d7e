// Package store implements SQLite-backed persistence for docreview.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"docreview/internal/logging"
	"docreview/internal/persona"

	_ "modernc.org/sqlite"
)

// LocalStore keeps personas in a SQLite database. It implements persona.Store.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

var _ persona.Store = (*LocalStore)(nil)

// NewLocalStore initializes the SQLite database at the given path and seeds
// persona.Defaults into an empty table.
func NewLocalStore(path string) (*LocalStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of concurrent persona edits.
	db.SetMaxOpenConns(1)

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	personaTable := `
	CREATE TABLE IF NOT EXISTS personas (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		prompt TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(personaTable); err != nil {
		return fmt.Errorf("failed to create personas table: %w", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM personas").Scan(&count); err != nil {
		return fmt.Errorf("failed to count personas: %w", err)
	}
	if count == 0 {
		logging.Personas("persona database %s empty, seeding defaults", s.dbPath)
		return s.Replace(context.Background(), persona.Defaults())
	}
	return nil
}

// List implements persona.Registry.
func (s *LocalStore) List(ctx context.Context) (map[string]persona.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, prompt FROM personas ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}
	defer rows.Close()

	out := make(map[string]persona.Persona)
	for rows.Next() {
		var p persona.Persona
		if err := rows.Scan(&p.ID, &p.Name, &p.Prompt); err != nil {
			return nil, fmt.Errorf("failed to scan persona: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// Get returns one persona.
func (s *LocalStore) Get(ctx context.Context, id string) (persona.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p persona.Persona
	err := s.db.QueryRowContext(ctx, "SELECT id, name, prompt FROM personas WHERE id = ?", persona.NormalizeID(id)).
		Scan(&p.ID, &p.Name, &p.Prompt)
	if errors.Is(err, sql.ErrNoRows) {
		return persona.Persona{}, fmt.Errorf("%w: %s", persona.ErrNotFound, id)
	}
	if err != nil {
		return persona.Persona{}, fmt.Errorf("failed to get persona: %w", err)
	}
	return p, nil
}

// Put adds or edits a persona.
func (s *LocalStore) Put(ctx context.Context, p persona.Persona) (persona.Persona, error) {
	p.ID = persona.NormalizeID(p.ID)
	if err := persona.Validate(p); err != nil {
		return persona.Persona{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var owner string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM personas WHERE name = ? AND id != ?", p.Name, p.ID).Scan(&owner)
	if err == nil {
		return persona.Persona{}, fmt.Errorf("%w: %q used by %s", persona.ErrDuplicateName, p.Name, owner)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return persona.Persona{}, fmt.Errorf("failed to check persona name: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO personas (id, name, prompt) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, prompt = excluded.prompt, updated_at = CURRENT_TIMESTAMP`,
		p.ID, p.Name, p.Prompt)
	if err != nil {
		return persona.Persona{}, fmt.Errorf("failed to save persona: %w", err)
	}
	logging.Personas("persona %s saved (%q)", p.ID, p.Name)
	return p, nil
}

// Delete removes a persona. The count check and the delete share one
// transaction so concurrent deletes cannot empty the table.
func (s *LocalStore) Delete(ctx context.Context, id string) error {
	id = persona.NormalizeID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists, total int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FILTER (WHERE id = ?), COUNT(*) FROM personas", id).Scan(&exists, &total)
	if err != nil {
		return fmt.Errorf("failed to count personas: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", persona.ErrNotFound, id)
	}
	if total == 1 {
		return fmt.Errorf("%w: %s", persona.ErrLastPersona, id)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM personas WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete persona: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	logging.Personas("persona %s deleted", id)
	return nil
}

// Replace swaps the whole persona set in one transaction.
func (s *LocalStore) Replace(ctx context.Context, personas map[string]persona.Persona) error {
	next := persona.Clone(personas)
	if err := persona.ValidateSet(next); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM personas"); err != nil {
		return fmt.Errorf("failed to clear personas: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO personas (id, name, prompt) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, id := range persona.SortedIDs(next) {
		p := next[id]
		if _, err := stmt.ExecContext(ctx, p.ID, p.Name, p.Prompt); err != nil {
			return fmt.Errorf("failed to insert persona %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit personas: %w", err)
	}
	logging.Personas("persona set replaced: %s", strings.Join(persona.SortedIDs(next), ", "))
	return nil
}

// Close closes the database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}
