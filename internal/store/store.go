// Package store provides SQLite persistence for fedline.
//
// The only durable timeline state is the reading-position anchor: one entry
// id per aggregation session. The feed itself is re-fetched on cold start.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex // Protects all database operations
	now func() time.Time
}

// Anchor is one persisted reading position.
type Anchor struct {
	Session   string
	EntryID   string
	UpdatedAt time.Time
}

// Open creates a new Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so every pooled connection sees the same database
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db, now: time.Now}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required tables if they don't exist.
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS anchors (
		session TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveAnchor upserts the anchor for session. An empty id clears it.
// Thread-safe: acquires write lock.
func (s *Store) SaveAnchor(session, id string) error {
	if id == "" {
		return s.ClearAnchor(session)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO anchors (session, entry_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session) DO UPDATE SET
			entry_id = excluded.entry_id,
			updated_at = excluded.updated_at
	`, session, id, s.now())
	if err != nil {
		return fmt.Errorf("save anchor: %w", err)
	}
	return nil
}

// LoadAnchor returns the anchor for session, or "" if none was saved.
// Thread-safe: acquires read lock.
func (s *Store) LoadAnchor(session string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id string
	err := s.db.QueryRow("SELECT entry_id FROM anchors WHERE session = ?", session).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load anchor: %w", err)
	}
	return id, nil
}

// ClearAnchor forgets the anchor for session.
// Thread-safe: acquires write lock.
func (s *Store) ClearAnchor(session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM anchors WHERE session = ?", session); err != nil {
		return fmt.Errorf("clear anchor: %w", err)
	}
	return nil
}

// Anchors lists every persisted anchor, most recently updated first.
// Thread-safe: acquires read lock.
func (s *Store) Anchors() ([]Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT session, entry_id, updated_at FROM anchors ORDER BY updated_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Anchor
	for rows.Next() {
		var a Anchor
		if err := rows.Scan(&a.Session, &a.EntryID, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
