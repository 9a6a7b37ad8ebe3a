// Package store persists the Loresmith workspace in SQLite: research
// documents, the character record, the lorebook and saved transcripts.
//
// Store implements the tool effects interface, so every change a tool
// makes is written through as it happens.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/loresmith/internal/card"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed workspace store. All public methods are safe
// for concurrent use (SQLite serializes writes).
type Store struct {
	db     *sql.DB
	ownsDB bool
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// New wraps an open database, running migrations on first use.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// DB returns the underlying database for stores that share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database if Open created it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id       TEXT PRIMARY KEY,
		name     TEXT NOT NULL,
		content  TEXT NOT NULL,
		size     INTEGER NOT NULL,
		source   TEXT NOT NULL DEFAULT '',
		added_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_added ON documents(added_at);

	CREATE TABLE IF NOT EXISTS character (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		data       TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lorebook (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		name        TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS lore_entries (
		id              INTEGER PRIMARY KEY,
		keys            TEXT NOT NULL,
		secondary_keys  TEXT NOT NULL DEFAULT '[]',
		content         TEXT NOT NULL,
		comment         TEXT NOT NULL DEFAULT '',
		enabled         INTEGER NOT NULL DEFAULT 1,
		constant        INTEGER NOT NULL DEFAULT 0,
		insertion_order INTEGER NOT NULL DEFAULT 100
	);

	CREATE TABLE IF NOT EXISTS transcripts (
		name       TEXT PRIMARY KEY,
		data       TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load reads the whole workspace. ResearchURL is not stored and is left
// for the caller to fill in.
func (s *Store) Load(ctx context.Context) (card.Workspace, error) {
	var ws card.Workspace
	var err error

	if ws.Documents, err = s.Documents(ctx); err != nil {
		return ws, err
	}
	if ws.Character, err = s.Character(ctx); err != nil {
		return ws, err
	}
	if ws.Lorebook, err = s.Lorebook(ctx); err != nil {
		return ws, err
	}
	return ws, nil
}

// timeFormat is fixed-width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func now() string {
	return time.Now().UTC().Format(timeFormat)
}
