package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	"github.com/rs/zerolog"
)

// Store is the SQLite-backed data store. All repositories (messages,
// memories, rooms, templates) are methods on this one handle.
//
// The connection pool is capped at a single connection so that every
// read-then-write sequence inside a transaction is serialized by the
// engine itself; no application-level locking is needed for order
// assignment or dedup checks.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	log zerolog.Logger
}

const pragmas = `
PRAGMA journal_mode = WAL;
PRAGMA busy_timeout = 5000;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;
`

// Open opens (or creates) the database at dsn and applies pragmas.
// Use ":memory:" for an in-memory store or a file path for persistence.
// Migrate must be called before any repository method is used.
func Open(dsn string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Checkpoint forces WAL contents into the main database file.
// Invoked after every mutating write so a crash never loses more than
// the in-flight statement.
func (s *Store) Checkpoint() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// withCheckpoint runs fn inside a transaction and checkpoints on commit.
// Every logical mutation plus its durability checkpoint is one unit;
// callers never interleave raw reads and writes around it.
func (s *Store) withCheckpoint(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	if s.db == nil {
		s.mu.Unlock()
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("begin: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		s.mu.Unlock()
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		s.mu.Unlock()
		return mapError(fmt.Errorf("commit: %w", err))
	}
	s.mu.Unlock()

	return s.Checkpoint()
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Compile-time interface check
var _ Storer = (*Store)(nil)
