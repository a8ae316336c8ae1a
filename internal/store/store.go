// Package store is the backend's data access layer, keeping the SQL for
// the transcription queue separate from the HTTP handlers.
package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrItemNotFound      = errors.New("queue item not found")
	ErrItemBusy          = errors.New("queue item is being processed")
	ErrNoQueuedItems     = errors.New("no queued items")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotRunning        = errors.New("processing is not running")
	ErrWorkerBusy        = errors.New("an item is already being processed")
)

// Store provides all functions to interact with the database.
type Store struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithIDGenerator replaces the uuid item ids.
func WithIDGenerator(gen func() string) Option { return func(s *Store) { s.newID = gen } }

// New creates a new Store instance.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, newID: uuid.NewString}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
