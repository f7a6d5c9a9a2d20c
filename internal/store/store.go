package store

import (
	"log/slog"
	"time"
)

// Store provides the named session transitions, the library commit, and the
// settings table.
type Store struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Store on db.
func New(db *DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// DB returns the underlying handle.
func (s *Store) DB() *DB { return s.db }
