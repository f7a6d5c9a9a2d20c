package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/scoreshelf/internal/config"
)

// Settings implements config.Store on the settings table. Values are stored
// as JSON so numbers, booleans and lists survive the round trip.
type Settings struct {
	db  *DB
	now func() time.Time
}

var _ config.Store = (*Settings)(nil)

// NewSettings returns a settings store on db.
func NewSettings(db *DB) *Settings {
	return &Settings{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Get returns a single entry, or nil when the key is unset.
func (s *Settings) Get(ctx context.Context, key string) (*config.Entry, error) {
	row := s.db.QueryRow(ctx, `SELECT key, value, description FROM settings WHERE key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get setting %q: %w", key, err)
	}
	return e, nil
}

// Set creates or updates an entry. An empty description keeps the stored one.
func (s *Settings) Set(ctx context.Context, key string, value any, description string) error {
	if err := config.ValidateKey(key); err != nil {
		return err
	}
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO settings (key, value, description, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT (key) DO UPDATE SET
             value = excluded.value,
             description = COALESCE(NULLIF(excluded.description, ''), settings.description),
             updated_at = excluded.updated_at`,
		key, string(valueJSON), description, FormatTime(s.now()))
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// GetAll returns every entry.
func (s *Settings) GetAll(ctx context.Context) (map[string]config.Entry, error) {
	return s.list(ctx, `SELECT key, value, description FROM settings`)
}

// GetByPrefix returns entries whose key starts with prefix.
func (s *Settings) GetByPrefix(ctx context.Context, prefix string) (map[string]config.Entry, error) {
	return s.list(ctx, `SELECT key, value, description FROM settings WHERE key LIKE ? ESCAPE '\'`,
		likeEscaper.Replace(prefix)+"%")
}

// Delete removes an entry. Deleting a missing key is not an error.
func (s *Settings) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *Settings) list(ctx context.Context, query string, args ...any) (map[string]config.Entry, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]config.Entry)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out[e.Key] = *e
	}
	return out, rows.Err()
}

func scanEntry(row rowScanner) (*config.Entry, error) {
	var (
		e           config.Entry
		raw         string
		description sql.NullString
	)
	if err := row.Scan(&e.Key, &raw, &description); err != nil {
		return nil, err
	}
	e.Description = description.String
	// Rows written by hand may hold a bare string.
	if err := json.Unmarshal([]byte(raw), &e.Value); err != nil {
		e.Value = raw
	}
	return &e, nil
}
