package llmcall

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/scoreshelf/internal/store"
)

// Store persists calls in the llm_calls table.
type Store struct {
	db *store.DB
}

// NewStore creates a call store on db.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// QueryFilter selects calls. Zero fields do not filter.
type QueryFilter struct {
	SessionID string
	JobID     string
	Task      string
	Provider  string
	Success   *bool
	After     *time.Time
	Limit     int
	Offset    int
}

// DefaultLimit applies when a filter sets no limit.
const DefaultLimit = 100

const callColumns = `id, created_at, latency_ms, session_id, job_id, task, prompt_key, prompt_hash,
    provider, model, attempts, input_tokens, output_tokens, cost_usd, response, success, error`

// Insert stores c.
func (s *Store) Insert(ctx context.Context, c *Call) error {
	_, err := s.db.Exec(ctx, `INSERT INTO llm_calls (`+callColumns+`) VALUES (`+store.Placeholders(17)+`)`,
		c.ID, store.FormatTime(c.Timestamp), c.LatencyMs, c.SessionID, store.NullableString(c.JobID),
		c.Task, c.PromptKey, store.NullableString(c.PromptHash), c.Provider, store.NullableString(c.Model),
		c.Attempts, c.InputTokens, c.OutputTokens, c.CostUSD, store.NullableString(c.Response),
		store.BoolInt(c.Success), store.NullableString(c.Error))
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

// Get returns one call.
func (s *Store) Get(ctx context.Context, id string) (*Call, error) {
	c, err := scanCall(s.db.QueryRow(ctx, `SELECT `+callColumns+` FROM llm_calls WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("llm call %s: %w", id, store.ErrNotFound)
	}
	return c, err
}

func (f QueryFilter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}
	if f.SessionID != "" {
		add("session_id = ?", f.SessionID)
	}
	if f.JobID != "" {
		add("job_id = ?", f.JobID)
	}
	if f.Task != "" {
		add("task = ?", f.Task)
	}
	if f.Provider != "" {
		add("provider = ?", f.Provider)
	}
	if f.Success != nil {
		add("success = ?", store.BoolInt(*f.Success))
	}
	if f.After != nil {
		add("created_at > ?", store.FormatTime(*f.After))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns calls oldest first.
func (s *Store) List(ctx context.Context, f QueryFilter) ([]*Call, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	where, args := f.where()
	args = append(args, f.Limit, f.Offset)
	rows, err := s.db.Query(ctx, `SELECT `+callColumns+` FROM llm_calls`+where+
		` ORDER BY created_at, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list llm calls: %w", err)
	}
	defer rows.Close()

	calls := []*Call{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*Call, error) {
	var (
		c                                        Call
		created                                  string
		jobID, promptHash, model, response, errS sql.NullString
		success                                  int
	)
	if err := row.Scan(&c.ID, &created, &c.LatencyMs, &c.SessionID, &jobID, &c.Task, &c.PromptKey,
		&promptHash, &c.Provider, &model, &c.Attempts, &c.InputTokens, &c.OutputTokens, &c.CostUSD,
		&response, &success, &errS); err != nil {
		return nil, err
	}
	ts, err := store.ParseTime(created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	c.Timestamp = ts
	c.JobID = jobID.String
	c.PromptHash = promptHash.String
	c.Model = model.String
	c.Response = response.String
	c.Error = errS.String
	c.Success = success != 0
	return &c, nil
}
