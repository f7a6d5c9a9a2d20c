package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/store"
)

// ExhaustedHook runs once when a job of a registered type has used its last
// attempt or failed permanently, before the dead letter is written.
type ExhaustedHook func(ctx context.Context, job *Record, cause error)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	DB *store.DB
	// Queues holds per-queue defaults for attempts and backoff.
	Queues          map[string]config.QueueSettings
	DeadLetterQueue string
	Logger          *slog.Logger
}

// Manager owns the jobs table. It is safe for concurrent use and is shared by
// HTTP handlers, workers and the reaper.
type Manager struct {
	db         *store.DB
	logger     *slog.Logger
	deadLetter string
	now        func() time.Time

	mu     sync.RWMutex
	queues map[string]config.QueueSettings
	hooks  map[string]ExhaustedHook
}

// NewManager creates a job manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dlq := cfg.DeadLetterQueue
	if dlq == "" {
		dlq = config.QueueDeadLetter
	}
	queues := make(map[string]config.QueueSettings, len(cfg.Queues))
	for name, qs := range cfg.Queues {
		queues[name] = qs
	}
	return &Manager{
		db:         cfg.DB,
		logger:     logger,
		deadLetter: dlq,
		now:        func() time.Time { return time.Now().UTC() },
		queues:     queues,
		hooks:      make(map[string]ExhaustedHook),
	}
}

// DeadLetterQueue returns the name of the dead-letter queue.
func (m *Manager) DeadLetterQueue() string { return m.deadLetter }

// SetQueues replaces per-queue defaults, e.g. after settings change.
func (m *Manager) SetQueues(queues map[string]config.QueueSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues = make(map[string]config.QueueSettings, len(queues))
	for name, qs := range queues {
		m.queues[name] = qs
	}
}

// QueueSettings returns the defaults for queue.
func (m *Manager) QueueSettings(queue string) config.QueueSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if qs, ok := m.queues[queue]; ok {
		return qs
	}
	return config.QueueSettings{Name: queue, Concurrency: 1, MaxAttempts: 1, Backoff: string(BackoffFixed)}
}

// OnExhausted registers the hook for a job type.
func (m *Manager) OnExhausted(jobType string, hook ExhaustedHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[jobType] = hook
}

const jobColumns = `id, queue, job_type, payload, status, attempts_made, max_attempts,
    backoff_type, backoff_base_ms, run_at, locked_by, locked_until, last_error,
    origin_queue, origin_job_id, created_at, updated_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Record, error) {
	var (
		r           Record
		payload     string
		backoffType string
		backoffMS   int64
		runAt       string
		lockedBy    sql.NullString
		lockedUntil sql.NullString
		lastError   sql.NullString
		originQueue sql.NullString
		originJob   sql.NullString
		createdAt   string
		updatedAt   string
		startedAt   sql.NullString
		finishedAt  sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Queue, &r.Type, &payload, &r.Status, &r.AttemptsMade, &r.MaxAttempts,
		&backoffType, &backoffMS, &runAt, &lockedBy, &lockedUntil, &lastError,
		&originQueue, &originJob, &createdAt, &updatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	r.Payload = json.RawMessage(payload)
	r.Backoff = Backoff{Type: BackoffType(backoffType), Base: time.Duration(backoffMS) * time.Millisecond}
	r.RunAt, _ = store.ParseTime(runAt)
	r.LockedBy = lockedBy.String
	r.LockedUntil = store.ScanTime(lockedUntil)
	r.LastError = lastError.String
	r.OriginQueue = originQueue.String
	r.OriginJobID = originJob.String
	r.CreatedAt, _ = store.ParseTime(createdAt)
	r.UpdatedAt, _ = store.ParseTime(updatedAt)
	r.StartedAt = store.ScanTime(startedAt)
	r.FinishedAt = store.ScanTime(finishedAt)
	return &r, nil
}

// Enqueue adds a job to queue. Enqueueing an id that already exists returns
// the existing job unchanged.
func (m *Manager) Enqueue(ctx context.Context, queue, jobType string, payload any, opts Options) (*Record, error) {
	if queue == "" || jobType == "" {
		return nil, errors.New("queue and job type are required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	qs := m.QueueSettings(queue)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = qs.MaxAttempts
	}
	backoff := Backoff{Type: BackoffType(qs.Backoff), Base: qs.BackoffBase}
	if opts.Backoff != nil {
		backoff = *opts.Backoff
	}
	if backoff.Type == "" {
		backoff.Type = BackoffFixed
	}

	now := m.now()
	res, err := m.db.Exec(ctx,
		`INSERT INTO jobs (id, queue, job_type, payload, status, attempts_made, max_attempts,
             backoff_type, backoff_base_ms, run_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (id) DO NOTHING`,
		id, queue, jobType, string(raw), StatusWaiting, maxAttempts,
		string(backoff.Type), backoff.Base.Milliseconds(), store.FormatTime(now.Add(opts.Delay)),
		store.FormatTime(now), store.FormatTime(now))
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		m.logger.Debug("job already enqueued", "job_id", id, "queue", queue)
	} else {
		m.logger.Info("job enqueued", "job_id", id, "queue", queue, "type", jobType)
	}
	return m.Get(ctx, id)
}

// Get returns a job by id.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	return getJob(ctx, m.db, id)
}

func getJob(ctx context.Context, q store.Querier, id string) (*Record, error) {
	r, err := scanJob(q.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return r, nil
}

// Claim leases the next runnable job in queue whose type is one of types.
// It returns nil when nothing is runnable.
func (m *Manager) Claim(ctx context.Context, queue string, types []string, workerID string, lease time.Duration) (*Record, error) {
	if len(types) == 0 {
		return nil, nil
	}
	for range 3 {
		now := m.now()
		args := []any{queue, StatusWaiting, store.FormatTime(now)}
		for _, t := range types {
			args = append(args, t)
		}
		var id string
		err := m.db.QueryRow(ctx,
			`SELECT id FROM jobs
             WHERE queue = ? AND status = ? AND run_at <= ? AND job_type IN (`+store.Placeholders(len(types))+`)
             ORDER BY run_at, created_at LIMIT 1`, args...).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select runnable job: %w", err)
		}

		ts := store.FormatTime(now)
		res, err := m.db.Exec(ctx,
			`UPDATE jobs SET status = ?, locked_by = ?, locked_until = ?, attempts_made = attempts_made + 1,
                 started_at = COALESCE(started_at, ?), updated_at = ?
             WHERE id = ? AND status = ? AND run_at <= ?`,
			StatusActive, workerID, store.FormatTime(now.Add(lease)), ts, ts,
			id, StatusWaiting, ts)
		if err != nil {
			return nil, fmt.Errorf("claim job %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Another worker won this row; try the next one.
			continue
		}
		return m.Get(ctx, id)
	}
	return nil, nil
}

// ExtendLease pushes out the lease of a job still held by workerID.
func (m *Manager) ExtendLease(ctx context.Context, id, workerID string, lease time.Duration) (bool, error) {
	now := m.now()
	res, err := m.db.Exec(ctx,
		`UPDATE jobs SET locked_until = ?, updated_at = ? WHERE id = ? AND status = ? AND locked_by = ?`,
		store.FormatTime(now.Add(lease)), store.FormatTime(now), id, StatusActive, workerID)
	if err != nil {
		return false, fmt.Errorf("extend lease: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Complete marks a leased job completed. It returns false if the lease was
// lost in the meantime.
func (m *Manager) Complete(ctx context.Context, job *Record) (bool, error) {
	now := store.FormatTime(m.now())
	res, err := m.db.Exec(ctx,
		`UPDATE jobs SET status = ?, locked_by = NULL, locked_until = NULL, last_error = NULL,
             finished_at = ?, updated_at = ?
         WHERE id = ? AND status = ? AND locked_by = ?`,
		StatusCompleted, now, now, job.ID, StatusActive, job.LockedBy)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		m.logger.Warn("job lease lost before completion", "job_id", job.ID, "queue", job.Queue)
		return false, nil
	}
	return true, nil
}

// Fail records a handler failure for a leased job. With attempts left the
// job waits for its backoff; otherwise it is moved to the dead-letter queue.
func (m *Manager) Fail(ctx context.Context, job *Record, cause error) error {
	return m.fail(ctx, job, job.LockedBy, cause)
}

func (m *Manager) fail(ctx context.Context, job *Record, lockedBy string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	now := m.now()
	ts := store.FormatTime(now)

	if !IsPermanent(cause) && job.AttemptsMade < job.MaxAttempts {
		delay := job.Backoff.Delay(job.AttemptsMade)
		res, err := m.db.Exec(ctx,
			`UPDATE jobs SET status = ?, run_at = ?, locked_by = NULL, locked_until = NULL, last_error = ?, updated_at = ?
             WHERE id = ? AND status = ? AND locked_by = ?`,
			StatusWaiting, store.FormatTime(now.Add(delay)), msg, ts, job.ID, StatusActive, lockedBy)
		if err != nil {
			return fmt.Errorf("reschedule job: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			m.logger.Warn("job failed, will retry",
				"job_id", job.ID, "queue", job.Queue, "attempt", job.AttemptsMade,
				"max_attempts", job.MaxAttempts, "delay", delay, "error", msg)
		}
		return nil
	}

	res, err := m.db.Exec(ctx,
		`UPDATE jobs SET status = ?, locked_by = NULL, locked_until = NULL, last_error = ?, finished_at = ?, updated_at = ?
         WHERE id = ? AND status = ? AND locked_by = ?`,
		StatusFailed, msg, ts, ts, job.ID, StatusActive, lockedBy)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		m.logger.Warn("job lease lost before failure was recorded", "job_id", job.ID, "queue", job.Queue)
		return nil
	}
	m.logger.Error("job exhausted", "job_id", job.ID, "queue", job.Queue,
		"attempts", job.AttemptsMade, "permanent", IsPermanent(cause), "error", msg)

	m.mu.RLock()
	hook := m.hooks[job.Type]
	m.mu.RUnlock()
	if hook != nil {
		hook(ctx, job, cause)
	}

	return m.deadLetterJob(ctx, job, msg)
}

func (m *Manager) deadLetterJob(ctx context.Context, job *Record, msg string) error {
	return m.db.InTx(ctx, func(tx *store.Tx) error {
		ts := store.FormatTime(m.now())
		if _, err := tx.Exec(ctx,
			`INSERT INTO jobs (id, queue, job_type, payload, status, attempts_made, max_attempts,
                 backoff_type, backoff_base_ms, run_at, last_error, origin_queue, origin_job_id, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, 0, 1, ?, 0, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), m.deadLetter, job.Type, string(job.Payload), StatusWaiting,
			string(BackoffFixed), ts, msg, job.Queue, job.ID, ts, ts); err != nil {
			return fmt.Errorf("insert dead letter: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			StatusDeadLettered, ts, job.ID, StatusFailed); err != nil {
			return fmt.Errorf("mark dead lettered: %w", err)
		}
		return nil
	})
}

// ReapExpired returns active jobs whose lease ended to their queue. A reaped
// job on its last attempt is failed as if the handler had errored.
func (m *Manager) ReapExpired(ctx context.Context) (int, error) {
	rows, err := m.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND locked_until < ?`,
		StatusActive, store.FormatTime(m.now()))
	if err != nil {
		return 0, fmt.Errorf("find expired leases: %w", err)
	}
	var expired []*Record
	for rows.Next() {
		r, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		expired = append(expired, r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return 0, err
	}

	for _, r := range expired {
		cause := fmt.Errorf("lease held by %s expired", r.LockedBy)
		if r.FinalAttempt() {
			if err := m.fail(ctx, r, r.LockedBy, cause); err != nil {
				return 0, err
			}
			continue
		}
		ts := store.FormatTime(m.now())
		if _, err := m.db.Exec(ctx,
			`UPDATE jobs SET status = ?, locked_by = NULL, locked_until = NULL, last_error = ?, run_at = ?, updated_at = ?
             WHERE id = ? AND status = ? AND locked_by = ?`,
			StatusWaiting, cause.Error(), ts, ts, r.ID, StatusActive, r.LockedBy); err != nil {
			return 0, fmt.Errorf("release lease: %w", err)
		}
	}
	if len(expired) > 0 {
		m.logger.Info("reaped expired leases", "count", len(expired))
	}
	return len(expired), nil
}

// Stats counts jobs in queue by state.
func (m *Manager) Stats(ctx context.Context, queue string) (QueueStats, error) {
	stats := QueueStats{Queue: queue}
	rows, err := m.db.Query(ctx,
		`SELECT status, CASE WHEN status = ? AND run_at > ? THEN 1 ELSE 0 END AS delayed, COUNT(1)
         FROM jobs WHERE queue = ? GROUP BY status, delayed`,
		StatusWaiting, store.FormatTime(m.now()), queue)
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status  Status
			delayed int
			count   int
		)
		if err := rows.Scan(&status, &delayed, &count); err != nil {
			return stats, err
		}
		switch {
		case status == StatusWaiting && delayed == 1:
			stats.Delayed += count
		case status == StatusWaiting:
			stats.Waiting += count
		case status == StatusActive:
			stats.Active += count
		case status == StatusCompleted:
			stats.Completed += count
		case status == StatusFailed:
			stats.Failed += count
		case status == StatusDeadLettered:
			stats.DeadLettered += count
		}
	}
	return stats, rows.Err()
}

// AllStats returns stats for every configured queue and any queue with jobs.
func (m *Manager) AllStats(ctx context.Context) ([]QueueStats, error) {
	names := make(map[string]bool)
	m.mu.RLock()
	for name := range m.queues {
		names[name] = true
	}
	m.mu.RUnlock()
	names[m.deadLetter] = true

	rows, err := m.db.Query(ctx, `SELECT DISTINCT queue FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			rows.Close()
			return nil, err
		}
		names[q] = true
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	out := make([]QueueStats, 0, len(sorted))
	for _, name := range sorted {
		st, err := m.Stats(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// ListDeadLetters returns pending dead letters, newest first.
func (m *Manager) ListDeadLetters(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := m.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE queue = ? AND status = ? ORDER BY created_at DESC, id LIMIT ?`,
		m.deadLetter, StatusWaiting, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RetryDeadLetter re-injects the origin job of a dead letter into its queue
// with a fresh set of attempts. The dead letter is marked completed. The
// origin job keeps its id so references to it stay valid.
func (m *Manager) RetryDeadLetter(ctx context.Context, deadLetterID string) (*Record, error) {
	var originID string
	err := m.db.InTx(ctx, func(tx *store.Tx) error {
		dl, err := getJob(ctx, tx, deadLetterID)
		if err != nil {
			return err
		}
		if dl.Queue != m.deadLetter || dl.Status != StatusWaiting || dl.OriginJobID == "" {
			return fmt.Errorf("%w: %s", ErrNotDeadLetter, deadLetterID)
		}
		ts := store.FormatTime(m.now())
		res, err := tx.Exec(ctx,
			`UPDATE jobs SET status = ?, attempts_made = 0, run_at = ?, locked_by = NULL, locked_until = NULL,
                 finished_at = NULL, updated_at = ?
             WHERE id = ? AND status IN (?, ?)`,
			StatusWaiting, ts, ts, dl.OriginJobID, StatusDeadLettered, StatusFailed)
		if err != nil {
			return fmt.Errorf("requeue origin job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Origin row is gone (cleared); recreate it from the dead letter.
			qs := m.QueueSettings(dl.OriginQueue)
			if _, err := tx.Exec(ctx,
				`INSERT INTO jobs (id, queue, job_type, payload, status, attempts_made, max_attempts,
                     backoff_type, backoff_base_ms, run_at, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`,
				dl.OriginJobID, dl.OriginQueue, dl.Type, string(dl.Payload), StatusWaiting, qs.MaxAttempts,
				qs.Backoff, qs.BackoffBase.Milliseconds(), ts, ts, ts); err != nil {
				return fmt.Errorf("recreate origin job: %w", err)
			}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET status = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
			StatusCompleted, ts, ts, dl.ID); err != nil {
			return fmt.Errorf("close dead letter: %w", err)
		}
		originID = dl.OriginJobID
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("dead letter retried", "dead_letter_id", deadLetterID, "job_id", originID)
	return m.Get(ctx, originID)
}

// clearable lists the statuses Clear may delete. Active jobs are never touched.
var clearable = []Status{StatusWaiting, StatusCompleted, StatusFailed, StatusDeadLettered}

// Clear deletes jobs in queue with the given statuses (default: completed,
// failed and dead-lettered). The dead-letter queue cannot be cleared.
func (m *Manager) Clear(ctx context.Context, queue string, statuses []Status) (int64, error) {
	if queue == m.deadLetter {
		return 0, ErrDeadLetterProtected
	}
	if len(statuses) == 0 {
		statuses = []Status{StatusCompleted, StatusFailed, StatusDeadLettered}
	}
	var keep []Status
	for _, st := range statuses {
		if slices.Contains(clearable, st) && !slices.Contains(keep, st) {
			keep = append(keep, st)
		}
	}
	if len(keep) == 0 {
		return 0, nil
	}
	args := []any{queue}
	for _, st := range keep {
		args = append(args, st)
	}
	res, err := m.db.Exec(ctx,
		`DELETE FROM jobs WHERE queue = ? AND status IN (`+store.Placeholders(len(keep))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("clear queue %s: %w", queue, err)
	}
	n, _ := res.RowsAffected()
	m.logger.Info("queue cleared", "queue", queue, "statuses", keep, "deleted", n)
	return n, nil
}
