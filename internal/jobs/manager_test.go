package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/store"
)

const testQueue = "test-queue"

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := store.Open(t.Context(), store.Config{DSN: filepath.Join(t.TempDir(), "jobs.db")})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewManager(ManagerConfig{
		DB: db,
		Queues: map[string]config.QueueSettings{
			testQueue: {Name: testQueue, Concurrency: 4, MaxAttempts: 3, Backoff: "exponential", BackoffBase: time.Second},
		},
	})
}

// clock lets tests move time forward.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func withClock(m *Manager) *clock {
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m.now = c.Now
	return c
}

func TestBackoff_Delay(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		attempt int
		want    time.Duration
	}{
		{"fixed", Backoff{BackoffFixed, 5 * time.Second}, 3, 5 * time.Second},
		{"exponential first", Backoff{BackoffExponential, time.Second}, 1, time.Second},
		{"exponential third", Backoff{BackoffExponential, time.Second}, 3, 4 * time.Second},
		{"exponential capped", Backoff{BackoffExponential, time.Minute}, 30, MaxBackoff},
		{"zero base", Backoff{BackoffExponential, 0}, 4, 0},
		{"attempt below one", Backoff{BackoffExponential, time.Second}, 0, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.backoff.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad payload")
	err := Permanent(base)
	if !IsPermanent(err) {
		t.Error("IsPermanent() = false for Permanent error")
	}
	if !errors.Is(err, base) {
		t.Error("Permanent() should unwrap to the cause")
	}
	if IsPermanent(base) {
		t.Error("plain error classified permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestEnqueue(t *testing.T) {
	m := newTestManager(t)
	ctx := t.Context()

	job, err := m.Enqueue(ctx, testQueue, "render", map[string]string{"sessionId": "s1"}, Options{})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if job.Status != StatusWaiting || job.MaxAttempts != 3 {
		t.Errorf("job = %+v", job)
	}
	if job.Backoff.Type != BackoffExponential || job.Backoff.Base != time.Second {
		t.Errorf("Backoff = %+v, want queue default", job.Backoff)
	}
	var payload struct{ SessionID string }
	if err := job.Decode(&payload); err != nil || payload.SessionID != "s1" {
		t.Errorf("Decode() = %+v, %v", payload, err)
	}

	t.Run("explicit id is idempotent", func(t *testing.T) {
		first, err := m.Enqueue(ctx, testQueue, "render", map[string]int{"n": 1}, Options{ID: "fixed-id", MaxAttempts: 7})
		if err != nil {
			t.Fatal(err)
		}
		again, err := m.Enqueue(ctx, testQueue, "render", map[string]int{"n": 2}, Options{ID: "fixed-id"})
		if err != nil {
			t.Fatalf("second Enqueue() error = %v", err)
		}
		if again.MaxAttempts != 7 || string(again.Payload) != string(first.Payload) {
			t.Errorf("duplicate enqueue changed the job: %+v", again)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("Get() error = %v, want ErrJobNotFound", err)
		}
	})
}

func TestClaim(t *testing.T) {
	m := newTestManager(t)
	clk := withClock(m)
	ctx := t.Context()

	if _, err := m.Enqueue(ctx, testQueue, "a", nil, Options{ID: "later", Delay: time.Minute}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Enqueue(ctx, testQueue, "b", nil, Options{ID: "other-type"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Enqueue(ctx, testQueue, "a", nil, Options{ID: "now"}); err != nil {
		t.Fatal(err)
	}

	job, err := m.Claim(ctx, testQueue, []string{"a"}, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if job == nil || job.ID != "now" {
		t.Fatalf("Claim() = %+v, want job now", job)
	}
	if job.Status != StatusActive || job.AttemptsMade != 1 || job.LockedBy != "w1" || job.LockedUntil == nil {
		t.Errorf("claimed job = %+v", job)
	}

	none, err := m.Claim(ctx, testQueue, []string{"a"}, "w2", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Errorf("Claim() returned %s while only a delayed job is left", none.ID)
	}

	clk.Advance(2 * time.Minute)
	later, err := m.Claim(ctx, testQueue, []string{"a"}, "w2", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if later == nil || later.ID != "later" {
		t.Errorf("Claim() after delay = %+v, want job later", later)
	}
}

func TestFail_RetryThenDeadLetter(t *testing.T) {
	m := newTestManager(t)
	clk := withClock(m)
	ctx := t.Context()

	var hookCalls int
	m.OnExhausted("a", func(ctx context.Context, job *Record, cause error) { hookCalls++ })

	if _, err := m.Enqueue(ctx, testQueue, "a", map[string]string{"k": "v"}, Options{ID: "j1"}); err != nil {
		t.Fatal(err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		job, err := m.Claim(ctx, testQueue, []string{"a"}, "w1", time.Minute)
		if err != nil || job == nil {
			t.Fatalf("attempt %d: Claim() = %v, %v", attempt, job, err)
		}
		if err := m.Fail(ctx, job, errors.New("boom")); err != nil {
			t.Fatalf("Fail() error = %v", err)
		}
		got, _ := m.Get(ctx, "j1")
		if attempt < 3 {
			if got.Status != StatusWaiting || got.LastError != "boom" {
				t.Fatalf("attempt %d: job = %s %q", attempt, got.Status, got.LastError)
			}
			want := clk.Now().Add(job.Backoff.Delay(attempt))
			if !got.RunAt.Equal(want) {
				t.Errorf("attempt %d: RunAt = %v, want %v", attempt, got.RunAt, want)
			}
			clk.Advance(time.Hour)
		}
	}

	got, _ := m.Get(ctx, "j1")
	if got.Status != StatusDeadLettered {
		t.Fatalf("Status = %s, want dead_lettered", got.Status)
	}
	if hookCalls != 1 {
		t.Errorf("exhausted hook ran %d times, want 1", hookCalls)
	}

	dls, err := m.ListDeadLetters(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(dls) != 1 || dls[0].OriginJobID != "j1" || dls[0].OriginQueue != testQueue || dls[0].LastError != "boom" {
		t.Fatalf("dead letters = %+v", dls)
	}

	retried, err := m.RetryDeadLetter(ctx, dls[0].ID)
	if err != nil {
		t.Fatalf("RetryDeadLetter() error = %v", err)
	}
	if retried.ID != "j1" || retried.Status != StatusWaiting || retried.AttemptsMade != 0 {
		t.Errorf("retried = %+v", retried)
	}
	if _, err := m.RetryDeadLetter(ctx, dls[0].ID); !errors.Is(err, ErrNotDeadLetter) {
		t.Errorf("second RetryDeadLetter() error = %v, want ErrNotDeadLetter", err)
	}
	if _, err := m.RetryDeadLetter(ctx, "j1"); !errors.Is(err, ErrNotDeadLetter) {
		t.Errorf("RetryDeadLetter(origin) error = %v, want ErrNotDeadLetter", err)
	}
}

func TestFail_Permanent(t *testing.T) {
	m := newTestManager(t)
	ctx := t.Context()

	if _, err := m.Enqueue(ctx, testQueue, "a", nil, Options{ID: "j1"}); err != nil {
		t.Fatal(err)
	}
	job, _ := m.Claim(ctx, testQueue, []string{"a"}, "w1", time.Minute)
	if err := m.Fail(ctx, job, Permanent(errors.New("unreadable pdf"))); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Get(ctx, "j1")
	if got.Status != StatusDeadLettered || got.AttemptsMade != 1 {
		t.Errorf("job = %s after %d attempts, want dead_lettered after 1", got.Status, got.AttemptsMade)
	}
}

func TestComplete_LostLease(t *testing.T) {
	m := newTestManager(t)
	ctx := t.Context()

	if _, err := m.Enqueue(ctx, testQueue, "a", nil, Options{ID: "j1"}); err != nil {
		t.Fatal(err)
	}
	job, _ := m.Claim(ctx, testQueue, []string{"a"}, "w1", time.Minute)

	stale := *job
	stale.LockedBy = "someone-else"
	ok, err := m.Complete(ctx, &stale)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Complete() succeeded without holding the lease")
	}
	ok, err = m.Complete(ctx, job)
	if err != nil || !ok {
		t.Errorf("Complete() = %v, %v", ok, err)
	}
}

func TestReapExpired(t *testing.T) {
	m := newTestManager(t)
	clk := withClock(m)
	ctx := t.Context()

	if _, err := m.Enqueue(ctx, testQueue, "a", nil, Options{ID: "j1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Enqueue(ctx, testQueue, "a", nil, Options{ID: "last", MaxAttempts: 1}); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if j, err := m.Claim(ctx, testQueue, []string{"a"}, "w1", time.Minute); err != nil || j == nil {
			t.Fatalf("Claim() = %v, %v", j, err)
		}
	}

	n, err := m.ReapExpired(ctx)
	if err != nil || n != 0 {
		t.Fatalf("ReapExpired() before expiry = %d, %v", n, err)
	}

	clk.Advance(2 * time.Minute)
	n, err = m.ReapExpired(ctx)
	if err != nil {
		t.Fatalf("ReapExpired() error = %v", err)
	}
	if n != 2 {
		t.Errorf("reaped %d, want 2", n)
	}
	j1, _ := m.Get(ctx, "j1")
	if j1.Status != StatusWaiting || j1.LockedBy != "" {
		t.Errorf("j1 = %s locked by %q, want waiting", j1.Status, j1.LockedBy)
	}
	last, _ := m.Get(ctx, "last")
	if last.Status != StatusDeadLettered {
		t.Errorf("last = %s, want dead_lettered", last.Status)
	}
}

func TestStatsAndClear(t *testing.T) {
	m := newTestManager(t)
	ctx := t.Context()

	for _, id := range []string{"w1", "w2", "act", "done"} {
		if _, err := m.Enqueue(ctx, testQueue, "a", nil, Options{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.Enqueue(ctx, testQueue, "a", nil, Options{ID: "delayed", Delay: time.Hour}); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if _, err := m.Claim(ctx, testQueue, []string{"a"}, "w", time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	done, _ := m.Claim(ctx, testQueue, []string{"a"}, "w", time.Minute)
	if _, err := m.Complete(ctx, done); err != nil {
		t.Fatal(err)
	}

	st, err := m.Stats(ctx, testQueue)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Waiting != 1 || st.Active != 2 || st.Completed != 1 || st.Delayed != 1 {
		t.Errorf("Stats() = %+v", st)
	}

	all, err := m.AllStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, s := range all {
		names[s.Queue] = true
	}
	if !names[testQueue] || !names[config.QueueDeadLetter] {
		t.Errorf("AllStats() queues = %v", names)
	}

	if _, err := m.Clear(ctx, config.QueueDeadLetter, nil); !errors.Is(err, ErrDeadLetterProtected) {
		t.Errorf("Clear(dead letter) error = %v, want ErrDeadLetterProtected", err)
	}

	n, err := m.Clear(ctx, testQueue, []Status{StatusActive, StatusCompleted, StatusWaiting})
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Clear() deleted %d, want 3 (waiting, delayed, completed)", n)
	}
	st, _ = m.Stats(ctx, testQueue)
	if st.Active != 2 {
		t.Errorf("active jobs after Clear = %d, want 2", st.Active)
	}
}
