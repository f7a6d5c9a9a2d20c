package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func startWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
}

func TestWorker_RunsJobs(t *testing.T) {
	m := newTestManager(t)
	w := NewWorker(WorkerConfig{Manager: m, PollInterval: 10 * time.Millisecond, Lease: time.Minute})

	var ran atomic.Int32
	w.Register(testQueue, "count", func(ctx context.Context, job *Record) error {
		ran.Add(1)
		return nil
	}, HandlerOptions{Concurrency: 2})

	for range 5 {
		if _, err := m.Enqueue(t.Context(), testQueue, "count", nil, Options{}); err != nil {
			t.Fatal(err)
		}
	}
	startWorker(t, w)

	waitFor(t, 5*time.Second, func() bool {
		st, err := m.Stats(context.Background(), testQueue)
		return err == nil && st.Completed == 5
	})
	if ran.Load() != 5 {
		t.Errorf("handler ran %d times, want 5", ran.Load())
	}
}

func TestWorker_TypeConcurrencyCap(t *testing.T) {
	m := newTestManager(t)
	w := NewWorker(WorkerConfig{Manager: m, PollInterval: 5 * time.Millisecond, Lease: time.Minute})

	var current, peak atomic.Int32
	w.Register(testQueue, "bulk", func(ctx context.Context, job *Record) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		current.Add(-1)
		return nil
	}, HandlerOptions{})

	for range 4 {
		if _, err := m.Enqueue(t.Context(), testQueue, "bulk", nil, Options{}); err != nil {
			t.Fatal(err)
		}
	}
	startWorker(t, w)

	waitFor(t, 5*time.Second, func() bool {
		st, err := m.Stats(context.Background(), testQueue)
		return err == nil && st.Completed == 4
	})
	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}
}

func TestWorker_PanicAndExhaustion(t *testing.T) {
	m := newTestManager(t)
	w := NewWorker(WorkerConfig{Manager: m, PollInterval: 10 * time.Millisecond, Lease: time.Minute})

	var exhausted atomic.Int32
	w.Register(testQueue, "explode", func(ctx context.Context, job *Record) error {
		panic("kaboom")
	}, HandlerOptions{OnExhausted: func(ctx context.Context, job *Record, cause error) {
		exhausted.Add(1)
	}})
	w.Register(testQueue, "flaky", func(ctx context.Context, job *Record) error {
		if job.AttemptsMade < 2 {
			return errors.New("transient")
		}
		return nil
	}, HandlerOptions{})

	if _, err := m.Enqueue(t.Context(), testQueue, "explode", nil, Options{ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	zero := Backoff{Type: BackoffFixed}
	if _, err := m.Enqueue(t.Context(), testQueue, "flaky", nil, Options{ID: "f1", Backoff: &zero}); err != nil {
		t.Fatal(err)
	}
	startWorker(t, w)

	waitFor(t, 5*time.Second, func() bool {
		p, err1 := m.Get(context.Background(), "p1")
		f, err2 := m.Get(context.Background(), "f1")
		return err1 == nil && err2 == nil && p.Status == StatusDeadLettered && f.Status == StatusCompleted
	})
	p, _ := m.Get(context.Background(), "p1")
	if p.AttemptsMade != 1 {
		t.Errorf("panicking job ran %d times, want 1", p.AttemptsMade)
	}
	if exhausted.Load() != 1 {
		t.Errorf("exhausted hook ran %d times, want 1", exhausted.Load())
	}
	f, _ := m.Get(context.Background(), "f1")
	if f.AttemptsMade != 2 {
		t.Errorf("flaky job attempts = %d, want 2", f.AttemptsMade)
	}
}

func TestWorker_NoHandlers(t *testing.T) {
	w := NewWorker(WorkerConfig{Manager: newTestManager(t)})
	if err := w.Run(t.Context()); !errors.Is(err, ErrNoHandler) {
		t.Errorf("Run() error = %v, want ErrNoHandler", err)
	}
}

func TestReaper_SingleLockHolder(t *testing.T) {
	m := newTestManager(t)
	lockPath := filepath.Join(t.TempDir(), "reaper.lock")

	first, err := NewReaper(ReaperConfig{Manager: m, LockPath: lockPath})
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewReaper(ReaperConfig{Manager: m, LockPath: lockPath})
	if err != nil {
		t.Fatal(err)
	}

	if err := first.tick(t.Context()); err != nil {
		t.Fatalf("first tick error = %v", err)
	}
	if !first.lock.Locked() {
		t.Fatal("first reaper did not take the lock")
	}
	if err := second.tick(t.Context()); err != nil {
		t.Fatalf("second tick error = %v", err)
	}
	if second.lock.Locked() {
		t.Error("second reaper took a held lock")
	}

	if err := first.lock.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := second.tick(t.Context()); err != nil {
		t.Fatal(err)
	}
	if !second.lock.Locked() {
		t.Error("second reaper did not take over a released lock")
	}
	_ = second.lock.Unlock()

	if _, err := NewReaper(ReaperConfig{Manager: m}); err == nil {
		t.Error("NewReaper() without a lock path should fail")
	}
}
