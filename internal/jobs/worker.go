package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// Handler executes one job. It must be idempotent: a job may run again after
// a crash, an expired lease or a retry.
type Handler func(ctx context.Context, job *Record) error

// HandlerOptions tune a registered job type.
type HandlerOptions struct {
	// Concurrency caps how many jobs of this type run at once in this
	// process. Zero means 1.
	Concurrency int
	// OnExhausted runs when the job will not be retried.
	OnExhausted ExhaustedHook
}

type registration struct {
	jobType string
	queue   string
	handler Handler
	limit   int

	mu       sync.Mutex
	inFlight int
}

func (r *registration) tryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight >= r.limit {
		return false
	}
	r.inFlight++
	return true
}

func (r *registration) release() {
	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Manager *Manager
	// ID identifies the lease holder. Defaults to host-pid-random.
	ID           string
	PollInterval time.Duration
	Lease        time.Duration
	Logger       *slog.Logger
}

// Worker polls queues and runs registered handlers. Each queue gets its own
// pool sized by the queue's concurrency setting.
type Worker struct {
	manager      *Manager
	id           string
	pollInterval time.Duration
	lease        time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	byType  map[string]*registration
	running bool
}

// NewWorker creates a worker. Register handlers before calling Run.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := cfg.ID
	if id == "" {
		host, _ := os.Hostname()
		id = fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	lease := cfg.Lease
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &Worker{
		manager:      cfg.Manager,
		id:           id,
		pollInterval: poll,
		lease:        lease,
		logger:       logger.With("worker_id", id),
		byType:       make(map[string]*registration),
	}
}

// ID returns the lease holder id.
func (w *Worker) ID() string { return w.id }

// Register binds a handler to a job type on a queue.
func (w *Worker) Register(queue, jobType string, h Handler, opts HandlerOptions) {
	w.mu.Lock()
	defer w.mu.Unlock()
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 1
	}
	w.byType[jobType] = &registration{jobType: jobType, queue: queue, handler: h, limit: limit}
	if opts.OnExhausted != nil {
		w.manager.OnExhausted(jobType, opts.OnExhausted)
	}
}

// Queues returns the queues that have at least one handler.
func (w *Worker) Queues() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	seen := make(map[string]bool)
	for _, r := range w.byType {
		seen[r.queue] = true
	}
	out := make([]string, 0, len(seen))
	for q := range seen {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

// Run polls every registered queue until ctx is cancelled, then waits for
// in-flight jobs to return.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker %s already running", w.id)
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	queues := w.Queues()
	if len(queues) == 0 {
		return ErrNoHandler
	}

	w.logger.Info("worker started", "queues", queues)
	loops := pool.New()
	for _, q := range queues {
		loops.Go(func() { w.runQueue(ctx, q) })
	}
	loops.Wait()
	w.logger.Info("worker stopped")
	return nil
}

func (w *Worker) registrations(queue string) []*registration {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*registration
	for _, r := range w.byType {
		if r.queue == queue {
			out = append(out, r)
		}
	}
	return out
}

func (w *Worker) runQueue(ctx context.Context, queue string) {
	slots := w.manager.QueueSettings(queue).Concurrency
	if slots < 1 {
		slots = 1
	}
	sem := make(chan struct{}, slots)
	jobs := pool.New().WithMaxGoroutines(slots)
	defer jobs.Wait()

	logger := w.logger.With("queue", queue)
	logger.Debug("queue loop started", "slots", slots)

	for {
		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}

		job, reg, err := w.claim(ctx, queue)
		if err != nil || job == nil {
			<-sem
			if err != nil && ctx.Err() == nil {
				logger.Error("claim failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
			continue
		}

		jobs.Go(func() {
			defer func() { <-sem }()
			defer reg.release()
			// Handlers finish on their own; shutdown does not cancel them.
			w.execute(context.WithoutCancel(ctx), reg, job)
		})
	}
}

// claim picks a job whose type has spare capacity.
func (w *Worker) claim(ctx context.Context, queue string) (*Record, *registration, error) {
	var acquired []*registration
	var types []string
	for _, r := range w.registrations(queue) {
		if r.tryAcquire() {
			acquired = append(acquired, r)
			types = append(types, r.jobType)
		}
	}
	releaseAll := func(except *registration) {
		for _, r := range acquired {
			if r != except {
				r.release()
			}
		}
	}
	if len(types) == 0 {
		return nil, nil, nil
	}

	job, err := w.manager.Claim(ctx, queue, types, w.id, w.lease)
	if err != nil || job == nil {
		releaseAll(nil)
		return nil, nil, err
	}
	for _, r := range acquired {
		if r.jobType == job.Type {
			releaseAll(r)
			return job, r, nil
		}
	}
	releaseAll(nil)
	return nil, nil, fmt.Errorf("claimed job %s of unregistered type %s", job.ID, job.Type)
}

func (w *Worker) execute(ctx context.Context, reg *registration, job *Record) {
	logger := w.logger.With("job_id", job.ID, "queue", job.Queue, "type", job.Type, "attempt", job.AttemptsMade)
	logger.Info("job started")
	start := time.Now()

	stop := w.keepLease(ctx, job)
	var handlerErr error
	var pc panics.Catcher
	pc.Try(func() { handlerErr = reg.handler(ctx, job) })
	stop()
	if r := pc.Recovered(); r != nil {
		handlerErr = Permanent(r.AsError())
	}

	if handlerErr == nil {
		if _, err := w.manager.Complete(ctx, job); err != nil {
			logger.Error("failed to record completion", "error", err)
			return
		}
		logger.Info("job completed", "duration", time.Since(start))
		return
	}
	if err := w.manager.Fail(ctx, job, handlerErr); err != nil {
		logger.Error("failed to record failure", "error", err, "cause", handlerErr)
	}
}

// keepLease extends the job's lease until the returned stop func is called.
func (w *Worker) keepLease(ctx context.Context, job *Record) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := w.manager.ExtendLease(ctx, job.ID, w.id, w.lease)
				if err != nil && ctx.Err() == nil {
					w.logger.Warn("lease extension failed", "job_id", job.ID, "error", err)
				} else if !ok && err == nil {
					w.logger.Warn("lease lost", "job_id", job.ID)
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
