package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
)

// ReaperConfig configures a Reaper.
type ReaperConfig struct {
	Manager *Manager
	// LockPath is a file used to elect one reaper per host.
	LockPath string
	Interval time.Duration
	Logger   *slog.Logger
}

// Reaper periodically returns expired leases to their queue. Only the
// process holding the lock file reaps; the others keep trying to take it
// over in case the holder exits.
type Reaper struct {
	manager  *Manager
	lock     *flock.Flock
	lockPath string
	interval time.Duration
	logger   *slog.Logger
}

// NewReaper creates a reaper.
func NewReaper(cfg ReaperConfig) (*Reaper, error) {
	if cfg.Manager == nil {
		return nil, errors.New("reaper requires a manager")
	}
	if cfg.LockPath == "" {
		return nil, errors.New("reaper requires a lock path")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{
		manager:  cfg.Manager,
		lock:     flock.New(cfg.LockPath),
		lockPath: cfg.LockPath,
		interval: interval,
		logger:   logger.With("component", "reaper"),
	}, nil
}

// Run reaps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	defer func() {
		if r.lock.Locked() {
			if err := r.lock.Unlock(); err != nil {
				r.logger.Warn("failed to release reaper lock", "error", err)
			}
		}
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.tick(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reap failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// tick reaps once if this process holds, or can take, the lock.
func (r *Reaper) tick(ctx context.Context) error {
	if !r.lock.Locked() {
		ok, err := r.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			r.logger.Debug("another process holds the reaper lock", "lock", r.lockPath)
			return nil
		}
		r.logger.Info("reaper lock acquired", "lock", r.lockPath)
	}
	_, err := r.manager.ReapExpired(ctx)
	return err
}
