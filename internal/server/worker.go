package server

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/jobs"
	"github.com/jackzampolin/scoreshelf/internal/svcctx"
)

// RunWorker executes pipeline jobs and reaps expired leases until ctx is
// cancelled. Any number of worker processes may share one database; the
// reaper lock in the home directory keeps one reaper per host.
func RunWorker(ctx context.Context, svc *svcctx.Services, cfg config.WorkerCfg) error {
	w := jobs.NewWorker(jobs.WorkerConfig{
		Manager:      svc.JobManager,
		PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		Lease:        time.Duration(cfg.LeaseSeconds) * time.Second,
		Logger:       svc.Logger,
	})
	if err := svc.Pipeline.Register(w); err != nil {
		return fmt.Errorf("register pipeline stages: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(ctx) })

	if svc.Home != nil {
		reaper, err := jobs.NewReaper(jobs.ReaperConfig{
			Manager:  svc.JobManager,
			LockPath: svc.Home.ReaperLockPath(),
			Interval: time.Duration(cfg.ReaperIntervalSec) * time.Second,
			Logger:   svc.Logger,
		})
		if err != nil {
			return fmt.Errorf("create reaper: %w", err)
		}
		g.Go(func() error { return reaper.Run(ctx) })
	}

	// Queue concurrency and retry policy are settings; pick up edits.
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				queues, err := config.ResolveQueues(ctx, svc.ConfigStore)
				if err != nil {
					svc.Logger.Warn("failed to refresh queue settings", "error", err)
					continue
				}
				svc.JobManager.SetQueues(queues)
			}
		}
	})

	svc.Logger.Info("worker running", "worker_id", w.ID())
	return g.Wait()
}
