package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackzampolin/scoreshelf/internal/blob"
	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/jobs"
	"github.com/jackzampolin/scoreshelf/internal/notify"
	"github.com/jackzampolin/scoreshelf/internal/review"
	"github.com/jackzampolin/scoreshelf/internal/store"
)

type cleanupStage struct{ p *Pipeline }

func (s *cleanupStage) Name() string           { return JobTypeCleanup }
func (s *cleanupStage) Dependencies() []string { return nil }
func (s *cleanupStage) Queue() string          { return config.QueueCleanup }
func (s *cleanupStage) Description() string {
	return "Remove temporary part files after a decision and notify"
}

func (s *cleanupStage) Handle(ctx context.Context, job *jobs.Record) error {
	var pl review.CleanupPayload
	if err := job.Decode(&pl); err != nil {
		return err
	}
	return s.p.Cleanup(ctx, pl)
}

func (s *cleanupStage) Exhausted(_ context.Context, job *jobs.Record, cause error) {
	s.p.logger.Warn("cleanup gave up", "job_id", job.ID, "error", cause)
}

// Cleanup runs after a commit or rejection. Temporary parts of a committed
// session are deleted only when every library copy exists; then the
// notification is sent. A failed notification fails the job so it is
// retried, which may repeat the deletion harmlessly.
func (p *Pipeline) Cleanup(ctx context.Context, pl review.CleanupPayload) error {
	logger := p.logger.With("session_id", pl.SessionID, "kind", pl.Kind)

	if pl.Kind == notify.KindCommitted {
		if err := p.removeTemporaryParts(ctx, pl); err != nil {
			return err
		}
	}

	err := p.notifier.Notify(ctx, notify.Event{
		Kind:      pl.Kind,
		SessionID: pl.SessionID,
		PieceID:   pl.PieceID,
		Title:     pl.Title,
		Message:   pl.Message,
		Actor:     pl.Actor,
		At:        p.now(),
	})
	if err != nil {
		return fmt.Errorf("notify %s: %w", pl.Kind, err)
	}
	logger.Debug("cleanup complete")
	return nil
}

func (p *Pipeline) removeTemporaryParts(ctx context.Context, pl review.CleanupPayload) error {
	logger := p.logger.With("session_id", pl.SessionID)
	if pl.PieceID == "" {
		return jobs.Permanent(errors.New("committed cleanup without piece id"))
	}
	piece, err := p.store.GetPiece(ctx, pl.PieceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return jobs.Permanent(err)
		}
		return err
	}
	for _, part := range piece.Parts {
		ok, err := p.blobs.Exists(ctx, part.StorageKey)
		if err != nil {
			return err
		}
		if !ok {
			logger.Warn("library copy missing, keeping temporary parts", "key", part.StorageKey)
			return nil
		}
	}

	n, err := blob.DeletePrefix(ctx, p.blobs, partsPrefix(pl.SessionID)+"/")
	if err != nil {
		return fmt.Errorf("delete temporary parts: %w", err)
	}
	logger.Info("temporary parts removed", "count", n)
	return nil
}
