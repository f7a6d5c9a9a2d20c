package llmcall

import (
	"context"
	"log/slog"
)

// Recorder writes calls on a best-effort basis. A failed write is logged
// and never fails the stage that made the call.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder creates a recorder. A nil store disables recording.
func NewRecorder(s *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, logger: logger}
}

// Record stores c, detached from ctx cancellation so a call made just
// before shutdown is still kept.
func (r *Recorder) Record(ctx context.Context, c *Call) {
	if r == nil || r.store == nil || c == nil {
		return
	}
	if err := r.store.Insert(context.WithoutCancel(ctx), c); err != nil {
		r.logger.Warn("failed to record llm call", "error", err, "session_id", c.SessionID, "task", c.Task)
	}
}
