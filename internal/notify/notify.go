// Package notify tells reviewers and uploaders about pipeline outcomes.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackzampolin/scoreshelf/version"
)

// Kind names an event.
type Kind string

const (
	KindCommitted    Kind = "committed"
	KindRejected     Kind = "rejected"
	KindReviewNeeded Kind = "review_needed"
	KindParseFailed  Kind = "parse_failed"
	KindVerifyFailed Kind = "second_pass_failed"
)

// Event is one notification.
type Event struct {
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"sessionId"`
	PieceID   string    `json:"pieceId,omitempty"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Log writes events to a logger. It is the default notifier.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(_ context.Context, e Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "kind", e.Kind, "session_id", e.SessionID,
		"piece_id", e.PieceID, "title", e.Title, "message", e.Message)
	return nil
}

// Webhook posts events as JSON to a URL.
type Webhook struct {
	URL    string
	Client *http.Client
}

// NewWebhook returns a webhook notifier with a bounded request timeout.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Notify(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "scoreshelf/"+version.GitRelease)

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New returns a log notifier, plus a webhook when webhookURL is set.
func New(webhookURL string, logger *slog.Logger) Notifier {
	log := Log{Logger: logger}
	if strings.TrimSpace(webhookURL) == "" {
		return log
	}
	return Multi{log, NewWebhook(webhookURL, 0)}
}
