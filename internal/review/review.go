// Package review lists sessions awaiting a decision and commits approved
// sessions into the library. Commit is the only path that creates library
// pieces; manual, bulk and automatic approval all go through it.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/scoreshelf/internal/blob"
	"github.com/jackzampolin/scoreshelf/internal/config"
	"github.com/jackzampolin/scoreshelf/internal/jobs"
	"github.com/jackzampolin/scoreshelf/internal/notify"
	"github.com/jackzampolin/scoreshelf/internal/pdf"
	"github.com/jackzampolin/scoreshelf/internal/session"
	"github.com/jackzampolin/scoreshelf/internal/store"
)

var (
	// ErrNoTitle is returned when neither the extraction nor the override
	// supplies a title. Its text is the bulk-approve skip reason.
	ErrNoTitle = errors.New("No title in extracted metadata")
	// ErrNoParts is returned when a session has no parts and the caller did
	// not override the title.
	ErrNoParts = errors.New("no parts to commit")
	// ErrPageOutOfRange is returned for a preview page outside the document.
	ErrPageOutOfRange = errors.New("page out of range")
	// ErrForeignKey is returned when a preview storage key does not belong
	// to the session.
	ErrForeignKey = errors.New("storage key does not belong to session")
	// ErrInvalidFilter is returned for an unknown status filter.
	ErrInvalidFilter = errors.New("invalid filter")
)

// Bulk-approve skip reasons.
const (
	SkipAlreadyCommitted = "Already committed"
	SkipDuplicate        = "Duplicate id"
)

// JobTypeCleanup is the job type of the post-decision cleanup job.
const JobTypeCleanup = "cleanup"

// CleanupPayload is the cleanup job payload.
type CleanupPayload struct {
	SessionID string      `json:"sessionId"`
	PieceID   string      `json:"pieceId,omitempty"`
	Kind      notify.Kind `json:"kind"`
	Title     string      `json:"title,omitempty"`
	Actor     string      `json:"actor,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// Config configures a Service.
type Config struct {
	Store    *store.Store
	Jobs     *jobs.Manager
	Blobs    blob.Store
	Renderer pdf.Renderer
	Splitter pdf.Splitter
	Logger   *slog.Logger
}

// Service implements listing, approval, rejection and commit.
type Service struct {
	store    *store.Store
	jobs     *jobs.Manager
	blobs    blob.Store
	renderer pdf.Renderer
	splitter pdf.Splitter
	logger   *slog.Logger
}

// New creates a review service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	splitter := cfg.Splitter
	if splitter == nil {
		splitter = pdf.PDFCPU{}
	}
	return &Service{
		store:    cfg.Store,
		jobs:     cfg.Jobs,
		blobs:    cfg.Blobs,
		renderer: cfg.Renderer,
		splitter: splitter,
		logger:   logger,
	}
}

// Override replaces extracted metadata at commit time. Empty fields keep
// the extracted value.
type Override struct {
	Title     string `json:"title,omitempty"`
	Composer  string `json:"composer,omitempty"`
	Arranger  string `json:"arranger,omitempty"`
	Publisher string `json:"publisher,omitempty"`
}

// CommitOptions identify who committed and how.
type CommitOptions struct {
	Override     Override
	ReviewerID   string
	AutoApproved bool
}

// CommitResult reports the piece a session maps to.
type CommitResult struct {
	PieceID       string `json:"pieceId"`
	WasIdempotent bool   `json:"wasIdempotent"`
}

// LibraryPrefix is where committed part files live.
func LibraryPrefix(sessionID string) string { return blob.Key("library", sessionID) }

// Commit turns a session into a library piece exactly once. Calling it again
// for a committed session returns the same piece with WasIdempotent set.
func (s *Service) Commit(ctx context.Context, sessionID string, opts CommitOptions) (CommitResult, error) {
	logger := s.logger.With("session_id", sessionID)

	existing, err := s.store.FindPieceBySession(ctx, sessionID)
	if err != nil {
		return CommitResult{}, err
	}
	if existing != nil {
		return CommitResult{PieceID: existing.ID, WasIdempotent: true}, nil
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return CommitResult{}, err
	}
	if err := session.CheckReview(sess.ReviewStatus, session.ReviewApproved); err != nil {
		return CommitResult{}, fmt.Errorf("%w: %w", store.ErrIneligible, err)
	}

	o := opts.Override
	title := firstNonEmpty(o.Title, sess.Metadata.Title)
	if title == "" {
		return CommitResult{}, ErrNoTitle
	}
	if len(sess.Parts) == 0 && strings.TrimSpace(o.Title) == "" {
		return CommitResult{}, ErrNoParts
	}

	libParts, copies := libraryParts(sess)
	if err := blob.CopyAll(ctx, s.blobs, copies); err != nil {
		return CommitResult{}, fmt.Errorf("copy parts to library: %w", err)
	}

	pieceID, created, err := s.store.CommitPiece(ctx, store.CommitInput{
		SessionID:    sessionID,
		Title:        title,
		Composer:     firstNonEmpty(o.Composer, sess.Metadata.Composer),
		Arranger:     firstNonEmpty(o.Arranger, sess.Metadata.Arranger),
		Publisher:    firstNonEmpty(o.Publisher, sess.Metadata.Publisher),
		Parts:        libParts,
		ReviewerID:   opts.ReviewerID,
		AutoApproved: opts.AutoApproved,
	})
	if err != nil {
		return CommitResult{}, err
	}
	if !created {
		return CommitResult{PieceID: pieceID, WasIdempotent: true}, nil
	}

	s.enqueueCleanup(ctx, logger, CleanupPayload{
		SessionID: sessionID,
		PieceID:   pieceID,
		Kind:      notify.KindCommitted,
		Title:     title,
		Actor:     opts.ReviewerID,
	})
	return CommitResult{PieceID: pieceID}, nil
}

// libraryParts maps session parts to library rows and the blob copies that
// back them. Keys are deterministic so a retried commit rewrites the same
// objects.
func libraryParts(sess *session.Session) ([]store.LibraryPart, []blob.CopyPair) {
	prefix := LibraryPrefix(sess.ID)
	used := make(map[string]int, len(sess.Parts))
	out := make([]store.LibraryPart, 0, len(sess.Parts))
	copies := make([]blob.CopyPair, 0, len(sess.Parts))
	for i, p := range sess.Parts {
		name := p.FileName
		used[name]++
		if n := used[name]; n > 1 {
			name = fmt.Sprintf("%s_%d.pdf", strings.TrimSuffix(name, ".pdf"), n)
		}
		dst := blob.Key(prefix, name)
		copies = append(copies, blob.CopyPair{Src: p.StorageKey, Dst: dst})
		out = append(out, store.LibraryPart{
			Position:      i,
			Instrument:    p.Instrument,
			PartName:      p.PartName,
			Chair:         p.Chair,
			Section:       p.Section,
			Transposition: p.Transposition,
			PartType:      string(p.PartType),
			PageStart:     p.PageStart,
			PageEnd:       p.PageEnd,
			StorageKey:    dst,
			FileName:      name,
			FileSize:      p.FileSize,
		})
	}
	return out, copies
}

func (s *Service) enqueueCleanup(ctx context.Context, logger *slog.Logger, p CleanupPayload) {
	if s.jobs == nil {
		return
	}
	id := fmt.Sprintf("cleanup-%s-%s", p.SessionID, p.Kind)
	if _, err := s.jobs.Enqueue(context.WithoutCancel(ctx), config.QueueCleanup, JobTypeCleanup, p, jobs.Options{ID: id}); err != nil {
		logger.Warn("failed to enqueue cleanup", "error", err)
	}
}

// Approve commits a session on behalf of a reviewer.
func (s *Service) Approve(ctx context.Context, sessionID string, o Override, reviewerID string) (CommitResult, error) {
	return s.Commit(ctx, sessionID, CommitOptions{Override: o, ReviewerID: reviewerID})
}

// Skip explains why a bulk-approve entry was not approved.
type Skip struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// BulkResult reports a bulk approval.
type BulkResult struct {
	Approved []string `json:"approved"`
	Skipped  []Skip   `json:"skipped"`
}

// BulkApprove commits each session independently and reports one outcome
// per requested id. One failure never stops the rest.
func (s *Service) BulkApprove(ctx context.Context, ids []string, reviewerID string) BulkResult {
	res := BulkResult{Approved: []string{}, Skipped: []Skip{}}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			res.Skipped = append(res.Skipped, Skip{SessionID: id, Reason: SkipDuplicate})
			continue
		}
		seen[id] = true

		out, err := s.Commit(ctx, id, CommitOptions{ReviewerID: reviewerID})
		switch {
		case err != nil:
			res.Skipped = append(res.Skipped, Skip{SessionID: id, Reason: err.Error()})
		case out.WasIdempotent:
			res.Skipped = append(res.Skipped, Skip{SessionID: id, Reason: SkipAlreadyCommitted})
		default:
			res.Approved = append(res.Approved, id)
		}
	}
	s.logger.Info("bulk approve", "requested", len(ids), "approved", len(res.Approved), "skipped", len(res.Skipped))
	return res
}

// Reject marks a session rejected and returns it.
func (s *Service) Reject(ctx context.Context, sessionID, reviewerID, reason string) (*session.Session, error) {
	if err := s.store.Reject(ctx, sessionID, reviewerID, strings.TrimSpace(reason)); err != nil {
		return nil, err
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.enqueueCleanup(ctx, s.logger.With("session_id", sessionID), CleanupPayload{
		SessionID: sessionID,
		Kind:      notify.KindRejected,
		Title:     sess.Metadata.Title,
		Actor:     reviewerID,
		Message:   sess.RejectReason,
	})
	return sess, nil
}

// Reopen returns a rejected session to the review queue.
func (s *Service) Reopen(ctx context.Context, sessionID string) (*session.Session, error) {
	if err := s.store.Reopen(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, sessionID)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
