package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackzampolin/scoreshelf/internal/pdf"
	"github.com/jackzampolin/scoreshelf/internal/session"
	"github.com/jackzampolin/scoreshelf/internal/store"
)

// Paging limits for ListPending.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Filter selects sessions. Status is a review status and defaults to
// PENDING_REVIEW; "ALL" lists every session. Page is 1-based.
type Filter struct {
	Status string
	Page   int
	Limit  int
}

// StatusAll disables the review status filter.
const StatusAll = "ALL"

// Page is one page of sessions plus global status counts.
type Page struct {
	Sessions []*session.Session `json:"sessions"`
	Total    int                `json:"total"`
	Page     int                `json:"page"`
	Limit    int                `json:"limit"`
	Counts   store.StatusCounts `json:"counts"`
}

func (f Filter) normalize() (store.SessionFilter, Filter, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Page < 1 {
		f.Page = 1
	}
	sf := store.SessionFilter{Limit: f.Limit, Offset: (f.Page - 1) * f.Limit}

	status := strings.ToUpper(strings.TrimSpace(f.Status))
	switch status {
	case "":
		sf.ReviewStatus = session.ReviewPending
	case StatusAll:
	default:
		rs, err := session.ParseReviewStatus(status)
		if err != nil {
			return sf, f, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
		}
		sf.ReviewStatus = rs
	}
	return sf, f, nil
}

// ListPending returns sessions newest first.
func (s *Service) ListPending(ctx context.Context, f Filter) (*Page, error) {
	sf, f, err := f.normalize()
	if err != nil {
		return nil, err
	}
	sessions, err := s.store.ListSessions(ctx, sf)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	total, err := s.store.CountSessions(ctx, store.SessionFilter{ReviewStatus: sf.ReviewStatus})
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &Page{Sessions: sessions, Total: total, Page: f.Page, Limit: f.Limit, Counts: counts}, nil
}

// GetSession returns one session.
func (s *Service) GetSession(ctx context.Context, id string) (*session.Session, error) {
	return s.store.GetSession(ctx, id)
}

// Preview is one rendered page.
type Preview struct {
	Image      []byte `json:"image"`
	MimeType   string `json:"mimeType"`
	Page       int    `json:"page"`
	TotalPages int    `json:"totalPages"`
}

// Preview renders page (0-indexed) of a blob owned by the session: the
// original upload or one of its parts.
func (s *Service) Preview(ctx context.Context, sessionID, storageKey string, page int) (*Preview, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.HasPart(storageKey) {
		return nil, ErrForeignKey
	}
	if s.renderer == nil {
		return nil, fmt.Errorf("no renderer configured")
	}

	key, err := s.previewKey(ctx, sess, storageKey)
	if err != nil {
		return nil, err
	}
	doc, err := s.blobs.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	total, err := s.splitter.PageCount(ctx, doc)
	if err != nil {
		return nil, err
	}
	if page < 0 || page >= total {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, total)
	}
	img, err := pdf.RenderPage(ctx, s.renderer, doc, page+1)
	if err != nil {
		return nil, err
	}
	return &Preview{Image: img, MimeType: "image/png", Page: page, TotalPages: total}, nil
}

// previewKey maps a part key to its library copy once the session is
// committed, since cleanup removes the temporary parts.
func (s *Service) previewKey(ctx context.Context, sess *session.Session, storageKey string) (string, error) {
	if storageKey == sess.StorageKey {
		return storageKey, nil
	}
	pos := -1
	for i, p := range sess.Parts {
		if p.StorageKey == storageKey {
			pos = i
			break
		}
	}
	piece, err := s.store.FindPieceBySession(ctx, sess.ID)
	if err != nil || piece == nil || pos < 0 {
		return storageKey, err
	}
	libParts, err := s.store.ListPieceParts(ctx, piece.ID)
	if err != nil {
		return "", err
	}
	for _, lp := range libParts {
		if lp.Position == pos {
			return lp.StorageKey, nil
		}
	}
	return storageKey, nil
}
