package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/scoreshelf/internal/session"
)

// LibraryPiece is a committed piece. At most one exists per source session.
type LibraryPiece struct {
	ID              string        `json:"pieceId"`
	SourceSessionID string        `json:"sourceSessionId"`
	Title           string        `json:"title"`
	Composer        string        `json:"composer,omitempty"`
	Arranger        string        `json:"arranger,omitempty"`
	Publisher       string        `json:"publisher,omitempty"`
	PartCount       int           `json:"partCount"`
	AutoApproved    bool          `json:"autoApproved"`
	CommittedBy     string        `json:"committedBy,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	Parts           []LibraryPart `json:"parts,omitempty"`
}

// LibraryPart is one committed part file.
type LibraryPart struct {
	ID            string `json:"partId"`
	PieceID       string `json:"pieceId"`
	Position      int    `json:"position"`
	Instrument    string `json:"instrument"`
	PartName      string `json:"partName"`
	Chair         string `json:"chair,omitempty"`
	Section       string `json:"section,omitempty"`
	Transposition string `json:"transposition,omitempty"`
	PartType      string `json:"partType"`
	PageStart     int    `json:"pageStart"`
	PageEnd       int    `json:"pageEnd"`
	StorageKey    string `json:"storageKey"`
	FileName      string `json:"fileName"`
	FileSize      int64  `json:"fileSize"`
}

const pieceColumns = `id, source_session_id, title, composer, arranger, publisher,
    part_count, auto_approved, committed_by, created_at`

const partColumns = `id, piece_id, position, instrument, part_name, chair, section,
    transposition, part_type, page_start, page_end, storage_key, file_name, file_size`

func scanPiece(row rowScanner) (*LibraryPiece, error) {
	var (
		p                             LibraryPiece
		composer, arranger, publisher sql.NullString
		committedBy                   sql.NullString
		autoApproved                  int
		createdAt                     string
	)
	if err := row.Scan(&p.ID, &p.SourceSessionID, &p.Title, &composer, &arranger, &publisher,
		&p.PartCount, &autoApproved, &committedBy, &createdAt); err != nil {
		return nil, err
	}
	p.Composer = composer.String
	p.Arranger = arranger.String
	p.Publisher = publisher.String
	p.CommittedBy = committedBy.String
	p.AutoApproved = autoApproved != 0
	if t, err := ParseTime(createdAt); err == nil {
		p.CreatedAt = t
	}
	return &p, nil
}

// FindPieceBySession returns the piece committed from sessionID, or nil if
// the session has not been committed.
func (s *Store) FindPieceBySession(ctx context.Context, sessionID string) (*LibraryPiece, error) {
	row := s.db.QueryRow(ctx, `SELECT `+pieceColumns+` FROM library_pieces WHERE source_session_id = ?`, sessionID)
	p, err := scanPiece(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find piece by session: %w", err)
	}
	return p, nil
}

// GetPiece returns a piece with its parts, or ErrNotFound.
func (s *Store) GetPiece(ctx context.Context, id string) (*LibraryPiece, error) {
	row := s.db.QueryRow(ctx, `SELECT `+pieceColumns+` FROM library_pieces WHERE id = ?`, id)
	p, err := scanPiece(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("piece %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get piece: %w", err)
	}
	if p.Parts, err = s.ListPieceParts(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

// ListPieceParts returns a piece's parts in order.
func (s *Store) ListPieceParts(ctx context.Context, pieceID string) ([]LibraryPart, error) {
	rows, err := s.db.Query(ctx, `SELECT `+partColumns+` FROM library_parts WHERE piece_id = ? ORDER BY position`, pieceID)
	if err != nil {
		return nil, fmt.Errorf("list piece parts: %w", err)
	}
	defer rows.Close()

	var out []LibraryPart
	for rows.Next() {
		var (
			p                             LibraryPart
			chair, section, transposition sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.PieceID, &p.Position, &p.Instrument, &p.PartName, &chair, &section,
			&transposition, &p.PartType, &p.PageStart, &p.PageEnd, &p.StorageKey, &p.FileName, &p.FileSize); err != nil {
			return nil, err
		}
		p.Chair = chair.String
		p.Section = section.String
		p.Transposition = transposition.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// CommitInput is everything the commit transaction writes.
type CommitInput struct {
	SessionID    string
	Title        string
	Composer     string
	Arranger     string
	Publisher    string
	Parts        []LibraryPart
	ReviewerID   string
	AutoApproved bool
}

// CommitPiece creates the piece, its parts, and approves the session in one
// transaction. If a piece for the session already exists (including one
// inserted by a concurrent commit) nothing is written and created is false.
func (s *Store) CommitPiece(ctx context.Context, in CommitInput) (pieceID string, created bool, err error) {
	if in.SessionID == "" {
		return "", false, errors.New("session id is required")
	}
	err = s.db.InTx(ctx, func(tx *Tx) error {
		now := FormatTime(s.now())
		candidate := uuid.NewString()

		res, err := tx.Exec(ctx,
			`INSERT INTO library_pieces (`+pieceColumns+`) VALUES (`+Placeholders(10)+`)
             ON CONFLICT (source_session_id) DO NOTHING`,
			candidate, in.SessionID, in.Title, NullableString(in.Composer), NullableString(in.Arranger),
			NullableString(in.Publisher), len(in.Parts), BoolInt(in.AutoApproved), NullableString(in.ReviewerID), now)
		if err != nil {
			return fmt.Errorf("insert piece: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if err := tx.QueryRow(ctx, `SELECT id FROM library_pieces WHERE source_session_id = ?`, in.SessionID).Scan(&pieceID); err != nil {
				return fmt.Errorf("read existing piece: %w", err)
			}
			created = false
			return nil
		}
		pieceID = candidate
		created = true

		for i, p := range in.Parts {
			if _, err := tx.Exec(ctx,
				`INSERT INTO library_parts (`+partColumns+`) VALUES (`+Placeholders(14)+`)`,
				uuid.NewString(), pieceID, i, p.Instrument, p.PartName, NullableString(p.Chair), NullableString(p.Section),
				NullableString(p.Transposition), p.PartType, p.PageStart, p.PageEnd, p.StorageKey, p.FileName, p.FileSize,
			); err != nil {
				return fmt.Errorf("insert part %d: %w", i, err)
			}
		}

		from := session.ReviewSources(session.ReviewApproved)
		args := []any{session.ReviewApproved, NullableString(in.ReviewerID), now, BoolInt(in.AutoApproved), now, in.SessionID}
		args = appendAll(args, from)
		res, err = tx.Exec(ctx,
			`UPDATE sessions SET review_status = ?, reviewed_by = ?, reviewed_at = ?, auto_approved = ?, updated_at = ?
             WHERE id = ? AND review_status IN (`+Placeholders(len(from))+`)`, args...)
		if err != nil {
			return fmt.Errorf("approve session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			cur, err := getSession(ctx, tx, in.SessionID)
			if err != nil {
				return err
			}
			reason := session.CheckReview(cur.ReviewStatus, session.ReviewApproved)
			if reason == nil {
				reason = errors.New("state changed concurrently")
			}
			return fmt.Errorf("%w: %w", ErrIneligible, reason)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if created {
		s.logger.Info("committed piece", "session_id", in.SessionID, "piece_id", pieceID, "parts", len(in.Parts))
	}
	return pieceID, created, nil
}
