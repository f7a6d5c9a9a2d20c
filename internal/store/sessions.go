package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackzampolin/scoreshelf/internal/session"
)

const sessionColumns = `id, storage_key, file_name, file_size, mime_type,
    parse_status, second_pass_status, review_status,
    metadata_json, confidence_score, routing_decision, parts_json, cutting_json,
    page_count, auto_approved, first_pass_job_id, second_pass_job_id,
    last_error, reject_reason, uploaded_by, reviewed_by, reviewed_at,
    created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess         session.Session
		secondPass   sql.NullString
		routing      sql.NullString
		metadataJSON string
		partsJSON    string
		cuttingJSON  string
		autoApproved int
		firstJob     sql.NullString
		secondJob    sql.NullString
		lastError    sql.NullString
		rejectReason sql.NullString
		reviewedBy   sql.NullString
		reviewedAt   sql.NullString
		createdAt    string
		updatedAt    string
	)
	if err := row.Scan(
		&sess.ID, &sess.StorageKey, &sess.FileName, &sess.FileSize, &sess.MimeType,
		&sess.ParseStatus, &secondPass, &sess.ReviewStatus,
		&metadataJSON, &sess.ConfidenceScore, &routing, &partsJSON, &cuttingJSON,
		&sess.PageCount, &autoApproved, &firstJob, &secondJob,
		&lastError, &rejectReason, &sess.UploadedBy, &reviewedBy, &reviewedAt,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	sess.SecondPassStatus = session.SecondPassStatus(secondPass.String)
	sess.RoutingDecision = session.RoutingDecision(routing.String)
	sess.AutoApproved = autoApproved != 0
	sess.FirstPassJobID = firstJob.String
	sess.SecondPassJobID = secondJob.String
	sess.LastError = lastError.String
	sess.RejectReason = rejectReason.String
	sess.ReviewedBy = reviewedBy.String
	sess.ReviewedAt = ScanTime(reviewedAt)

	if err := json.Unmarshal([]byte(metadataJSON), &sess.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(partsJSON), &sess.Parts); err != nil {
		return nil, fmt.Errorf("decode parts: %w", err)
	}
	if sess.Parts == nil {
		sess.Parts = []session.Part{}
	}
	if err := json.Unmarshal([]byte(cuttingJSON), &sess.CuttingInstructions); err != nil {
		return nil, fmt.Errorf("decode cutting instructions: %w", err)
	}
	if t, err := ParseTime(createdAt); err == nil {
		sess.CreatedAt = t
	}
	if t, err := ParseTime(updatedAt); err == nil {
		sess.UpdatedAt = t
	}
	return &sess, nil
}

// CreateSession inserts a new session.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("session id is required")
	}
	metadataJSON, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	partsJSON, err := marshalList(sess.Parts)
	if err != nil {
		return err
	}
	cuttingJSON, err := marshalList(sess.CuttingInstructions)
	if err != nil {
		return err
	}

	now := s.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	_, err = s.db.Exec(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (`+Placeholders(24)+`)`,
		sess.ID, sess.StorageKey, sess.FileName, sess.FileSize, sess.MimeType,
		sess.ParseStatus, NullableString(string(sess.SecondPassStatus)), sess.ReviewStatus,
		string(metadataJSON), sess.ConfidenceScore, NullableString(string(sess.RoutingDecision)), partsJSON, cuttingJSON,
		sess.PageCount, BoolInt(sess.AutoApproved), NullableString(sess.FirstPassJobID), NullableString(sess.SecondPassJobID),
		NullableString(sess.LastError), NullableString(sess.RejectReason), sess.UploadedBy, NullableString(sess.ReviewedBy), NullableTime(sess.ReviewedAt),
		FormatTime(sess.CreatedAt), FormatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns the session or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	return getSession(ctx, s.db, id)
}

func getSession(ctx context.Context, q Querier, id string) (*session.Session, error) {
	row := q.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// SessionFilter narrows ListSessions. Empty fields match everything.
type SessionFilter struct {
	ParseStatus      session.ParseStatus
	SecondPassStatus session.SecondPassStatus
	ReviewStatus     session.ReviewStatus
	Limit            int
	Offset           int
}

func (f SessionFilter) where() (string, []any) {
	var clauses []string
	var args []any
	if f.ParseStatus != "" {
		clauses = append(clauses, "parse_status = ?")
		args = append(args, f.ParseStatus)
	}
	if f.SecondPassStatus != "" {
		clauses = append(clauses, "second_pass_status = ?")
		args = append(args, f.SecondPassStatus)
	}
	if f.ReviewStatus != "" {
		clauses = append(clauses, "review_status = ?")
		args = append(args, f.ReviewStatus)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, f SessionFilter) ([]*session.Session, error) {
	where, args := f.where()
	query := `SELECT ` + sessionColumns + ` FROM sessions` + where + ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// CountSessions returns how many sessions match f, ignoring paging.
func (s *Store) CountSessions(ctx context.Context, f SessionFilter) (int, error) {
	where, args := f.where()
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM sessions`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// StatusCounts aggregates sessions per status field.
type StatusCounts struct {
	Parse      map[string]int `json:"parse"`
	SecondPass map[string]int `json:"secondPass"`
	Review     map[string]int `json:"review"`
}

// NoSecondPassKey is the StatusCounts.SecondPass key for sessions that never
// requested verification.
const NoSecondPassKey = "NONE"

// CountByStatus returns counts for every status value present.
func (s *Store) CountByStatus(ctx context.Context) (StatusCounts, error) {
	counts := StatusCounts{Parse: map[string]int{}, SecondPass: map[string]int{}, Review: map[string]int{}}
	groups := []struct {
		column string
		into   map[string]int
	}{
		{"parse_status", counts.Parse},
		{"second_pass_status", counts.SecondPass},
		{"review_status", counts.Review},
	}
	for _, g := range groups {
		rows, err := s.db.Query(ctx, `SELECT `+g.column+`, COUNT(1) FROM sessions GROUP BY `+g.column)
		if err != nil {
			return counts, fmt.Errorf("count by %s: %w", g.column, err)
		}
		for rows.Next() {
			var key sql.NullString
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return counts, err
			}
			k := key.String
			if k == "" {
				k = NoSecondPassKey
			}
			g.into[k] = n
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return counts, err
		}
	}
	return counts, nil
}

// BeginParse moves the session into PARSING.
func (s *Store) BeginParse(ctx context.Context, id string) error {
	from := session.ParseSources(session.ParseParsing)
	args := []any{session.ParseParsing, FormatTime(s.now()), id}
	args = appendAll(args, from)
	res, err := s.db.Exec(ctx,
		`UPDATE sessions SET parse_status = ?, updated_at = ?
         WHERE id = ? AND parse_status IN (`+Placeholders(len(from))+`)`, args...)
	if err != nil {
		return fmt.Errorf("begin parse: %w", err)
	}
	return s.requireRow(ctx, id, res, func(cur *session.Session) error {
		return session.CheckParse(cur.ParseStatus, session.ParseParsing)
	})
}

// ParseResult is what a pass produced.
type ParseResult struct {
	Metadata   session.Metadata
	Parts      []session.Part
	Cutting    []session.CuttingInstruction
	Confidence int
	Routing    session.RoutingDecision
	PageCount  int
	// Note is persisted as last_error when the output was unusable.
	Note string
}

// CompleteParse stores first-pass results and moves the session to PARSED.
func (s *Store) CompleteParse(ctx context.Context, id string, r ParseResult) error {
	metadataJSON, partsJSON, cuttingJSON, err := r.encode()
	if err != nil {
		return err
	}
	from := session.ParseSources(session.ParseParsed)
	args := []any{
		session.ParseParsed, metadataJSON, partsJSON, cuttingJSON,
		session.ClampConfidence(r.Confidence), NullableString(string(r.Routing)), r.PageCount,
		NullableString(r.Note), FormatTime(s.now()), id,
	}
	args = appendAll(args, from)
	res, err := s.db.Exec(ctx,
		`UPDATE sessions SET parse_status = ?, metadata_json = ?, parts_json = ?, cutting_json = ?,
             confidence_score = ?, routing_decision = ?, page_count = ?, last_error = ?, updated_at = ?
         WHERE id = ? AND parse_status IN (`+Placeholders(len(from))+`)`, args...)
	if err != nil {
		return fmt.Errorf("complete parse: %w", err)
	}
	return s.requireRow(ctx, id, res, func(cur *session.Session) error {
		return session.CheckParse(cur.ParseStatus, session.ParseParsed)
	})
}

// FailParse moves the session to FAILED and records why.
func (s *Store) FailParse(ctx context.Context, id, reason string) error {
	from := session.ParseSources(session.ParseFailed)
	args := []any{session.ParseFailed, reason, FormatTime(s.now()), id}
	args = appendAll(args, from)
	res, err := s.db.Exec(ctx,
		`UPDATE sessions SET parse_status = ?, last_error = ?, updated_at = ?
         WHERE id = ? AND parse_status IN (`+Placeholders(len(from))+`)`, args...)
	if err != nil {
		return fmt.Errorf("fail parse: %w", err)
	}
	return s.requireRow(ctx, id, res, func(cur *session.Session) error {
		return session.CheckParse(cur.ParseStatus, session.ParseFailed)
	})
}

// RecordFailure stores a terminal failure reason without changing any
// status. It covers failures after the parse is already recorded, such as
// routing that keeps failing.
func (s *Store) RecordFailure(ctx context.Context, id, reason string) error {
	res, err := s.db.Exec(ctx,
		`UPDATE sessions SET last_error = ?, updated_at = ? WHERE id = ?`,
		reason, FormatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return s.requireRow(ctx, id, res, nil)
}

// ClaimSecondPass is the second-pass gate. In one conditional UPDATE it sets
// QUEUED and records jobID, and only when the first pass is finished, the
// session is still pending review, and the current second-pass status is
// null, FAILED, or QUEUED with a terminal job. A refused claim changes nothing.
func (s *Store) ClaimSecondPass(ctx context.Context, id, jobID string) error {
	args := []any{session.SecondPassQueued, jobID, FormatTime(s.now()), id,
		session.ParseParsed, session.ParseFailed, session.ReviewPending,
		session.SecondPassFailed, session.SecondPassQueued}
	for _, st := range terminalJobStatuses {
		args = append(args, st)
	}
	res, err := s.db.Exec(ctx,
		`UPDATE sessions SET second_pass_status = ?, second_pass_job_id = ?, updated_at = ?
         WHERE id = ?
           AND parse_status IN (?, ?)
           AND review_status = ?
           AND (second_pass_status IS NULL
                OR second_pass_status = ?
                OR (second_pass_status = ?
                    AND (second_pass_job_id IS NULL
                         OR EXISTS (SELECT 1 FROM jobs
                                    WHERE jobs.id = sessions.second_pass_job_id
                                      AND jobs.status IN (`+Placeholders(len(terminalJobStatuses))+`)))))`,
		args...)
	if err != nil {
		return fmt.Errorf("claim second pass: %w", err)
	}
	return s.requireRow(ctx, id, res, func(cur *session.Session) error {
		switch {
		case cur.ReviewStatus != session.ReviewPending:
			return fmt.Errorf("session is %s", cur.ReviewStatus)
		case cur.ParseStatus != session.ParseParsed && cur.ParseStatus != session.ParseFailed:
			return fmt.Errorf("first pass has not finished (parseStatus %s)", cur.ParseStatus)
		case cur.SecondPassStatus == session.SecondPassQueued:
			return errors.New("second pass already queued")
		}
		return session.CheckSecondPass(cur.SecondPassStatus, session.SecondPassQueued)
	})
}

// StartSecondPass moves QUEUED to RUNNING for the job that holds the claim.
func (s *Store) StartSecondPass(ctx context.Context, id, jobID string) error {
	from := session.SecondPassSources(session.SecondPassRunning)
	args := []any{session.SecondPassRunning, FormatTime(s.now()), id, jobID}
	args = appendAll(args, from)
	res, err := s.db.Exec(ctx,
		`UPDATE sessions SET second_pass_status = ?, updated_at = ?
         WHERE id = ? AND second_pass_job_id = ? AND second_pass_status IN (`+Placeholders(len(from))+`)`, args...)
	if err != nil {
		return fmt.Errorf("start second pass: %w", err)
	}
	return s.requireRow(ctx, id, res, func(cur *session.Session) error {
		if cur.SecondPassJobID != jobID {
			return fmt.Errorf("second pass is claimed by job %s", cur.SecondPassJobID)
		}
		return session.CheckSecondPass(cur.SecondPassStatus, session.SecondPassRunning)
	})
}

// CompleteSecondPass records verification. Results replace the first-pass
// parts only while the session is pending review; if a reviewer decided in
// the meantime, only the status is updated and applied is false.
func (s *Store) CompleteSecondPass(ctx context.Context, id, jobID string, r ParseResult) (applied bool, err error) {
	metadataJSON, partsJSON, cuttingJSON, err := r.encode()
	if err != nil {
		return false, err
	}
	now := FormatTime(s.now())
	res, err := s.db.Exec(ctx,
		`UPDATE sessions SET second_pass_status = ?, metadata_json = ?, parts_json = ?, cutting_json = ?,
             confidence_score = ?, routing_decision = ?, last_error = ?, updated_at = ?
         WHERE id = ? AND second_pass_job_id = ? AND second_pass_status = ? AND review_status = ?`,
		session.SecondPassVerified, metadataJSON, partsJSON, cuttingJSON,
		session.ClampConfidence(r.Confidence), NullableString(string(r.Routing)), NullableString(r.Note), now,
		id, jobID, session.SecondPassRunning, session.ReviewPending)
	if err != nil {
		return false, fmt.Errorf("complete second pass: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	res, err = s.db.Exec(ctx,
		`UPDATE sessions SET second_pass_status = ?, updated_at = ?
         WHERE id = ? AND second_pass_job_id = ? AND second_pass_status = ?`,
		session.SecondPassVerified, now, id, jobID, session.SecondPassRunning)
	if err != nil {
		return false, fmt.Errorf("complete second pass: %w", err)
	}
	return false, s.requireRow(ctx, id, res, func(cur *session.Session) error {
		return session.CheckSecondPass(cur.SecondPassStatus, session.SecondPassVerified)
	})
}

// FailSecondPass moves a QUEUED or RUNNING second pass held by jobID to
// FAILED with a reason. It also serves as the rollback when dispatching the
// job fails after a successful claim.
func (s *Store) FailSecondPass(ctx context.Context, id, jobID, reason string) error {
	from := session.SecondPassSources(session.SecondPassFailed)
	args := []any{session.SecondPassFailed, reason, FormatTime(s.now()), id, jobID}
	args = appendAll(args, from)
	res, err := s.db.Exec(ctx,
		`UPDATE sessions SET second_pass_status = ?, last_error = ?, updated_at = ?
         WHERE id = ? AND second_pass_job_id = ? AND second_pass_status IN (`+Placeholders(len(from))+`)`, args...)
	if err != nil {
		return fmt.Errorf("fail second pass: %w", err)
	}
	return s.requireRow(ctx, id, res, func(cur *session.Session) error {
		return session.CheckSecondPass(cur.SecondPassStatus, session.SecondPassFailed)
	})
}

// Reject marks the session REJECTED.
func (s *Store) Reject(ctx context.Context, id, reviewerID, reason string) error {
	from := session.ReviewSources(session.ReviewRejected)
	now := FormatTime(s.now())
	args := []any{session.ReviewRejected, NullableString(reason), NullableString(reviewerID), now, now, id}
	args = appendAll(args, from)
	res, err := s.db.Exec(ctx,
		`UPDATE sessions SET review_status = ?, reject_reason = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
         WHERE id = ? AND review_status IN (`+Placeholders(len(from))+`)`, args...)
	if err != nil {
		return fmt.Errorf("reject session: %w", err)
	}
	return s.requireRow(ctx, id, res, func(cur *session.Session) error {
		return session.CheckReview(cur.ReviewStatus, session.ReviewRejected)
	})
}

// Reopen returns a rejected session to PENDING_REVIEW.
func (s *Store) Reopen(ctx context.Context, id string) error {
	from := session.ReviewSources(session.ReviewPending)
	args := []any{session.ReviewPending, FormatTime(s.now()), id}
	args = appendAll(args, from)
	res, err := s.db.Exec(ctx,
		`UPDATE sessions SET review_status = ?, reject_reason = NULL, reviewed_by = NULL, reviewed_at = NULL, updated_at = ?
         WHERE id = ? AND review_status IN (`+Placeholders(len(from))+`)`, args...)
	if err != nil {
		return fmt.Errorf("reopen session: %w", err)
	}
	return s.requireRow(ctx, id, res, func(cur *session.Session) error {
		return session.CheckReview(cur.ReviewStatus, session.ReviewPending)
	})
}

// requireRow turns a zero-row conditional update into ErrNotFound or
// ErrIneligible. explain describes why the current state refused.
func (s *Store) requireRow(ctx context.Context, id string, res sql.Result, explain func(cur *session.Session) error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	cur, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	reason := errors.New("state changed concurrently")
	if explain != nil {
		if e := explain(cur); e != nil {
			reason = e
		}
	}
	return fmt.Errorf("%w: %w", ErrIneligible, reason)
}

func (r ParseResult) encode() (metadataJSON, partsJSON, cuttingJSON string, err error) {
	m, err := json.Marshal(r.Metadata)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal metadata: %w", err)
	}
	if partsJSON, err = marshalList(r.Parts); err != nil {
		return "", "", "", err
	}
	if cuttingJSON, err = marshalList(r.Cutting); err != nil {
		return "", "", "", err
	}
	return string(m), partsJSON, cuttingJSON, nil
}

func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal %T: %w", items, err)
	}
	return string(b), nil
}

func appendAll[T ~string](args []any, vals []T) []any {
	for _, v := range vals {
		args = append(args, string(v))
	}
	return args
}
