// Package export writes ingestion sessions to spreadsheet workbooks.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/xuri/excelize/v2"

	"github.com/jackzampolin/scoreshelf/internal/session"
	"github.com/jackzampolin/scoreshelf/internal/store"
)

// Sheet names.
const (
	SheetSessions = "Sessions"
	SheetParts    = "Parts"
)

// pageSize is how many sessions are read per query.
const pageSize = 200

var sessionHeaders = []string{
	"Session ID",
	"File Name",
	"Size",
	"Parse Status",
	"Second Pass",
	"Review Status",
	"Confidence",
	"Routing",
	"Title",
	"Composer",
	"Parts",
	"Uploaded By",
	"Uploaded At",
	"Reviewed By",
	"Reviewed At",
	"Last Error",
}

var partHeaders = []string{
	"Session ID",
	"Title",
	"Part Name",
	"Instrument",
	"Section",
	"Part Type",
	"Pages",
	"File Name",
}

// Service reads sessions from the store and renders them.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// NewService creates an export service.
func NewService(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger}
}

// SessionsXLSX returns a workbook of every session matching f, newest first.
// Limit and Offset on f are ignored.
func (s *Service) SessionsXLSX(ctx context.Context, f store.SessionFilter) ([]byte, error) {
	start := time.Now()
	var all []*session.Session
	for offset := 0; ; offset += pageSize {
		f.Limit, f.Offset = pageSize, offset
		page, err := s.store.ListSessions(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("query sessions: %w", err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
	}

	data, err := SessionsXLSX(all)
	if err != nil {
		return nil, err
	}
	s.logger.Info("sessions exported", "rows", len(all), "bytes", len(data),
		"elapsed_ms", time.Since(start).Milliseconds())
	return data, nil
}

// SessionsXLSX renders sessions as a workbook with one row per session on
// the Sessions sheet and one row per part on the Parts sheet.
func SessionsXLSX(sessions []*session.Session) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with Sheet1; rename it rather than leave it empty
	if err := f.SetSheetName(f.GetSheetName(0), SheetSessions); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetParts); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	if err := writeRow(f, SheetSessions, 1, toAny(sessionHeaders)); err != nil {
		return nil, err
	}
	if err := writeRow(f, SheetParts, 1, toAny(partHeaders)); err != nil {
		return nil, err
	}

	partRow := 2
	for i, sess := range sessions {
		if err := writeRow(f, SheetSessions, i+2, sessionRow(sess)); err != nil {
			return nil, err
		}
		for _, p := range sess.Parts {
			row := []any{
				sess.ID,
				sess.Metadata.Title,
				p.PartName,
				p.Instrument,
				p.Section,
				string(p.PartType),
				fmt.Sprintf("%d-%d", p.PageStart, p.PageEnd),
				p.FileName,
			}
			if err := writeRow(f, SheetParts, partRow, row); err != nil {
				return nil, err
			}
			partRow++
		}
	}

	_ = f.SetColWidth(SheetSessions, "A", "A", 38) // id
	_ = f.SetColWidth(SheetSessions, "B", "B", 36) // file name
	_ = f.SetColWidth(SheetSessions, "I", "J", 28) // title, composer
	_ = f.SetColWidth(SheetSessions, "P", "P", 60) // error
	_ = f.SetColWidth(SheetParts, "A", "A", 38)
	_ = f.SetColWidth(SheetParts, "B", "D", 30)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func sessionRow(s *session.Session) []any {
	reviewedAt := ""
	if s.ReviewedAt != nil {
		reviewedAt = s.ReviewedAt.UTC().Format(time.RFC3339)
	}
	secondPass := string(s.SecondPassStatus)
	if secondPass == "" {
		secondPass = "-"
	}
	return []any{
		s.ID,
		s.FileName,
		humanize.Bytes(uint64(max(s.FileSize, 0))),
		string(s.ParseStatus),
		secondPass,
		string(s.ReviewStatus),
		s.ConfidenceScore,
		string(s.RoutingDecision),
		s.Metadata.Title,
		s.Metadata.Composer,
		len(s.Parts),
		s.UploadedBy,
		s.CreatedAt.UTC().Format(time.RFC3339),
		s.ReviewedBy,
		reviewedAt,
		s.LastError,
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
