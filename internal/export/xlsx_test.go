package export

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jackzampolin/scoreshelf/internal/parts"
	"github.com/jackzampolin/scoreshelf/internal/session"
	"github.com/jackzampolin/scoreshelf/internal/store"
)

func sample(id, title string, partCount int) *session.Session {
	s := session.New(id, "smart-upload/"+id+"/original.pdf", id+".pdf", 2048, "application/pdf", "librarian",
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s.Metadata.Title = title
	for i := range partCount {
		s.Parts = append(s.Parts, session.Part{
			Instrument: "Tuba", PartName: title + " Tuba", PartType: parts.PartTypePart,
			PageStart: i + 1, PageEnd: i + 1, FileName: title + "_Tuba.pdf",
		})
	}
	return s
}

func TestSessionsXLSX(t *testing.T) {
	data, err := SessionsXLSX([]*session.Session{sample("s1", "Sleigh Ride", 2), sample("s2", "", 0)})
	if err != nil {
		t.Fatalf("SessionsXLSX() error = %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetSessions)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("session rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "Session ID" || rows[1][0] != "s1" || rows[1][8] != "Sleigh Ride" {
		t.Errorf("unexpected session rows: %v", rows[:2])
	}
	if rows[1][2] != "2.0 kB" {
		t.Errorf("size = %q, want humanized", rows[1][2])
	}
	if rows[1][4] != "-" {
		t.Errorf("second pass = %q, want -", rows[1][4])
	}

	partRows, err := f.GetRows(SheetParts)
	if err != nil {
		t.Fatal(err)
	}
	if len(partRows) != 3 || partRows[2][6] != "2-2" {
		t.Errorf("part rows = %v, want header + 2", partRows)
	}
}

func TestService_SessionsXLSX(t *testing.T) {
	ctx := t.Context()
	db, err := store.Open(ctx, store.Config{DSN: filepath.Join(t.TempDir(), "export.db")})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db, nil)
	for _, id := range []string{"a", "b", "c"} {
		if err := st.CreateSession(ctx, sample(id, "Piece "+id, 0)); err != nil {
			t.Fatal(err)
		}
	}

	data, err := NewService(st, nil).SessionsXLSX(ctx, store.SessionFilter{})
	if err != nil {
		t.Fatalf("SessionsXLSX() error = %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, _ := f.GetRows(SheetSessions)
	if len(rows) != 4 {
		t.Errorf("rows = %d, want header + 3", len(rows))
	}
}
