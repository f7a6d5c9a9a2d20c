package pipeline

import (
	"strings"
	"testing"

	"github.com/jackzampolin/scoreshelf/internal/prompts/smartupload"
	"github.com/jackzampolin/scoreshelf/internal/session"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		e    Evidence
		want int
	}{
		{"clean", Evidence{Reported: 92, CoveredPages: 10, PageCount: 10}, 92},
		{"dropped and unknown", Evidence{Reported: 90, Dropped: 1, Unknown: 2, CoveredPages: 10, PageCount: 10}, 65},
		{"missing title", Evidence{Reported: 95, MissingTitle: true, CoveredPages: 4, PageCount: 4}, 75},
		{"one page gap rounds up", Evidence{Reported: 90, CoveredPages: 99, PageCount: 100}, 89},
		{"nothing covered", Evidence{Reported: 50, PageCount: 8}, 30},
		{"clamped low", Evidence{Reported: 10, Dropped: 3, PageCount: 2}, 0},
		{"clamped high", Evidence{Reported: 140, CoveredPages: 1, PageCount: 1}, 100},
		{"unknown page count", Evidence{Reported: 70}, 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.e); got != tt.want {
				t.Errorf("Score(%+v) = %d, want %d", tt.e, got, tt.want)
			}
		})
	}
}

func TestCheckRanges(t *testing.T) {
	ranges := []smartupload.Range{
		{Label: " Tuba ", PageStart: 7, PageEnd: 8},
		{Label: "Flute", PageStart: 1, PageEnd: 3},
		{Label: "Oboe", PageStart: 3, PageEnd: 4},
		{Label: "Horn", PageStart: 5, PageEnd: 4},
		{Label: "Bells", PageStart: 0, PageEnd: 1},
		{Label: "Timpani", PageStart: 9, PageEnd: 12},
		{Label: "Clarinet", PageStart: 4, PageEnd: 6},
	}
	kept, notes := checkRanges(ranges, 10)

	want := []session.CuttingInstruction{
		{Label: "Flute", PageStart: 1, PageEnd: 3},
		{Label: "Clarinet", PageStart: 4, PageEnd: 6},
		{Label: "Tuba", PageStart: 7, PageEnd: 8},
	}
	if len(kept) != len(want) {
		t.Fatalf("kept = %+v, want %+v", kept, want)
	}
	for i := range want {
		if kept[i] != want[i] {
			t.Errorf("kept[%d] = %+v, want %+v", i, kept[i], want[i])
		}
	}
	if len(notes) != 4 {
		t.Fatalf("notes = %v, want 4", notes)
	}
	for _, label := range []string{"Oboe", "Horn", "Bells", "Timpani"} {
		found := false
		for _, n := range notes {
			if strings.Contains(n, `"`+label+`"`) {
				found = true
			}
		}
		if !found {
			t.Errorf("no note for %s in %v", label, notes)
		}
	}
	if got := coveredPages(kept); got != 8 {
		t.Errorf("coveredPages() = %d, want 8", got)
	}
}

func TestVerificationPages(t *testing.T) {
	sess := &session.Session{Parts: []session.Part{
		{Instrument: "Flute", PageStart: 1, PageEnd: 3},
		{Instrument: "Tuba", PageStart: 9, PageEnd: 10},
	}}
	pages, legend := verificationPages(sess, []int{1, 2})
	if len(pages) != 3 || pages[0] != 1 || pages[1] != 2 || pages[2] != 9 {
		t.Fatalf("pages = %v, want [1 2 9]", pages)
	}
	want := "page 1 (proposed start of Flute); page 2; page 9 (proposed start of Tuba)"
	if legend != want {
		t.Errorf("legend = %q, want %q", legend, want)
	}
}
