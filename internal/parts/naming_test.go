package parts

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBuildPartDisplayName(t *testing.T) {
	tests := []struct {
		title, instrument, want string
	}{
		{"Sleigh Ride", "1st Bb Clarinet", "Sleigh Ride 1st Bb Clarinet"},
		{"  Sleigh Ride ", " Tuba ", "Sleigh Ride Tuba"},
		{"", "Tuba", "Tuba"},
		{"Sleigh Ride", "", "Sleigh Ride"},
	}
	for _, tt := range tests {
		if got := BuildPartDisplayName(tt.title, tt.instrument); got != tt.want {
			t.Errorf("BuildPartDisplayName(%q, %q) = %q, want %q", tt.title, tt.instrument, got, tt.want)
		}
	}
}

func TestBuildPartFilename(t *testing.T) {
	t.Run("collapses whitespace", func(t *testing.T) {
		if got := BuildPartFilename("A   B"); got != "A_B.pdf" {
			t.Errorf("got %q, want A_B.pdf", got)
		}
	})

	t.Run("strips unsafe characters", func(t *testing.T) {
		got := BuildPartFilename(`Horn: 1/2 "solo" <a>|b*?`)
		if got != "Horn_12_solo_ab.pdf" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("strips control characters", func(t *testing.T) {
		if got := BuildPartFilename("Flute\x00\x07 1"); got != "Flute_1.pdf" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("empty falls back", func(t *testing.T) {
		for _, in := range []string{"", "   ", "///"} {
			if got := BuildPartFilename(in); got != "part.pdf" {
				t.Errorf("BuildPartFilename(%q) = %q, want part.pdf", in, got)
			}
		}
	})

	t.Run("truncates long names", func(t *testing.T) {
		got := BuildPartFilename(strings.Repeat("é", 500))
		if n := utf8.RuneCountInString(got); n > MaxFilenameBase+len(PartFileExtension) {
			t.Errorf("filename has %d characters", n)
		}
		if !strings.HasSuffix(got, ".pdf") {
			t.Errorf("missing extension: %q", got)
		}
	})
}

func TestBuildPartStorageSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Pièce Héroïque 1st Flute", "Piece_Heroique_1st_Flute"},
		{"A & B", "A_B"},
		{"Horn (F) 1-2", "Horn_F_1-2"},
		{"日本", "part"},
	}
	for _, tt := range tests {
		if got := BuildPartStorageSlug(tt.in); got != tt.want {
			t.Errorf("BuildPartStorageSlug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := BuildPartStorageSlug(strings.Repeat("ab ", 200)); len(got) > MaxSlugLength {
		t.Errorf("slug length %d exceeds %d", len(got), MaxSlugLength)
	}
}
