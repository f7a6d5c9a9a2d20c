package parts

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// PartFileExtension is appended to every part filename.
	PartFileExtension = ".pdf"
	// MaxFilenameBase is the longest filename base before the extension.
	MaxFilenameBase = 200
	// MaxSlugLength is the longest storage slug.
	MaxSlugLength = 150

	fallbackBase = "part"
)

// BuildPartDisplayName joins a piece title and instrument name.
func BuildPartDisplayName(title, instrument string) string {
	title = strings.TrimSpace(title)
	instrument = strings.TrimSpace(instrument)
	switch {
	case title == "":
		return instrument
	case instrument == "":
		return title
	}
	return title + " " + instrument
}

// BuildPartFilename converts a display name into a filesystem-safe filename
// ending in .pdf. Unsafe characters are removed, whitespace runs collapse to
// a single underscore, and the base is capped at MaxFilenameBase runes.
func BuildPartFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if isUnsafeFileRune(r) {
			continue
		}
		b.WriteRune(r)
	}
	base := strings.Join(strings.Fields(b.String()), "_")
	base = strings.TrimLeft(base, ".")
	base = truncateRunes(base, MaxFilenameBase)
	if base == "" {
		base = fallbackBase
	}
	return base + PartFileExtension
}

// BuildPartStorageSlug converts a display name into an ASCII slug for blob
// keys. Accents are folded ("Pièce" becomes "Piece") before anything outside
// [A-Za-z0-9_-] is dropped.
func BuildPartStorageSlug(name string) string {
	folded, _, err := transform.String(accentFolder(), name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(folded) {
		switch {
		case unicode.IsSpace(r) || r == '_':
			if !lastUnderscore {
				b.WriteByte('_')
			}
			lastUnderscore = true
			continue
		case r == '-' || (r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r))):
			b.WriteRune(r)
			lastUnderscore = false
		}
	}

	slug := truncateRunes(b.String(), MaxSlugLength)
	slug = strings.Trim(slug, "_")
	if slug == "" {
		return fallbackBase
	}
	return slug
}

func accentFolder() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

func isUnsafeFileRune(r rune) bool {
	if unicode.IsControl(r) {
		return true
	}
	return strings.ContainsRune(`/\:*?"<>|`, r)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
