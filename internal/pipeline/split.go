package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackzampolin/scoreshelf/internal/blob"
	"github.com/jackzampolin/scoreshelf/internal/parts"
	"github.com/jackzampolin/scoreshelf/internal/prompts/smartupload"
	"github.com/jackzampolin/scoreshelf/internal/session"
)

// Blob layout of an upload.
func originalKey(sessionID string) string { return blob.Key("smart-upload", sessionID, "original.pdf") }
func partsPrefix(sessionID string) string { return blob.Key("smart-upload", sessionID, "parts") }

func verifiedPrefix(sessionID string) string {
	return blob.Key("smart-upload", sessionID, "parts", "verified")
}

// checkRanges keeps the ranges that are 1-based, ordered, inside the
// document and disjoint from the ranges kept before them. Ranges are
// considered in start-page order. Each dropped range yields a note.
func checkRanges(ranges []smartupload.Range, pageCount int) ([]session.CuttingInstruction, []string) {
	sorted := make([]smartupload.Range, len(ranges))
	copy(sorted, ranges)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PageStart < sorted[j].PageStart })

	var (
		kept    []session.CuttingInstruction
		notes   []string
		lastEnd int
	)
	for _, r := range sorted {
		label := strings.TrimSpace(r.Label)
		switch {
		case r.PageStart < 1 || r.PageEnd < r.PageStart:
			notes = append(notes, fmt.Sprintf("dropped %q: invalid range %d-%d", label, r.PageStart, r.PageEnd))
		case r.PageEnd > pageCount:
			notes = append(notes, fmt.Sprintf("dropped %q: pages %d-%d exceed page count %d", label, r.PageStart, r.PageEnd, pageCount))
		case r.PageStart <= lastEnd:
			notes = append(notes, fmt.Sprintf("dropped %q: pages %d-%d overlap the previous part", label, r.PageStart, r.PageEnd))
		default:
			kept = append(kept, session.CuttingInstruction{Label: label, PageStart: r.PageStart, PageEnd: r.PageEnd})
			lastEnd = r.PageEnd
		}
	}
	return kept, notes
}

func coveredPages(cutting []session.CuttingInstruction) int {
	n := 0
	for _, c := range cutting {
		n += c.PageEnd - c.PageStart + 1
	}
	return n
}

// splitParts extracts each instruction from doc, names it and uploads it
// under prefix. Keys derive from the part name so a retried job overwrites
// the same objects. It returns the parts and the number of unrecognized
// instrument labels.
func (p *Pipeline) splitParts(ctx context.Context, doc []byte, title, prefix string, cutting []session.CuttingInstruction) ([]session.Part, int, error) {
	out := make([]session.Part, 0, len(cutting))
	objects := make([]blob.Object, 0, len(cutting))
	slugs := make(map[string]int, len(cutting))
	unknown := 0

	for _, c := range cutting {
		n := parts.NormalizeInstrumentLabel(c.Label)
		if !n.Recognized() {
			unknown++
		}
		name := parts.BuildPartDisplayName(title, n.Instrument)

		slug := parts.BuildPartStorageSlug(name)
		slugs[slug]++
		if k := slugs[slug]; k > 1 {
			slug = fmt.Sprintf("%s_%d", slug, k)
		}
		key := blob.Key(prefix, slug+parts.PartFileExtension)

		data, err := p.splitter.Extract(ctx, doc, c.PageStart, c.PageEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("split %q: %w", c.Label, err)
		}
		objects = append(objects, blob.Object{Key: key, Data: data, ContentType: "application/pdf"})
		out = append(out, session.Part{
			Instrument:    n.Instrument,
			PartName:      name,
			Chair:         n.Chair,
			Section:       n.Section,
			Transposition: n.Transposition,
			PartType:      n.PartType,
			PageStart:     c.PageStart,
			PageEnd:       c.PageEnd,
			StorageKey:    key,
			FileName:      parts.BuildPartFilename(name),
			FileSize:      int64(len(data)),
		})
	}

	if err := blob.UploadAll(ctx, p.blobs, objects); err != nil {
		return nil, 0, fmt.Errorf("upload parts: %w", err)
	}
	return out, unknown, nil
}

func metadataOf(e smartupload.Extraction, notes []string) session.Metadata {
	hints := make([]string, 0, len(e.Parts))
	for _, r := range e.Parts {
		if l := strings.TrimSpace(r.Label); l != "" {
			hints = append(hints, l)
		}
	}
	return session.Metadata{
		Title:           strings.TrimSpace(e.Title),
		Composer:        strings.TrimSpace(e.Composer),
		Arranger:        strings.TrimSpace(e.Arranger),
		Publisher:       strings.TrimSpace(e.Publisher),
		InstrumentHints: hints,
		Notes:           append(append([]string{}, e.Notes...), notes...),
	}
}

func pageList(pages []int) string {
	s := make([]string, len(pages))
	for i, n := range pages {
		s[i] = fmt.Sprint(n)
	}
	return strings.Join(s, ", ")
}
