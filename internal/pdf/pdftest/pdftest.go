// Package pdftest provides in-memory PDFs and fake renderers for tests.
package pdftest

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/jackzampolin/scoreshelf/internal/pdf"
)

// Blank builds a valid PDF with n empty letter-size pages.
func Blank(n int) []byte {
	var buf bytes.Buffer
	offsets := make([]int, 0, n+2)
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := ""
	for i := 0; i < n; i++ {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n))
	for i := 0; i < n; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// Renderer returns a fixed fake PNG per page and records what it rendered.
type Renderer struct {
	// Err, when set, is returned from every call.
	Err error

	mu    sync.Mutex
	pages []int
}

var _ pdf.Renderer = (*Renderer)(nil)

// Render implements pdf.Renderer.
func (r *Renderer) Render(ctx context.Context, _ []byte, pages []int) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	r.pages = append(r.pages, pages...)
	r.mu.Unlock()

	out := make([][]byte, len(pages))
	for i, p := range pages {
		out[i] = PageImage(p)
	}
	return out, nil
}

// Rendered returns every page rendered so far.
func (r *Renderer) Rendered() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.pages...)
}

// PageImage is the fake image Renderer returns for page.
func PageImage(page int) []byte {
	return []byte(fmt.Sprintf("\x89PNG fake page %d", page))
}

// Splitter reports a fixed page count and returns a marker document per
// extracted range.
type Splitter struct {
	Pages int
	// Err, when set, is returned from Extract.
	Err error
}

var _ pdf.Splitter = Splitter{}

// PageCount implements pdf.Splitter.
func (s Splitter) PageCount(ctx context.Context, _ []byte) (int, error) {
	return s.Pages, ctx.Err()
}

// Extract implements pdf.Splitter.
func (s Splitter) Extract(ctx context.Context, _ []byte, start, end int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if err := pdf.CheckRange(start, end, s.Pages); err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%%PDF-1.4 pages %d-%d", start, end)), nil
}
