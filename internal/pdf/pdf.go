// Package pdf counts, validates and splits PDF documents with pdfcpu and
// renders pages to PNG with pdftoppm (poppler-utils).
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrPageRange is returned for a page selection outside the document.
var ErrPageRange = errors.New("page out of range")

// Splitter reads page counts and extracts page ranges. Pages are 1-based.
type Splitter interface {
	PageCount(ctx context.Context, doc []byte) (int, error)
	Extract(ctx context.Context, doc []byte, start, end int) ([]byte, error)
}

// Validator checks that an upload is a readable PDF.
type Validator interface {
	Validate(ctx context.Context, doc []byte) error
}

// PDFCPU implements Splitter and Validator on pdfcpu with relaxed
// validation, which accepts the slightly broken files scanners produce.
type PDFCPU struct{}

var (
	_ Splitter  = PDFCPU{}
	_ Validator = PDFCPU{}
)

func relaxed() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Validate parses and validates doc.
func (PDFCPU) Validate(ctx context.Context, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !bytes.HasPrefix(bytes.TrimLeft(doc, "\x00\t\r\n "), []byte("%PDF-")) {
		return errors.New("missing %PDF header")
	}
	if err := api.Validate(bytes.NewReader(doc), relaxed()); err != nil {
		return fmt.Errorf("invalid pdf: %w", err)
	}
	return nil
}

// PageCount returns the number of pages in doc.
func (PDFCPU) PageCount(ctx context.Context, doc []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := api.PageCount(bytes.NewReader(doc), relaxed())
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return n, nil
}

// Extract returns a new PDF holding pages start through end inclusive.
func (p PDFCPU) Extract(ctx context.Context, doc []byte, start, end int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	total, err := p.PageCount(ctx, doc)
	if err != nil {
		return nil, err
	}
	if err := CheckRange(start, end, total); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	selection := []string{fmt.Sprintf("%d-%d", start, end)}
	if start == end {
		selection = []string{fmt.Sprintf("%d", start)}
	}
	if err := api.Trim(bytes.NewReader(doc), &out, selection, relaxed()); err != nil {
		return nil, fmt.Errorf("failed to extract pages %d-%d: %w", start, end, err)
	}
	return out.Bytes(), nil
}

// CheckRange validates a 1-based inclusive range against a page count.
func CheckRange(start, end, total int) error {
	switch {
	case start < 1:
		return fmt.Errorf("%w: start page %d", ErrPageRange, start)
	case end < start:
		return fmt.Errorf("%w: end page %d before start page %d", ErrPageRange, end, start)
	case end > total:
		return fmt.Errorf("%w: end page %d exceeds page count %d", ErrPageRange, end, total)
	}
	return nil
}
