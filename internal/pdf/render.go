package pdf

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// DefaultDPI is used when a Pdftoppm has no DPI set.
const DefaultDPI = 150

// Renderer turns pages into PNG images. Pages are 1-based and the result is
// in the order requested.
type Renderer interface {
	Render(ctx context.Context, doc []byte, pages []int) ([][]byte, error)
}

// RenderPage renders a single page.
func RenderPage(ctx context.Context, r Renderer, doc []byte, page int) ([]byte, error) {
	images, err := r.Render(ctx, doc, []int{page})
	if err != nil {
		return nil, err
	}
	if len(images) != 1 {
		return nil, fmt.Errorf("renderer returned %d images for one page", len(images))
	}
	return images[0], nil
}

// SamplePages returns the first n page numbers of a document with total pages.
func SamplePages(total, n int) []int {
	if n <= 0 || n > total {
		n = total
	}
	pages := make([]int, n)
	for i := range pages {
		pages[i] = i + 1
	}
	return pages
}

// Pdftoppm renders pages with poppler's pdftoppm binary. pdfcpu only
// extracts embedded image objects, which do not map to rendered pages.
type Pdftoppm struct {
	// Path to the binary. Empty means "pdftoppm" on PATH.
	Path string
	DPI  int
}

var _ Renderer = Pdftoppm{}

// Render writes doc to a temp directory once and renders each page.
func (p Pdftoppm) Render(ctx context.Context, doc []byte, pages []int) ([][]byte, error) {
	tmpDir, err := os.MkdirTemp("", "scoreshelf-render-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	src := filepath.Join(tmpDir, "source.pdf")
	if err := os.WriteFile(src, doc, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write source pdf: %w", err)
	}

	out := make([][]byte, 0, len(pages))
	for _, page := range pages {
		img, err := p.renderOne(ctx, src, tmpDir, page)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, nil
}

func (p Pdftoppm) renderOne(ctx context.Context, src, dir string, page int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bin := p.Path
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := p.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	// -singlefile writes <prefix>.png without a page suffix
	prefix := filepath.Join(dir, fmt.Sprintf("page_%04d", page))
	pageStr := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, bin,
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(dpi),
		"-singlefile",
		src,
		prefix,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed on page %d: %w (output: %s)", page, err, string(output))
	}

	data, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}
