package pdf_test

import (
	"errors"
	"os/exec"
	"slices"
	"testing"

	"github.com/jackzampolin/scoreshelf/internal/pdf"
	"github.com/jackzampolin/scoreshelf/internal/pdf/pdftest"
)

func TestPDFCPU_PageCountAndExtract(t *testing.T) {
	ctx := t.Context()
	doc := pdftest.Blank(5)
	var p pdf.PDFCPU

	if err := p.Validate(ctx, doc); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	n, err := p.PageCount(ctx, doc)
	if err != nil {
		t.Fatalf("PageCount() error = %v", err)
	}
	if n != 5 {
		t.Fatalf("PageCount() = %d, want 5", n)
	}

	tests := []struct {
		start, end int
		want       int
	}{
		{1, 1, 1},
		{2, 4, 3},
		{1, 5, 5},
	}
	for _, tt := range tests {
		part, err := p.Extract(ctx, doc, tt.start, tt.end)
		if err != nil {
			t.Fatalf("Extract(%d, %d) error = %v", tt.start, tt.end, err)
		}
		got, err := p.PageCount(ctx, part)
		if err != nil {
			t.Fatalf("PageCount(part) error = %v", err)
		}
		if got != tt.want {
			t.Errorf("Extract(%d, %d) has %d pages, want %d", tt.start, tt.end, got, tt.want)
		}
	}
}

func TestPDFCPU_ExtractOutOfRange(t *testing.T) {
	doc := pdftest.Blank(3)
	var p pdf.PDFCPU
	for _, r := range [][2]int{{0, 1}, {2, 1}, {3, 4}} {
		_, err := p.Extract(t.Context(), doc, r[0], r[1])
		if !errors.Is(err, pdf.ErrPageRange) {
			t.Errorf("Extract(%d, %d) error = %v, want ErrPageRange", r[0], r[1], err)
		}
	}
}

func TestPDFCPU_ValidateRejectsGarbage(t *testing.T) {
	var p pdf.PDFCPU
	for name, doc := range map[string][]byte{
		"empty":     nil,
		"text":      []byte("hello world"),
		"truncated": []byte("%PDF-1.4\n1 0 obj\n<<"),
	} {
		t.Run(name, func(t *testing.T) {
			if err := p.Validate(t.Context(), doc); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestSamplePages(t *testing.T) {
	tests := []struct {
		total, n int
		want     []int
	}{
		{10, 3, []int{1, 2, 3}},
		{2, 8, []int{1, 2}},
		{3, 0, []int{1, 2, 3}},
		{0, 4, []int{}},
	}
	for _, tt := range tests {
		if got := pdf.SamplePages(tt.total, tt.n); !slices.Equal(got, tt.want) {
			t.Errorf("SamplePages(%d, %d) = %v, want %v", tt.total, tt.n, got, tt.want)
		}
	}
}

func TestRenderPage(t *testing.T) {
	r := &pdftest.Renderer{}
	img, err := pdf.RenderPage(t.Context(), r, nil, 4)
	if err != nil {
		t.Fatalf("RenderPage() error = %v", err)
	}
	if string(img) != string(pdftest.PageImage(4)) {
		t.Errorf("RenderPage() = %q", img)
	}
	if got := r.Rendered(); !slices.Equal(got, []int{4}) {
		t.Errorf("Rendered() = %v", got)
	}
}

func TestPdftoppm(t *testing.T) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		t.Skip("pdftoppm not installed")
	}
	images, err := pdf.Pdftoppm{DPI: 36}.Render(t.Context(), pdftest.Blank(2), []int{2, 1})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("Render() returned %d images, want 2", len(images))
	}
	for i, img := range images {
		if len(img) < 8 || string(img[1:4]) != "PNG" {
			t.Errorf("image %d is not a PNG", i)
		}
	}
}
