package model

import (
	"fmt"
	"math"
	"strings"

	"docchat/types"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFReader validates PDF files and extracts their text page by page.
type PDFReader interface {
	Validate(path string) error
	ReadPages(path string) ([]types.Page, error)
}

// PDFFileReader validates with pdfcpu and extracts positioned text with
// ledongthuc/pdf.
type PDFFileReader struct {
	conf *pdfmodel.Configuration
}

func NewPDFFileReader() *PDFFileReader {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	return &PDFFileReader{conf: conf}
}

func (r *PDFFileReader) Validate(path string) error {
	if err := api.ValidateFile(path, r.conf); err != nil {
		return fmt.Errorf("validate %s: %w", path, err)
	}
	return nil
}

func (r *PDFFileReader) ReadPages(path string) (pages []types.Page, err error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	// the content stream parser panics on malformed operators
	defer func() {
		if rec := recover(); rec != nil {
			pages = nil
			err = fmt.Errorf("read pdf %s: %v", path, rec)
		}
	}()

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content := page.Content()
		glyphs := make([]types.Glyph, 0, len(content.Text))
		for _, t := range content.Text {
			glyphs = append(glyphs, types.Glyph{
				S:        t.S,
				X:        t.X,
				Y:        t.Y,
				W:        t.W,
				FontSize: t.FontSize,
			})
		}
		pages = append(pages, LayoutPage(i, glyphs))
	}
	return pages, nil
}

// LayoutPage rebuilds the reading text of a page from its glyphs, inserting
// a newline when the baseline changes and a space when the horizontal gap
// between two glyphs is wider than a fifth of the font size.
func LayoutPage(number int, glyphs []types.Glyph) types.Page {
	var sb strings.Builder
	offsets := make([]int, 0, len(glyphs))
	prev := -1
	for i, g := range glyphs {
		if g.S == "" {
			continue
		}
		if prev >= 0 {
			sep := glyphSeparator(glyphs[prev], g)
			sb.WriteString(sep)
			for range len(sep) {
				offsets = append(offsets, -1)
			}
		}
		sb.WriteString(g.S)
		for range len(g.S) {
			offsets = append(offsets, i)
		}
		prev = i
	}
	return types.Page{
		Number:  number,
		Text:    sb.String(),
		Glyphs:  glyphs,
		Offsets: offsets,
	}
}

func glyphSeparator(prev, next types.Glyph) string {
	size := math.Max(prev.FontSize, next.FontSize)
	if size <= 0 {
		size = 1
	}
	if math.Abs(next.Y-prev.Y) > size*0.5 {
		return "\n"
	}
	if strings.HasSuffix(prev.S, " ") || strings.HasPrefix(next.S, " ") {
		return ""
	}
	if next.X-(prev.X+prev.W) > size*0.2 {
		return " "
	}
	return ""
}
