package highlight

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"docchat/model"
	"docchat/types"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/color"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"
)

const (
	maxChunksPerFile   = 8
	maxMatchedSnippets = 6
	outputSuffix       = ".highlighted.pdf"
	tempSuffix         = ".tmp"
)

// Annotator writes a copy of src to dst with the given rectangles (keyed
// by 1-based page number) highlighted.
type Annotator interface {
	Annotate(src, dst string, rects map[int][]types.Rect) error
}

// PDFAnnotator adds yellow highlight annotations with pdfcpu.
type PDFAnnotator struct {
	conf *pdfmodel.Configuration
}

func NewPDFAnnotator() *PDFAnnotator {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	return &PDFAnnotator{conf: conf}
}

func (a *PDFAnnotator) Annotate(src, dst string, rects map[int][]types.Rect) error {
	m := make(map[int][]pdfmodel.AnnotationRenderer, len(rects))
	for page, rs := range rects {
		for i, r := range rs {
			rect := pdftypes.NewRectangle(r.LLX, r.LLY, r.URX, r.URY)
			quad := pdftypes.QuadLiteral{
				P1: pdftypes.Point{X: r.LLX, Y: r.LLY},
				P2: pdftypes.Point{X: r.URX, Y: r.LLY},
				P3: pdftypes.Point{X: r.URX, Y: r.URY},
				P4: pdftypes.Point{X: r.LLX, Y: r.URY},
			}
			ann := pdfmodel.NewHighlightAnnotation(
				*rect,
				0,
				"",
				fmt.Sprintf("docchat-%d-%d", page, i),
				"",
				pdfmodel.AnnPrint,
				&color.Yellow,
				0, 0, 0,
				"docchat",
				nil,
				nil,
				"", "",
				pdftypes.QuadPoints{quad},
			)
			m[page] = append(m[page], &ann)
		}
	}
	if err := api.AddAnnotationsMapFile(src, dst, m, a.conf, false); err != nil {
		return fmt.Errorf("annotate %s: %w", filepath.Base(src), err)
	}
	return nil
}

// Highlighter marks the retrieved chunks inside their source PDFs.
type Highlighter struct {
	reader    model.PDFReader
	annotator Annotator
	outDir    string
	logger    *zap.Logger
}

func NewHighlighter(reader model.PDFReader, annotator Annotator, outDir string, logger *zap.Logger) *Highlighter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Highlighter{
		reader:    reader,
		annotator: annotator,
		outDir:    outDir,
		logger:    logger,
	}
}

// OutputPath is where the highlighted copy of the PDF at src is written.
func (h *Highlighter) OutputPath(src string) string {
	return filepath.Join(h.outDir, filepath.Base(src)+outputSuffix)
}

// Purge removes every highlighted copy, finished or in progress.
func (h *Highlighter) Purge() error {
	entries, err := os.ReadDir(h.outDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, outputSuffix) || strings.HasSuffix(name, tempSuffix)) {
			continue
		}
		if err := os.Remove(filepath.Join(h.outDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Highlight groups chunks by source file and writes one highlighted copy per
// file in which at least one snippet was found. Failures are logged and the
// file is skipped.
func (h *Highlighter) Highlight(ctx context.Context, chunks []types.Chunk) []types.HighlightedPDF {
	var (
		order  []string
		byPath = make(map[string][]types.Chunk)
	)
	for _, c := range chunks {
		if c.Path == "" {
			continue
		}
		if _, ok := byPath[c.Path]; !ok {
			order = append(order, c.Path)
		}
		byPath[c.Path] = append(byPath[c.Path], c)
	}

	var out []types.HighlightedPDF
	for _, path := range order {
		if ctx.Err() != nil {
			break
		}
		pdf, err := h.highlightFile(path, byPath[path])
		if err != nil {
			h.logger.Warn("highlight failed", zap.String("file", filepath.Base(path)), zap.Error(err))
			continue
		}
		if pdf != nil {
			out = append(out, *pdf)
		}
	}
	return out
}

func (h *Highlighter) highlightFile(path string, chunks []types.Chunk) (*types.HighlightedPDF, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	pages, err := h.reader.ReadPages(path)
	if err != nil {
		return nil, err
	}

	if len(chunks) > maxChunksPerFile {
		chunks = chunks[:maxChunksPerFile]
	}

	rects := make(map[int][]types.Rect)
	var matched []string
	seen := make(map[string]bool)
	for _, c := range chunks {
		found := 0
		for _, snippet := range Snippets(c.Content) {
			page, rs, ok := Find(pages, snippet, c.Page)
			if !ok {
				continue
			}
			rects[page] = append(rects[page], rs...)
			if !seen[snippet] {
				seen[snippet] = true
				matched = append(matched, snippet)
			}
			found++
			if found >= maxMatchedSnippets {
				break
			}
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(h.outDir, 0o755); err != nil {
		return nil, err
	}
	// concurrent asks on the same file each write their own copy, the
	// rename publishes it in one step
	dst := h.OutputPath(path)
	tmp := filepath.Join(h.outDir, "."+filepath.Base(dst)+"."+uuid.NewString()+tempSuffix)
	if err := h.annotator.Annotate(path, tmp, rects); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	abs, err := filepath.Abs(dst)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("highlighted pdf written", zap.String("file", abs), zap.Int("snippets", len(matched)))

	return &types.HighlightedPDF{
		Name:         filepath.Base(path),
		Chunks:       matched,
		DownloadPath: abs,
		DownloadURL:  "/download?path=" + url.QueryEscape(abs),
	}, nil
}
