package highlight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"docchat/model"
	"docchat/model/pdftest"
	"docchat/types"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	pages []types.Page
}

func (r stubReader) Validate(string) error { return nil }

func (r stubReader) ReadPages(string) ([]types.Page, error) { return r.pages, nil }

type recordingAnnotator struct {
	mu    sync.Mutex
	calls map[string]map[int][]types.Rect
	err   error
}

func (a *recordingAnnotator) Annotate(src, dst string, rects map[int][]types.Rect) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	if a.calls == nil {
		a.calls = make(map[string]map[int][]types.Rect)
	}
	a.calls[src] = rects
	return os.WriteFile(dst, []byte("%PDF"), 0o644)
}

func writePDF(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
	return path
}

func TestHighlight(t *testing.T) {
	src := t.TempDir()
	out := filepath.Join(t.TempDir(), "highlighted")
	a := writePDF(t, src, "a.pdf")
	b := writePDF(t, src, "b.pdf")

	annotator := &recordingAnnotator{}
	h := NewHighlighter(stubReader{pages: []types.Page{twoLinePage(1)}}, annotator, out, nil)

	got := h.Highlight(context.Background(), []types.Chunk{
		{Path: a, Page: 1, Content: "alpha beta"},
		{Path: b, Page: 1, Content: "not in the document"},
		{Path: a, Page: 1, Content: "gamma delta"},
		{Path: a, Page: 1, Content: "alpha beta"},
	})

	require.Len(t, got, 1)
	pdf := got[0]
	assert.Equal(t, "a.pdf", pdf.Name)
	assert.Equal(t, []string{"alpha beta", "gamma delta"}, pdf.Chunks)
	assert.Equal(t, h.OutputPath(a), pdf.DownloadPath)
	assert.True(t, strings.HasPrefix(pdf.DownloadURL, "/download?path="))
	assert.FileExists(t, pdf.DownloadPath)

	require.Contains(t, annotator.calls, a)
	assert.Len(t, annotator.calls[a][1], 3)
	assert.NotContains(t, annotator.calls, b)
}

func TestHighlightSkipsFailures(t *testing.T) {
	src := t.TempDir()
	a := writePDF(t, src, "a.pdf")

	h := NewHighlighter(stubReader{pages: []types.Page{twoLinePage(1)}},
		&recordingAnnotator{err: errors.New("broken xref")}, t.TempDir(), nil)

	got := h.Highlight(context.Background(), []types.Chunk{
		{Path: a, Page: 1, Content: "alpha"},
		{Path: filepath.Join(src, "missing.pdf"), Page: 1, Content: "alpha"},
	})
	assert.Empty(t, got)
}

func TestOutputPath(t *testing.T) {
	h := NewHighlighter(nil, nil, "/srv/highlighted", nil)
	assert.Equal(t, "/srv/highlighted/report.pdf.highlighted.pdf", h.OutputPath("/srv/uploads/report.pdf"))
}

// wordPage lays out n words "w000".."w<n-1>" on a single line.
func wordPage(n int) (types.Page, string) {
	glyphs := make([]types.Glyph, n)
	words := make([]string, n)
	for i := range n {
		words[i] = fmt.Sprintf("w%03d", i)
		glyphs[i] = types.Glyph{S: words[i], X: float64(i * 30), Y: 700, W: 20, FontSize: 10}
	}
	return model.LayoutPage(1, glyphs), strings.Join(words, " ")
}

func TestHighlightCapsSnippetsPerChunk(t *testing.T) {
	a := writePDF(t, t.TempDir(), "long.pdf")
	page, text := wordPage(400)
	require.Len(t, Snippets(text), maxSnippets)

	annotator := &recordingAnnotator{}
	h := NewHighlighter(stubReader{pages: []types.Page{page}}, annotator, t.TempDir(), nil)

	got := h.Highlight(context.Background(), []types.Chunk{{Path: a, Page: 1, Content: text}})
	require.Len(t, got, 1)
	assert.Len(t, got[0].Chunks, maxMatchedSnippets)
	assert.Len(t, annotator.calls[a][1], maxMatchedSnippets)
}

func TestHighlightCapsChunksPerFile(t *testing.T) {
	a := writePDF(t, t.TempDir(), "many.pdf")
	page, _ := wordPage(20)

	var chunks []types.Chunk
	for i := range 10 {
		chunks = append(chunks, types.Chunk{Path: a, Page: 1, Content: fmt.Sprintf("w%03d", i)})
	}

	h := NewHighlighter(stubReader{pages: []types.Page{page}}, &recordingAnnotator{}, t.TempDir(), nil)
	got := h.Highlight(context.Background(), chunks)

	require.Len(t, got, 1)
	require.Len(t, got[0].Chunks, maxChunksPerFile)
	assert.Equal(t, "w000", got[0].Chunks[0])
	assert.Equal(t, "w007", got[0].Chunks[maxChunksPerFile-1])
}

// slowAnnotator fails the test if two calls write the same destination at
// once.
type slowAnnotator struct {
	mu      sync.Mutex
	active  map[string]bool
	overlap int
}

func (a *slowAnnotator) Annotate(_, dst string, _ map[int][]types.Rect) error {
	a.mu.Lock()
	if a.active[dst] {
		a.overlap++
	}
	a.active[dst] = true
	a.mu.Unlock()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	for i := range 5 {
		fmt.Fprintf(f, "%%PDF part %d\n", i)
		time.Sleep(2 * time.Millisecond)
	}
	err = f.Close()

	a.mu.Lock()
	delete(a.active, dst)
	a.mu.Unlock()
	return err
}

func TestHighlightConcurrentSameFile(t *testing.T) {
	src := writePDF(t, t.TempDir(), "a.pdf")
	out := t.TempDir()
	annotator := &slowAnnotator{active: make(map[string]bool)}
	h := NewHighlighter(stubReader{pages: []types.Page{twoLinePage(1)}}, annotator, out, nil)

	var wg sync.WaitGroup
	results := make([][]types.HighlightedPDF, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.Highlight(context.Background(), []types.Chunk{{Path: src, Page: 1, Content: "alpha beta"}})
		}()
	}
	wg.Wait()

	assert.Zero(t, annotator.overlap)
	for _, got := range results {
		require.Len(t, got, 1)
		assert.Equal(t, h.OutputPath(src), got[0].DownloadPath)
	}

	data, err := os.ReadFile(h.OutputPath(src))
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(string(data), "%PDF part"))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary copies must not be left behind")
}

func TestHighlightRealPDF(t *testing.T) {
	src := pdftest.WriteFile(t, t.TempDir(), "guide.pdf", "Hello world\nsecond line")
	out := filepath.Join(t.TempDir(), "highlighted")
	h := NewHighlighter(model.NewPDFFileReader(), NewPDFAnnotator(), out, nil)

	got := h.Highlight(context.Background(), []types.Chunk{
		{Path: src, Page: 1, Content: "world second"},
	})
	require.Len(t, got, 1)
	assert.Equal(t, []string{"world second"}, got[0].Chunks)
	assert.True(t, strings.HasPrefix(got[0].DownloadURL, "/download?path="))

	f, err := os.Open(got[0].DownloadPath)
	require.NoError(t, err)
	defer f.Close()

	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	annots, err := api.Annotations(f, nil, conf)
	require.NoError(t, err)
	require.Contains(t, annots, 1)
	highlights, ok := annots[1][pdfmodel.AnnHighLight]
	require.True(t, ok)
	// "world" ends the first line and "second" starts the next
	assert.Len(t, highlights.Map, 2)
}

func TestPurge(t *testing.T) {
	out := t.TempDir()
	for _, name := range []string{"a.pdf.highlighted.pdf", ".a.pdf.highlighted.pdf.123.tmp", "keep.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(out, name), nil, 0o644))
	}
	h := NewHighlighter(nil, nil, out, nil)

	require.NoError(t, h.Purge())

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.txt", entries[0].Name())

	assert.NoError(t, NewHighlighter(nil, nil, filepath.Join(out, "missing"), nil).Purge())
}
