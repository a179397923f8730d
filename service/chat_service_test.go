package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"docchat/app/agent"
	"docchat/highlight"
	"docchat/loader"
	"docchat/model"
	"docchat/store"
	"docchat/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// textPDF treats any file starting with %PDF as a one page document whose
// text is the rest of the file.
type textPDF struct{}

func (textPDF) Validate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return errors.New("missing header")
	}
	return nil
}

func (textPDF) ReadPages(path string) ([]types.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimPrefix(string(data), "%PDF")
	var glyphs []types.Glyph
	for i, word := range strings.Fields(text) {
		glyphs = append(glyphs, types.Glyph{S: word, X: float64(i * 60), Y: 700, W: 50, FontSize: 10})
	}
	return []types.Page{model.LayoutPage(1, glyphs)}, nil
}

// copyAnnotator copies src to dst slowly and counts calls that wrote the
// same destination at the same time.
type copyAnnotator struct {
	mu      sync.Mutex
	active  map[string]bool
	overlap int
}

func (a *copyAnnotator) Annotate(src, dst string, _ map[int][]types.Rect) error {
	a.mu.Lock()
	if a.active[dst] {
		a.overlap++
	}
	a.active[dst] = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.active, dst)
		a.mu.Unlock()
	}()

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	time.Sleep(5 * time.Millisecond)
	return os.WriteFile(dst, data, 0o644)
}

// keywordEmbedder maps text onto counts of a few keywords.
type keywordEmbedder struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (e *keywordEmbedder) ModelName() string { return "keywords" }

func (e *keywordEmbedder) vector(text string) []float32 {
	text = strings.ToLower(text)
	return []float32{
		float32(strings.Count(text, "cat")),
		float32(strings.Count(text, "dog")),
		0.1,
	}
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.queries = append(e.queries, text)
	return e.vector(text), nil
}

func (e *keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

type scriptedGenerator struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return "generated answer", nil
}

type fixture struct {
	svc          *ChatService
	embedder     *keywordEmbedder
	gen          *scriptedGenerator
	index        *store.MemoryIndex
	annotator    *copyAnnotator
	uploadDir    string
	highlightDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	embedder := &keywordEmbedder{}
	gen := &scriptedGenerator{}
	index := store.NewMemoryIndex()
	annotator := &copyAnnotator{active: make(map[string]bool)}
	root := t.TempDir()
	uploadDir := filepath.Join(root, "uploads")
	highlightDir := filepath.Join(root, "highlighted")

	chunker := loader.NewChunker(types.ChunkWords, 50, 5, nil)
	svc := New(Deps{
		Reader:      textPDF{},
		Ingester:    loader.NewIngester(textPDF{}, chunker, embedder, nil),
		Embedder:    embedder,
		Index:       index,
		History:     store.NewMemoryHistory(10),
		Agent:       agent.New(gen, nil, 1000, nil),
		Highlighter: highlight.NewHighlighter(textPDF{}, annotator, highlightDir, nil),
	}, Options{UploadDir: uploadDir, Workers: 2, TopK: 3}, nil)
	require.NoError(t, svc.Init(context.Background()))

	return &fixture{
		svc:          svc,
		embedder:     embedder,
		gen:          gen,
		index:        index,
		annotator:    annotator,
		uploadDir:    uploadDir,
		highlightDir: highlightDir,
	}
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func pdfFile(name, text string) UploadFile {
	return UploadFile{Name: name, Content: strings.NewReader("%PDF" + text)}
}

func TestUploadReplacesIndexedSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	files, err := f.svc.Upload(ctx, []UploadFile{pdfFile("cats.pdf", "cats purr and cats sleep")})
	require.NoError(t, err)
	assert.Equal(t, []string{"cats.pdf"}, files)

	files, err = f.svc.Upload(ctx, []UploadFile{
		pdfFile("dogs.pdf", "dogs bark"),
		pdfFile("more dogs.pdf", "dogs fetch"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dogs.pdf", "more dogs.pdf"}, files)

	status, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dogs.pdf", "more dogs.pdf"}, status.Files)
	assert.Equal(t, 2, status.Chunks)
	assert.Equal(t, "memory", status.Backend)

	resp, err := f.svc.Ask(ctx, "s1", types.AskParams{Query: "tell me about cats"})
	require.NoError(t, err)
	for _, s := range resp.Sources {
		assert.NotEqual(t, "cats.pdf", s.File, "previous upload must not be searched")
	}

	assert.ElementsMatch(t, []string{"dogs.pdf", "more dogs.pdf"}, dirNames(t, f.uploadDir),
		"replaced files and the staging dir are removed")
}

func TestUploadRejectsAndKeepsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, []UploadFile{pdfFile("cats.pdf", "cats")})
	require.NoError(t, err)

	_, err = f.svc.Upload(ctx, []UploadFile{pdfFile("dogs.pdf", "dogs"), {Name: "notes.txt", Content: strings.NewReader("x")}})
	assert.ErrorIs(t, err, ErrNotPDF)

	_, err = f.svc.Upload(ctx, []UploadFile{{Name: "fake.pdf", Content: strings.NewReader("not a pdf")}})
	assert.ErrorIs(t, err, ErrInvalidPDF)

	_, err = f.svc.Upload(ctx, nil)
	assert.ErrorIs(t, err, ErrNoFiles)

	assert.Equal(t, []string{"cats.pdf"}, f.svc.Files())
	assert.NoFileExists(t, filepath.Join(f.uploadDir, "fake.pdf"))
	assert.NoFileExists(t, filepath.Join(f.uploadDir, "dogs.pdf"))
}

func TestAskGreetingWithoutIndex(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.Ask(context.Background(), "s1", types.AskParams{Query: " Hello "})
	require.NoError(t, err)
	assert.Equal(t, agent.GreetingAnswer, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.NotNil(t, resp.Sources)
	assert.Empty(t, f.gen.prompts)
}

func TestAskWithoutIndexUsesModel(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.Ask(context.Background(), "s1", types.AskParams{Query: "what is a tensor?", ELI5: true})
	require.NoError(t, err)
	assert.Equal(t, "generated answer", resp.Answer)
	assert.Equal(t, []string{"Explain like I'm 5: what is a tensor?"}, f.gen.prompts)
	assert.Empty(t, f.embedder.queries, "nothing to retrieve from")
}

func TestAskRetrievesWithELI5Prompt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Upload(ctx, []UploadFile{
		pdfFile("cats.pdf", "cats purr and cats sleep"),
		pdfFile("dogs.pdf", "dogs bark"),
	})
	require.NoError(t, err)

	resp, err := f.svc.Ask(ctx, "s1", types.AskParams{Query: "why do cats purr", ELI5: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"Explain like I'm 5: why do cats purr"}, f.embedder.queries)
	require.NotEmpty(t, resp.Sources)
	assert.Equal(t, "cats.pdf", resp.Sources[0].File)
	assert.Equal(t, 1, resp.Sources[0].ConfidenceRank)
	require.Len(t, resp.HighlightedPDFs, 2)
	pdf := resp.HighlightedPDFs[0]
	assert.Equal(t, "cats.pdf", pdf.Name)
	assert.Equal(t, []string{"cats purr and cats sleep"}, pdf.Chunks)
	assert.True(t, strings.HasPrefix(pdf.DownloadURL, "/download?path="))
	assert.FileExists(t, pdf.DownloadPath)
	require.Len(t, f.gen.prompts, 1)
	assert.Contains(t, f.gen.prompts[0], "cats purr and cats sleep")
	assert.Contains(t, f.gen.prompts[0], "Question: Explain like I'm 5: why do cats purr")

	history, err := f.svc.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].ELI5)
	assert.Equal(t, "generated answer", history[0].Answer)
}

func TestAskBackendError(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("connection refused")

	_, err := f.svc.Ask(context.Background(), "s1", types.AskParams{Query: "anything"})
	assert.ErrorIs(t, err, ErrBackend)

	history, _ := f.svc.History(context.Background(), "s1")
	assert.Empty(t, history)
}

func TestAskConcurrentHighlights(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Upload(ctx, []UploadFile{pdfFile("cats.pdf", "cats purr and cats sleep")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	responses := make([]*types.AskResponse, 6)
	errs := make([]error, len(responses))
	for i := range responses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			responses[i], errs[i] = f.svc.Ask(ctx, "s1", types.AskParams{Query: "cats"})
		}()
	}
	wg.Wait()

	assert.Zero(t, f.annotator.overlap)
	for i, resp := range responses {
		require.NoError(t, errs[i])
		require.Len(t, resp.HighlightedPDFs, 1)
		data, err := os.ReadFile(resp.HighlightedPDFs[0].DownloadPath)
		require.NoError(t, err)
		assert.Equal(t, "%PDFcats purr and cats sleep", string(data))
	}
	assert.Equal(t, []string{"cats.pdf.highlighted.pdf"}, dirNames(t, f.highlightDir))
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Upload(ctx, []UploadFile{pdfFile("cats.pdf", "cats purr")})
	require.NoError(t, err)
	resp, err := f.svc.Ask(ctx, "s1", types.AskParams{Query: "cats"})
	require.NoError(t, err)
	require.Len(t, resp.HighlightedPDFs, 1)

	_, err = f.svc.Upload(ctx, []UploadFile{pdfFile("dogs.pdf", "dogs bark")})
	require.NoError(t, err)
	assert.Equal(t, []string{"dogs.pdf"}, dirNames(t, f.uploadDir))
	assert.Empty(t, dirNames(t, f.highlightDir), "highlights of the replaced set are removed")

	resp, err = f.svc.Ask(ctx, "s1", types.AskParams{Query: "dogs"})
	require.NoError(t, err)
	require.Len(t, resp.HighlightedPDFs, 1)
	require.NoError(t, os.WriteFile(filepath.Join(f.uploadDir, "stray.pdf"), []byte("%PDF"), 0o644))

	require.NoError(t, f.svc.Clear(ctx))
	assert.Empty(t, f.svc.Files())
	assert.Empty(t, dirNames(t, f.uploadDir))
	assert.Empty(t, dirNames(t, f.highlightDir))

	resp, err = f.svc.Ask(ctx, "s1", types.AskParams{Query: "hi"})
	require.NoError(t, err)
	assert.Equal(t, agent.GreetingAnswer, resp.Answer)
}

func TestAppendDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Upload(ctx, []UploadFile{pdfFile("cats.pdf", "cats")})
	require.NoError(t, err)

	path := filepath.Join(f.uploadDir, "dogs.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDFdogs bark"), 0o644))
	require.NoError(t, f.svc.AppendDocument(ctx, path))
	count, err := f.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, f.svc.AppendDocument(ctx, path))
	again, err := f.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, count, again, "appending the same file twice must not duplicate chunks")

	assert.Equal(t, []string{"cats.pdf", "dogs.pdf"}, f.svc.Files())

	bad := filepath.Join(f.uploadDir, "bad.pdf")
	require.NoError(t, os.WriteFile(bad, []byte("junk"), 0o644))
	assert.ErrorIs(t, f.svc.AppendDocument(ctx, bad), ErrInvalidPDF)
}

func TestSources(t *testing.T) {
	long := strings.Repeat("é", 800)
	got := Sources([]types.Chunk{
		{Content: long, Source: "a.pdf", Page: 2, Score: 0.9},
		{Content: "short", Source: "b.pdf", Page: 1, Score: 0.5},
	})
	require.Len(t, got, 2)
	assert.Equal(t, strings.Repeat("é", 700)+"...", got[0].Text)
	assert.Equal(t, 1, got[0].ConfidenceRank)
	assert.Equal(t, "short", got[1].Text)
	assert.Equal(t, 2, got[1].ConfidenceRank)
	assert.Equal(t, "b.pdf", got[1].File)
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "_etc_passwd.pdf", SanitizeFileName("/etc/passwd.pdf"))
	assert.Equal(t, "__a.pdf", SanitizeFileName("../a.pdf"))
	assert.Equal(t, "report.pdf", SanitizeFileName(" report.pdf "))
}
