package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"docchat/app/agent"
	"docchat/highlight"
	"docchat/loader"
	"docchat/model"
	"docchat/store"
	"docchat/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sourceTextLimit = 700

var (
	ErrNoFiles    = errors.New("no files given")
	ErrNotPDF     = errors.New("only pdf files are accepted")
	ErrInvalidPDF = errors.New("invalid pdf")
	ErrBackend    = errors.New("backend error")
)

// UploadFile is one part of a multipart upload.
type UploadFile struct {
	Name    string
	Content io.Reader
}

type Deps struct {
	Reader      model.PDFReader
	Ingester    *loader.Ingester
	Embedder    model.Embedder
	Index       store.Index
	History     store.HistoryStore
	Agent       *agent.Agent
	Highlighter *highlight.Highlighter
	Archiver    loader.Archiver
}

type Options struct {
	UploadDir string
	Workers   int
	TopK      int
	MinScore  float64
}

// ChatService owns the indexed file set. Uploads, clears and inbox appends
// take the write lock for the index swap, asks hold the read lock.
type ChatService struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	// uploadMu serialises uploads so that slow ingestion runs outside mu.
	uploadMu sync.Mutex

	mu      sync.RWMutex
	files   []string
	indexed bool
}

func New(deps Deps, opts Options, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Archiver == nil {
		deps.Archiver = loader.NopArchiver{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &ChatService{deps: deps, opts: opts, logger: logger}
}

// Init picks up chunks already present in a persistent index.
func (s *ChatService) Init(ctx context.Context) error {
	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	n, err := s.deps.Index.Count(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.indexed = n > 0
	s.mu.Unlock()
	if n > 0 {
		s.logger.Info("index already populated", zap.Int("chunks", n), zap.String("backend", s.deps.Index.Backend()))
	}
	return nil
}

// SanitizeFileName keeps uploaded names inside the upload dir.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	return strings.TrimSpace(name)
}

// Upload replaces the indexed file set with files. Nothing changes when a
// file is rejected or ingestion fails.
func (s *ChatService) Upload(ctx context.Context, files []UploadFile) ([]string, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		name := SanitizeFileName(f.Name)
		if !strings.EqualFold(filepath.Ext(name), ".pdf") || len(name) <= len(".pdf") {
			return nil, fmt.Errorf("%w: %s", ErrNotPDF, f.Name)
		}
		names = append(names, name)
	}

	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	staging := filepath.Join(s.opts.UploadDir, ".staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	for i, f := range files {
		staged := filepath.Join(staging, names[i])
		if err := writeFile(staged, f.Content); err != nil {
			return nil, fmt.Errorf("store %s: %w", names[i], err)
		}
		if err := s.deps.Reader.Validate(staged); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPDF, names[i], err)
		}
	}

	var (
		paths  []string
		stored []string
		seen   = make(map[string]bool)
	)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		dest := filepath.Join(s.opts.UploadDir, name)
		if err := os.Rename(filepath.Join(staging, name), dest); err != nil {
			return nil, fmt.Errorf("store %s: %w", name, err)
		}
		if err := s.deps.Archiver.Archive(ctx, dest); err != nil {
			s.logger.Warn("archive failed", zap.String("file", name), zap.Error(err))
		}
		paths = append(paths, dest)
		stored = append(stored, name)
	}

	docs, err := s.deps.Ingester.IngestAll(ctx, paths, s.opts.Workers, nil)
	if err != nil {
		s.discardPublished(stored)
		return nil, fmt.Errorf("ingest upload: %w", err)
	}
	var chunks []types.Chunk
	for _, doc := range docs {
		chunks = append(chunks, doc.Chunks...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deps.Index.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset index: %w", err)
	}
	if err := s.deps.Index.Add(ctx, chunks); err != nil {
		s.files = nil
		s.indexed = false
		return nil, fmt.Errorf("fill index: %w", err)
	}
	previous := s.files
	s.files = stored
	s.indexed = len(chunks) > 0
	s.removeReplaced(previous, stored)

	s.logger.Info("upload indexed", zap.Strings("files", stored), zap.Int("chunks", len(chunks)))
	return append([]string(nil), stored...), nil
}

// removeReplaced deletes the files of the previous set that the new upload
// did not bring back. Highlighted copies of the previous set are stale either
// way. Callers hold mu.
func (s *ChatService) removeReplaced(previous, current []string) {
	for _, name := range previous {
		path := filepath.Join(s.opts.UploadDir, name)
		if !slices.Contains(current, name) {
			removeQuiet(path, s.logger)
		}
		if s.deps.Highlighter != nil {
			removeQuiet(s.deps.Highlighter.OutputPath(path), s.logger)
		}
	}
}

// discardPublished removes files an aborted upload moved into the upload dir,
// keeping those that still belong to the indexed set.
func (s *ChatService) discardPublished(names []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range names {
		if !slices.Contains(s.files, name) {
			removeQuiet(filepath.Join(s.opts.UploadDir, name), s.logger)
		}
	}
}

// AppendDocument ingests the PDF at path and adds it to the current set. A
// file already in the set is left alone.
func (s *ChatService) AppendDocument(ctx context.Context, path string) error {
	name := filepath.Base(path)
	s.mu.RLock()
	known := slices.Contains(s.files, name)
	s.mu.RUnlock()
	if known {
		s.logger.Info("document already indexed", zap.String("file", name))
		return nil
	}

	if err := s.deps.Reader.Validate(path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPDF, filepath.Base(path), err)
	}
	doc, err := s.deps.Ingester.Ingest(ctx, path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.files, doc.FileName) {
		return nil
	}
	if err := s.deps.Index.Add(ctx, doc.Chunks); err != nil {
		return fmt.Errorf("add %s to index: %w", doc.FileName, err)
	}
	s.files = append(s.files, doc.FileName)
	s.indexed = s.indexed || len(doc.Chunks) > 0
	return nil
}

// Ask answers query, from the indexed documents when there are any.
func (s *ChatService) Ask(ctx context.Context, sessionID string, params types.AskParams) (*types.AskResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := &types.AskResponse{
		Sources:         []types.Source{},
		HighlightedPDFs: []types.HighlightedPDF{},
		Timestamp:       time.Now(),
	}

	if agent.IsGreeting(params.Query) && !s.indexed {
		resp.Answer = agent.GreetingAnswer
		resp.AnswerHTML = s.deps.Agent.RenderHTML(resp.Answer)
		s.remember(ctx, sessionID, params, resp.Answer)
		return resp, nil
	}

	prompt := agent.PromptText(params.Query, params.ELI5)

	var retrieved []types.Chunk
	if s.indexed {
		vec, err := s.deps.Embedder.Embed(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		found, err := s.deps.Index.Search(ctx, vec, s.opts.TopK)
		if err != nil {
			return nil, fmt.Errorf("search index: %w", err)
		}
		for _, c := range found {
			if s.opts.MinScore > 0 && c.Score < s.opts.MinScore {
				s.logger.Debug("chunk filtered", zap.String("source", c.Source), zap.Float64("score", c.Score))
				continue
			}
			retrieved = append(retrieved, c)
		}
	}

	answer, err := s.deps.Agent.Answer(ctx, prompt, retrieved)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	resp.Answer = answer.Text
	resp.AnswerHTML = answer.HTML
	resp.Sources = Sources(retrieved)
	if len(retrieved) > 0 && s.deps.Highlighter != nil {
		if pdfs := s.deps.Highlighter.Highlight(ctx, retrieved); len(pdfs) > 0 {
			resp.HighlightedPDFs = pdfs
		}
	}

	s.remember(ctx, sessionID, params, resp.Answer)
	return resp, nil
}

func (s *ChatService) remember(ctx context.Context, sessionID string, params types.AskParams, answer string) {
	if s.deps.History == nil || sessionID == "" {
		return
	}
	entry := types.HistoryEntry{
		Query:     params.Query,
		Answer:    answer,
		ELI5:      params.ELI5,
		CreatedAt: time.Now(),
	}
	if err := s.deps.History.Append(ctx, sessionID, entry); err != nil {
		s.logger.Warn("append history", zap.String("session", sessionID), zap.Error(err))
	}
}

// Sources lists the retrieved chunks in rank order, truncating long text.
func Sources(chunks []types.Chunk) []types.Source {
	out := make([]types.Source, 0, len(chunks))
	for i, c := range chunks {
		out = append(out, types.Source{
			Text:           truncate(c.Content, sourceTextLimit),
			ConfidenceRank: i + 1,
			File:           c.Source,
			Page:           c.Page,
			Score:          c.Score,
		})
	}
	return out
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// Clear drops the indexed set and empties the upload and highlight
// directories.
func (s *ChatService) Clear(ctx context.Context) error {
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deps.Index.Reset(ctx); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}
	entries, err := os.ReadDir(s.opts.UploadDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("read upload dir", zap.String("dir", s.opts.UploadDir), zap.Error(err))
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		removeQuiet(filepath.Join(s.opts.UploadDir, e.Name()), s.logger)
	}
	if s.deps.Highlighter != nil {
		if err := s.deps.Highlighter.Purge(); err != nil {
			s.logger.Warn("purge highlights", zap.Error(err))
		}
	}
	s.files = nil
	s.indexed = false
	s.logger.Info("uploads cleared")
	return nil
}

func (s *ChatService) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.files...)
}

func (s *ChatService) Status(ctx context.Context) (*types.StatusResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.deps.Index.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &types.StatusResponse{
		Files:   append([]string{}, s.files...),
		Chunks:  n,
		Backend: s.deps.Index.Backend(),
	}, nil
}

func (s *ChatService) History(ctx context.Context, sessionID string) ([]types.HistoryEntry, error) {
	return s.deps.History.List(ctx, sessionID)
}

func (s *ChatService) ClearHistory(ctx context.Context, sessionID string) error {
	return s.deps.History.Clear(ctx, sessionID)
}

func writeFile(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func removeQuiet(path string, logger *zap.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("remove file", zap.String("file", path), zap.Error(err))
	}
}
