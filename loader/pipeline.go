package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"docchat/model"
	"docchat/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Ingester turns a PDF on disk into an embedded document: pages are read,
// split into chunks and every chunk gets its embedding.
type Ingester struct {
	reader   model.PDFReader
	chunker  *Chunker
	embedder model.Embedder
	logger   *zap.Logger
}

func NewIngester(reader model.PDFReader, chunker *Chunker, embedder model.Embedder, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		reader:   reader,
		chunker:  chunker,
		embedder: embedder,
		logger:   logger,
	}
}

func (in *Ingester) Ingest(ctx context.Context, path string) (*types.Document, error) {
	start := time.Now()
	pages, err := in.reader.ReadPages(path)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	doc := &types.Document{
		ID:        uuid.NewMD5(uuid.NameSpaceURL, []byte(path)),
		Title:     types.TitleFromFile(name),
		FileName:  name,
		Path:      path,
		Pages:     len(pages),
		CreatedAt: time.Now(),
	}

	chunks, err := in.chunker.Split(doc, pages)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		in.logger.Warn("no text extracted", zap.String("file", name))
		doc.Chunks = chunks
		return doc, nil
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	vecs, err := in.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", name, err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embed %s: got %d vectors for %d chunks", name, len(vecs), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}
	doc.Chunks = chunks

	in.logger.Info("document ingested",
		zap.String("file", name),
		zap.Int("pages", doc.Pages),
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", time.Since(start)),
	)
	return doc, nil
}

// IngestAll ingests paths with at most workers files in flight. Results keep
// the order of paths. The first failure cancels the remaining work. onDone,
// when set, is called once per finished document and must be safe for
// concurrent use.
func (in *Ingester) IngestAll(ctx context.Context, paths []string, workers int, onDone func(*types.Document)) ([]*types.Document, error) {
	if workers <= 0 {
		workers = 1
	}
	docs := make([]*types.Document, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		g.Go(func() error {
			doc, err := in.Ingest(gctx, p)
			if err != nil {
				return err
			}
			docs[i] = doc
			if onDone != nil {
				onDone(doc)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}
