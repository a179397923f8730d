package server

import (
	"context"
	"errors"
	"fmt"

	"docchat/app/agent"
	"docchat/config"
	"docchat/highlight"
	"docchat/loader"
	"docchat/logger"
	"docchat/model"
	"docchat/service"
	"docchat/store"
	"docchat/types"

	"go.uber.org/zap"
)

// Components holds the long lived dependencies shared by the HTTP server
// and the offline ingest command.
type Components struct {
	Reader   model.PDFReader
	Embedder model.Embedder
	Ingester *loader.Ingester
	Index    store.Index
	History  store.HistoryStore
	Service  *service.ChatService
}

func NewComponents(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Components, error) {
	reader := model.NewPDFFileReader()
	counter := model.NewTokenCounter(logger.Component(log, "tokens"))

	ollamaEmbedder, err := model.NewOllamaEmbedder(cfg.LLM.URL, cfg.Embedding.Model, cfg.Embedding.BatchSize, logger.Component(log, "embedder"))
	if err != nil {
		return nil, err
	}
	embedder := model.WithCache(ollamaEmbedder, cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL, logger.Component(log, "embedder"))

	chunker := loader.NewChunker(types.ChunkStrategy(cfg.Ingest.Strategy), cfg.Ingest.ChunkSize, cfg.Ingest.Overlap(), counter)
	ingester := loader.NewIngester(reader, chunker, embedder, logger.Component(log, "ingest"))

	index, err := store.NewIndex(ctx, cfg.Index, logger.Component(log, "index"))
	if err != nil {
		return nil, err
	}
	history, err := store.NewHistoryStore(ctx, cfg.History, logger.Component(log, "history"))
	if err != nil {
		index.Close()
		return nil, err
	}
	archiver, err := loader.NewArchiver(ctx, cfg.Archive, logger.Component(log, "archive"))
	if err != nil {
		index.Close()
		history.Close()
		return nil, err
	}

	generator, err := agent.NewOllamaGenerator(cfg.LLM, logger.Component(log, "llm"))
	if err != nil {
		index.Close()
		history.Close()
		return nil, err
	}
	ag := agent.New(generator, counter, cfg.LLM.MaxContextTokens, logger.Component(log, "agent"))
	highlighter := highlight.NewHighlighter(reader, highlight.NewPDFAnnotator(), cfg.Storage.HighlightDir, logger.Component(log, "highlight"))

	svc := service.New(service.Deps{
		Reader:      reader,
		Ingester:    ingester,
		Embedder:    embedder,
		Index:       index,
		History:     history,
		Agent:       ag,
		Highlighter: highlighter,
		Archiver:    archiver,
	}, service.Options{
		UploadDir: cfg.Storage.UploadDir,
		Workers:   cfg.Ingest.Workers,
		TopK:      cfg.Retrieval.TopK,
		MinScore:  cfg.Retrieval.MinScore,
	}, logger.Component(log, "chat"))
	if err := svc.Init(ctx); err != nil {
		index.Close()
		history.Close()
		return nil, fmt.Errorf("init chat service: %w", err)
	}

	return &Components{
		Reader:   reader,
		Embedder: embedder,
		Ingester: ingester,
		Index:    index,
		History:  history,
		Service:  svc,
	}, nil
}

func (c *Components) Close() error {
	return errors.Join(c.Index.Close(), c.History.Close())
}
