package store

import (
	"context"
	"errors"
	"fmt"

	"docchat/config"
	"docchat/types"

	"go.uber.org/zap"
)

const defaultTopK = 3

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmptyQuery        = errors.New("empty query vector")
)

// Index is a nearest-neighbour index over chunk embeddings. Search returns
// at most k chunks ordered by descending cosine similarity with Score set.
type Index interface {
	Reset(ctx context.Context) error
	Add(ctx context.Context, chunks []types.Chunk) error
	Search(ctx context.Context, vector []float32, k int) ([]types.Chunk, error)
	Count(ctx context.Context) (int, error)
	Backend() string
	Close() error
}

func NewIndex(ctx context.Context, cfg config.IndexConfig, logger *zap.Logger) (Index, error) {
	switch cfg.Backend {
	case "postgres":
		return NewPostgresIndex(ctx, cfg.Postgres.DSN, cfg.Dimension, logger)
	case "qdrant":
		return NewQdrantIndex(ctx, cfg.Qdrant, logger)
	case "memory", "":
		return NewMemoryIndex(), nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}

func normalizeK(k int) int {
	if k <= 0 {
		return defaultTopK
	}
	return k
}
