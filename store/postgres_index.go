package store

import (
	"context"
	"fmt"

	"docchat/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// PostgresIndex keeps documents and chunk embeddings in Postgres with the
// pgvector extension.
type PostgresIndex struct {
	pool   *pgxpool.Pool
	dim    int
	logger *zap.Logger
}

func NewPostgresIndex(ctx context.Context, connStr string, dim int, logger *zap.Logger) (*PostgresIndex, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &PostgresIndex{pool: pool, dim: dim, logger: logger}
	if err := p.createTables(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	logger.Info("postgres index ready", zap.Int("dimension", dim))
	return p, nil
}

func (p *PostgresIndex) Backend() string { return "postgres" }

func (p *PostgresIndex) createTables(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		source TEXT NOT NULL,
		source_path TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id UUID PRIMARY KEY,
		doc_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		position INT NOT NULL,
		page INT NOT NULL,
		content TEXT NOT NULL,
		token_count INT NOT NULL DEFAULT 0,
		embedding vector(%d) NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops)
	WITH (lists = 100);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
	`, p.dim)
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresIndex) Reset(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "TRUNCATE chunks, documents"); err != nil {
		return fmt.Errorf("truncate index: %w", err)
	}
	return nil
}

func (p *PostgresIndex) Add(ctx context.Context, chunks []types.Chunk) error {
	for _, c := range chunks {
		if len(c.Embedding) != p.dim {
			return fmt.Errorf("chunk %d of %s has %d dimensions, index has %d: %w",
				c.Index, c.Source, len(c.Embedding), p.dim, ErrDimensionMismatch)
		}
	}

	batch := &pgx.Batch{}
	seen := make(map[string]bool)
	for _, c := range chunks {
		if !seen[c.DocID.String()] {
			seen[c.DocID.String()] = true
			batch.Queue(`INSERT INTO documents (id, source, source_path)
				VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET source = EXCLUDED.source, source_path = EXCLUDED.source_path`,
				c.DocID, c.Source, c.Path)
		}
		batch.Queue(`INSERT INTO chunks (id, doc_id, position, page, content, token_count, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, c.DocID, c.Index, c.Page, c.Content, c.TokenCount, pgvector.NewVector(c.Embedding))
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}
	return nil
}

func (p *PostgresIndex) Search(ctx context.Context, vector []float32, k int) ([]types.Chunk, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyQuery
	}
	if len(vector) != p.dim {
		return nil, fmt.Errorf("query has %d dimensions, index has %d: %w", len(vector), p.dim, ErrDimensionMismatch)
	}

	query := `
		SELECT c.id, c.doc_id, d.source, d.source_path, c.position, c.page, c.content, c.token_count,
		       1 - (c.embedding <=> $1) AS score
		FROM chunks c
		JOIN documents d ON c.doc_id = d.id
		ORDER BY c.embedding <=> $1
		LIMIT $2
	`
	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vector), normalizeK(k))
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var chunks []types.Chunk
	for rows.Next() {
		var c types.Chunk
		if err := rows.Scan(&c.ID, &c.DocID, &c.Source, &c.Path, &c.Index, &c.Page, &c.Content, &c.TokenCount, &c.Score); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		p.logger.Debug("chunk found", zap.String("source", c.Source), zap.Int("index", c.Index), zap.Float64("score", c.Score))
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (p *PostgresIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (p *PostgresIndex) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("postgres connection pool is closed")
	}
	return nil
}
