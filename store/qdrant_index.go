package store

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"docchat/config"
	"docchat/types"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

// QdrantIndex stores chunks as points of a Qdrant collection. The
// collection is created on the first Add with the dimension of that batch.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	logger     *zap.Logger

	mu  sync.Mutex
	dim int
}

func NewQdrantIndex(ctx context.Context, cfg config.QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	host, port := parseHostPort(cfg.Addr, "localhost", 6334)
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("init qdrant client: %w", err)
	}

	q := &QdrantIndex{client: client, collection: cfg.Collection, logger: logger}
	exists, err := client.CollectionExists(ctx, cfg.Collection)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("check qdrant collection: %w", err)
	}
	if exists {
		info, err := client.GetCollectionInfo(ctx, cfg.Collection)
		if err == nil {
			if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
				q.dim = int(params.GetSize())
			}
		}
	}
	logger.Info("qdrant index ready", zap.String("collection", cfg.Collection), zap.Bool("exists", exists), zap.Int("dimension", q.dim))
	return q, nil
}

func (q *QdrantIndex) Backend() string { return "qdrant" }

func (q *QdrantIndex) Reset(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check qdrant collection: %w", err)
	}
	if exists {
		if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
			return fmt.Errorf("delete qdrant collection: %w", err)
		}
	}
	q.dim = 0
	return nil
}

func (q *QdrantIndex) Add(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	dim := q.dim
	if dim == 0 {
		dim = len(chunks[0].Embedding)
	}
	for _, c := range chunks {
		if len(c.Embedding) != dim || dim == 0 {
			return fmt.Errorf("chunk %d of %s has %d dimensions, index has %d: %w",
				c.Index, c.Source, len(c.Embedding), dim, ErrDimensionMismatch)
		}
	}
	if q.dim == 0 {
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create qdrant collection: %w", err)
		}
		q.dim = dim
		q.logger.Info("qdrant collection created", zap.String("collection", q.collection), zap.Int("dimension", dim))
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID.String()),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"doc_id":      c.DocID.String(),
				"source":      c.Source,
				"path":        c.Path,
				"page":        int64(c.Page),
				"position":    int64(c.Index),
				"content":     c.Content,
				"token_count": int64(c.TokenCount),
			}),
		})
	}

	wait := true
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("upsert qdrant points: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int) ([]types.Chunk, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyQuery
	}

	q.mu.Lock()
	dim := q.dim
	q.mu.Unlock()
	if dim == 0 {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("query has %d dimensions, index has %d: %w", len(vector), dim, ErrDimensionMismatch)
	}

	limit := uint64(normalizeK(k))
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{
				Enable: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query qdrant: %w", err)
	}

	chunks := make([]types.Chunk, 0, len(points))
	for _, point := range points {
		c := types.Chunk{Score: float64(point.GetScore())}
		if id, err := uuid.Parse(point.GetId().GetUuid()); err == nil {
			c.ID = id
		}
		payload := point.GetPayload()
		if val, ok := payload["doc_id"]; ok {
			c.DocID, _ = uuid.Parse(val.GetStringValue())
		}
		if val, ok := payload["source"]; ok {
			c.Source = val.GetStringValue()
		}
		if val, ok := payload["path"]; ok {
			c.Path = val.GetStringValue()
		}
		if val, ok := payload["page"]; ok {
			c.Page = int(val.GetIntegerValue())
		}
		if val, ok := payload["position"]; ok {
			c.Index = int(val.GetIntegerValue())
		}
		if val, ok := payload["content"]; ok {
			c.Content = val.GetStringValue()
		}
		if val, ok := payload["token_count"]; ok {
			c.TokenCount = int(val.GetIntegerValue())
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return 0, fmt.Errorf("check qdrant collection: %w", err)
	}
	if !exists {
		return 0, nil
	}
	exact := true
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("count qdrant points: %w", err)
	}
	return int(n), nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func parseHostPort(addr string, defaultHost string, defaultPort int) (string, int) {
	if addr == "" {
		return defaultHost, defaultPort
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}
