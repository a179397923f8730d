package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"docchat/types"
)

// MemoryIndex is a brute-force cosine index kept in process memory.
type MemoryIndex struct {
	mu     sync.RWMutex
	dim    int
	chunks []types.Chunk
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

func (m *MemoryIndex) Backend() string { return "memory" }

func (m *MemoryIndex) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = nil
	m.dim = 0
	return nil
}

func (m *MemoryIndex) Add(_ context.Context, chunks []types.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.dim
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %d of %s: %w", c.Index, c.Source, ErrDimensionMismatch)
		}
		if dim == 0 {
			dim = len(c.Embedding)
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("chunk %d of %s has %d dimensions, index has %d: %w",
				c.Index, c.Source, len(c.Embedding), dim, ErrDimensionMismatch)
		}
	}

	m.dim = dim
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, vector []float32, k int) ([]types.Chunk, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyQuery
	}
	k = normalizeK(k)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.chunks) == 0 {
		return nil, nil
	}
	if len(vector) != m.dim {
		return nil, fmt.Errorf("query has %d dimensions, index has %d: %w", len(vector), m.dim, ErrDimensionMismatch)
	}

	results := make([]types.Chunk, len(m.chunks))
	for i, c := range m.chunks {
		results[i] = c
		results[i].Score = cosine(vector, c.Embedding)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (m *MemoryIndex) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

func (m *MemoryIndex) Close() error { return nil }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
