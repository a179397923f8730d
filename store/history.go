package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"docchat/config"
	"docchat/types"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HistoryStore keeps the question/answer pairs of a session, oldest first.
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, entry types.HistoryEntry) error
	List(ctx context.Context, sessionID string) ([]types.HistoryEntry, error)
	Clear(ctx context.Context, sessionID string) error
	Close() error
}

func NewHistoryStore(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (HistoryStore, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisHistory(ctx, cfg.Redis, cfg.MaxEntries, cfg.TTL, logger)
	case "memory", "":
		return NewMemoryHistory(cfg.MaxEntries), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

type MemoryHistory struct {
	mu       sync.RWMutex
	max      int
	sessions map[string][]types.HistoryEntry
}

func NewMemoryHistory(maxEntries int) *MemoryHistory {
	return &MemoryHistory{
		max:      maxEntries,
		sessions: make(map[string][]types.HistoryEntry),
	}
}

func (h *MemoryHistory) Append(_ context.Context, sessionID string, entry types.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := append(h.sessions[sessionID], entry)
	if h.max > 0 && len(entries) > h.max {
		entries = append([]types.HistoryEntry(nil), entries[len(entries)-h.max:]...)
	}
	h.sessions[sessionID] = entries
	return nil
}

func (h *MemoryHistory) List(_ context.Context, sessionID string) ([]types.HistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entries := h.sessions[sessionID]
	out := make([]types.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (h *MemoryHistory) Clear(_ context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
	return nil
}

func (h *MemoryHistory) Close() error { return nil }

// RedisHistory keeps one JSON list per session under docchat:history:<id>.
type RedisHistory struct {
	rdb    *redis.Client
	max    int
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisHistory(ctx context.Context, cfg config.RedisConfig, maxEntries int, ttl time.Duration, logger *zap.Logger) (*RedisHistory, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("redis history ready", zap.String("addr", cfg.Addr))
	return &RedisHistory{rdb: rdb, max: maxEntries, ttl: ttl, logger: logger}, nil
}

func historyKey(sessionID string) string {
	return "docchat:history:" + sessionID
}

func (h *RedisHistory) Append(ctx context.Context, sessionID string, entry types.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	key := historyKey(sessionID)
	pipe := h.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	if h.max > 0 {
		pipe.LTrim(ctx, key, int64(-h.max), -1)
	}
	if h.ttl > 0 {
		pipe.Expire(ctx, key, h.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (h *RedisHistory) List(ctx context.Context, sessionID string) ([]types.HistoryEntry, error) {
	raw, err := h.rdb.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	entries := make([]types.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry types.HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			h.logger.Warn("skip malformed history entry", zap.String("session", sessionID), zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (h *RedisHistory) Clear(ctx context.Context, sessionID string) error {
	if err := h.rdb.Del(ctx, historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (h *RedisHistory) Close() error {
	return h.rdb.Close()
}
