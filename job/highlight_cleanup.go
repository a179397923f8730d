package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HighlightCleanupJob removes highlighted PDFs older than ttl.
type HighlightCleanupJob struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewHighlightCleanupJob(dir string, ttl time.Duration, logger *zap.Logger) *HighlightCleanupJob {
	return &HighlightCleanupJob{dir: dir, ttl: ttl, now: time.Now, logger: logger}
}

func (j *HighlightCleanupJob) Name() string {
	return "highlight_cleanup"
}

func (j *HighlightCleanupJob) Run(ctx context.Context) error {
	entries, err := os.ReadDir(j.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	cutoff := j.now().Add(-j.ttl)
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pdf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.dir, e.Name())
		if err := os.Remove(path); err != nil {
			j.logger.Warn("remove expired highlight", zap.String("file", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		j.logger.Info("expired highlights removed", zap.Int("count", removed))
	}
	return nil
}
