package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Watcher polls an inbox directory. A file is handed over once it has been
// seen for at least settle; PDFs are moved to the upload dir and passed to
// the handler, everything else goes to the bad dir.
type Watcher struct {
	inbox     string
	uploadDir string
	badDir    string
	settle    time.Duration
	interval  time.Duration
	handle    func(ctx context.Context, path string) error
	logger    *zap.Logger

	mu         sync.Mutex
	firstSeen  map[string]time.Time
	processing map[string]bool
}

func NewWatcher(inbox, uploadDir, badDir string, settle time.Duration, handle func(context.Context, string) error, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		inbox:      inbox,
		uploadDir:  uploadDir,
		badDir:     badDir,
		settle:     settle,
		interval:   time.Second,
		handle:     handle,
		logger:     logger,
		firstSeen:  make(map[string]time.Time),
		processing: make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for _, dir := range []string{w.inbox, w.uploadDir, w.badDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	w.logger.Info("start monitoring folder", zap.String("dir", w.inbox))

	fileChan := make(chan string, 10)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.process(ctx, fileChan)
	}()

	ticker := time.NewTicker(w.interval)
	defer func() {
		ticker.Stop()
		close(fileChan)
		wg.Wait()
		w.logger.Info("file watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, path := range w.scan(time.Now()) {
				select {
				case fileChan <- path:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// scan returns the files ready for processing and forgets files that
// disappeared from the inbox.
func (w *Watcher) scan(now time.Time) []string {
	entries, err := os.ReadDir(w.inbox)
	if err != nil {
		w.logger.Error("read inbox", zap.Error(err))
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []string
	current := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.inbox, e.Name())
		current[path] = true
		if w.processing[path] {
			continue
		}
		first, seen := w.firstSeen[path]
		if !seen {
			w.firstSeen[path] = now
			w.logger.Debug("new file detected", zap.String("file", path))
			continue
		}
		if now.Sub(first) >= w.settle {
			w.processing[path] = true
			ready = append(ready, path)
		}
	}

	for path := range w.firstSeen {
		if !current[path] {
			delete(w.firstSeen, path)
			delete(w.processing, path)
		}
	}
	return ready
}

func (w *Watcher) process(ctx context.Context, fileChan <-chan string) {
	for path := range fileChan {
		if ctx.Err() != nil {
			return
		}
		w.processFile(ctx, path)

		w.mu.Lock()
		delete(w.processing, path)
		delete(w.firstSeen, path)
		w.mu.Unlock()
	}
}

func (w *Watcher) processFile(ctx context.Context, path string) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		dest, err := moveToDir(path, w.badDir)
		if err != nil {
			w.logger.Error("move file to bad dir", zap.String("file", path), zap.Error(err))
			return
		}
		w.logger.Warn("not a pdf, moved to bad dir", zap.String("file", dest))
		return
	}

	dest, err := moveToDir(path, w.uploadDir)
	if err != nil {
		w.logger.Error("move file to upload dir", zap.String("file", path), zap.Error(err))
		return
	}
	if err := w.handle(ctx, dest); err != nil {
		w.logger.Error("ingest inbox file", zap.String("file", dest), zap.Error(err))
		if bad, mvErr := moveToDir(dest, w.badDir); mvErr == nil {
			w.logger.Warn("moved to bad dir", zap.String("file", bad))
		}
		return
	}
	w.logger.Info("inbox file indexed", zap.String("file", dest))
}
