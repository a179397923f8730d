package job

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHighlightCleanupJob(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	write := func(name string, age time.Duration) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
		mtime := now.Add(-age)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
		return path
	}
	old := write("old.pdf.highlighted.pdf", 2*time.Hour)
	fresh := write("fresh.pdf.highlighted.pdf", time.Minute)
	other := write("notes.txt", 5*time.Hour)

	j := NewHighlightCleanupJob(dir, time.Hour, zap.NewNop())
	j.now = func() time.Time { return now }

	require.NoError(t, j.Run(context.Background()))
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}

func TestHighlightCleanupJobMissingDir(t *testing.T) {
	j := NewHighlightCleanupJob(filepath.Join(t.TempDir(), "missing"), time.Hour, zap.NewNop())
	assert.NoError(t, j.Run(context.Background()))
}

type countingJob struct {
	runs chan struct{}
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(context.Context) error {
	select {
	case j.runs <- struct{}{}:
	default:
	}
	return nil
}

func TestScheduler(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	j := &countingJob{runs: make(chan struct{}, 1)}

	require.NoError(t, s.AddJob(j, "@every 1s"))
	assert.Error(t, s.AddJob(j, "every tuesday"))

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-j.runs:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}
