package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"docchat/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalArchiver(t *testing.T) {
	src := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0o644))

	dir := t.TempDir()
	a := NewLocalArchiver(dir, zap.NewNop())
	a.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, a.Archive(context.Background(), src))
	require.NoError(t, a.Archive(context.Background(), src))

	day := filepath.Join(dir, "2024-03-09")
	assert.FileExists(t, filepath.Join(day, "report.pdf"))
	assert.FileExists(t, filepath.Join(day, "report_1.pdf"))
	assert.FileExists(t, src, "archiving keeps the original")
}

func TestMoveToDir(t *testing.T) {
	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	dest, err := moveToDir(src, filepath.Join(t.TempDir(), "bad"))
	require.NoError(t, err)
	assert.FileExists(t, dest)
	assert.NoFileExists(t, src)
}

func TestNewArchiverDefaultsToNop(t *testing.T) {
	a, err := NewArchiver(context.Background(), config.ArchiveConfig{Type: "none"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, NopArchiver{}, a)
}
