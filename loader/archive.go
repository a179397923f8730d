package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"docchat/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Archiver keeps a copy of every accepted upload.
type Archiver interface {
	Archive(ctx context.Context, filePath string) error
}

func NewArchiver(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (Archiver, error) {
	switch cfg.Type {
	case "local":
		return NewLocalArchiver(cfg.Dir, logger), nil
	case "minio":
		return NewMinioArchiver(ctx, cfg.Minio, logger)
	default:
		return NopArchiver{}, nil
	}
}

type NopArchiver struct{}

func (NopArchiver) Archive(context.Context, string) error { return nil }

// LocalArchiver copies files into <dir>/<yyyy-mm-dd>/, suffixing _1, _2, ...
// on name clashes.
type LocalArchiver struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

func NewLocalArchiver(dir string, logger *zap.Logger) *LocalArchiver {
	return &LocalArchiver{dir: dir, logger: logger, now: time.Now}
}

func (a *LocalArchiver) Archive(_ context.Context, filePath string) error {
	destDir := filepath.Join(a.dir, a.now().Format("2006-01-02"))
	destPath, err := copyToDir(filePath, destDir)
	if err != nil {
		return fmt.Errorf("archive %s: %w", filePath, err)
	}
	a.logger.Info("file archived", zap.String("path", destPath))
	return nil
}

// MinioArchiver uploads files to <bucket>/<yyyy-mm-dd>/<name>.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
	now    func() time.Time
}

func NewMinioArchiver(ctx context.Context, cfg config.MinioConfig, logger *zap.Logger) (*MinioArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check minio bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create minio bucket: %w", err)
		}
		logger.Info("minio bucket created", zap.String("bucket", cfg.Bucket))
	}

	return &MinioArchiver{client: client, bucket: cfg.Bucket, logger: logger, now: time.Now}, nil
}

func (a *MinioArchiver) Archive(ctx context.Context, filePath string) error {
	object := path.Join(a.now().Format("2006-01-02"), filepath.Base(filePath))
	info, err := a.client.FPutObject(ctx, a.bucket, object, filePath, minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return fmt.Errorf("archive %s to minio: %w", filePath, err)
	}
	a.logger.Info("file archived", zap.String("bucket", a.bucket), zap.String("object", info.Key), zap.Int64("size", info.Size))
	return nil
}

// copyToDir copies src into dir without overwriting existing files and
// returns the destination path.
func copyToDir(src, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	destPath := uniquePath(filepath.Join(dir, filepath.Base(src)))

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", err
	}
	return destPath, out.Close()
}

// moveToDir moves src into dir, falling back to copy+remove across devices.
func moveToDir(src, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	destPath := uniquePath(filepath.Join(dir, filepath.Base(src)))
	if err := os.Rename(src, destPath); err == nil {
		return destPath, nil
	}
	destPath, err := copyToDir(src, dir)
	if err != nil {
		return "", err
	}
	return destPath, os.Remove(src)
}

func uniquePath(p string) string {
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return p
	}
	dir := filepath.Dir(p)
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(filepath.Base(p), ext)
	for counter := 1; ; counter++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, counter, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
