package api

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"docchat/types"

	"github.com/gofiber/fiber/v2"
)

// DownloadHandler serves files below baseDir, typically highlighted PDFs.
type DownloadHandler struct {
	baseDir string
}

func NewDownloadHandler(baseDir string) *DownloadHandler {
	if abs, err := filepath.Abs(baseDir); err == nil {
		baseDir = abs
	}
	return &DownloadHandler{baseDir: filepath.Clean(baseDir)}
}

func (h *DownloadHandler) HandleDownload(c *fiber.Ctx) error {
	var params types.DownloadParams
	if err := c.QueryParser(&params); err != nil {
		return ErrBadRequest()
	}
	if verrs := types.Validate(&params); len(verrs) > 0 {
		return NewError(fiber.StatusBadRequest, "path is required")
	}

	path, ok := h.resolve(params.Path)
	if !ok {
		return ErrInvalidPath()
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()) {
		return ErrNotFound(filepath.Base(path), "file")
	}
	if err != nil {
		return err
	}
	return c.Download(path, filepath.Base(path))
}

// resolve returns the absolute form of p when it lies inside the base dir.
func (h *DownloadHandler) resolve(p string) (string, bool) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(h.baseDir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}
