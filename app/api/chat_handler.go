package api

import (
	"context"
	"io"

	"docchat/app/middleware"
	"docchat/service"
	"docchat/types"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ChatService interface {
	Upload(ctx context.Context, files []service.UploadFile) ([]string, error)
	Ask(ctx context.Context, sessionID string, params types.AskParams) (*types.AskResponse, error)
	Clear(ctx context.Context) error
	Status(ctx context.Context) (*types.StatusResponse, error)
	History(ctx context.Context, sessionID string) ([]types.HistoryEntry, error)
	ClearHistory(ctx context.Context, sessionID string) error
}

type ChatHandler struct {
	svc    ChatService
	logger *zap.Logger
}

func NewChatHandler(svc ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

func (h *ChatHandler) HandleUpload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return NewError(fiber.StatusBadRequest, service.ErrNoFiles.Error())
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return NewError(fiber.StatusBadRequest, service.ErrNoFiles.Error())
	}

	files := make([]service.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll(files)
			return ErrBadRequest()
		}
		files = append(files, service.UploadFile{Name: fh.Filename, Content: f})
	}
	defer closeAll(files)

	stored, err := h.svc.Upload(c.UserContext(), files)
	if err != nil {
		return err
	}
	h.logger.Info("files uploaded", zap.Strings("files", stored))
	return c.JSON(types.UploadResponse{Status: "ok", Files: stored})
}

func closeAll(files []service.UploadFile) {
	for _, f := range files {
		if cl, ok := f.Content.(io.Closer); ok {
			cl.Close()
		}
	}
}

func (h *ChatHandler) HandleAsk(c *fiber.Ctx) error {
	var params types.AskParams
	if err := c.QueryParser(&params); err != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	resp, err := h.svc.Ask(c.UserContext(), middleware.SessionID(c), params)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func (h *ChatHandler) HandleClear(c *fiber.Ctx) error {
	if err := h.svc.Clear(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "uploads cleared"})
}

func (h *ChatHandler) HandleStatus(c *fiber.Ctx) error {
	status, err := h.svc.Status(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(status)
}

func (h *ChatHandler) HandleFAQ(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"faq": types.DefaultFAQ})
}

func (h *ChatHandler) HandleHistory(c *fiber.Ctx) error {
	entries, err := h.svc.History(c.UserContext(), middleware.SessionID(c))
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []types.HistoryEntry{}
	}
	return c.JSON(fiber.Map{"history": entries})
}

func (h *ChatHandler) HandleClearHistory(c *fiber.Ctx) error {
	if err := h.svc.ClearHistory(c.UserContext(), middleware.SessionID(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "history cleared"})
}
