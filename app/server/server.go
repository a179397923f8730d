package server

import (
	"context"
	"fmt"

	"docchat/app/api"
	"docchat/app/middleware"
	"docchat/config"
	"docchat/job"
	"docchat/loader"
	"docchat/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
)

type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	app        *fiber.App
	components *Components
	scheduler  *job.Scheduler
	watcher    *loader.Watcher
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	components, err := NewComponents(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	scheduler := job.NewScheduler(logger.Component(log, "scheduler"))
	cleanup := job.NewHighlightCleanupJob(cfg.Storage.HighlightDir, cfg.Jobs.HighlightTTL, logger.Component(log, "cleanup"))
	if err := scheduler.AddJob(cleanup, cfg.Jobs.HighlightCleanup); err != nil {
		components.Close()
		return nil, fmt.Errorf("schedule %s: %w", cleanup.Name(), err)
	}

	var watcher *loader.Watcher
	if cfg.Ingest.WatchDir != "" {
		watcher = loader.NewWatcher(
			cfg.Ingest.WatchDir,
			cfg.Storage.UploadDir,
			cfg.Ingest.BadDir,
			cfg.Ingest.SettleTime,
			components.Service.AppendDocument,
			logger.Component(log, "watcher"),
		)
	}

	return &Server{
		cfg:        cfg,
		logger:     log,
		app:        NewApp(cfg, components.Service, log),
		components: components,
		scheduler:  scheduler,
		watcher:    watcher,
	}, nil
}

// NewApp builds the fiber application with all routes.
func NewApp(cfg *config.Config, svc api.ChatService, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          api.NewErrorHandler(log),
		BodyLimit:             cfg.Server.BodyLimitMB * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New())
	app.Use(middleware.RequestLogger(logger.Component(log, "http")))

	var (
		chatHandler     = api.NewChatHandler(svc, logger.Component(log, "api"))
		downloadHandler = api.NewDownloadHandler(cfg.Storage.BaseDir)
		checkHandler    = api.NewCheckHandler()
		limiter         = middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst, tooManyRequests, logger.Component(log, "ratelimit"))
		session         = middleware.Session()
		check           = app.Group("/check")
	)

	app.Post("/upload", limiter, chatHandler.HandleUpload)
	app.Get("/ask", limiter, session, chatHandler.HandleAsk)
	app.Post("/clear_uploads", chatHandler.HandleClear)
	app.Get("/download", downloadHandler.HandleDownload)
	app.Get("/history", session, chatHandler.HandleHistory)
	app.Delete("/history", session, chatHandler.HandleClearHistory)
	app.Get("/faq", chatHandler.HandleFAQ)
	app.Get("/status", chatHandler.HandleStatus)
	check.Get("/healthy", checkHandler.HandleHealthy)

	return app
}

func tooManyRequests(*fiber.Ctx) error {
	return api.ErrTooManyRequests()
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.scheduler.Start(ctx)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if s.watcher != nil {
		go func() {
			if err := s.watcher.Run(watchCtx); err != nil {
				s.logger.Error("file watcher failed", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server started", zap.String("addr", s.cfg.Server.Addr))
		errCh <- s.app.Listen(s.cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		s.stop()
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("received shutdown signal, shutting down server")
	if err := s.app.ShutdownWithTimeout(s.cfg.Server.ShutdownTimeout); err != nil {
		s.logger.Error("shutdown http server", zap.Error(err))
	}
	s.stop()
	return nil
}

func (s *Server) stop() {
	s.scheduler.Stop()
	if err := s.components.Close(); err != nil {
		s.logger.Error("close stores", zap.Error(err))
	}
	s.logger.Info("server stopped")
}
