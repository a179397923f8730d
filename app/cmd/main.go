package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"docchat/app/client"
	"docchat/app/server"
	"docchat/app/tui"
	"docchat/config"
	"docchat/logger"
	"docchat/types"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "docchat",
		Short: "chat with your PDF documents",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (optional)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}

	var (
		serverURL string
		timeout   time.Duration
	)
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "open the terminal chat client",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL, timeout)
			_, err := tea.NewProgram(tui.New(c), tea.WithAltScreen()).Run()
			return err
		},
	}
	chatCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8000", "docchat server url")
	chatCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "request timeout")

	var appendOnly bool
	ingestCmd := &cobra.Command{
		Use:   "ingest <file.pdf|dir>...",
		Short: "index PDFs into the configured index without the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(configPath)
			if err != nil {
				return err
			}
			defer log.Sync()
			return runIngest(cmd.Context(), cfg, log, args, appendOnly)
		},
	}
	ingestCmd.Flags().BoolVar(&appendOnly, "append", false, "keep the current index content")

	rootCmd.AddCommand(serveCmd, chatCmd, ingestCmd)

	if err := rootCmd.Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Console)
	if err != nil {
		return nil, nil, err
	}
	log.Info("config loaded",
		zap.String("config", configPath),
		zap.String("index", cfg.Index.Backend),
		zap.String("history", cfg.History.Backend),
		zap.String("llm", cfg.LLM.Model),
	)
	return cfg, log, nil
}

func runIngest(ctx context.Context, cfg *config.Config, log *zap.Logger, args []string, appendOnly bool) error {
	if cfg.Index.Backend == "memory" {
		color.Yellow("warning: the memory index is dropped when this command exits, configure postgres or qdrant")
	}

	paths, err := collectPDFs(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no pdf files found")
	}

	components, err := server.NewComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer components.Close()

	for _, p := range paths {
		if err := components.Reader.Validate(p); err != nil {
			return err
		}
	}

	start := time.Now()
	bar := getProgressBar(len(paths), "Indexing PDFs")
	docs, err := components.Ingester.IngestAll(ctx, paths, cfg.Ingest.Workers, func(*types.Document) {
		_ = bar.Add(1)
	})
	_ = bar.Finish()
	if err != nil {
		return err
	}

	if !appendOnly {
		if err := components.Index.Reset(ctx); err != nil {
			return err
		}
	}
	chunks := 0
	for _, doc := range docs {
		if err := components.Index.Add(ctx, doc.Chunks); err != nil {
			return err
		}
		chunks += len(doc.Chunks)
	}

	fmt.Println()
	color.Green("indexed %d file(s), %d chunks in %s", len(docs), chunks, time.Since(start).Round(time.Millisecond))
	for _, doc := range docs {
		fmt.Printf("  %s %s (%d pages, %d chunks)\n", color.CyanString("•"), doc.FileName, doc.Pages, len(doc.Chunks))
	}
	return nil
}

// collectPDFs expands directories (one level) and returns absolute paths.
func collectPDFs(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, abs)
			continue
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
				out = append(out, filepath.Join(abs, e.Name()))
			}
		}
	}
	return out, nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
