package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	mcpadapter "github.com/kirillkom/smart-notes/internal/adapters/mcp"
	"github.com/kirillkom/smart-notes/internal/bootstrap"
	"github.com/kirillkom/smart-notes/internal/config"
	"github.com/kirillkom/smart-notes/internal/observability/logging"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_invalid", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewStderrLogger("mcp", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	srv := mcpadapter.NewServer(mcpadapter.Services{
		Indexer:   app.Indexer,
		Searcher:  app.Searcher,
		Tags:      app.Tags,
		Extractor: app.Extractor,
		Answerer:  app.Answerer,
	}, cfg.RAGTopK)

	slog.Info("mcp_serving_stdio")
	if err := srv.ServeStdio(); err != nil {
		slog.Error("mcp_server_failed", "error", err)
	}
}
