package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillkom/smart-notes/internal/bootstrap"
	"github.com/kirillkom/smart-notes/internal/config"
	"github.com/kirillkom/smart-notes/internal/core/ports"
	"github.com/kirillkom/smart-notes/internal/observability/logging"
	"github.com/kirillkom/smart-notes/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	slog.SetDefault(logging.NewJSONLogger(serviceName, "info"))
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_invalid", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stdout, serviceName, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	go runSweeps(ctx, app.Reconciler, cfg.SweepInterval(), workerMetrics)

	if app.Queue == nil {
		slog.Warn("reconcile_queue_disabled", "reason", "NATS_URL is empty; running periodic sweeps only")
		<-ctx.Done()
		return
	}

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeReconcile(ctx, func(handlerCtx context.Context, noteID string) error {
		reconcileCtx, cancel := context.WithTimeout(handlerCtx, time.Minute)
		defer cancel()

		workerMetrics.StartReconcile()
		start := time.Now()
		pruned, err := app.Reconciler.ReconcileNote(reconcileCtx, noteID)
		workerMetrics.FinishReconcile(serviceName, time.Since(start), pruned, err)
		if pruned {
			slog.Info("reconcile_pruned", "note_id", noteID)
		}
		return err
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}

func runSweeps(ctx context.Context, reconciler ports.Reconciler, interval time.Duration, m *metrics.WorkerMetrics) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			report, err := reconciler.Sweep(ctx)
			m.ObserveSweep(serviceName, time.Since(start), report.Pruned)
			if err != nil {
				slog.Error("sweep_failed", "error", err, "scanned", report.Scanned, "pruned", report.Pruned)
				continue
			}
			slog.Info("sweep_completed", "scanned", report.Scanned, "pruned", report.Pruned, "failed", report.Failed)
		}
	}
}
