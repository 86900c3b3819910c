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

	"github.com/kirillkom/tenant-rag/internal/bootstrap"
	"github.com/kirillkom/tenant-rag/internal/config"
	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/observability/logging"
	"github.com/kirillkom/tenant-rag/internal/observability/metrics"
)

const (
	serviceName  = "tenant-rag-worker"
	eventTimeout = 5 * time.Minute
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		ClientName:      serviceName,
		BreakerObserver: workerMetrics.ObserveBreaker,
	})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	processor := app.Processor.WithIndexObserver(workerMetrics.SetIndexedSections)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSReindexSubject, "retrieval_mode", cfg.RetrievalMode)
	err = app.Queue.SubscribeTenantEvents(ctx, func(handlerCtx context.Context, event domain.TenantEvent) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, eventTimeout)
		defer cancel()

		workerMetrics.StartEvent()
		started := time.Now()
		err := processor.HandleEvent(processCtx, event)
		workerMetrics.FinishEvent(event.Kind, time.Since(started), err)
		return err
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), bootstrap.ShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker_metrics_shutdown_failed", "error", err)
	}
}
