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

	httpadapter "github.com/kirillkom/tenant-rag/internal/adapters/http"
	"github.com/kirillkom/tenant-rag/internal/bootstrap"
	"github.com/kirillkom/tenant-rag/internal/config"
	"github.com/kirillkom/tenant-rag/internal/observability/logging"
	"github.com/kirillkom/tenant-rag/internal/observability/metrics"
)

const serviceName = "tenant-rag-api"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		ClientName:      serviceName,
		Metrics:         serverMetrics,
		BreakerObserver: serverMetrics.ObserveBreaker,
	})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	go func() {
		err := app.Queue.SubscribeTenantIndexed(ctx, func(_ context.Context, tenantID string) error {
			app.Registry.Invalidate(tenantID)
			slog.Info("tenant_engine_invalidated", "tenant_id", tenantID)
			return nil
		})
		if err != nil {
			slog.Error("subscribe_tenant_indexed_failed", "error", err)
			stop()
		}
	}()

	handler, err := httpadapter.NewRouter(cfg, app.Answers, app.Documents, app.Sections, app.Models, serverMetrics).Handler()
	if err != nil {
		slog.Error("router_init_failed", "error", err)
		os.Exit(1)
	}
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Generation on the largest tiers can take several minutes.
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "addr", server.Addr, "retrieval_mode", cfg.RetrievalMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), bootstrap.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}
