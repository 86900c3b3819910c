package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/tenant-rag/internal/adapters/mcp"
	"github.com/kirillkom/tenant-rag/internal/bootstrap"
	"github.com/kirillkom/tenant-rag/internal/config"
	"github.com/kirillkom/tenant-rag/internal/observability/logging"
)

const (
	serviceName = "tenant-rag-mcp"
	version     = "1.0.0"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{ClientName: serviceName})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	go func() {
		err := app.Queue.SubscribeTenantIndexed(ctx, func(_ context.Context, tenantID string) error {
			app.Registry.Invalidate(tenantID)
			return nil
		})
		if err != nil {
			slog.Warn("subscribe_tenant_indexed_failed", "error", err)
		}
	}()

	tools := mcpadapter.NewTools(app.Answers, app.Models, cfg.MCPDefaultTopK, cfg.MCPUseGeneration)
	stdio := server.NewStdioServer(mcpadapter.NewServer(serviceName, version, tools))
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		slog.Error("mcp_server_failed", "error", err)
	}
}
