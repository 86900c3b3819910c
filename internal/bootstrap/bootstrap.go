package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/tenant-rag/internal/config"
	"github.com/kirillkom/tenant-rag/internal/core/ports"
	"github.com/kirillkom/tenant-rag/internal/core/usecase"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/cache/redis"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/extractor"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/retrieval/lexical"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/retrieval/semantic"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/sectioning"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/tenant-rag/internal/infrastructure/vector/qdrant"
)

const (
	RetrievalLexical  = "lexical"
	RetrievalSemantic = "semantic"
)

// Options carries the per-binary observability hooks.
type Options struct {
	ClientName      string
	Metrics         ports.ResolutionMetrics
	BreakerObserver resilience.StateObserver
}

type App struct {
	Config config.Config

	Queue     *nats.Queue
	Documents *usecase.TenantDocumentUseCase
	Registry  *usecase.TenantRegistry
	Models    *usecase.ModelRouter
	Answers   *usecase.AnswerUseCase
	Sections  *usecase.SectionLookupUseCase
	Processor *usecase.ProcessTenantUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if cfg.RetrievalMode != RetrievalLexical && cfg.RetrievalMode != RetrievalSemantic {
		return nil, fmt.Errorf("unsupported retrieval mode %q", cfg.RetrievalMode)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	closers := []func(){func() { _ = db.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	app, err := build(ctx, cfg, opts, db, &closers)
	if err != nil {
		closeAll()
		return nil, err
	}
	app.closeFn = closeAll
	return app, nil
}

func build(ctx context.Context, cfg config.Config, opts Options, db *sql.DB, closers *[]func()) (*App, error) {
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig()).
		WithProfile("ollama.generate.", resilience.GenerationConfig())
	if opts.BreakerObserver != nil {
		executor.WithStateObserver(opts.BreakerObserver)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, nats.Subjects{
		Reindex: cfg.NATSReindexSubject,
		Indexed: cfg.NATSIndexedSubject,
	}, nats.Options{ClientName: opts.ClientName, ResilienceExecutor: executor})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	*closers = append(*closers, queue.Close)

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel, executor)
	embedder := ollama.NewEmbedder(ollamaClient, 0)
	vectors := qdrant.New(cfg.QdrantURL, cfg.QdrantCollectionPrefix, executor)

	cache, err := embeddingCache(cfg, closers)
	if err != nil {
		return nil, err
	}

	// The lexical variant reads sections straight from Postgres, so vector
	// collections are only maintained for the semantic one.
	var builder ports.IndexBuilder = lexical.NewBuilder()
	var indexEmbedder ports.Embedder
	var indexVectors ports.VectorStore
	if cfg.RetrievalMode == RetrievalSemantic {
		builder = semantic.NewBuilder(embedder, vectors, cache)
		indexEmbedder, indexVectors = embedder, vectors
	}

	policies, err := cfg.LoadPolicies()
	if err != nil {
		return nil, fmt.Errorf("load tenant policies: %w", err)
	}

	documents := usecase.NewTenantDocumentUseCase(repo, storage, queue, indexVectors, nil)
	registry := usecase.NewTenantRegistry(documents, builder, policies, opts.Metrics)
	documents.WithInvalidator(registry)

	models, err := usecase.NewModelRouter(cfg.TierLoader(), ollama.NewCatalog(ollamaClient), cfg.ModelCatalogTTL)
	if err != nil {
		return nil, fmt.Errorf("init model router: %w", err)
	}

	answers := usecase.NewAnswerUseCase(
		documents,
		registry,
		usecase.NewExtractionEngine(),
		models,
		ollama.NewGenerator(ollamaClient),
		opts.Metrics,
	)

	processor := usecase.NewProcessTenantUseCase(
		repo,
		extractor.New(storage),
		sectioning.NewSplitter(),
		indexEmbedder,
		indexVectors,
		queue,
	)

	slog.Info("bootstrap_ready",
		"retrieval_mode", cfg.RetrievalMode,
		"embedding_cache", cache != nil,
		"tier_config", cfg.LLMConfigPath,
	)

	return &App{
		Config:    cfg,
		Queue:     queue,
		Documents: documents,
		Registry:  registry,
		Models:    models,
		Answers:   answers,
		Sections:  usecase.NewSectionLookupUseCase(documents, registry),
		Processor: processor,
	}, nil
}

func embeddingCache(cfg config.Config, closers *[]func()) (ports.EmbeddingCache, error) {
	if cfg.RedisAddr == "" || cfg.RetrievalMode != RetrievalSemantic {
		return nil, nil
	}
	client, err := redis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	*closers = append(*closers, func() {
		if err := client.Close(); err != nil {
			slog.Warn("redis_close_failed", "error", err)
		}
	})
	return redis.NewEmbeddingCache(client, cfg.EmbedCacheTTL), nil
}

// ShutdownTimeout bounds graceful shutdown of the binaries.
const ShutdownTimeout = 10 * time.Second

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
