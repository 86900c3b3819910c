package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/core/ports"
)

// TenantEngine is the per-tenant state the answer pipeline runs against.
type TenantEngine struct {
	TenantID string
	Index    ports.RetrievalIndex
	Policy   domain.TenantPolicy
	Shaper   *AnswerShaper
	BuiltAt  time.Time
}

// TenantRegistry builds tenant engines lazily and at most once per tenant
// at a time; concurrent first requests share a single construction.
type TenantRegistry struct {
	store    ports.DocumentStore
	builder  ports.IndexBuilder
	policies ports.TenantPolicies
	metrics  ports.ResolutionMetrics

	flight singleflight.Group

	mu       sync.RWMutex
	engines  map[string]*TenantEngine
	versions map[string]uint64
}

func NewTenantRegistry(
	store ports.DocumentStore,
	builder ports.IndexBuilder,
	policies ports.TenantPolicies,
	metrics ports.ResolutionMetrics,
) *TenantRegistry {
	if metrics == nil {
		metrics = noopResolutionMetrics{}
	}
	return &TenantRegistry{
		store:    store,
		builder:  builder,
		policies: policies,
		metrics:  metrics,
		engines:  make(map[string]*TenantEngine),
		versions: make(map[string]uint64),
	}
}

func (r *TenantRegistry) Get(ctx context.Context, tenantID string) (*TenantEngine, error) {
	r.mu.RLock()
	engine, ok := r.engines[tenantID]
	r.mu.RUnlock()
	if ok {
		return engine, nil
	}

	v, err, _ := r.flight.Do(tenantID, func() (interface{}, error) {
		r.mu.RLock()
		if cached, ok := r.engines[tenantID]; ok {
			r.mu.RUnlock()
			return cached, nil
		}
		version := r.versions[tenantID]
		r.mu.RUnlock()

		built, err := r.build(context.WithoutCancel(ctx), tenantID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.versions[tenantID] == version {
			r.engines[tenantID] = built
		}
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TenantEngine), nil
}

func (r *TenantRegistry) build(ctx context.Context, tenantID string) (*TenantEngine, error) {
	started := time.Now()
	sections, err := r.store.Sections(ctx, tenantID)
	if err != nil {
		r.metrics.RecordEngineBuild(time.Since(started), err)
		return nil, fmt.Errorf("load tenant sections: %w", err)
	}
	index, err := r.builder.Build(ctx, tenantID, sections)
	if err != nil {
		r.metrics.RecordEngineBuild(time.Since(started), err)
		return nil, fmt.Errorf("build tenant index: %w", err)
	}

	policy := domain.TenantPolicy{Register: domain.RegisterReasoning}
	if r.policies != nil {
		policy = r.policies.Policy(tenantID)
	}

	elapsed := time.Since(started)
	r.metrics.RecordEngineBuild(elapsed, nil)
	slog.Info("tenant_engine_built",
		"tenant_id", tenantID,
		"sections", len(sections),
		"duration_ms", elapsed.Milliseconds(),
	)
	return &TenantEngine{
		TenantID: tenantID,
		Index:    index,
		Policy:   policy,
		Shaper:   NewAnswerShaper(policy),
		BuiltAt:  time.Now().UTC(),
	}, nil
}

// Invalidate drops the cached engine; a build already in flight for the
// tenant completes for its waiters but is not cached.
func (r *TenantRegistry) Invalidate(tenantID string) {
	r.mu.Lock()
	delete(r.engines, tenantID)
	r.versions[tenantID]++
	r.mu.Unlock()
	r.flight.Forget(tenantID)
	slog.Info("tenant_engine_invalidated", "tenant_id", tenantID)
}

func (r *TenantRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}

type noopResolutionMetrics struct{}

func (noopResolutionMetrics) RecordAnswer(domain.Mode, float64) {}
func (noopResolutionMetrics) RecordRoute(domain.Tier, domain.Tier, string) {}
func (noopResolutionMetrics) RecordGenerationFallback(string) {}
func (noopResolutionMetrics) RecordCopyPaste() {}
func (noopResolutionMetrics) RecordEngineBuild(time.Duration, error) {}
