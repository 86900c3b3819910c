package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/core/ports"
	"github.com/kirillkom/tenant-rag/internal/core/text"
)

const (
	fastTierCeiling     = 0.3
	standardTierCeiling = 0.7
)

var (
	reasoningWords  = map[string]struct{}{"warum": {}, "weshalb": {}, "wieso": {}, "why": {}, "how": {}}
	reasoningStems  = []string{"wie funktioniert", "erkläre", "analysiere", "vergleiche", "unterschied", "zusammenhang", "begründ", "schlussfolger", "explain", "compar", "analy", "differen", "relationship"}
	compoundMarkers = []string{" and ", " or ", " und ", " oder ", " sowie "}
)

// TierLoader returns the current tier table; it is called on construction and reload.
type TierLoader func() (map[domain.Tier]domain.ModelTierConfig, error)

type RouteDecision struct {
	Requested  domain.Tier
	Tier       domain.Tier
	Config     domain.ModelTierConfig
	Complexity float64
}

type ModelRouter struct {
	loader     TierLoader
	catalog    ports.ModelCatalog
	catalogTTL time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	tiers     map[domain.Tier]domain.ModelTierConfig
	installed map[string]struct{}
	checkedAt time.Time
}

func NewModelRouter(loader TierLoader, catalog ports.ModelCatalog, catalogTTL time.Duration) (*ModelRouter, error) {
	if loader == nil {
		return nil, fmt.Errorf("model router: tier loader is nil")
	}
	if catalogTTL <= 0 {
		catalogTTL = 30 * time.Second
	}
	r := &ModelRouter{
		loader:     loader,
		catalog:    catalog,
		catalogTTL: catalogTTL,
		now:        time.Now,
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// ComplexityScore sums weighted query and context signals, capped at 1.
func ComplexityScore(query string, hits []domain.Hit, rsq float64) float64 {
	score := 0.0
	lower := strings.ToLower(query)

	switch words := len(strings.Fields(query)); {
	case words > 15:
		score += 0.2
	case words > 8:
		score += 0.1
	}

	if hasReasoningCue(lower) {
		score += 0.3
	}

	switch n := len(hits); {
	case n > 3:
		score += 0.2
	case n > 1:
		score += 0.1
	}

	contextLen := 0
	for _, h := range hits {
		contextLen += text.RuneLen(h.Section.Text)
	}
	switch {
	case contextLen > 2000:
		score += 0.2
	case contextLen > 1000:
		score += 0.1
	}

	switch {
	case rsq < 0.3:
		score += 0.2
	case rsq < 0.5:
		score += 0.1
	}

	if containsAny(" "+lower+" ", compoundMarkers...) {
		score += 0.1
	}

	return math.Min(math.Round(score*100)/100, 1.0)
}

func TierForComplexity(complexity float64) domain.Tier {
	switch {
	case complexity < fastTierCeiling:
		return domain.TierFast
	case complexity < standardTierCeiling:
		return domain.TierStandard
	default:
		return domain.TierReasoning
	}
}

func hasReasoningCue(lower string) bool {
	for _, token := range text.Tokenize(lower) {
		if _, ok := reasoningWords[token]; ok {
			return true
		}
	}
	return containsAny(lower, reasoningStems...)
}

// Route picks the tier for the query and resolves it against installed
// models, stepping down to standard and then fast.
func (r *ModelRouter) Route(ctx context.Context, query string, hits []domain.Hit, rsq float64) (RouteDecision, error) {
	complexity := ComplexityScore(query, hits, rsq)
	requested := TierForComplexity(complexity)

	r.refreshInstalled(ctx)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tier := range []domain.Tier{requested, domain.TierStandard, domain.TierFast} {
		cfg, ok := r.tiers[tier]
		if !ok || !r.isInstalledLocked(cfg.ModelID) {
			continue
		}
		if tier != requested {
			slog.Warn("model_tier_unavailable", "requested", requested, "selected", tier)
		}
		return RouteDecision{Requested: requested, Tier: tier, Config: cfg, Complexity: complexity}, nil
	}
	return RouteDecision{Requested: requested, Complexity: complexity},
		domain.WrapError(domain.ErrNoModelAvailable, "route model", fmt.Errorf("tier %s and its fallbacks are unavailable", requested))
}

// Reload re-reads the tier table and swaps it in atomically.
func (r *ModelRouter) Reload() error {
	tiers, err := r.loader()
	if err != nil {
		return fmt.Errorf("load model tiers: %w", err)
	}
	if len(tiers) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "load model tiers", errors.New("empty tier table"))
	}
	next := make(map[domain.Tier]domain.ModelTierConfig, len(tiers))
	for tier, cfg := range tiers {
		cfg.Name = tier
		next[tier] = cfg
	}

	r.mu.Lock()
	r.tiers = next
	r.checkedAt = time.Time{}
	r.mu.Unlock()
	return nil
}

func (r *ModelRouter) Tiers() []domain.ModelTierConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ModelTierConfig, 0, len(r.tiers))
	for _, tier := range domain.Tiers {
		if cfg, ok := r.tiers[tier]; ok {
			out = append(out, cfg)
		}
	}
	return out
}

// TierConfig returns the configuration for a tier, if present.
func (r *ModelRouter) TierConfig(tier domain.Tier) (domain.ModelTierConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.tiers[tier]
	return cfg, ok
}

func (r *ModelRouter) InstalledModels(ctx context.Context) ([]string, error) {
	if r.catalog == nil {
		return nil, nil
	}
	models, err := r.catalog.AvailableModels(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(models)
	return models, nil
}

func (r *ModelRouter) refreshInstalled(ctx context.Context) {
	if r.catalog == nil {
		return
	}
	r.mu.RLock()
	fresh := !r.checkedAt.IsZero() && r.now().Sub(r.checkedAt) < r.catalogTTL
	r.mu.RUnlock()
	if fresh {
		return
	}

	models, err := r.catalog.AvailableModels(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkedAt = r.now()
	if err != nil {
		// Unknown catalog: let generation try and fail over on its own.
		slog.Warn("model_catalog_unavailable", "error", err)
		r.installed = nil
		return
	}
	installed := make(map[string]struct{}, len(models))
	for _, m := range models {
		installed[canonicalModelName(m)] = struct{}{}
	}
	r.installed = installed
}

func (r *ModelRouter) isInstalledLocked(model string) bool {
	if strings.TrimSpace(model) == "" {
		return false
	}
	if r.installed == nil {
		return true
	}
	_, ok := r.installed[canonicalModelName(model)]
	return ok
}

func canonicalModelName(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if model != "" && !strings.Contains(model, ":") {
		model += ":latest"
	}
	return model
}

// DefaultTimeoutForModel maps a model name to its expected generation budget.
func DefaultTimeoutForModel(model string) time.Duration {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "8x22b"), strings.Contains(m, "72b"):
		return 300 * time.Second
	case strings.Contains(m, "32b"):
		return 180 * time.Second
	case strings.Contains(m, "7b"), strings.Contains(m, "8b"):
		return 90 * time.Second
	case strings.Contains(m, "3b"):
		return 60 * time.Second
	default:
		return 60 * time.Second
	}
}
