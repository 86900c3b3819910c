package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

type catalogFake struct {
	models []string
	err    error
	calls  int
}

func (f *catalogFake) AvailableModels(context.Context) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.models, nil
}

func testTiers() map[domain.Tier]domain.ModelTierConfig {
	return map[domain.Tier]domain.ModelTierConfig{
		domain.TierFast:      {ModelID: "qwen2.5:3b", FallbackModelID: "llama3.2:1b", MaxTokens: 150, Temperature: 0.1, TimeoutSeconds: 10},
		domain.TierStandard:  {ModelID: "qwen2.5:7b", FallbackModelID: "llama3.2:1b", MaxTokens: 400, Temperature: 0.2, TimeoutSeconds: 30},
		domain.TierReasoning: {ModelID: "qwen2.5:32b", FallbackModelID: "qwen2.5:7b", MaxTokens: 600, Temperature: 0.3, TimeoutSeconds: 60},
	}
}

func staticTiers(tiers map[domain.Tier]domain.ModelTierConfig) TierLoader {
	return func() (map[domain.Tier]domain.ModelTierConfig, error) { return tiers, nil }
}

func TestTierForComplexityBoundaries(t *testing.T) {
	tests := []struct {
		complexity float64
		want       domain.Tier
	}{
		{0, domain.TierFast},
		{0.25, domain.TierFast},
		{0.3, domain.TierStandard},
		{0.5, domain.TierStandard},
		{0.7, domain.TierReasoning},
		{0.85, domain.TierReasoning},
		{1, domain.TierReasoning},
	}
	for _, tc := range tests {
		if got := TierForComplexity(tc.complexity); got != tc.want {
			t.Fatalf("TierForComplexity(%v) = %s, want %s", tc.complexity, got, tc.want)
		}
	}
}

func TestComplexityScoreSignals(t *testing.T) {
	longContext := strings.Repeat("x", 600)
	hits := []domain.Hit{
		{Section: domain.Section{Text: longContext}},
		{Section: domain.Section{Text: longContext}},
		{Section: domain.Section{Text: longContext}},
		{Section: domain.Section{Text: longContext}},
	}

	tests := []struct {
		name  string
		query string
		hits  []domain.Hit
		rsq   float64
		want  float64
	}{
		{name: "short confident", query: "Öffnungszeiten?", rsq: 0.9, want: 0},
		{name: "low confidence", query: "Öffnungszeiten?", rsq: 0.1, want: 0.2},
		{name: "medium confidence", query: "Öffnungszeiten?", rsq: 0.4, want: 0.1},
		{name: "reasoning keyword", query: "Warum ist das so?", rsq: 0.9, want: 0.3},
		{name: "english reasoning", query: "How does billing work", rsq: 0.9, want: 0.3},
		{name: "compound", query: "Preise und Zeiten", rsq: 0.9, want: 0.1},
		{name: "medium query", query: "eins zwei drei vier fünf sechs sieben acht neun", rsq: 0.9, want: 0.1},
		{name: "context", query: "Preise", hits: hits, rsq: 0.9, want: 0.4},
		{name: "capped", query: "Warum und wieso ist das eine sehr lange Frage mit vielen Wörtern die länger ist als fünfzehn", hits: hits, rsq: 0.1, want: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComplexityScore(tc.query, tc.hits, tc.rsq); got != tc.want {
				t.Fatalf("ComplexityScore() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRouteFallsBackToStandardThenFast(t *testing.T) {
	catalog := &catalogFake{models: []string{"qwen2.5:3b", "qwen2.5:7b"}}
	router, err := NewModelRouter(staticTiers(testTiers()), catalog, time.Minute)
	if err != nil {
		t.Fatalf("NewModelRouter() error = %v", err)
	}

	decision, err := router.Route(context.Background(), "Warum ist das so?", nil, 0.1)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if decision.Requested != domain.TierStandard && decision.Requested != domain.TierReasoning {
		t.Fatalf("unexpected requested tier %s", decision.Requested)
	}

	catalog.models = []string{"qwen2.5:3b"}
	router.mu.Lock()
	router.checkedAt = time.Time{}
	router.mu.Unlock()

	decision, err = router.Route(context.Background(), "Warum und wieso ist das eine sehr lange Frage mit vielen Wörtern die länger ist als fünfzehn", nil, 0.1)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if decision.Requested != domain.TierReasoning {
		t.Fatalf("expected reasoning requested, got %s", decision.Requested)
	}
	if decision.Tier != domain.TierFast || decision.Config.ModelID != "qwen2.5:3b" {
		t.Fatalf("expected fast fallback, got %+v", decision)
	}
}

func TestRouteReturnsNoModelAvailable(t *testing.T) {
	router, err := NewModelRouter(staticTiers(testTiers()), &catalogFake{models: []string{"mistral:7b"}}, time.Minute)
	if err != nil {
		t.Fatalf("NewModelRouter() error = %v", err)
	}
	_, err = router.Route(context.Background(), "q", nil, 0.9)
	if !domain.IsKind(err, domain.ErrNoModelAvailable) {
		t.Fatalf("expected ErrNoModelAvailable, got %v", err)
	}
}

func TestRouteTreatsUnreachableCatalogAsAvailable(t *testing.T) {
	router, err := NewModelRouter(staticTiers(testTiers()), &catalogFake{err: errors.New("down")}, time.Minute)
	if err != nil {
		t.Fatalf("NewModelRouter() error = %v", err)
	}
	decision, err := router.Route(context.Background(), "Preise", nil, 0.9)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if decision.Tier != domain.TierFast {
		t.Fatalf("expected fast tier, got %s", decision.Tier)
	}
}

func TestRouteCachesCatalogWithinTTL(t *testing.T) {
	catalog := &catalogFake{models: []string{"qwen2.5:3b"}}
	router, err := NewModelRouter(staticTiers(testTiers()), catalog, time.Hour)
	if err != nil {
		t.Fatalf("NewModelRouter() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := router.Route(context.Background(), "Preise", nil, 0.9); err != nil {
			t.Fatalf("Route() error = %v", err)
		}
	}
	if catalog.calls != 1 {
		t.Fatalf("expected one catalog call, got %d", catalog.calls)
	}
}

func TestReloadSwapsTierTable(t *testing.T) {
	tiers := testTiers()
	current := tiers
	router, err := NewModelRouter(func() (map[domain.Tier]domain.ModelTierConfig, error) { return current, nil }, nil, 0)
	if err != nil {
		t.Fatalf("NewModelRouter() error = %v", err)
	}

	next := testTiers()
	fast := next[domain.TierFast]
	fast.ModelID = "phi3:mini"
	next[domain.TierFast] = fast
	current = next

	if err := router.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	cfg, ok := router.TierConfig(domain.TierFast)
	if !ok || cfg.ModelID != "phi3:mini" || cfg.Name != domain.TierFast {
		t.Fatalf("expected reloaded fast tier, got %+v", cfg)
	}
	if got := len(router.Tiers()); got != 3 {
		t.Fatalf("expected 3 tiers, got %d", got)
	}
}

func TestReloadRejectsEmptyTable(t *testing.T) {
	_, err := NewModelRouter(staticTiers(nil), nil, 0)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestDefaultTimeoutForModel(t *testing.T) {
	tests := map[string]time.Duration{
		"mixtral:8x22b": 300 * time.Second,
		"qwen2.5:72b":   300 * time.Second,
		"qwen2.5:32b":   180 * time.Second,
		"qwen2.5:7b":    90 * time.Second,
		"qwen2.5:3b":    60 * time.Second,
		"llama3.2:1b":   60 * time.Second,
	}
	for model, want := range tests {
		if got := DefaultTimeoutForModel(model); got != want {
			t.Fatalf("DefaultTimeoutForModel(%s) = %v, want %v", model, got, want)
		}
	}
}
