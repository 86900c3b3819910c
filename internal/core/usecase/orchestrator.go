package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/core/ports"
	"github.com/kirillkom/tenant-rag/internal/core/text"
)

const (
	defaultTopK            = 3
	maxSearchTopK          = 5
	lowRelevanceThreshold  = 0.05
	retrievalPreviewRunes  = 300
	minFallbackTimeout     = 60 * time.Second
	fallbackTimeoutPercent = 70
	greetingReply          = "Hallo! Womit kann ich Ihnen helfen?"
	noContextReply         = "Dazu habe ich keine Informationen gefunden. Können Sie die Frage anders formulieren? Oder sagen Sie mir, wobei ich Ihnen helfen kann."
	lowRelevanceReply      = "Dazu habe ich leider keine Informationen. Können Sie die Frage anders formulieren? Oder sagen Sie mir, wobei ich Ihnen konkret helfen kann."
	generationFailureReply = "Die Antwort konnte gerade nicht erzeugt werden. Bitte versuchen Sie es später erneut."
)

type generationAttempt struct {
	model   string
	timeout time.Duration
}

type AnswerUseCase struct {
	store      ports.DocumentStore
	registry   *TenantRegistry
	extraction *ExtractionEngine
	router     *ModelRouter
	backend    ports.GenerationBackend
	metrics    ports.ResolutionMetrics
}

func NewAnswerUseCase(
	store ports.DocumentStore,
	registry *TenantRegistry,
	extraction *ExtractionEngine,
	router *ModelRouter,
	backend ports.GenerationBackend,
	metrics ports.ResolutionMetrics,
) *AnswerUseCase {
	if extraction == nil {
		extraction = NewExtractionEngine()
	}
	if metrics == nil {
		metrics = noopResolutionMetrics{}
	}
	return &AnswerUseCase{
		store:      store,
		registry:   registry,
		extraction: extraction,
		router:     router,
		backend:    backend,
		metrics:    metrics,
	}
}

// SearchTopK is the number of hits retrieved for a requested top-k.
func SearchTopK(topK int) int {
	if topK <= 0 {
		topK = defaultTopK
	}
	return min(topK+1, maxSearchTopK)
}

// Resolve runs greeting detection, retrieval, extraction and routed
// generation in that order. Once retrieval has produced hits, generation
// failures degrade to extracted or truncated text instead of an error.
func (uc *AnswerUseCase) Resolve(ctx context.Context, req domain.AnswerRequest) (*domain.Answer, error) {
	started := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "resolve answer", errors.New("query is required"))
	}

	if IsGreeting(query) {
		answer := &domain.Answer{Text: greetingReply, Mode: domain.ModeGreeting, Sources: []domain.Source{}}
		uc.finish(req.TenantID, answer, started)
		return answer, nil
	}

	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "resolve answer", errors.New("tenant_id is required"))
	}
	exists, err := uc.store.TenantExists(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("check tenant: %w", err)
	}
	if !exists {
		return nil, domain.WrapError(domain.ErrTenantNotFound, "resolve answer", fmt.Errorf("tenant %q has no documents", tenantID))
	}

	engine, err := uc.registry.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant engine: %w", err)
	}

	searchK := SearchTopK(req.TopK)
	hits, err := engine.Index.Search(ctx, query, searchK)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "search tenant index", err)
	}
	if len(hits) > searchK {
		hits = hits[:searchK]
	}
	rsq := engine.Index.Confidence(hits)

	if len(hits) == 0 {
		answer := &domain.Answer{Text: noContextReply, Mode: domain.ModeNoContext, Sources: []domain.Source{}, RSQ: rsq}
		uc.finish(tenantID, answer, started)
		return answer, nil
	}

	shaper := engine.Shaper
	if shaper == nil {
		shaper = NewAnswerShaper(engine.Policy)
	}
	answer := uc.answerFromHits(ctx, query, hits, rsq, shaper, req.UseGeneration)
	answer.RSQ = rsq
	answer.Topic = hits[0].Section.Title
	answer.Sources = buildSources(hits, engine.Policy)
	uc.finish(tenantID, answer, started)
	return answer, nil
}

func (uc *AnswerUseCase) answerFromHits(
	ctx context.Context,
	query string,
	hits []domain.Hit,
	rsq float64,
	shaper *AnswerShaper,
	useGeneration bool,
) *domain.Answer {
	best := hits[0].Section.Text

	if extracted, ok := uc.extraction.Extract(query, best); ok {
		return &domain.Answer{Text: uc.clean(extracted.Text, query, shaper, best), Mode: domain.ModeExtractedFast}
	}
	if !useGeneration {
		return &domain.Answer{Text: retrievalPreview(best), Mode: domain.ModeRetrieval}
	}
	if rsq < lowRelevanceThreshold {
		return &domain.Answer{Text: lowRelevanceReply, Mode: domain.ModeLowRelevance}
	}
	return uc.generate(ctx, query, hits, rsq, shaper)
}

func (uc *AnswerUseCase) generate(
	ctx context.Context,
	query string,
	hits []domain.Hit,
	rsq float64,
	shaper *AnswerShaper,
) *domain.Answer {
	best := hits[0].Section.Text

	decision, err := uc.router.Route(ctx, query, hits, rsq)
	if err != nil {
		slog.Warn("model_route_failed", "error", err)
		return uc.degrade(query, best, shaper)
	}
	uc.metrics.RecordRoute(decision.Requested, decision.Tier, decision.Config.ModelID)

	request := domain.GenerationRequest{
		System:      SystemPrompt(shaper.Policy().Register),
		Prompt:      BuildPrompt(query, hits),
		Temperature: decision.Config.Temperature,
		MaxTokens:   decision.Config.MaxTokens,
		Stop:        stopSequences(),
	}
	generated, model, err := uc.generateWithFallback(ctx, decision.Config, request)
	if err != nil {
		slog.Warn("generation_failed", "tier", decision.Tier, "error", err)
		answer := uc.degrade(query, best, shaper)
		answer.Tier = decision.Tier
		return answer
	}

	answer := &domain.Answer{Mode: domain.ModeGenerated, Tier: decision.Tier, Model: model}
	if IsCopyPaste(generated, best) {
		uc.metrics.RecordCopyPaste()
		slog.Info("copy_paste_detected", "model", model, "answer_len", text.RuneLen(generated))
		answer.Mode = domain.ModeGeneratedFallback
		if extracted, ok := uc.extraction.Extract(query, best); ok {
			generated = extracted.Text
		} else {
			generated = SentenceFallback(best)
		}
	}
	answer.Text = uc.clean(generated, query, shaper, best)
	return answer
}

// generateWithFallback tries the tier's primary model and, on any failure,
// its fallback model exactly once. A fallback naming the primary model is
// skipped. Calls are detached from the caller's
// cancellation and bounded by their own timeouts.
func (uc *AnswerUseCase) generateWithFallback(
	ctx context.Context,
	cfg domain.ModelTierConfig,
	request domain.GenerationRequest,
) (string, string, error) {
	primaryTimeout := PrimaryTimeout(cfg)
	attempts := []generationAttempt{{model: cfg.ModelID, timeout: primaryTimeout}}
	if fallback := strings.TrimSpace(cfg.FallbackModelID); fallback != "" && canonicalModelName(fallback) != canonicalModelName(cfg.ModelID) {
		attempts = append(attempts, generationAttempt{model: cfg.FallbackModelID, timeout: FallbackTimeout(primaryTimeout)})
	}

	detached := context.WithoutCancel(ctx)
	var lastErr error
	for i, attempt := range attempts {
		if i > 0 {
			reason := generationFailureReason(lastErr)
			uc.metrics.RecordGenerationFallback(reason)
			slog.Warn("generation_fallback",
				"from_model", attempts[i-1].model,
				"to_model", attempt.model,
				"reason", reason,
				"timeout_s", attempt.timeout.Seconds(),
			)
		}

		request.Model = attempt.model
		callCtx, cancel := context.WithTimeout(detached, attempt.timeout)
		out, err := uc.backend.Generate(callCtx, request)
		cancel()
		if err == nil && strings.TrimSpace(out) != "" {
			return strings.TrimSpace(out), attempt.model, nil
		}
		if err == nil {
			err = errors.New("empty generation")
		}
		lastErr = fmt.Errorf("generate with %s: %w", attempt.model, err)
	}
	return "", "", lastErr
}

// retrievalPreview cuts the section so the preview, ellipsis included, stays
// within retrievalPreviewRunes.
func retrievalPreview(section string) string {
	return text.Truncate(strings.TrimSpace(section), retrievalPreviewRunes-len("..."))
}

// degrade answers from the section text after generation could not be used.
func (uc *AnswerUseCase) degrade(query, best string, shaper *AnswerShaper) *domain.Answer {
	if extracted, ok := uc.extraction.Extract(query, best); ok {
		return &domain.Answer{Text: uc.clean(extracted.Text, query, shaper, best), Mode: domain.ModeExtractedFallback}
	}
	return &domain.Answer{Text: uc.clean(SentenceFallback(best), query, shaper, best), Mode: domain.ModeExtractedFallback}
}

// clean applies tenant shaping but never returns an empty answer.
func (uc *AnswerUseCase) clean(answer, query string, shaper *AnswerShaper, best string) string {
	cleaned := shaper.Clean(answer, query)
	if cleaned != "" {
		return cleaned
	}
	if trimmed := strings.TrimSpace(answer); trimmed != "" {
		return trimmed
	}
	if fallback := SentenceFallback(best); strings.TrimSpace(fallback) != "" {
		return fallback
	}
	return generationFailureReply
}

func (uc *AnswerUseCase) finish(tenantID string, answer *domain.Answer, started time.Time) {
	uc.metrics.RecordAnswer(answer.Mode, answer.RSQ)
	slog.Info("answer_resolved",
		"tenant_id", tenantID,
		"mode", answer.Mode,
		"rsq", answer.RSQ,
		"tier", answer.Tier,
		"model", answer.Model,
		"sources", len(answer.Sources),
		"duration_ms", time.Since(started).Milliseconds(),
	)
}

func buildSources(hits []domain.Hit, policy domain.TenantPolicy) []domain.Source {
	if policy.SuppressSources {
		return []domain.Source{}
	}
	out := make([]domain.Source, 0, len(hits))
	for _, hit := range hits {
		out = append(out, domain.Source{
			Title:    hit.Section.Title,
			Score:    math.Round(domain.ClampScore(hit.Score)*1000) / 1000,
			SourceID: hit.Section.ID,
		})
	}
	return out
}

// PrimaryTimeout is the larger of the model's expected cost and the tier budget.
func PrimaryTimeout(cfg domain.ModelTierConfig) time.Duration {
	timeout := DefaultTimeoutForModel(cfg.ModelID)
	if configured := time.Duration(cfg.TimeoutSeconds) * time.Second; configured > timeout {
		timeout = configured
	}
	return timeout
}

func FallbackTimeout(primary time.Duration) time.Duration {
	scaled := primary * fallbackTimeoutPercent / 100
	if scaled < minFallbackTimeout {
		return minFallbackTimeout
	}
	return scaled
}

func generationFailureReason(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case domain.IsKind(err, domain.ErrGenerationTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case domain.IsKind(err, domain.ErrBackendUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
