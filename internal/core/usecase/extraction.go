package usecase

import (
	"log/slog"
	"strings"

	"github.com/kirillkom/tenant-rag/internal/core/text"
)

// Matcher answers a query from section text without calling a model.
// It returns false when it does not apply.
type Matcher func(query, sectionText string) (string, bool)

type ExtractionTier struct {
	Name     string
	Matchers []Matcher
}

type Extraction struct {
	Tier string
	Text string
}

type ExtractionEngine struct {
	tiers []ExtractionTier
}

func NewExtractionEngine(tiers ...ExtractionTier) *ExtractionEngine {
	if len(tiers) == 0 {
		tiers = DefaultExtractionTiers()
	}
	return &ExtractionEngine{tiers: tiers}
}

func DefaultExtractionTiers() []ExtractionTier {
	return []ExtractionTier{
		{Name: "fact", Matchers: factMatchers()},
		{Name: "list", Matchers: listMatchers()},
		{Name: "contextual", Matchers: contextualMatchers()},
	}
}

// Extract runs the tiers in order over the section text. A result that is
// empty, repeats the whole section or covers half of it or more is a miss.
func (e *ExtractionEngine) Extract(query, sectionText string) (Extraction, bool) {
	if strings.TrimSpace(query) == "" || strings.TrimSpace(sectionText) == "" {
		return Extraction{}, false
	}
	for _, tier := range e.tiers {
		for _, match := range tier.Matchers {
			out, ok := runMatcher(tier.Name, match, query, sectionText)
			if !ok || !acceptableExtraction(out, sectionText) {
				continue
			}
			return Extraction{Tier: tier.Name, Text: out}, true
		}
	}
	return Extraction{}, false
}

func runMatcher(tier string, match Matcher, query, sectionText string) (out string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("extraction_matcher_panic", "tier", tier, "panic", r)
			out, ok = "", false
		}
	}()
	out, ok = match(query, sectionText)
	return strings.TrimSpace(out), ok
}

func acceptableExtraction(extracted, sectionText string) bool {
	extracted = strings.TrimSpace(extracted)
	section := strings.TrimSpace(sectionText)
	if extracted == "" || extracted == section {
		return false
	}
	return float64(text.RuneLen(extracted)) < 0.5*float64(text.RuneLen(section))
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
