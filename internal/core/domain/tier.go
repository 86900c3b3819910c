package domain

type Tier string

const (
	TierFast      Tier = "fast"
	TierStandard  Tier = "standard"
	TierReasoning Tier = "reasoning"
)

var Tiers = []Tier{TierFast, TierStandard, TierReasoning}

type ModelTierConfig struct {
	Name            Tier    `json:"name"`
	ModelID         string  `json:"model"`
	FallbackModelID string  `json:"fallback"`
	MaxTokens       int     `json:"max_tokens"`
	Temperature     float64 `json:"temperature"`
	TimeoutSeconds  int     `json:"timeout"`
	Description     string  `json:"description,omitempty"`
}

// GenerationRequest is what the orchestrator hands to a generation backend.
type GenerationRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	Stop        []string
}
