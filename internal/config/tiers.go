package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

type tierFile struct {
	Tiers map[domain.Tier]tierEntry `yaml:"tiers"`
}

// tierEntry keeps temperature as a pointer so an explicit 0 survives the
// merge with defaults.
type tierEntry struct {
	Model          string   `yaml:"model"`
	Fallback       string   `yaml:"fallback"`
	MaxTokens      int      `yaml:"max_tokens"`
	Temperature    *float64 `yaml:"temperature"`
	TimeoutSeconds int      `yaml:"timeout"`
	Description    string   `yaml:"description"`
}

// DefaultTiers builds the tier table from the LLM_MODEL* settings.
func (c Config) DefaultTiers() map[domain.Tier]domain.ModelTierConfig {
	return map[domain.Tier]domain.ModelTierConfig{
		domain.TierFast: {
			Name:            domain.TierFast,
			ModelID:         c.LLMModelFast,
			FallbackModelID: c.LLMFallbackModel,
			MaxTokens:       150,
			Temperature:     0.1,
			TimeoutSeconds:  10,
			Description:     "Kurze Faktenfragen",
		},
		domain.TierStandard: {
			Name:            domain.TierStandard,
			ModelID:         c.LLMModel,
			FallbackModelID: c.LLMFallbackModel,
			MaxTokens:       400,
			Temperature:     0.2,
			TimeoutSeconds:  30,
			Description:     "Standardfragen mit Kontext",
		},
		domain.TierReasoning: {
			Name:            domain.TierReasoning,
			ModelID:         c.LLMModelReasoning,
			FallbackModelID: c.LLMModel,
			MaxTokens:       600,
			Temperature:     0.3,
			TimeoutSeconds:  60,
			Description:     "Komplexe Analyse und Vergleiche",
		},
	}
}

// TierLoader returns a loader that re-reads LLM_CONFIG_PATH on every call.
func (c Config) TierLoader() func() (map[domain.Tier]domain.ModelTierConfig, error) {
	return func() (map[domain.Tier]domain.ModelTierConfig, error) {
		return LoadTiers(c.LLMConfigPath, c.DefaultTiers())
	}
}

// LoadTiers reads a YAML tier table and fills missing tiers and zero fields
// from defaults. An empty path or a missing file yields the defaults.
func LoadTiers(path string, defaults map[domain.Tier]domain.ModelTierConfig) (map[domain.Tier]domain.ModelTierConfig, error) {
	out := make(map[domain.Tier]domain.ModelTierConfig, len(defaults))
	for tier, cfg := range defaults {
		out[tier] = cfg
	}
	if path == "" {
		return out, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("tier_config_missing", "path", path)
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tier config: %w", err)
	}

	var file tierFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse tier config", err)
	}
	for tier, entry := range file.Tiers {
		if !knownTier(tier) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse tier config", fmt.Errorf("unknown tier %q", tier))
		}
		if entry.Temperature != nil && *entry.Temperature < 0 {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse tier config", fmt.Errorf("tier %q has negative temperature", tier))
		}
		out[tier] = mergeTier(tier, entry, defaults[tier])
	}
	return out, nil
}

func mergeTier(tier domain.Tier, entry tierEntry, base domain.ModelTierConfig) domain.ModelTierConfig {
	cfg := base
	cfg.Name = tier
	if entry.Model != "" {
		cfg.ModelID = entry.Model
	}
	if entry.Fallback != "" {
		cfg.FallbackModelID = entry.Fallback
	}
	if entry.MaxTokens > 0 {
		cfg.MaxTokens = entry.MaxTokens
	}
	if entry.Temperature != nil {
		cfg.Temperature = *entry.Temperature
	}
	if entry.TimeoutSeconds > 0 {
		cfg.TimeoutSeconds = entry.TimeoutSeconds
	}
	if entry.Description != "" {
		cfg.Description = entry.Description
	}
	return cfg
}

func knownTier(tier domain.Tier) bool {
	for _, t := range domain.Tiers {
		if t == tier {
			return true
		}
	}
	return false
}
