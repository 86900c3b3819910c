package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

// Policies resolves tenant answer shaping from the env lists, with
// per-tenant entries from TENANT_POLICIES_PATH taking precedence.
type Policies struct {
	support   map[string]struct{}
	hidden    map[string]struct{}
	blacklist []string
	overrides map[string]domain.TenantPolicy
}

type policyFile struct {
	Tenants map[string]domain.TenantPolicy `yaml:"tenants"`
}

func (c Config) LoadPolicies() (*Policies, error) {
	p := &Policies{
		support:   toSet(c.SupportTenants),
		hidden:    toSet(c.HiddenSourceTenants),
		blacklist: c.BlacklistTokens,
		overrides: map[string]domain.TenantPolicy{},
	}
	if c.TenantPoliciesPath == "" {
		return p, nil
	}

	raw, err := os.ReadFile(c.TenantPoliciesPath)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tenant policies: %w", err)
	}
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse tenant policies", err)
	}
	for tenant, policy := range file.Tenants {
		switch policy.Register {
		case "":
			policy.Register = domain.RegisterReasoning
		case domain.RegisterSupport, domain.RegisterReasoning:
		default:
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse tenant policies", fmt.Errorf("tenant %q: unknown register %q", tenant, policy.Register))
		}
		p.overrides[tenant] = policy
	}
	return p, nil
}

func (p *Policies) Policy(tenantID string) domain.TenantPolicy {
	policy, ok := p.overrides[tenantID]
	if !ok {
		policy = domain.TenantPolicy{Register: domain.RegisterReasoning}
		if _, support := p.support[tenantID]; support {
			policy.Register = domain.RegisterSupport
			policy.Clean = true
			policy.StripLabels = true
		}
		if _, hidden := p.hidden[tenantID]; hidden {
			policy.SuppressSources = true
		}
	}
	blacklist := slices.Clone(p.blacklist)
	for _, word := range policy.Blacklist {
		if !slices.Contains(blacklist, word) {
			blacklist = append(blacklist, word)
		}
	}
	policy.Blacklist = blacklist
	return policy
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}
