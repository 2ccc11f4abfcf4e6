package resilience

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// PolicyFileName is the per-project guard override file.
const PolicyFileName = ".taskmill-policy.yaml"

// ScopePolicy overrides individual guard settings for one scope. Zero
// fields leave the base config untouched.
type ScopePolicy struct {
	Timeout           time.Duration
	MaxAttempts       int
	RequestsPerMinute int
	TokensPerMinute   int
	FailureThreshold  int
	RecoveryTimeout   time.Duration
}

// Policy maps scopes to their guard overrides.
type Policy struct {
	Scopes map[string]ScopePolicy
}

// scopePolicyYAML is the file form of ScopePolicy; durations are strings
// like "90s" parsed with time.ParseDuration.
type scopePolicyYAML struct {
	Timeout           string `yaml:"timeout"`
	MaxAttempts       int    `yaml:"max_attempts"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	TokensPerMinute   int    `yaml:"tokens_per_minute"`
	FailureThreshold  int    `yaml:"failure_threshold"`
	RecoveryTimeout   string `yaml:"recovery_timeout"`
}

type policyYAML struct {
	Scopes map[string]scopePolicyYAML `yaml:"scopes"`
}

// LoadPolicy reads the policy file from dir. A missing file yields the
// zero policy; a malformed file or duration is an error.
func LoadPolicy(dir string) (*Policy, error) {
	path := filepath.Join(dir, PolicyFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Policy{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw policyYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	policy := &Policy{Scopes: make(map[string]ScopePolicy, len(raw.Scopes))}
	for scope, sp := range raw.Scopes {
		parsed := ScopePolicy{
			MaxAttempts:       sp.MaxAttempts,
			RequestsPerMinute: sp.RequestsPerMinute,
			TokensPerMinute:   sp.TokensPerMinute,
			FailureThreshold:  sp.FailureThreshold,
		}
		if sp.Timeout != "" {
			d, err := time.ParseDuration(sp.Timeout)
			if err != nil {
				return nil, fmt.Errorf("scope %s: invalid timeout %q: %w", scope, sp.Timeout, err)
			}
			parsed.Timeout = d
		}
		if sp.RecoveryTimeout != "" {
			d, err := time.ParseDuration(sp.RecoveryTimeout)
			if err != nil {
				return nil, fmt.Errorf("scope %s: invalid recovery_timeout %q: %w", scope, sp.RecoveryTimeout, err)
			}
			parsed.RecoveryTimeout = d
		}
		policy.Scopes[scope] = parsed
	}
	return policy, nil
}

// GuardFor overlays the scope's overrides onto the base config. Unknown
// scopes return the base unchanged.
func (p *Policy) GuardFor(scope string, base GuardConfig) GuardConfig {
	if p == nil || p.Scopes == nil {
		return base
	}
	sp, ok := p.Scopes[scope]
	if !ok {
		return base
	}

	if sp.Timeout > 0 {
		base.Timeout = sp.Timeout
	}
	if sp.MaxAttempts > 0 {
		base.Retry.MaxAttempts = sp.MaxAttempts
	}
	if sp.RequestsPerMinute > 0 {
		base.RequestsPerMinute = sp.RequestsPerMinute
	}
	if sp.TokensPerMinute > 0 {
		base.TokensPerMinute = sp.TokensPerMinute
	}
	if sp.FailureThreshold > 0 {
		base.FailureThreshold = sp.FailureThreshold
	}
	if sp.RecoveryTimeout > 0 {
		base.RecoveryTimeout = sp.RecoveryTimeout
	}
	return base
}
