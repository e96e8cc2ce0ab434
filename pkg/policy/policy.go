// Package policy resolves the effective execution policy of a skill invocation.
//
// The orchestrator only depends on the Resolver interface. LayeredResolver is
// the bundled implementation: platform defaults per user tier, then the
// skill's declared policy, then per-user and per-session overrides.
package policy

import (
	"time"

	"github.com/gobwas/glob"

	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// Identity is who an invocation runs on behalf of
type Identity struct {
	UserID    string
	SessionID string
	UserTier  skilltypes.UserTier
}

// Resolver produces resolved policies. Both methods must be pure lookups.
type Resolver interface {
	Resolve(skill *skilltypes.SkillContract, identity Identity) skilltypes.ResolvedPolicy
	ResolveAllowedTools(skill *skilltypes.SkillContract, policy skilltypes.ResolvedPolicy) []string
}

// Layer is a partial policy. Nil fields leave the lower layer's value in place.
type Layer struct {
	TimeoutMs           *int64   `mapstructure:"timeout_ms" yaml:"timeout_ms,omitempty"`
	MaxRetries          *int     `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
	MaxCost             *float64 `mapstructure:"max_cost" yaml:"max_cost,omitempty"`
	MaxTokens           *int     `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	AllowedTools        []string `mapstructure:"allowed_tools" yaml:"allowed_tools,omitempty"`
	RequireConfirmation *bool    `mapstructure:"require_confirmation" yaml:"require_confirmation,omitempty"`
}

func (l Layer) empty() bool {
	return l.TimeoutMs == nil && l.MaxRetries == nil && l.MaxCost == nil &&
		l.MaxTokens == nil && l.AllowedTools == nil && l.RequireConfirmation == nil
}

func (l Layer) apply(p *skilltypes.ResolvedPolicy) {
	if l.TimeoutMs != nil {
		p.TimeoutMs = *l.TimeoutMs
	}
	if l.MaxRetries != nil {
		p.MaxRetries = *l.MaxRetries
	}
	if l.MaxCost != nil {
		p.MaxCost = *l.MaxCost
	}
	if l.MaxTokens != nil {
		p.MaxTokens = *l.MaxTokens
	}
	if l.AllowedTools != nil {
		p.AllowedTools = append([]string{}, l.AllowedTools...)
	}
	if l.RequireConfirmation != nil {
		p.RequireConfirmation = *l.RequireConfirmation
	}
}

// Config holds the per-tier defaults and identity overrides
type Config struct {
	Defaults map[string]Layer `mapstructure:"defaults"`
	Users    map[string]Layer `mapstructure:"users"`
	Sessions map[string]Layer `mapstructure:"sessions"`
}

// PlatformDefaults are the built-in policies per user tier
var PlatformDefaults = map[skilltypes.UserTier]skilltypes.ResolvedPolicy{
	skilltypes.TierFree: {
		TimeoutMs:  30_000,
		MaxRetries: 0,
		MaxCost:    0.05,
		MaxTokens:  2_048,
	},
	skilltypes.TierPro: {
		TimeoutMs:  60_000,
		MaxRetries: 1,
		MaxCost:    0.5,
		MaxTokens:  8_192,
	},
	skilltypes.TierEnterprise: {
		TimeoutMs:  120_000,
		MaxRetries: 2,
		MaxCost:    5,
		MaxTokens:  32_768,
	},
}

// LayeredResolver is the default Resolver
type LayeredResolver struct {
	config Config
	now    func() time.Time
}

// Option configures a LayeredResolver
type Option func(*LayeredResolver)

// WithClock replaces the clock used for ResolvedAt
func WithClock(now func() time.Time) Option {
	return func(r *LayeredResolver) {
		r.now = now
	}
}

// NewLayeredResolver creates a resolver over cfg
func NewLayeredResolver(cfg Config, opts ...Option) *LayeredResolver {
	r := &LayeredResolver{
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve layers platform default, skill policy, user and session overrides.
// Source names the highest layer that contributed a value.
func (r *LayeredResolver) Resolve(skill *skilltypes.SkillContract, identity Identity) skilltypes.ResolvedPolicy {
	tier, ok := skilltypes.ParseUserTier(string(identity.UserTier))
	if !ok {
		tier = skilltypes.TierFree
	}

	p := PlatformDefaults[tier].Clone()
	if layer, ok := r.config.Defaults[string(tier)]; ok {
		layer.apply(&p)
	}
	p.Source = skilltypes.PolicySourcePlatform

	if skill != nil && skill.ExecutionPolicy != nil {
		if layer := skillLayer(skill.ExecutionPolicy); !layer.empty() {
			layer.apply(&p)
			p.Source = skilltypes.PolicySourceSkill
		}
	}
	if identity.UserID != "" {
		if layer, ok := r.config.Users[identity.UserID]; ok && !layer.empty() {
			layer.apply(&p)
			p.Source = skilltypes.PolicySourceUser
		}
	}
	if identity.SessionID != "" {
		if layer, ok := r.config.Sessions[identity.SessionID]; ok && !layer.empty() {
			layer.apply(&p)
			p.Source = skilltypes.PolicySourceSession
		}
	}

	if p.AllowedTools == nil {
		p.AllowedTools = []string{}
	}
	p.ResolvedAt = r.now()
	return p
}

// skillLayer treats zero values of a declared policy as unset, except that a
// declared confirmation requirement always applies
func skillLayer(ep *skilltypes.ExecutionPolicy) Layer {
	var l Layer
	if ep.TimeoutMs > 0 {
		l.TimeoutMs = &ep.TimeoutMs
	}
	if ep.MaxRetries > 0 {
		l.MaxRetries = &ep.MaxRetries
	}
	if ep.MaxCost > 0 {
		l.MaxCost = &ep.MaxCost
	}
	if ep.MaxTokens > 0 {
		l.MaxTokens = &ep.MaxTokens
	}
	if len(ep.AllowedTools) > 0 {
		l.AllowedTools = ep.AllowedTools
	}
	if ep.RequireConfirmation {
		l.RequireConfirmation = &ep.RequireConfirmation
	}
	return l
}

// ResolveAllowedTools returns the skill's declared tools that pass the policy
// allow-list, in declaration order. Allow-list entries are glob patterns; an
// empty allow-list admits every declared tool.
func (r *LayeredResolver) ResolveAllowedTools(skill *skilltypes.SkillContract, policy skilltypes.ResolvedPolicy) []string {
	allowed := []string{}
	if skill == nil {
		return allowed
	}

	matchers := compilePatterns(policy.AllowedTools)
	seen := make(map[string]bool)
	for _, name := range skill.RequiredToolNames() {
		if seen[name] {
			continue
		}
		seen[name] = true
		if len(policy.AllowedTools) == 0 || matchesAny(matchers, name) {
			allowed = append(allowed, name)
		}
	}
	return allowed
}

func compilePatterns(patterns []string) []glob.Glob {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			continue
		}
		globs = append(globs, g)
	}
	return globs
}

func matchesAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
