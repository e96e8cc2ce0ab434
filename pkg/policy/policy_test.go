package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

var fixedNow = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

func newResolver(cfg Config) *LayeredResolver {
	return NewLayeredResolver(cfg, WithClock(func() time.Time { return fixedNow }))
}

func ptr[T any](v T) *T { return &v }

func TestResolvePlatformDefaults(t *testing.T) {
	r := newResolver(Config{})
	skill := &skilltypes.SkillContract{CanonicalID: "s"}

	p := r.Resolve(skill, Identity{})
	assert.Equal(t, skilltypes.PolicySourcePlatform, p.Source)
	assert.Equal(t, int64(30_000), p.TimeoutMs)
	assert.Equal(t, fixedNow, p.ResolvedAt)
	assert.Equal(t, []string{}, p.AllowedTools)

	p = r.Resolve(skill, Identity{UserTier: skilltypes.TierEnterprise})
	assert.Equal(t, int64(120_000), p.TimeoutMs)
	assert.Equal(t, 2, p.MaxRetries)

	p = r.Resolve(skill, Identity{UserTier: "unknown"})
	assert.Equal(t, int64(30_000), p.TimeoutMs)
}

func TestResolveLayers(t *testing.T) {
	cfg := Config{
		Defaults: map[string]Layer{"pro": {TimeoutMs: ptr(int64(45_000))}},
		Users:    map[string]Layer{"alice": {MaxRetries: ptr(3)}},
		Sessions: map[string]Layer{"s-1": {RequireConfirmation: ptr(true), AllowedTools: []string{"web_*"}}},
	}
	r := newResolver(cfg)
	skill := &skilltypes.SkillContract{
		CanonicalID: "s",
		ExecutionPolicy: &skilltypes.ExecutionPolicy{
			MaxTokens:    1000,
			AllowedTools: []string{"fetch"},
		},
	}

	p := r.Resolve(skill, Identity{UserTier: skilltypes.TierPro})
	assert.Equal(t, skilltypes.PolicySourceSkill, p.Source)
	assert.Equal(t, int64(45_000), p.TimeoutMs)
	assert.Equal(t, 1000, p.MaxTokens)
	assert.Equal(t, []string{"fetch"}, p.AllowedTools)

	p = r.Resolve(skill, Identity{UserID: "alice", UserTier: skilltypes.TierPro})
	assert.Equal(t, skilltypes.PolicySourceUser, p.Source)
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 1000, p.MaxTokens)

	p = r.Resolve(skill, Identity{UserID: "alice", SessionID: "s-1", UserTier: skilltypes.TierPro})
	assert.Equal(t, skilltypes.PolicySourceSession, p.Source)
	assert.True(t, p.RequireConfirmation)
	assert.Equal(t, []string{"web_*"}, p.AllowedTools)
	assert.Equal(t, 3, p.MaxRetries)

	p = r.Resolve(skill, Identity{UserID: "bob", SessionID: "other"})
	assert.Equal(t, skilltypes.PolicySourceSkill, p.Source)
}

func TestResolveDoesNotShareState(t *testing.T) {
	cfg := Config{Sessions: map[string]Layer{"s": {AllowedTools: []string{"a"}}}}
	r := newResolver(cfg)
	p := r.Resolve(nil, Identity{SessionID: "s"})
	p.AllowedTools[0] = "changed"
	assert.Equal(t, "a", cfg.Sessions["s"].AllowedTools[0])
	assert.Equal(t, []string{"a"}, r.Resolve(nil, Identity{SessionID: "s"}).AllowedTools)
}

func TestResolveAllowedTools(t *testing.T) {
	r := newResolver(Config{})
	skill := &skilltypes.SkillContract{RequiredTools: []skilltypes.RequiredTool{
		{Name: "web_search"}, {Name: "web_fetch"}, {Name: "shell"}, {Name: "web_search"},
	}}

	tests := []struct {
		name    string
		allowed []string
		want    []string
	}{
		{"empty allow-list admits all", nil, []string{"web_search", "web_fetch", "shell"}},
		{"exact names", []string{"shell"}, []string{"shell"}},
		{"glob patterns", []string{"web_*"}, []string{"web_search", "web_fetch"}},
		{"nothing matches", []string{"git"}, []string{}},
		{"invalid pattern is ignored", []string{"[", "shell"}, []string{"shell"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ResolveAllowedTools(skill, skilltypes.ResolvedPolicy{AllowedTools: tt.allowed})
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, []string{}, r.ResolveAllowedTools(nil, skilltypes.ResolvedPolicy{}))
}
