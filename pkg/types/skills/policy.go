package skills

import (
	"strings"
	"time"
)

// UserTier is the billing tier of the calling user
type UserTier string

// User tiers
const (
	TierFree       UserTier = "free"
	TierPro        UserTier = "pro"
	TierEnterprise UserTier = "enterprise"
)

// ParseUserTier parses a tier name. An empty name is free.
func ParseUserTier(s string) (UserTier, bool) {
	switch UserTier(strings.ToLower(strings.TrimSpace(s))) {
	case "", TierFree:
		return TierFree, true
	case TierPro:
		return TierPro, true
	case TierEnterprise:
		return TierEnterprise, true
	default:
		return "", false
	}
}

// PolicySource tags which layer produced a resolved policy
type PolicySource string

// Policy layers
const (
	PolicySourceSkill    PolicySource = "skill"
	PolicySourceUser     PolicySource = "user"
	PolicySourceSession  PolicySource = "session"
	PolicySourcePlatform PolicySource = "platform-default"
)

// ResolvedPolicy is the effective execution policy for one invocation
type ResolvedPolicy struct {
	TimeoutMs           int64        `json:"timeoutMs"`
	MaxRetries          int          `json:"maxRetries"`
	MaxCost             float64      `json:"maxCost"`
	MaxTokens           int          `json:"maxTokens"`
	AllowedTools        []string     `json:"allowedTools"`
	RequireConfirmation bool         `json:"requireConfirmation"`
	ResolvedAt          time.Time    `json:"resolvedAt"`
	Source              PolicySource `json:"source"`
}

// Timeout returns the policy timeout as a duration, zero meaning unbounded
func (p ResolvedPolicy) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// Clone returns a copy of the policy that shares no slices with p
func (p ResolvedPolicy) Clone() ResolvedPolicy {
	p.AllowedTools = cloneStrings(p.AllowedTools)
	return p
}
