// Package execctx builds the frozen per-invocation execution context that
// runtimes read but never write.
//
// A Context owns every value it holds. Collections passed to New are deep
// copied at build time and every accessor returns a fresh copy, so no holder
// of a Context, or of anything read from it, can change what another holder sees.
package execctx

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// Version is the context-shape version tag
const Version = "1"

// Params are the inputs to New
type Params struct {
	TraceID           string
	ExecutionID       string
	ParentExecutionID string
	SessionID         string
	UserID            string
	// UserTier defaults to free when empty
	UserTier       skilltypes.UserTier
	Policy         skilltypes.ResolvedPolicy
	AllowedTools   []string
	WorkspaceID    string
	WorkspaceFiles []string
	Metadata       map[string]any
}

// Context is an immutable execution context. The zero value is not valid;
// build one with New.
type Context struct {
	version           string
	traceID           string
	executionID       string
	parentExecutionID string
	sessionID         string
	userID            string
	userTier          skilltypes.UserTier
	policy            skilltypes.ResolvedPolicy
	allowedTools      []string
	workspaceID       string
	workspaceFiles    []string
	metadata          map[string]any
}

// New builds a context from p. It fails when the trace id is empty or the tier is unknown.
func New(p Params) (*Context, error) {
	if strings.TrimSpace(p.TraceID) == "" {
		return nil, errors.New("trace id is required")
	}
	tier, ok := skilltypes.ParseUserTier(string(p.UserTier))
	if !ok {
		return nil, errors.Errorf("unknown user tier %q", p.UserTier)
	}

	c := &Context{
		version:           Version,
		traceID:           p.TraceID,
		executionID:       p.ExecutionID,
		parentExecutionID: p.ParentExecutionID,
		sessionID:         p.SessionID,
		userID:            p.UserID,
		userTier:          tier,
		policy:            p.Policy.Clone(),
		allowedTools:      copyStrings(p.AllowedTools),
		workspaceID:       p.WorkspaceID,
		workspaceFiles:    copyStrings(p.WorkspaceFiles),
		metadata:          copyMetadata(p.Metadata),
	}
	return c, nil
}

// Version returns the context-shape version tag
func (c *Context) Version() string { return c.version }

// TraceID returns the trace shared by every invocation in one request
func (c *Context) TraceID() string { return c.traceID }

// ExecutionID returns the id of this invocation
func (c *Context) ExecutionID() string { return c.executionID }

// ParentExecutionID returns the id of the invocation that started this one,
// empty at the top level
func (c *Context) ParentExecutionID() string { return c.parentExecutionID }

// SessionID returns the caller's session id
func (c *Context) SessionID() string { return c.sessionID }

// UserID returns the caller's user id
func (c *Context) UserID() string { return c.userID }

// UserTier returns the tier policy was resolved for
func (c *Context) UserTier() skilltypes.UserTier { return c.userTier }

// WorkspaceID returns the workspace the invocation runs in
func (c *Context) WorkspaceID() string { return c.workspaceID }

// Policy returns a copy of the resolved policy snapshot
func (c *Context) Policy() skilltypes.ResolvedPolicy {
	return c.policy.Clone()
}

// AllowedTools returns a copy of the allowed tool list
func (c *Context) AllowedTools() []string {
	return copyStrings(c.allowedTools)
}

// ToolAllowed reports whether name is in the allowed tool list
func (c *Context) ToolAllowed(name string) bool {
	for _, t := range c.allowedTools {
		if t == name {
			return true
		}
	}
	return false
}

// WorkspaceFiles returns a copy of the workspace file list
func (c *Context) WorkspaceFiles() []string {
	return copyStrings(c.workspaceFiles)
}

// Metadata returns a deep copy of the free-form metadata
func (c *Context) Metadata() map[string]any {
	return copyMetadata(c.metadata)
}

// MetadataValue returns a deep copy of one metadata entry
func (c *Context) MetadataValue(key string) (any, bool) {
	v, ok := c.metadata[key]
	if !ok {
		return nil, false
	}
	return skilltypes.CloneValue(v), true
}

// Params returns the inputs that rebuild an identical context
func (c *Context) Params() Params {
	return Params{
		TraceID:           c.traceID,
		ExecutionID:       c.executionID,
		ParentExecutionID: c.parentExecutionID,
		SessionID:         c.sessionID,
		UserID:            c.userID,
		UserTier:          c.userTier,
		Policy:            c.Policy(),
		AllowedTools:      c.AllowedTools(),
		WorkspaceID:       c.workspaceID,
		WorkspaceFiles:    c.WorkspaceFiles(),
		Metadata:          c.Metadata(),
	}
}

// Map returns the canonical map shape of the context, as accepted by Validate
func (c *Context) Map() map[string]any {
	tools := make([]any, len(c.allowedTools))
	for i, t := range c.allowedTools {
		tools[i] = t
	}
	m := map[string]any{
		"version":  c.version,
		"traceId":  c.traceID,
		"userTier": string(c.userTier),
		"policy": map[string]any{
			"timeoutMs":           c.policy.TimeoutMs,
			"maxRetries":          c.policy.MaxRetries,
			"maxCost":             c.policy.MaxCost,
			"maxTokens":           c.policy.MaxTokens,
			"allowedTools":        copyStrings(c.policy.AllowedTools),
			"requireConfirmation": c.policy.RequireConfirmation,
			"resolvedAt":          c.policy.ResolvedAt,
			"source":              string(c.policy.Source),
		},
		"allowedTools":   tools,
		"workspaceFiles": copyStrings(c.workspaceFiles),
		"metadata":       copyMetadata(c.metadata),
	}
	optional := map[string]string{
		"executionId":       c.executionID,
		"parentExecutionId": c.parentExecutionID,
		"sessionId":         c.sessionID,
		"userId":            c.userID,
		"workspaceId":       c.workspaceID,
	}
	for k, v := range optional {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// MarshalJSON encodes the canonical map shape
func (c *Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map())
}

func copyStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyMetadata(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return skilltypes.CloneValue(in).(map[string]any)
}
