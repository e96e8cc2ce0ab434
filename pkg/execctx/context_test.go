package execctx

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

func testParams() Params {
	return Params{
		TraceID:           "trace-1",
		ExecutionID:       "exec-2",
		ParentExecutionID: "exec-1",
		SessionID:         "sess",
		UserID:            "user",
		UserTier:          skilltypes.TierPro,
		Policy: skilltypes.ResolvedPolicy{
			TimeoutMs:    3000,
			MaxRetries:   1,
			AllowedTools: []string{"web_search"},
			ResolvedAt:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
			Source:       skilltypes.PolicySourceSkill,
		},
		AllowedTools:   []string{"web_search", "fetch"},
		WorkspaceID:    "ws",
		WorkspaceFiles: []string{"a.txt"},
		Metadata: map[string]any{
			"labels": []any{"x"},
			"nested": map[string]any{"k": "v"},
		},
	}
}

func TestNew(t *testing.T) {
	c, err := New(testParams())
	require.NoError(t, err)

	assert.Equal(t, Version, c.Version())
	assert.Equal(t, "trace-1", c.TraceID())
	assert.Equal(t, "exec-2", c.ExecutionID())
	assert.Equal(t, "exec-1", c.ParentExecutionID())
	assert.Equal(t, "sess", c.SessionID())
	assert.Equal(t, "user", c.UserID())
	assert.Equal(t, skilltypes.TierPro, c.UserTier())
	assert.Equal(t, "ws", c.WorkspaceID())
	assert.Equal(t, []string{"web_search", "fetch"}, c.AllowedTools())
	assert.True(t, c.ToolAllowed("fetch"))
	assert.False(t, c.ToolAllowed("shell"))
	assert.Equal(t, int64(3000), c.Policy().TimeoutMs)
	assert.Equal(t, testParams(), c.Params())
}

func TestNewDefaultsAndErrors(t *testing.T) {
	c, err := New(Params{TraceID: "t"})
	require.NoError(t, err)
	assert.Equal(t, skilltypes.TierFree, c.UserTier())
	assert.Equal(t, []string{}, c.AllowedTools())
	assert.Equal(t, []string{}, c.WorkspaceFiles())
	assert.Equal(t, map[string]any{}, c.Metadata())

	_, err = New(Params{TraceID: "  "})
	assert.EqualError(t, err, "trace id is required")

	_, err = New(Params{TraceID: "t", UserTier: "platinum"})
	assert.EqualError(t, err, `unknown user tier "platinum"`)
}

func TestContextDoesNotShareInputs(t *testing.T) {
	p := testParams()
	c, err := New(p)
	require.NoError(t, err)

	p.AllowedTools[0] = "changed"
	p.Policy.AllowedTools[0] = "changed"
	p.WorkspaceFiles[0] = "changed"
	p.Metadata["labels"].([]any)[0] = "changed"
	p.Metadata["nested"].(map[string]any)["k"] = "changed"
	p.Metadata["added"] = true

	assert.Equal(t, "web_search", c.AllowedTools()[0])
	assert.Equal(t, "web_search", c.Policy().AllowedTools[0])
	assert.Equal(t, "a.txt", c.WorkspaceFiles()[0])
	assert.Equal(t, "x", c.Metadata()["labels"].([]any)[0])
	assert.Equal(t, "v", c.Metadata()["nested"].(map[string]any)["k"])
	assert.NotContains(t, c.Metadata(), "added")
}

func TestContextRejectsMutationThroughAccessors(t *testing.T) {
	c, err := New(testParams())
	require.NoError(t, err)

	c.AllowedTools()[0] = "changed"
	c.Policy().AllowedTools[0] = "changed"
	c.WorkspaceFiles()[0] = "changed"
	c.Metadata()["labels"].([]any)[0] = "changed"
	c.Metadata()["nested"].(map[string]any)["k"] = "changed"
	c.Metadata()["added"] = true
	v, ok := c.MetadataValue("nested")
	require.True(t, ok)
	v.(map[string]any)["k"] = "changed"
	c.Params().Metadata["labels"].([]any)[0] = "changed"
	c.Map()["allowedTools"].([]any)[0] = "changed"

	assert.Equal(t, testParams(), c.Params())
	_, ok = c.MetadataValue("missing")
	assert.False(t, ok)
}

func TestMarshalJSON(t *testing.T) {
	c, err := New(testParams())
	require.NoError(t, err)

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "1", m["version"])
	assert.Equal(t, "trace-1", m["traceId"])
	assert.Equal(t, "pro", m["userTier"])
	assert.Equal(t, "exec-1", m["parentExecutionId"])
	assert.Equal(t, []any{"web_search", "fetch"}, m["allowedTools"])
	policy := m["policy"].(map[string]any)
	assert.Equal(t, "skill", policy["source"])
	assert.Equal(t, "2026-05-01T00:00:00Z", policy["resolvedAt"])

	assert.NoError(t, Validate(data))
	assert.NoError(t, Validate(m))
}
