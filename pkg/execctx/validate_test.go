package execctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMap() map[string]any {
	return map[string]any{
		"version":  "1",
		"traceId":  "t",
		"userTier": "free",
		"policy": map[string]any{
			"resolvedAt": "2026-05-01T00:00:00Z",
			"source":     "platform-default",
		},
		"allowedTools": []any{},
	}
}

func TestValidate(t *testing.T) {
	c, err := New(testParams())
	require.NoError(t, err)
	assert.NoError(t, Validate(c))
	assert.NoError(t, Validate(*c))
	assert.NoError(t, Validate(validMap()))

	tests := []struct {
		name   string
		mutate func(m map[string]any)
		want   string
	}{
		{"missing version", func(m map[string]any) { delete(m, "version") }, "version tag"},
		{"empty trace id", func(m map[string]any) { m["traceId"] = "" }, "trace id"},
		{"numeric trace id", func(m map[string]any) { m["traceId"] = 7 }, "trace id"},
		{"missing tier", func(m map[string]any) { delete(m, "userTier") }, "user tier"},
		{"unknown tier", func(m map[string]any) { m["userTier"] = "gold" }, "unknown user tier"},
		{"empty tier", func(m map[string]any) { m["userTier"] = "" }, "unknown user tier"},
		{"missing policy", func(m map[string]any) { delete(m, "policy") }, "policy object"},
		{"policy not an object", func(m map[string]any) { m["policy"] = "strict" }, "policy object"},
		{"policy without timestamp", func(m map[string]any) { delete(m["policy"].(map[string]any), "resolvedAt") }, "resolvedAt"},
		{"policy with bad timestamp", func(m map[string]any) { m["policy"].(map[string]any)["resolvedAt"] = "yesterday" }, "resolvedAt"},
		{"policy without source", func(m map[string]any) { m["policy"].(map[string]any)["source"] = "" }, "source tag"},
		{"allowed tools not an array", func(m map[string]any) { m["allowedTools"] = "web_search" }, "allowedTools"},
		{"allowed tools missing", func(m map[string]any) { delete(m, "allowedTools") }, "allowedTools"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMap()
			tt.mutate(m)
			err := Validate(m)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateRejectsOtherValues(t *testing.T) {
	var nilCtx *Context
	assert.Error(t, Validate(nil))
	assert.Error(t, Validate(nilCtx))
	assert.Error(t, Validate("context"))
	assert.Error(t, Validate([]byte("[1,2]")))

	// a context built without a resolved policy has no timestamp
	c, err := New(Params{TraceID: "t"})
	require.NoError(t, err)
	assert.Error(t, Validate(c))
}
