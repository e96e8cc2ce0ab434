package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillrt/pkg/execctx"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

func TestToolTracker(t *testing.T) {
	ec := newContext(t, func(p *execctx.Params) { p.AllowedTools = []string{"fetch", "search"} })
	tracker := NewToolTracker(ec)

	require.NoError(t, tracker.Use("search"))
	require.NoError(t, tracker.Use("fetch"))
	require.NoError(t, tracker.Use("search"))

	err := tracker.Use("shell")
	var execErr *skilltypes.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, skilltypes.ErrorKindPolicyDenied, execErr.Kind)

	assert.Equal(t, []string{"search", "fetch"}, tracker.Used())
}

func TestValidateParams(t *testing.T) {
	schema := skilltypes.Schema{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer", "minimum": 1},
		},
		"required": []any{"query"},
	}

	tests := []struct {
		name    string
		schema  skilltypes.Schema
		params  map[string]any
		wantErr bool
	}{
		{"valid", schema, map[string]any{"query": "go", "limit": 3}, false},
		{"missing required", schema, map[string]any{"limit": 3}, true},
		{"wrong type", schema, map[string]any{"query": 1}, true},
		{"below minimum", schema, map[string]any{"query": "go", "limit": 0}, true},
		{"go int types", schema, map[string]any{"query": "go", "limit": int64(2)}, false},
		{"empty schema accepts anything", skilltypes.EmptySchema(), map[string]any{"x": 1}, false},
		{"nil schema", nil, nil, false},
		{"nil params against required", schema, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParams(tt.schema, tt.params)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPreflight(t *testing.T) {
	skill := newSkill("s", skilltypes.KindDirectFunction)
	skill.RequiredTools = []skilltypes.RequiredTool{{Name: "fetch", Required: true}, {Name: "optional", Required: false}}

	denied := Preflight(skill, nil, newContext(t, nil))
	require.NotNil(t, denied)
	assert.Equal(t, skilltypes.ErrorKindPolicyDenied, denied.ErrorKindOf())
	assert.Contains(t, denied.ErrorMessage(), "fetch")

	allowed := newContext(t, func(p *execctx.Params) { p.AllowedTools = []string{"fetch"} })
	assert.Nil(t, Preflight(skill, nil, allowed))

	confirm := newContext(t, func(p *execctx.Params) {
		p.AllowedTools = []string{"fetch"}
		p.Policy.RequireConfirmation = true
	})
	res := Preflight(skill, map[string]any{}, confirm)
	require.NotNil(t, res)
	assert.Equal(t, skilltypes.ErrorKindPolicyDenied, res.ErrorKindOf())
	assert.Contains(t, res.ErrorMessage(), "requires confirmation")
	assert.Nil(t, Preflight(skill, map[string]any{ConfirmedParam: true}, confirm))

	skill.InputSchema = skilltypes.Schema{"type": "object", "required": []any{"q"}}
	res = Preflight(skill, map[string]any{}, allowed)
	require.NotNil(t, res)
	assert.Equal(t, skilltypes.ErrorKindValidation, res.ErrorKindOf())
}

func TestRetry(t *testing.T) {
	calls := 0
	retries, err := fastRetry.Retry(context.Background(), 2, nil, func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)

	calls = 0
	retries, err = fastRetry.Retry(context.Background(), 0, nil, func() error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, "down", err.Error())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, retries)

	calls = 0
	_, err = fastRetry.Retry(context.Background(), 5, func(error) bool { return false }, func() error {
		calls++
		return errors.New("final")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestFailureFrom(t *testing.T) {
	ctx := context.Background()

	res := FailureFrom(ctx, errors.New("boom"), skilltypes.ErrorKindTool)
	assert.Equal(t, skilltypes.ErrorKindTool, res.ErrorKindOf())
	assert.Equal(t, "boom", res.ErrorMessage())

	wrapped := errors.Wrap(&skilltypes.ExecutionError{Kind: skilltypes.ErrorKindValidation, Message: "bad"}, "outer")
	res = FailureFrom(ctx, wrapped, skilltypes.ErrorKindTool)
	assert.Equal(t, skilltypes.ErrorKindValidation, res.ErrorKindOf())
	assert.Equal(t, "bad", res.ErrorMessage())

	res = FailureFrom(ctx, context.DeadlineExceeded, skilltypes.ErrorKindTool)
	assert.Equal(t, skilltypes.ErrorKindTimeout, res.ErrorKindOf())

	expired, cancel := context.WithTimeout(ctx, time.Nanosecond)
	defer cancel()
	<-expired.Done()
	res = FailureFrom(expired, errors.New("read failed"), skilltypes.ErrorKindLLM)
	assert.Equal(t, skilltypes.ErrorKindTimeout, res.ErrorKindOf())
}

func TestWithPolicyTimeout(t *testing.T) {
	ctx, cancel := WithPolicyTimeout(context.Background(), newContext(t, nil))
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)

	unbounded := newContext(t, func(p *execctx.Params) { p.Policy.TimeoutMs = 0 })
	ctx, cancel = WithPolicyTimeout(context.Background(), unbounded)
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok)
}

func TestDecodeOutput(t *testing.T) {
	assert.Equal(t, map[string]any{"a": float64(1)}, decodeOutput(`{"a": 1}`))
	assert.Equal(t, []any{"x"}, decodeOutput("```json\n[\"x\"]\n```"))
	assert.Equal(t, "plain text", decodeOutput("  plain text \n"))
	assert.Equal(t, "{not json", decodeOutput("{not json"))
}

func TestRawOutput(t *testing.T) {
	assert.Equal(t, "", rawOutput(nil))
	assert.Equal(t, "s", rawOutput("s"))
	assert.Equal(t, `{"n":2}`, rawOutput(map[string]any{"n": 2}))
}
