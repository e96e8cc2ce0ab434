package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillrt/pkg/execctx"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

type wordCountParams struct {
	Text  string `json:"text" jsonschema:"description=Text to count"`
	Upper bool   `json:"upper,omitempty"`
}

func wordCount() Function {
	return NewTypedFunction("word_count", "Counts words", func(_ context.Context, p wordCountParams, call FunctionCall) (any, error) {
		if err := call.Tools.Use("tokenizer"); err != nil {
			return nil, err
		}
		text := p.Text
		if text == "" {
			text = call.Input
		}
		return map[string]any{"words": len(strings.Fields(text))}, nil
	})
}

func functionSkill(name string) *skilltypes.SkillContract {
	s := newSkill("count-words", skilltypes.KindDirectFunction)
	s.FunctionDefinition = &skilltypes.FunctionDefinition{Name: name}
	return s
}

func TestGenerateSchema(t *testing.T) {
	schema := GenerateSchema[wordCountParams]()
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "text")
	assert.Contains(t, props, "upper")
	assert.NotContains(t, schema, "$schema")
}

func TestFunctionExecutorAdd(t *testing.T) {
	e, err := NewFunctionExecutor(wordCount())
	require.NoError(t, err)

	assert.Error(t, e.Add(wordCount()))
	assert.Error(t, e.Add(Function{Name: " "}))
	assert.Error(t, e.Add(Function{Name: "nohandler"}))

	fns := e.Functions()
	require.Len(t, fns, 1)
	assert.Equal(t, "word_count", fns[0].Name)
}

func TestFunctionExecutorExecute(t *testing.T) {
	e, err := NewFunctionExecutor(wordCount())
	require.NoError(t, err)
	ec := newContext(t, func(p *execctx.Params) { p.AllowedTools = []string{"tokenizer"} })

	res := e.Execute(context.Background(), functionSkill("word_count"), "", map[string]any{"text": "one two three"}, ec)
	require.True(t, res.Success, res.ErrorMessage())
	assert.Equal(t, map[string]any{"words": 3}, res.Output)
	assert.JSONEq(t, `{"words":3}`, res.RawOutput)
	assert.Equal(t, []string{"tokenizer"}, res.Metrics.ToolsUsed)

	res = e.Execute(context.Background(), functionSkill("word_count"), "from input", nil, ec)
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"words": 2}, res.Output)
}

func TestFunctionExecutorLookupByCanonicalID(t *testing.T) {
	fn := Function{Name: "count-words", Handler: func(context.Context, FunctionCall) (any, error) { return "ok", nil }}
	e, err := NewFunctionExecutor(fn)
	require.NoError(t, err)

	s := newSkill("count-words", skilltypes.KindDirectFunction)
	res := e.Execute(context.Background(), s, "", nil, newContext(t, nil))
	require.True(t, res.Success)
	assert.Equal(t, "ok", res.RawOutput)

	res = e.Execute(context.Background(), functionSkill("missing"), "", nil, newContext(t, nil))
	assert.Equal(t, skilltypes.ErrorKindValidation, res.ErrorKindOf())
	assert.Contains(t, res.ErrorMessage(), "no function registered")
}

func TestFunctionExecutorErrors(t *testing.T) {
	calls := 0
	flaky := Function{Name: "flaky", Handler: func(context.Context, FunctionCall) (any, error) {
		calls++
		return nil, errors.New("upstream down")
	}}
	denied := Function{Name: "denied", Handler: func(_ context.Context, call FunctionCall) (any, error) {
		calls++
		return nil, call.Tools.Use("shell")
	}}
	e, err := NewFunctionExecutor(flaky, denied, wordCount())
	require.NoError(t, err)
	e.SetRetry(fastRetry)
	ec := newContext(t, func(p *execctx.Params) { p.Policy.MaxRetries = 2 })

	res := e.Execute(context.Background(), functionSkill("flaky"), "", nil, ec)
	assert.Equal(t, skilltypes.ErrorKindTool, res.ErrorKindOf())
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, res.Metrics.RetryCount)

	calls = 0
	res = e.Execute(context.Background(), functionSkill("denied"), "", nil, ec)
	assert.Equal(t, skilltypes.ErrorKindPolicyDenied, res.ErrorKindOf())
	assert.Equal(t, 1, calls)

	res = e.Execute(context.Background(), functionSkill("word_count"), "", map[string]any{"text": []any{"not", "text"}}, newContext(t, func(p *execctx.Params) {
		p.AllowedTools = []string{"tokenizer"}
	}))
	assert.Equal(t, skilltypes.ErrorKindValidation, res.ErrorKindOf())
}

func TestFunctionContract(t *testing.T) {
	c := wordCount().Contract()
	assert.Equal(t, "word_count", c.CanonicalID)
	assert.Equal(t, skilltypes.KindDirectFunction, c.Kind)
	assert.Equal(t, skilltypes.SourceInternal, c.Source)
	assert.Equal(t, "word_count", c.FunctionDefinition.Name)
	assert.True(t, c.Lifecycle.Status.IsActive())
	assert.Contains(t, c.InputSchema["properties"], "text")
}
