package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrt/pkg/execctx"
	"github.com/jingkaihe/skillrt/pkg/llm"
	"github.com/jingkaihe/skillrt/pkg/logger"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// PromptExecutor runs templated-prompt skills through an LLM completer
type PromptExecutor struct {
	completer llm.Completer
	retry     RetryConfig
}

// PromptOption configures a PromptExecutor
type PromptOption func(*PromptExecutor)

// WithPromptRetry overrides the retry delays
func WithPromptRetry(c RetryConfig) PromptOption {
	return func(e *PromptExecutor) { e.retry = c }
}

// NewPromptExecutor creates a prompt executor. A nil completer is allowed; every
// invocation then fails with an llm_error.
func NewPromptExecutor(completer llm.Completer, opts ...PromptOption) *PromptExecutor {
	e := &PromptExecutor{completer: completer, retry: DefaultRetryConfig}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Kind implements Executor
func (e *PromptExecutor) Kind() skilltypes.Kind { return skilltypes.KindTemplatedPrompt }

// Execute renders the user prompt template and sends it with the skill's system prompt
func (e *PromptExecutor) Execute(ctx context.Context, skill *skilltypes.SkillContract, input string, params map[string]any, ec *execctx.Context) *skilltypes.ExecutionResult {
	if res := Preflight(skill, params, ec); res != nil {
		return res
	}
	if e.completer == nil {
		return skilltypes.Failure(skilltypes.ErrorKindLLM, "no LLM completer is configured")
	}

	prompt, err := RenderPrompt(skill, input, params)
	if err != nil {
		return skilltypes.Failure(skilltypes.ErrorKindValidation, "%s", err)
	}

	ctx, cancel := WithPolicyTimeout(ctx, ec)
	defer cancel()

	policy := ec.Policy()
	req := llm.CompletionRequest{
		System:    skill.SystemPrompt,
		Prompt:    prompt,
		MaxTokens: policy.MaxTokens,
	}

	var completion llm.Completion
	retries, err := e.retry.Retry(ctx, policy.MaxRetries, nil, func() error {
		var callErr error
		completion, callErr = e.completer.Complete(ctx, req)
		return callErr
	})
	if err != nil {
		logger.G(ctx).WithError(err).WithField("provider", e.completer.Provider()).Warn("prompt skill failed")
		res := FailureFrom(ctx, err, skilltypes.ErrorKindLLM)
		res.Metrics.RetryCount = retries
		return res
	}

	return &skilltypes.ExecutionResult{
		Success:   true,
		Output:    decodeOutput(completion.Text),
		RawOutput: completion.Text,
		Metrics: skilltypes.Metrics{
			TokensUsed: completion.TotalTokens(),
			ToolsUsed:  []string{},
			RetryCount: retries,
		},
	}
}

// RenderPrompt renders the skill's user prompt template. Params are exposed
// as top-level fields, alongside .input and .params; schema properties the
// caller left out render empty. A skill without a template sends input as is.
func RenderPrompt(skill *skilltypes.SkillContract, input string, params map[string]any) (string, error) {
	if strings.TrimSpace(skill.UserPromptTemplate) == "" {
		return input, nil
	}

	tmpl, err := template.New(skill.CanonicalID).
		Option("missingkey=error").
		Funcs(template.FuncMap{"json": toJSON}).
		Parse(skill.UserPromptTemplate)
	if err != nil {
		return "", errors.Wrap(err, "invalid prompt template")
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, templateData(skill.InputSchema, input, params)); err != nil {
		return "", errors.Wrap(err, "failed to render prompt template")
	}
	return buf.String(), nil
}

func templateData(schema skilltypes.Schema, input string, params map[string]any) map[string]any {
	if params == nil {
		params = map[string]any{}
	}
	data := make(map[string]any, len(params)+2)
	if props, ok := schema["properties"].(map[string]any); ok {
		for name := range props {
			data[name] = ""
		}
	}
	for k, v := range params {
		data[k] = v
	}
	data["input"] = input
	data["params"] = params
	return data
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
