package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jingkaihe/skillrt/pkg/execctx"
	"github.com/jingkaihe/skillrt/pkg/logger"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// ConfirmedParam is the parameter that acknowledges a skill requiring confirmation
const ConfirmedParam = "confirmed"

// ToolTracker records the tools an invocation used, in first-use order, and
// enforces the context's allow-list
type ToolTracker struct {
	mu   sync.Mutex
	ec   *execctx.Context
	used []string
	seen map[string]bool
}

// NewToolTracker creates a tracker bound to the allow-list of ec
func NewToolTracker(ec *execctx.Context) *ToolTracker {
	return &ToolTracker{ec: ec, used: []string{}, seen: make(map[string]bool)}
}

// Use records a tool call. It returns a policy_denied error when name is not allowed.
func (t *ToolTracker) Use(name string) error {
	if t.ec == nil || !t.ec.ToolAllowed(name) {
		return &skilltypes.ExecutionError{
			Kind:    skilltypes.ErrorKindPolicyDenied,
			Message: fmt.Sprintf("tool %s is not allowed by policy", name),
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seen[name] {
		t.seen[name] = true
		t.used = append(t.used, name)
	}
	return nil
}

// Used returns the distinct tools used so far
func (t *ToolTracker) Used() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.used))
	copy(out, t.used)
	return out
}

// ValidateParams validates params against a JSON schema. A schema without
// constraints accepts anything.
func ValidateParams(schema skilltypes.Schema, params map[string]any) error {
	if !hasConstraints(schema) {
		return nil
	}

	doc, err := json.Marshal(schema)
	if err != nil {
		return errors.Wrap(err, "input schema is not serializable")
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://skillrt.schemas.local/input.schema.json"
	if err := c.AddResource(url, strings.NewReader(string(doc))); err != nil {
		return errors.Wrap(err, "input schema load failed")
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return errors.Wrap(err, "input schema compile failed")
	}

	// values must look like decoded JSON
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "parameters are not serializable")
	}
	var decoded any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return errors.Wrap(err, "parameters are not valid JSON")
	}
	if err := compiled.Validate(decoded); err != nil {
		return errors.Wrap(err, "parameters do not match the input schema")
	}
	return nil
}

func hasConstraints(schema skilltypes.Schema) bool {
	for k, v := range schema {
		switch k {
		case "type":
			continue
		case "properties":
			if m, ok := v.(map[string]any); ok && len(m) == 0 {
				continue
			}
		}
		return true
	}
	return false
}

// Preflight runs the checks every executor applies before doing any work:
// required tools must be allowed, confirmation must be given when the policy
// asks for it, and params must match the input schema. It returns nil when the
// invocation may proceed.
func Preflight(skill *skilltypes.SkillContract, params map[string]any, ec *execctx.Context) *skilltypes.ExecutionResult {
	for _, tool := range skill.RequiredTools {
		if tool.Required && tool.Name != "" && !ec.ToolAllowed(tool.Name) {
			return skilltypes.Failure(skilltypes.ErrorKindPolicyDenied, "required tool %s is not allowed by policy", tool.Name)
		}
	}
	if ec.Policy().RequireConfirmation {
		if confirmed, _ := params[ConfirmedParam].(bool); !confirmed {
			return skilltypes.Failure(skilltypes.ErrorKindPolicyDenied, "skill %s requires confirmation", skill.CanonicalID)
		}
	}
	if err := ValidateParams(skill.InputSchema, params); err != nil {
		return skilltypes.Failure(skilltypes.ErrorKindValidation, "%s", err)
	}
	return nil
}

// WithPolicyTimeout bounds ctx by the policy timeout of ec. A zero timeout leaves ctx unbounded.
func WithPolicyTimeout(ctx context.Context, ec *execctx.Context) (context.Context, context.CancelFunc) {
	if timeout := ec.Policy().Timeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// RetryConfig tunes the delay between attempts. The attempt count comes from
// the resolved policy.
type RetryConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	// BackoffType is "fixed" or "exponential"
	BackoffType string `mapstructure:"backoff_type"`
}

// DefaultRetryConfig is used by executors created without a retry config
var DefaultRetryConfig = RetryConfig{
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	BackoffType:  "exponential",
}

// Retry calls fn up to maxRetries+1 times and returns how many retries were made.
// Context errors and errors rejected by retryable stop the loop.
func (c RetryConfig) Retry(ctx context.Context, maxRetries int, retryable func(error) bool, fn func() error) (int, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var delayType retry.DelayTypeFunc
	switch c.BackoffType {
	case "fixed":
		delayType = retry.FixedDelay
	default:
		delayType = retry.BackOffDelay
	}

	calls := 0
	err := retry.Do(
		func() error {
			calls++
			return fn()
		},
		retry.RetryIf(func(err error) bool {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return retryable == nil || retryable(err)
		}),
		retry.Attempts(uint(maxRetries+1)),
		retry.Delay(c.InitialDelay),
		retry.DelayType(delayType),
		retry.MaxDelay(c.MaxDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).WithField("max_attempts", maxRetries+1).Warn("retrying skill execution")
		}),
	)
	if calls == 0 {
		return 0, err
	}
	return calls - 1, err
}

// FailureFrom converts an execution error into a failed result. A context
// deadline becomes a timeout, an *ExecutionError keeps its kind, anything else
// gets fallback.
func FailureFrom(ctx context.Context, err error, fallback skilltypes.ErrorKind) *skilltypes.ExecutionResult {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return skilltypes.Failure(skilltypes.ErrorKindTimeout, "execution timed out: %s", err)
	}
	var execErr *skilltypes.ExecutionError
	if errors.As(err, &execErr) {
		return skilltypes.Failure(execErr.Kind, "%s", execErr.Message)
	}
	return skilltypes.Failure(fallback, "%s", err)
}

// isExecutionError reports whether err carries a kind chosen by the callee.
// Such errors are final and never retried.
func isExecutionError(err error) bool {
	var execErr *skilltypes.ExecutionError
	return errors.As(err, &execErr)
}

// rawOutput renders output as text for RawOutput
func rawOutput(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// decodeOutput parses text as JSON when it looks like JSON, tolerating a
// fenced code block. Anything else is returned as the trimmed string.
func decodeOutput(text string) any {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return strings.TrimSpace(text)
}
