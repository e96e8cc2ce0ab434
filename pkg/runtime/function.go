package runtime

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrt/pkg/contract"
	"github.com/jingkaihe/skillrt/pkg/execctx"
	"github.com/jingkaihe/skillrt/pkg/logger"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// FunctionCall is what a handler receives for one invocation
type FunctionCall struct {
	Input   string
	Params  map[string]any
	Context *execctx.Context
	// Tools records tool use and enforces the allow-list
	Tools *ToolTracker
}

// Handler implements a direct-function skill. Returning an
// *skilltypes.ExecutionError selects the error kind; any other error is a
// tool_error and may be retried.
type Handler func(ctx context.Context, call FunctionCall) (any, error)

// Function is a named handler with the schema of its parameters
type Function struct {
	Name        string
	Description string
	Schema      skilltypes.Schema
	Handler     Handler
}

// Contract returns an internal skill record that dispatches to f
func (f Function) Contract() *skilltypes.SkillContract {
	schema := skilltypes.CloneSchema(f.Schema)
	if schema == nil {
		schema = skilltypes.EmptySchema()
	}
	return &skilltypes.SkillContract{
		CanonicalID:     f.Name,
		Version:         contract.CurrentVersion,
		ContractVersion: contract.CurrentVersion,
		Source:          skilltypes.SourceInternal,
		Kind:            skilltypes.KindDirectFunction,
		Name:            f.Name,
		Description:     f.Description,
		InputSchema:     schema,
		OutputSchema:    skilltypes.EmptySchema(),
		FunctionDefinition: &skilltypes.FunctionDefinition{
			Name:        f.Name,
			Description: f.Description,
			Parameters:  skilltypes.CloneSchema(schema),
		},
		Dependencies:    []string{},
		CapabilityLevel: "platform",
		ExecutionScope:  skilltypes.DefaultExecutionScope,
		IsProtected:     true,
		Lifecycle:       skilltypes.Lifecycle{Status: skilltypes.StatusActive},
	}
}

// GenerateSchema reflects the JSON schema of T
func GenerateSchema[T any]() skilltypes.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	var v T
	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return skilltypes.EmptySchema()
	}
	var schema skilltypes.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return skilltypes.EmptySchema()
	}
	delete(schema, "$schema")
	return schema
}

// NewTypedFunction wraps a handler taking decoded parameters of type T. Params
// are decoded with json field names; a decode failure is a validation_error.
func NewTypedFunction[T any](name, description string, handler func(ctx context.Context, params T, call FunctionCall) (any, error)) Function {
	return Function{
		Name:        name,
		Description: description,
		Schema:      GenerateSchema[T](),
		Handler: func(ctx context.Context, call FunctionCall) (any, error) {
			var params T
			decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
				Result:           &params,
				TagName:          "json",
				WeaklyTypedInput: true,
			})
			if err != nil {
				return nil, errors.Wrap(err, "failed to create parameter decoder")
			}
			if err := decoder.Decode(call.Params); err != nil {
				return nil, &skilltypes.ExecutionError{
					Kind:    skilltypes.ErrorKindValidation,
					Message: "invalid parameters: " + err.Error(),
				}
			}
			return handler(ctx, params, call)
		},
	}
}

// FunctionExecutor runs direct-function skills against a table of handlers
type FunctionExecutor struct {
	mu        sync.RWMutex
	functions map[string]Function
	retry     RetryConfig
}

// NewFunctionExecutor creates an executor with the given functions
func NewFunctionExecutor(functions ...Function) (*FunctionExecutor, error) {
	e := &FunctionExecutor{functions: make(map[string]Function), retry: DefaultRetryConfig}
	for _, fn := range functions {
		if err := e.Add(fn); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// SetRetry overrides the retry delays
func (e *FunctionExecutor) SetRetry(c RetryConfig) { e.retry = c }

// Add registers fn. Names are unique.
func (e *FunctionExecutor) Add(fn Function) error {
	name := strings.TrimSpace(fn.Name)
	if name == "" {
		return errors.New("function name is required")
	}
	if fn.Handler == nil {
		return errors.Errorf("function %s has no handler", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.functions[name]; ok {
		return errors.Errorf("function %s is already registered", name)
	}
	fn.Name = name
	e.functions[name] = fn
	return nil
}

// Functions returns the registered functions sorted by name
func (e *FunctionExecutor) Functions() []Function {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Function, 0, len(e.functions))
	for _, fn := range e.functions {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *FunctionExecutor) lookup(skill *skilltypes.SkillContract) (Function, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if skill.FunctionDefinition != nil && skill.FunctionDefinition.Name != "" {
		fn, ok := e.functions[skill.FunctionDefinition.Name]
		return fn, ok
	}
	fn, ok := e.functions[skill.CanonicalID]
	return fn, ok
}

// Kind implements Executor
func (e *FunctionExecutor) Kind() skilltypes.Kind { return skilltypes.KindDirectFunction }

// Execute calls the handler bound to the skill
func (e *FunctionExecutor) Execute(ctx context.Context, skill *skilltypes.SkillContract, input string, params map[string]any, ec *execctx.Context) *skilltypes.ExecutionResult {
	if res := Preflight(skill, params, ec); res != nil {
		return res
	}
	fn, ok := e.lookup(skill)
	if !ok {
		return skilltypes.Failure(skilltypes.ErrorKindValidation, "no function registered for skill %s", skill.CanonicalID)
	}

	ctx, cancel := WithPolicyTimeout(ctx, ec)
	defer cancel()

	tools := NewToolTracker(ec)
	call := FunctionCall{
		Input:   input,
		Params:  skilltypes.CloneValue(nonNil(params)).(map[string]any),
		Context: ec,
		Tools:   tools,
	}

	var output any
	retries, err := e.retry.Retry(ctx, ec.Policy().MaxRetries, func(err error) bool {
		return !isExecutionError(err)
	}, func() error {
		var callErr error
		output, callErr = fn.Handler(ctx, call)
		return callErr
	})
	if err != nil {
		logger.G(ctx).WithError(err).WithField("function", fn.Name).Warn("function skill failed")
		res := FailureFrom(ctx, err, skilltypes.ErrorKindTool)
		res.Metrics.ToolsUsed = tools.Used()
		res.Metrics.RetryCount = retries
		return res
	}

	return &skilltypes.ExecutionResult{
		Success:   true,
		Output:    output,
		RawOutput: rawOutput(output),
		Metrics: skilltypes.Metrics{
			ToolsUsed:  tools.Used(),
			RetryCount: retries,
		},
	}
}

func nonNil(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return params
}
