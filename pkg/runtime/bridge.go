package runtime

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrt/pkg/execctx"
	"github.com/jingkaihe/skillrt/pkg/logger"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// BridgeResponse is the result of one protocol-bridge tool call
type BridgeResponse struct {
	// Content is the concatenated text content
	Content string
	// Structured is the structured content, if the server sent any
	Structured any
	IsError    bool
}

// ToolCaller calls a tool on a protocol-bridge server
type ToolCaller interface {
	CallTool(ctx context.Context, server, tool string, args map[string]any) (BridgeResponse, error)
}

// BridgeExecutor forwards protocol-bridge skills to their server tool
type BridgeExecutor struct {
	caller ToolCaller
	retry  RetryConfig
}

// NewBridgeExecutor creates a bridge executor. A nil caller fails every invocation.
func NewBridgeExecutor(caller ToolCaller) *BridgeExecutor {
	return &BridgeExecutor{caller: caller, retry: DefaultRetryConfig}
}

// SetRetry overrides the retry delays
func (e *BridgeExecutor) SetRetry(c RetryConfig) { e.retry = c }

// Kind implements Executor
func (e *BridgeExecutor) Kind() skilltypes.Kind { return skilltypes.KindProtocolBridge }

var errToolReported = errors.New("tool reported an error")

// Execute calls the bound tool with params as arguments
func (e *BridgeExecutor) Execute(ctx context.Context, skill *skilltypes.SkillContract, input string, params map[string]any, ec *execctx.Context) *skilltypes.ExecutionResult {
	if res := Preflight(skill, params, ec); res != nil {
		return res
	}
	if skill.Bridge == nil || skill.Bridge.Server == "" || skill.Bridge.Tool == "" {
		return skilltypes.Failure(skilltypes.ErrorKindValidation, "skill %s has no bridge binding", skill.CanonicalID)
	}
	if e.caller == nil {
		return skilltypes.Failure(skilltypes.ErrorKindTool, "no protocol bridge is configured")
	}

	tools := NewToolTracker(ec)
	if err := tools.Use(skill.Bridge.Tool); err != nil {
		return FailureFrom(ctx, err, skilltypes.ErrorKindPolicyDenied)
	}

	args := skilltypes.CloneValue(nonNil(params)).(map[string]any)
	delete(args, ConfirmedParam)
	if _, ok := args["input"]; !ok && input != "" {
		args["input"] = input
	}

	ctx, cancel := WithPolicyTimeout(ctx, ec)
	defer cancel()

	var resp BridgeResponse
	retries, err := e.retry.Retry(ctx, ec.Policy().MaxRetries, func(err error) bool {
		// the tool ran and answered; only transport failures are retried
		return !errors.Is(err, errToolReported)
	}, func() error {
		var callErr error
		resp, callErr = e.caller.CallTool(ctx, skill.Bridge.Server, skill.Bridge.Tool, args)
		if callErr != nil {
			return callErr
		}
		if resp.IsError {
			return errors.Wrap(errToolReported, resp.Content)
		}
		return nil
	})
	if err != nil {
		logger.G(ctx).WithError(err).
			WithField("server", skill.Bridge.Server).
			WithField("tool", skill.Bridge.Tool).
			Warn("bridge skill failed")
		res := FailureFrom(ctx, err, skilltypes.ErrorKindTool)
		res.Metrics.ToolsUsed = tools.Used()
		res.Metrics.RetryCount = retries
		return res
	}

	output := resp.Structured
	if output == nil {
		output = decodeOutput(resp.Content)
	}
	return &skilltypes.ExecutionResult{
		Success:   true,
		Output:    output,
		RawOutput: resp.Content,
		Metrics: skilltypes.Metrics{
			ToolsUsed:  tools.Used(),
			RetryCount: retries,
		},
	}
}
