package runtime

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"github.com/jingkaihe/skillrt/pkg/execctx"
	"github.com/jingkaihe/skillrt/pkg/logger"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// MaxWorkflowDepth bounds how deeply workflows may nest through their steps
const MaxWorkflowDepth = 8

// StepRequest asks the invoker to run one workflow step as a nested invocation
type StepRequest struct {
	SkillID string
	Input   string
	Params  map[string]any
	// Parent is the context of the workflow invocation; the nested call shares
	// its trace id and uses its execution id as parent
	Parent *execctx.Context
}

// Invoker runs nested skill invocations. The orchestrator implements it.
type Invoker interface {
	InvokeStep(ctx context.Context, req StepRequest) *skilltypes.ExecutionResult
}

// WorkflowExecutor runs multi-step-workflow skills, one nested invocation per step
type WorkflowExecutor struct {
	invoker Invoker
}

// NewWorkflowExecutor creates a workflow executor running steps through invoker
func NewWorkflowExecutor(invoker Invoker) *WorkflowExecutor {
	return &WorkflowExecutor{invoker: invoker}
}

// Kind implements Executor
func (e *WorkflowExecutor) Kind() skilltypes.Kind { return skilltypes.KindMultiStepWorkflow }

type depthKey struct{}

func workflowDepth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// Execute runs the steps in order. Each step's input defaults to the previous
// step's raw output; a step with an input template renders it against .input,
// .previous and .steps. The first failing step fails the workflow.
func (e *WorkflowExecutor) Execute(ctx context.Context, skill *skilltypes.SkillContract, input string, params map[string]any, ec *execctx.Context) *skilltypes.ExecutionResult {
	if res := Preflight(skill, params, ec); res != nil {
		return res
	}
	if e.invoker == nil {
		return skilltypes.Failure(skilltypes.ErrorKindUnknown, "workflow executor has no invoker")
	}
	if len(skill.Steps) == 0 {
		return skilltypes.Failure(skilltypes.ErrorKindValidation, "workflow %s has no steps", skill.CanonicalID)
	}
	depth := workflowDepth(ctx) + 1
	if depth > MaxWorkflowDepth {
		return skilltypes.Failure(skilltypes.ErrorKindValidation, "workflow nesting exceeds %d levels", MaxWorkflowDepth)
	}

	ctx, cancel := WithPolicyTimeout(ctx, ec)
	defer cancel()
	ctx = context.WithValue(ctx, depthKey{}, depth)

	metrics := skilltypes.Metrics{ToolsUsed: []string{}}
	seenTools := make(map[string]bool)
	outputs := make([]any, 0, len(skill.Steps))
	stepMeta := make([]any, 0, len(skill.Steps))
	previous := input
	var last *skilltypes.ExecutionResult

	for i, step := range skill.Steps {
		label := step.Name
		if label == "" {
			label = step.Skill
		}
		if err := ctx.Err(); err != nil {
			res := FailureFrom(ctx, err, skilltypes.ErrorKindUnknown)
			res.Metrics = metrics
			return res
		}

		stepInput, err := renderStepInput(step, input, previous, outputs)
		if err != nil {
			res := skilltypes.Failure(skilltypes.ErrorKindValidation, "step %d (%s): %s", i+1, label, err)
			res.Metrics = metrics
			return res
		}
		stepParams := params
		if step.Params != nil {
			stepParams = step.Params
		}

		logger.G(ctx).WithField("step", i+1).WithField("skill", step.Skill).Debug("running workflow step")
		res := e.invoker.InvokeStep(ctx, StepRequest{
			SkillID: step.Skill,
			Input:   stepInput,
			Params:  skilltypes.CloneValue(nonNil(stepParams)).(map[string]any),
			Parent:  ec,
		})
		if res == nil {
			res = skilltypes.Failure(skilltypes.ErrorKindUnknown, "step returned no result")
		}

		metrics.TokensUsed += res.Metrics.TokensUsed
		metrics.RetryCount += res.Metrics.RetryCount
		for _, tool := range res.Metrics.ToolsUsed {
			if !seenTools[tool] {
				seenTools[tool] = true
				metrics.ToolsUsed = append(metrics.ToolsUsed, tool)
			}
		}
		stepMeta = append(stepMeta, map[string]any{
			"name":        label,
			"skill":       step.Skill,
			"success":     res.Success,
			"executionId": res.Metadata["executionId"],
		})

		if !res.Success {
			failed := skilltypes.Failure(res.ErrorKindOf(), "step %d (%s) failed: %s", i+1, label, res.ErrorMessage())
			if failed.Error.Kind == "" {
				failed.Error.Kind = skilltypes.ErrorKindUnknown
			}
			failed.Metrics = metrics
			failed.Metadata = map[string]any{"steps": stepMeta}
			return failed
		}

		outputs = append(outputs, res.Output)
		previous = res.RawOutput
		last = res
	}

	return &skilltypes.ExecutionResult{
		Success:   true,
		Output:    last.Output,
		RawOutput: last.RawOutput,
		Metrics:   metrics,
		Metadata:  map[string]any{"steps": stepMeta},
	}
}

func renderStepInput(step skilltypes.WorkflowStep, input, previous string, outputs []any) (string, error) {
	if strings.TrimSpace(step.Input) == "" {
		return previous, nil
	}
	tmpl, err := template.New(step.Skill).
		Option("missingkey=zero").
		Funcs(template.FuncMap{"json": toJSON}).
		Parse(step.Input)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]any{
		"input":    input,
		"previous": previous,
		"steps":    outputs,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
