// Package orchestrator drives one skill invocation through its fixed sequence
// of states and produces exactly one execution result for it.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillrt/pkg/contract"
	"github.com/jingkaihe/skillrt/pkg/execctx"
	"github.com/jingkaihe/skillrt/pkg/logger"
	"github.com/jingkaihe/skillrt/pkg/policy"
	"github.com/jingkaihe/skillrt/pkg/runtime"
	"github.com/jingkaihe/skillrt/pkg/telemetry"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// State is a step of the invocation state machine
type State string

// Invocation states, in order
const (
	StateReceived       State = "received"
	StateVersionChecked State = "version-checked"
	StateStatusChecked  State = "status-checked"
	StatePolicyResolved State = "policy-resolved"
	StateContextBuilt   State = "context-built"
	StateDispatched     State = "dispatched"
	StateLogged         State = "logged"
	StateFormatted      State = "formatted"
)

// Result metadata keys
const (
	MetaTraceID           = "traceId"
	MetaExecutionID       = "executionId"
	MetaParentExecutionID = "parentExecutionId"
	MetaSkillID           = "skillId"
	MetaRecordID          = "recordId"
	MetaState             = "state"
)

// SkillLookup finds skills by canonical id. *registry.Registry implements it.
type SkillLookup interface {
	Lookup(id string) (*skilltypes.SkillContract, bool)
}

// Request is one invocation. Skill, when set, is invoked directly instead of
// being looked up by SkillID.
type Request struct {
	SkillID        string
	Skill          *skilltypes.SkillContract
	Input          string
	Params         map[string]any
	Trace          TraceContext
	UserTier       skilltypes.UserTier
	WorkspaceID    string
	WorkspaceFiles []string
	Metadata       map[string]any
}

// Orchestrator runs invocations. It holds no per-invocation state and is safe
// for concurrent use.
type Orchestrator struct {
	skills   SkillLookup
	runtimes *runtime.Registry
	policies policy.Resolver
	gate     contract.Gate
	log      ExecutionLogger
	newID    func() string
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithGate sets the contract version gate
func WithGate(gate contract.Gate) Option {
	return func(o *Orchestrator) { o.gate = gate }
}

// WithExecutionLogger sets where execution records go
func WithExecutionLogger(l ExecutionLogger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithIDGenerator replaces the uuid generator used for trace and execution ids
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// New creates an orchestrator. It registers a workflow executor bound to
// itself unless the runtime registry already has one.
func New(skills SkillLookup, runtimes *runtime.Registry, policies policy.Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		skills:   skills,
		runtimes: runtimes,
		policies: policies,
		gate:     contract.NewGate(""),
		log:      NewLogrusExecutionLogger(),
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	runtimes.Register(runtime.NewWorkflowExecutor(o))
	return o
}

type invocation struct {
	req         Request
	skillID     string
	traceID     string
	executionID string
	started     time.Time
	state       State
	skill       *skilltypes.SkillContract
	policy      *skilltypes.ResolvedPolicy
	ec          *execctx.Context
}

// Invoke runs req to completion. It never fails: every outcome, including
// lookup and gate failures, is an execution result.
func (o *Orchestrator) Invoke(ctx context.Context, req Request) *skilltypes.ExecutionResult {
	inv := &invocation{
		req:         req,
		skillID:     req.SkillID,
		traceID:     strings.TrimSpace(req.Trace.TraceID),
		executionID: o.newID(),
		started:     time.Now(),
	}
	if inv.traceID == "" {
		inv.traceID = o.newID()
	}
	if req.Skill != nil && inv.skillID == "" {
		inv.skillID = req.Skill.CanonicalID
	}

	fields := logrus.Fields{
		"trace_id":     inv.traceID,
		"execution_id": inv.executionID,
		"skill_id":     inv.skillID,
	}
	if req.Trace.ParentExecutionID != "" {
		fields["parent_execution_id"] = req.Trace.ParentExecutionID
	}
	ctx = logger.WithFields(ctx, fields)

	ctx, span := telemetry.StartInvocation(ctx, inv.skillID, inv.traceID, inv.executionID)
	defer span.End()

	o.transition(ctx, inv, StateReceived)
	result := o.run(ctx, inv)

	o.record(ctx, inv, result)
	result = o.format(ctx, inv, result)

	telemetry.EndInvocation(span, result)
	return result
}

// run advances the state machine up to dispatch and returns the result it
// stopped with
func (o *Orchestrator) run(ctx context.Context, inv *invocation) *skilltypes.ExecutionResult {
	skill := inv.req.Skill.Clone()
	if skill == nil {
		found, ok := o.skills.Lookup(inv.skillID)
		if !ok {
			return skilltypes.Failure(skilltypes.ErrorKindValidation, "skill not found: %s", inv.skillID)
		}
		skill = found
	}
	inv.skill = skill

	if err := o.gate.Check(skill); err != nil {
		return skilltypes.Failure(skilltypes.ErrorKindVersionIncompatible, "%s", err)
	}
	o.transition(ctx, inv, StateVersionChecked)

	if status := skill.Lifecycle.Status; !status.IsActive() {
		return skilltypes.Failure(skilltypes.ErrorKindValidation, "skill %s is not active (status: %s)", skill.CanonicalID, status)
	}
	o.transition(ctx, inv, StateStatusChecked)

	identity := policy.Identity{
		UserID:    inv.req.Trace.UserID,
		SessionID: inv.req.Trace.SessionID,
		UserTier:  inv.req.UserTier,
	}
	resolved := o.policies.Resolve(skill, identity)
	allowed := o.policies.ResolveAllowedTools(skill, resolved)
	inv.policy = &resolved
	o.transition(ctx, inv, StatePolicyResolved, attribute.String("policy.source", string(resolved.Source)))

	ec, err := execctx.New(execctx.Params{
		TraceID:           inv.traceID,
		ExecutionID:       inv.executionID,
		ParentExecutionID: inv.req.Trace.ParentExecutionID,
		SessionID:         inv.req.Trace.SessionID,
		UserID:            inv.req.Trace.UserID,
		UserTier:          inv.req.UserTier,
		Policy:            resolved,
		AllowedTools:      allowed,
		WorkspaceID:       inv.req.WorkspaceID,
		WorkspaceFiles:    inv.req.WorkspaceFiles,
		Metadata:          inv.req.Metadata,
	})
	if err != nil {
		return skilltypes.Failure(skilltypes.ErrorKindValidation, "failed to build execution context: %s", err)
	}
	inv.ec = ec
	o.transition(ctx, inv, StateContextBuilt)

	result := o.runtimes.Dispatch(ctx, skill, inv.req.Input, inv.req.Params, ec)
	o.transition(ctx, inv, StateDispatched, telemetry.AttrSkillKind.String(string(runtime.ResolveKind(skill))))
	return result
}

func (o *Orchestrator) transition(ctx context.Context, inv *invocation, state State, attrs ...attribute.KeyValue) {
	inv.state = state
	telemetry.AddEvent(ctx, string(state), attrs...)
	logger.G(ctx).WithField("state", state).Debug("skill invocation state")
}

// record hands the finished invocation to the execution logger. Logger
// failures are logged and never change the result.
func (o *Orchestrator) record(ctx context.Context, inv *invocation, result *skilltypes.ExecutionResult) {
	rec := ExecutionRecord{
		SkillID:           inv.skillID,
		Input:             inv.req.Input,
		Params:            skilltypes.CloneValue(inv.req.Params).(map[string]any),
		Result:            result.Clone(),
		Context:           inv.ec,
		TraceID:           inv.traceID,
		ExecutionID:       inv.executionID,
		ParentExecutionID: inv.req.Trace.ParentExecutionID,
		State:             inv.state,
		StartedAt:         inv.started,
		FinishedAt:        time.Now(),
	}
	if inv.req.Params == nil {
		rec.Params = nil
	}
	if inv.policy != nil {
		p := inv.policy.Clone()
		rec.Policy = &p
	}

	var recordID string
	if o.log != nil {
		id, err := o.log.Record(ctx, rec)
		if err != nil {
			logger.G(ctx).WithError(err).Error("failed to record skill execution")
		}
		recordID = id
	}

	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	if recordID != "" {
		result.Metadata[MetaRecordID] = recordID
	}
	result.Metadata[MetaState] = string(inv.state)
	o.transition(ctx, inv, StateLogged)
}

// format stamps the correlation metadata on the result
func (o *Orchestrator) format(ctx context.Context, inv *invocation, result *skilltypes.ExecutionResult) *skilltypes.ExecutionResult {
	result.Metadata[MetaTraceID] = inv.traceID
	result.Metadata[MetaExecutionID] = inv.executionID
	result.Metadata[MetaSkillID] = inv.skillID
	if inv.req.Trace.ParentExecutionID != "" {
		result.Metadata[MetaParentExecutionID] = inv.req.Trace.ParentExecutionID
	}
	if result.Metrics.ToolsUsed == nil {
		result.Metrics.ToolsUsed = []string{}
	}
	o.transition(ctx, inv, StateFormatted)
	return result
}

// InvokeStep implements runtime.Invoker. The step runs as a nested invocation
// sharing the parent's trace id, identity and workspace.
func (o *Orchestrator) InvokeStep(ctx context.Context, req runtime.StepRequest) *skilltypes.ExecutionResult {
	nested := Request{
		SkillID: req.SkillID,
		Input:   req.Input,
		Params:  req.Params,
	}
	if parent := req.Parent; parent != nil {
		nested.Trace = TraceContext{
			TraceID:   parent.TraceID(),
			SessionID: parent.SessionID(),
			UserID:    parent.UserID(),
		}.Child(parent.ExecutionID())
		nested.UserTier = parent.UserTier()
		nested.WorkspaceID = parent.WorkspaceID()
		nested.WorkspaceFiles = parent.WorkspaceFiles()
		nested.Metadata = parent.Metadata()
	}
	return o.Invoke(ctx, nested)
}
