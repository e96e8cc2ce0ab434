// Package runtime maps skill kinds to the executors that carry out one
// invocation style each, and dispatches invocations to them.
package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jingkaihe/skillrt/pkg/execctx"
	"github.com/jingkaihe/skillrt/pkg/logger"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// Executor runs skills of one kind. Execute never panics on purpose and never
// returns nil: every failure is reported through the result's Error.
type Executor interface {
	Kind() skilltypes.Kind
	Execute(ctx context.Context, skill *skilltypes.SkillContract, input string, params map[string]any, ec *execctx.Context) *skilltypes.ExecutionResult
}

// Registry holds exactly one executor per kind
type Registry struct {
	mu        sync.RWMutex
	executors map[skilltypes.Kind]Executor
}

// NewRegistry creates a registry with the given executors registered
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[skilltypes.Kind]Executor)}
	for _, e := range executors {
		r.Register(e)
	}
	return r
}

// Register adds e under its kind. Registering a kind that already has an
// executor is a no-op; it reports whether e was stored.
func (r *Registry) Register(e Executor) bool {
	if e == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.executors[e.Kind()]; ok {
		return false
	}
	r.executors[e.Kind()] = e
	return true
}

// Executor returns the executor registered for kind
func (r *Registry) Executor(kind skilltypes.Kind) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[kind]
	return e, ok
}

// Kinds returns the registered kinds in lexical order
func (r *Registry) Kinds() []skilltypes.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]skilltypes.Kind, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ResolveKind returns the dispatch key of a skill: Kind, then the legacy
// InvocationPattern, then templated-prompt.
func ResolveKind(skill *skilltypes.SkillContract) skilltypes.Kind {
	if skill == nil {
		return skilltypes.KindTemplatedPrompt
	}
	if k := strings.TrimSpace(string(skill.Kind)); k != "" {
		return skilltypes.Kind(k)
	}
	if p := strings.TrimSpace(skill.InvocationPattern); p != "" {
		return skilltypes.Kind(p)
	}
	return skilltypes.KindTemplatedPrompt
}

// NoRuntimeMessage is the error message reported for a kind with no executor
func NoRuntimeMessage(kind skilltypes.Kind) string {
	return fmt.Sprintf("No runtime registered for skill kind: %s", kind)
}

// Dispatch validates the execution context and hands the invocation to the
// executor registered for the skill's kind. It always returns a result.
func (r *Registry) Dispatch(ctx context.Context, skill *skilltypes.SkillContract, input string, params map[string]any, ec *execctx.Context) (result *skilltypes.ExecutionResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			logger.G(ctx).WithField("panic", rec).Error("executor panicked")
			result = skilltypes.Failure(skilltypes.ErrorKindUnknown, "executor panicked: %v", rec)
		}
		result = finish(result, start)
	}()

	if skill == nil {
		return skilltypes.Failure(skilltypes.ErrorKindValidation, "no skill to dispatch")
	}
	if err := execctx.Validate(ec); err != nil {
		return skilltypes.Failure(skilltypes.ErrorKindValidation, "invalid execution context: %s", err)
	}

	kind := ResolveKind(skill)
	executor, ok := r.Executor(kind)
	if !ok {
		return skilltypes.Failure(skilltypes.ErrorKindValidation, "%s", NoRuntimeMessage(kind))
	}

	logger.G(ctx).WithField("kind", kind).WithField("canonical_id", skill.CanonicalID).Debug("dispatching skill")
	return executor.Execute(ctx, skill, input, params, ec)
}

func finish(result *skilltypes.ExecutionResult, start time.Time) *skilltypes.ExecutionResult {
	if result == nil {
		result = skilltypes.Failure(skilltypes.ErrorKindUnknown, "executor returned no result")
	}
	if result.Metrics.ToolsUsed == nil {
		result.Metrics.ToolsUsed = []string{}
	}
	if result.Metrics.ExecutionTimeMs == 0 {
		result.Metrics.ExecutionTimeMs = skilltypes.ElapsedMs(start)
	}
	return result
}
