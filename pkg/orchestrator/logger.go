package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jingkaihe/skillrt/pkg/execctx"
	"github.com/jingkaihe/skillrt/pkg/logger"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// ExecutionRecord is everything the orchestrator knows about one finished
// invocation. Context is nil when the invocation failed before it was built,
// Policy when it failed before policy resolution. State is the last state
// completed before logging.
type ExecutionRecord struct {
	SkillID           string
	Input             string
	Params            map[string]any
	Result            *skilltypes.ExecutionResult
	Context           *execctx.Context
	Policy            *skilltypes.ResolvedPolicy
	TraceID           string
	ExecutionID       string
	ParentExecutionID string
	State             State
	StartedAt         time.Time
	FinishedAt        time.Time
}

// ExecutionLogger persists execution records. The returned id is opaque and
// only used for correlation.
type ExecutionLogger interface {
	Record(ctx context.Context, rec ExecutionRecord) (string, error)
}

// LogrusExecutionLogger writes one structured audit entry per invocation
type LogrusExecutionLogger struct {
	Level logrus.Level
}

// NewLogrusExecutionLogger creates an execution logger writing at info level
func NewLogrusExecutionLogger() *LogrusExecutionLogger {
	return &LogrusExecutionLogger{Level: logrus.InfoLevel}
}

// Record implements ExecutionLogger
func (l *LogrusExecutionLogger) Record(ctx context.Context, rec ExecutionRecord) (string, error) {
	id := uuid.New().String()

	fields := logrus.Fields{
		"record_id":    id,
		"skill_id":     rec.SkillID,
		"trace_id":     rec.TraceID,
		"execution_id": rec.ExecutionID,
		"state":        rec.State,
		"duration_ms":  rec.FinishedAt.Sub(rec.StartedAt).Milliseconds(),
	}
	if rec.ParentExecutionID != "" {
		fields["parent_execution_id"] = rec.ParentExecutionID
	}
	if rec.Result != nil {
		fields["success"] = rec.Result.Success
		fields["tokens_used"] = rec.Result.Metrics.TokensUsed
		fields["tools_used"] = rec.Result.Metrics.ToolsUsed
		fields["retry_count"] = rec.Result.Metrics.RetryCount
		if rec.Result.Error != nil {
			fields["error_kind"] = rec.Result.Error.Kind
			fields["error"] = rec.Result.Error.Message
		}
	}
	if rec.Policy != nil {
		fields["policy_source"] = rec.Policy.Source
		fields["timeout_ms"] = rec.Policy.TimeoutMs
	}

	logger.G(ctx).WithFields(fields).Log(l.Level, "skill execution recorded")
	return id, nil
}
