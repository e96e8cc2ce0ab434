package skills

import (
	"fmt"
	"time"
)

// ErrorKind classifies execution failures. The set is closed.
type ErrorKind string

// Error kinds reported by runtimes and by the orchestrator
const (
	ErrorKindLLM                 ErrorKind = "llm_error"
	ErrorKindTool                ErrorKind = "tool_error"
	ErrorKindValidation          ErrorKind = "validation_error"
	ErrorKindTimeout             ErrorKind = "timeout"
	ErrorKindPolicyDenied        ErrorKind = "policy_denied"
	ErrorKindVersionIncompatible ErrorKind = "version_incompatible"
	ErrorKindUnknown             ErrorKind = "unknown"
)

// ExecutionError is the typed failure carried by an ExecutionResult
type ExecutionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Metrics describes how an invocation ran
type Metrics struct {
	ExecutionTimeMs int64    `json:"executionTimeMs"`
	TokensUsed      int      `json:"tokensUsed,omitempty"`
	ToolsUsed       []string `json:"toolsUsed"`
	RetryCount      int      `json:"retryCount"`
}

// ExecutionResult is produced exactly once per invocation
type ExecutionResult struct {
	Success   bool            `json:"success"`
	Output    any             `json:"output,omitempty"`
	RawOutput string          `json:"rawOutput,omitempty"`
	Error     *ExecutionError `json:"error,omitempty"`
	Metrics   Metrics         `json:"metrics"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Failure builds a failed result with no metrics
func Failure(kind ErrorKind, format string, args ...any) *ExecutionResult {
	return &ExecutionResult{
		Success: false,
		Error: &ExecutionError{
			Kind:    kind,
			Message: fmt.Sprintf(format, args...),
		},
		Metrics: Metrics{ToolsUsed: []string{}},
	}
}

// ErrorKindOf returns the error kind of a failed result, or "" for a success
func (r *ExecutionResult) ErrorKindOf() ErrorKind {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Kind
}

// ErrorMessage returns the error message of a failed result, or ""
func (r *ExecutionResult) ErrorMessage() string {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Message
}

// Clone returns a deep copy of the result
func (r *ExecutionResult) Clone() *ExecutionResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Output = CloneValue(r.Output)
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	c.Metrics.ToolsUsed = cloneStrings(r.Metrics.ToolsUsed)
	if c.Metrics.ToolsUsed == nil {
		c.Metrics.ToolsUsed = []string{}
	}
	if r.Metadata != nil {
		c.Metadata = CloneValue(r.Metadata).(map[string]any)
	}
	return &c
}

// ElapsedMs converts a duration since start into whole milliseconds
func ElapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
