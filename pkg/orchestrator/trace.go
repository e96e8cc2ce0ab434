package orchestrator

// TraceContext correlates a top-level invocation with every nested
// invocation it triggers. Nested calls keep the trace id and point their
// parent execution id at the outer call.
type TraceContext struct {
	TraceID           string `json:"traceId"`
	ParentExecutionID string `json:"parentExecutionId,omitempty"`
	SessionID         string `json:"sessionId,omitempty"`
	UserID            string `json:"userId,omitempty"`
}

// Child derives the trace of a call nested under executionID
func (t TraceContext) Child(executionID string) TraceContext {
	return TraceContext{
		TraceID:           t.TraceID,
		ParentExecutionID: executionID,
		SessionID:         t.SessionID,
		UserID:            t.UserID,
	}
}
