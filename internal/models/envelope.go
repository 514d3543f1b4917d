// internal/models/envelope.go
package models

import "time"

// EventType identifies the kind of message carried by an Envelope
type EventType string

const (
	EventExecutionCreated       EventType = "execution_created"
	EventExecutionStarted       EventType = "execution_started"
	EventExecutionStatusChanged EventType = "execution_status_changed"
	EventExecutionCompleted     EventType = "execution_completed"
	EventExecutionFailed        EventType = "execution_failed"
	EventExecutionCancelled     EventType = "execution_cancelled"
	EventConnected              EventType = "connected"
)

// Envelope is the wire unit pushed to observer connections.
type Envelope struct {
	Type EventType              `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// ExecutionEnvelope builds an envelope carrying the execution's current state.
// Extra fields (previous_status, reason) are merged into the payload.
func ExecutionEnvelope(eventType EventType, execution *Execution, extra map[string]interface{}) Envelope {
	data := map[string]interface{}{
		"execution_id":  execution.ID,
		"status":        execution.Status,
		"output_data":   execution.OutputData,
		"error_message": execution.ErrorMessage,
	}
	if execution.CompletedAt != nil {
		data["completed_at"] = execution.CompletedAt.Format(time.RFC3339)
	} else {
		data["completed_at"] = nil
	}
	for k, v := range extra {
		data[k] = v
	}
	return Envelope{Type: eventType, Data: data}
}
