// internal/models/execution.go
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the current state of an execution
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is one no transition may leave.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// Execution represents a single run of an agent against input data.
// While a monitor owns an execution, it is the sole writer of Status,
// OutputData, ErrorMessage and CompletedAt.
type Execution struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"userId"`
	AgentID      string                 `json:"agentId"`
	InputData    map[string]interface{} `json:"inputData"`
	OutputData   map[string]interface{} `json:"outputData,omitempty"`
	Status       ExecutionStatus        `json:"status"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	StartedAt    *time.Time             `json:"startedAt,omitempty"`
	CompletedAt  *time.Time             `json:"completedAt,omitempty"`
	ExternalID   string                 `json:"externalId,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// NewExecution creates a new pending execution instance
func NewExecution(userID, agentID string, inputData map[string]interface{}) *Execution {
	now := time.Now()
	return &Execution{
		ID:        uuid.New().String(),
		UserID:    userID,
		AgentID:   agentID,
		InputData: inputData,
		Status:    ExecutionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ToJSON converts the execution to JSON
func (e *Execution) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON populates the execution from JSON
func (e *Execution) FromJSON(data []byte) error {
	return json.Unmarshal(data, e)
}

// ExecutionResult is the result view returned by the API for one execution.
type ExecutionResult struct {
	ExecutionID  string                 `json:"executionId"`
	Status       ExecutionStatus        `json:"status"`
	OutputData   map[string]interface{} `json:"outputData,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	CompletedAt  *time.Time             `json:"completedAt,omitempty"`
}
