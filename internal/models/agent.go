// internal/models/agent.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus represents the registration state of an agent
type AgentStatus string

const (
	AgentStatusInactive AgentStatus = "inactive"
	AgentStatusActive   AgentStatus = "active"
	AgentStatusError    AgentStatus = "error"
)

// Agent represents a configured agent that the external executor can run.
// ExternalID is set once the executor has accepted the registration.
type Agent struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"userId"`
	Name          string                 `json:"name"`
	Configuration map[string]interface{} `json:"configuration"`
	ExternalID    string                 `json:"externalId,omitempty"`
	Status        AgentStatus            `json:"status"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// NewAgent creates a new unregistered agent instance
func NewAgent(userID, name string, configuration map[string]interface{}) *Agent {
	now := time.Now()
	return &Agent{
		ID:            uuid.New().String(),
		UserID:        userID,
		Name:          name,
		Configuration: configuration,
		Status:        AgentStatusInactive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
