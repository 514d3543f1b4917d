// internal/models/tool.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Tool represents a tool definition that agents can be wired to use.
type Tool struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"userId"`
	Name          string                 `json:"name"`
	Schema        map[string]interface{} `json:"schema"`
	Configuration map[string]interface{} `json:"configuration"`
	ExternalID    string                 `json:"externalId,omitempty"`
	Version       string                 `json:"version"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// NewTool creates a new tool instance
func NewTool(userID, name string, schema, configuration map[string]interface{}) *Tool {
	now := time.Now()
	return &Tool{
		ID:            uuid.New().String(),
		UserID:        userID,
		Name:          name,
		Schema:        schema,
		Configuration: configuration,
		Version:       "1.0.0",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
