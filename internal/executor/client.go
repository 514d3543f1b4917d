// internal/executor/client.go
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"agenthub/internal/config"
	"agenthub/internal/models"
)

// StatusResult is one poll observation from the external executor.
type StatusResult struct {
	Status       models.ExecutionStatus `json:"status"`
	OutputData   map[string]interface{} `json:"output_data,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// Client talks to the external executor's HTTP API. All calls go
// through a circuit breaker; an open breaker surfaces as
// ErrUnavailable so the monitor treats it like any transient outage.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func NewClient(cfg config.ExecutorConfig, log zerolog.Logger) *Client {
	settings := gobreaker.Settings{
		Name:    "executor",
		Timeout: time.Duration(cfg.BreakerCooldown) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerThreshold)
		},
		// Permanent rejections are the caller's problem, not a sign
		// the executor is down; they must not trip the breaker.
		IsSuccessful: func(err error) bool {
			var rejected *RejectedError
			return err == nil || errors.As(err, &rejected)
		},
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log,
	}
}

// RegisterAgent registers a new agent and returns its external id.
func (c *Client) RegisterAgent(ctx context.Context, name string, configuration map[string]interface{}) (string, error) {
	body := map[string]interface{}{
		"name":          name,
		"configuration": configuration,
	}
	var resp struct {
		AgentID string `json:"agent_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/agents", body, &resp); err != nil {
		return "", err
	}
	return resp.AgentID, nil
}

// UpdateAgent updates an existing agent's configuration.
func (c *Client) UpdateAgent(ctx context.Context, externalID string, configuration map[string]interface{}) error {
	body := map[string]interface{}{"configuration": configuration}
	return c.do(ctx, http.MethodPut, "/agents/"+externalID, body, nil)
}

// RegisterTool registers a new tool and returns its external id.
func (c *Client) RegisterTool(ctx context.Context, name string, schema, configuration map[string]interface{}) (string, error) {
	body := map[string]interface{}{
		"name":          name,
		"schema":        schema,
		"configuration": configuration,
	}
	var resp struct {
		ToolID string `json:"tool_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/tools", body, &resp); err != nil {
		return "", err
	}
	return resp.ToolID, nil
}

// UpdateTool updates an existing tool's configuration.
func (c *Client) UpdateTool(ctx context.Context, externalID string, configuration map[string]interface{}) error {
	body := map[string]interface{}{"configuration": configuration}
	return c.do(ctx, http.MethodPut, "/tools/"+externalID, body, nil)
}

// StartExecution asks the executor to run an agent and returns the
// external execution id once accepted.
func (c *Client) StartExecution(ctx context.Context, agentExternalID string, inputData map[string]interface{}) (string, error) {
	body := map[string]interface{}{"input_data": inputData}
	var resp struct {
		ExecutionID string `json:"execution_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/agents/"+agentExternalID+"/execute", body, &resp); err != nil {
		return "", err
	}
	return resp.ExecutionID, nil
}

// GetExecutionStatus polls the executor for the current state of an execution.
func (c *Client) GetExecutionStatus(ctx context.Context, externalID string) (*StatusResult, error) {
	var result StatusResult
	if err := c.do(ctx, http.MethodGet, "/executions/"+externalID, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StopExecution asks the executor to stop a running execution.
func (c *Client) StopExecution(ctx context.Context, externalID string) error {
	return c.do(ctx, http.MethodPost, "/executions/"+externalID+"/stop", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.request(ctx, method, path, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: circuit breaker open", ErrUnavailable)
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result.([]byte), out); err != nil {
		return fmt.Errorf("failed to decode executor response: %w", err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, &RejectedError{
			StatusCode: resp.StatusCode,
			Reason:     strings.TrimSpace(string(data)),
		}
	}

	return data, nil
}
