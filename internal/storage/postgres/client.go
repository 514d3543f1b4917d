// internal/storage/postgres/client.go
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"agenthub/internal/config"
	"agenthub/internal/models"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

type Client struct {
	db *sql.DB
}

func NewClient(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// User related functions

func (c *Client) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, full_name, is_superuser, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())`

	_, err := c.db.ExecContext(ctx, query, user.ID, user.Email, user.FullName, user.IsSuperuser)
	return err
}

func (c *Client) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, email, full_name, is_superuser, created_at, updated_at
		FROM users
		WHERE id = $1`

	var user models.User
	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.IsSuperuser,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &user, nil
}

// Agent related functions

func (c *Client) CreateAgent(ctx context.Context, agent *models.Agent) error {
	configuration, err := json.Marshal(agent.Configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	query := `
		INSERT INTO agents (id, user_id, name, configuration, external_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`

	_, err = c.db.ExecContext(ctx, query,
		agent.ID,
		agent.UserID,
		agent.Name,
		configuration,
		agent.ExternalID,
		agent.Status,
	)
	return err
}

func (c *Client) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	query := `
		SELECT id, user_id, name, configuration, external_id, status, created_at, updated_at
		FROM agents
		WHERE id = $1`

	var agent models.Agent
	var configuration []byte

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&agent.ID,
		&agent.UserID,
		&agent.Name,
		&configuration,
		&agent.ExternalID,
		&agent.Status,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(configuration, &agent.Configuration); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return &agent, nil
}

func (c *Client) ListAgents(ctx context.Context, userID string) ([]*models.Agent, error) {
	query := `
		SELECT id, user_id, name, configuration, external_id, status, created_at, updated_at
		FROM agents
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := c.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		var agent models.Agent
		var configuration []byte

		if err := rows.Scan(
			&agent.ID,
			&agent.UserID,
			&agent.Name,
			&configuration,
			&agent.ExternalID,
			&agent.Status,
			&agent.CreatedAt,
			&agent.UpdatedAt,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(configuration, &agent.Configuration); err != nil {
			return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
		}

		agents = append(agents, &agent)
	}

	return agents, rows.Err()
}

func (c *Client) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	configuration, err := json.Marshal(agent.Configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	query := `
		UPDATE agents
		SET name = $1, configuration = $2, external_id = $3, status = $4, updated_at = NOW()
		WHERE id = $5`

	result, err := c.db.ExecContext(ctx, query,
		agent.Name,
		configuration,
		agent.ExternalID,
		agent.Status,
		agent.ID,
	)
	if err != nil {
		return err
	}

	return checkAffected(result)
}

func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

// Tool related functions

func (c *Client) CreateTool(ctx context.Context, tool *models.Tool) error {
	schema, err := json.Marshal(tool.Schema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	configuration, err := json.Marshal(tool.Configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	query := `
		INSERT INTO tools (id, user_id, name, schema, configuration, external_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`

	_, err = c.db.ExecContext(ctx, query,
		tool.ID,
		tool.UserID,
		tool.Name,
		schema,
		configuration,
		tool.ExternalID,
		tool.Version,
	)
	return err
}

func (c *Client) GetTool(ctx context.Context, id string) (*models.Tool, error) {
	query := `
		SELECT id, user_id, name, schema, configuration, external_id, version, created_at, updated_at
		FROM tools
		WHERE id = $1`

	var tool models.Tool
	var schema, configuration []byte

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&tool.ID,
		&tool.UserID,
		&tool.Name,
		&schema,
		&configuration,
		&tool.ExternalID,
		&tool.Version,
		&tool.CreatedAt,
		&tool.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(schema, &tool.Schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	if err := json.Unmarshal(configuration, &tool.Configuration); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return &tool, nil
}

func (c *Client) ListTools(ctx context.Context, userID string) ([]*models.Tool, error) {
	query := `
		SELECT id, user_id, name, schema, configuration, external_id, version, created_at, updated_at
		FROM tools
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := c.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []*models.Tool
	for rows.Next() {
		var tool models.Tool
		var schema, configuration []byte

		if err := rows.Scan(
			&tool.ID,
			&tool.UserID,
			&tool.Name,
			&schema,
			&configuration,
			&tool.ExternalID,
			&tool.Version,
			&tool.CreatedAt,
			&tool.UpdatedAt,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(schema, &tool.Schema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
		}
		if err := json.Unmarshal(configuration, &tool.Configuration); err != nil {
			return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
		}

		tools = append(tools, &tool)
	}

	return tools, rows.Err()
}

func (c *Client) UpdateTool(ctx context.Context, tool *models.Tool) error {
	schema, err := json.Marshal(tool.Schema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	configuration, err := json.Marshal(tool.Configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	query := `
		UPDATE tools
		SET name = $1, schema = $2, configuration = $3, external_id = $4, version = $5, updated_at = NOW()
		WHERE id = $6`

	result, err := c.db.ExecContext(ctx, query,
		tool.Name,
		schema,
		configuration,
		tool.ExternalID,
		tool.Version,
		tool.ID,
	)
	if err != nil {
		return err
	}

	return checkAffected(result)
}

func (c *Client) DeleteTool(ctx context.Context, id string) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM tools WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

// Execution related functions

func (c *Client) CreateExecution(ctx context.Context, execution *models.Execution) error {
	inputData, err := json.Marshal(execution.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal input data: %w", err)
	}

	query := `
		INSERT INTO executions
		(id, user_id, agent_id, input_data, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`

	_, err = c.db.ExecContext(ctx, query,
		execution.ID,
		execution.UserID,
		execution.AgentID,
		inputData,
		execution.Status,
	)
	return err
}

// SaveExecution writes every monitor-owned field in a single UPDATE so
// a poll observation is persisted atomically.
func (c *Client) SaveExecution(ctx context.Context, execution *models.Execution) error {
	outputData, err := json.Marshal(execution.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}

	query := `
		UPDATE executions
		SET status = $1,
			output_data = $2,
			error_message = $3,
			started_at = $4,
			completed_at = $5,
			external_id = $6,
			updated_at = NOW()
		WHERE id = $7`

	result, err := c.db.ExecContext(ctx, query,
		execution.Status,
		outputData,
		execution.ErrorMessage,
		execution.StartedAt,
		execution.CompletedAt,
		execution.ExternalID,
		execution.ID,
	)
	if err != nil {
		return err
	}

	return checkAffected(result)
}

func (c *Client) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	query := `
		SELECT id, user_id, agent_id, input_data, output_data, status,
			error_message, started_at, completed_at, external_id, created_at, updated_at
		FROM executions
		WHERE id = $1`

	return c.scanExecution(c.db.QueryRowContext(ctx, query, id))
}

func (c *Client) ListExecutions(ctx context.Context, userID string, offset, limit int) ([]*models.Execution, error) {
	query := `
		SELECT id, user_id, agent_id, input_data, output_data, status,
			error_message, started_at, completed_at, external_id, created_at, updated_at
		FROM executions
		WHERE user_id = $1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3`

	rows, err := c.db.QueryContext(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return c.collectExecutions(rows)
}

// ListStaleExecutions returns executions still pending or running
// whose last update is older than the threshold. Used by the reaper
// to fail work orphaned by a crashed process.
func (c *Client) ListStaleExecutions(ctx context.Context, threshold time.Duration) ([]*models.Execution, error) {
	query := `
		SELECT id, user_id, agent_id, input_data, output_data, status,
			error_message, started_at, completed_at, external_id, created_at, updated_at
		FROM executions
		WHERE status IN ($1, $2) AND updated_at < $3`

	cutoff := time.Now().Add(-threshold)
	rows, err := c.db.QueryContext(ctx, query,
		models.ExecutionStatusPending,
		models.ExecutionStatusRunning,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return c.collectExecutions(rows)
}

func (c *Client) DeleteExecution(ctx context.Context, id string) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM executions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (c *Client) scanExecution(row rowScanner) (*models.Execution, error) {
	var execution models.Execution
	var inputData, outputData []byte
	var errorMessage, externalID sql.NullString

	err := row.Scan(
		&execution.ID,
		&execution.UserID,
		&execution.AgentID,
		&inputData,
		&outputData,
		&execution.Status,
		&errorMessage,
		&execution.StartedAt,
		&execution.CompletedAt,
		&externalID,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(inputData, &execution.InputData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input data: %w", err)
	}
	if len(outputData) > 0 {
		if err := json.Unmarshal(outputData, &execution.OutputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output data: %w", err)
		}
	}
	execution.ErrorMessage = errorMessage.String
	execution.ExternalID = externalID.String

	return &execution, nil
}

func (c *Client) collectExecutions(rows *sql.Rows) ([]*models.Execution, error) {
	var executions []*models.Execution
	for rows.Next() {
		execution, err := c.scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	return executions, rows.Err()
}

func checkAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
