// internal/monitor/monitor.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"agenthub/internal/executor"
	"agenthub/internal/models"
)

// Store persists executions and resolves the agents they run.
type Store interface {
	SaveExecution(ctx context.Context, execution *models.Execution) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
}

// Executor drives the external system that performs the actual work.
type Executor interface {
	StartExecution(ctx context.Context, agentExternalID string, inputData map[string]interface{}) (string, error)
	GetExecutionStatus(ctx context.Context, externalID string) (*executor.StatusResult, error)
	StopExecution(ctx context.Context, externalID string) error
}

// Notifier fans execution events out to observer connections.
type Notifier interface {
	ToUser(userID string, envelope models.Envelope)
	ToExecution(executionID string, envelope models.Envelope)
}

type cancelRequest struct {
	reason string
}

// Monitor owns the lifecycle of one execution. It is the sole writer
// of the execution's status, output, error and completion fields for
// as long as it is live. It never propagates a failure to its caller:
// every run ends in a terminal state with exactly one terminal event
// broadcast.
type Monitor struct {
	execution    *models.Execution
	store        Store
	executor     Executor
	notifier     Notifier
	pollInterval time.Duration
	log          zerolog.Logger

	cancelCh chan cancelRequest
	done     chan struct{}
}

func newMonitor(execution *models.Execution, store Store, exec Executor, notifier Notifier, pollInterval time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		execution:    execution,
		store:        store,
		executor:     exec,
		notifier:     notifier,
		pollInterval: pollInterval,
		log:          log.With().Str("execution_id", execution.ID).Logger(),
		cancelCh:     make(chan cancelRequest, 1),
		done:         make(chan struct{}),
	}
}

// Run drives the execution to a terminal state. It blocks until done
// and is intended to be launched on its own goroutine by the
// supervisor.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)

	if err := m.run(ctx); err != nil {
		m.fail(err)
	}
}

// signalCancel requests cooperative cancellation. Safe to call at any
// time; after the monitor has finished it has no effect.
func (m *Monitor) signalCancel(reason string) {
	select {
	case m.cancelCh <- cancelRequest{reason: reason}:
	default:
		// A cancel is already pending; one is enough.
	}
}

func (m *Monitor) run(ctx context.Context) error {
	exec := m.execution

	now := time.Now()
	exec.Status = models.ExecutionStatusRunning
	exec.StartedAt = &now
	if err := m.store.SaveExecution(ctx, exec); err != nil {
		return fmt.Errorf("failed to persist running state: %w", err)
	}
	m.broadcast(models.EventExecutionStarted, nil)

	agent, err := m.store.GetAgent(ctx, exec.AgentID)
	if err != nil {
		return fmt.Errorf("failed to resolve agent: %w", err)
	}
	if agent.ExternalID == "" {
		return fmt.Errorf("agent %s is not registered with the executor", agent.ID)
	}

	// Observe a cancellation that arrived before the external start;
	// the executor must not be asked to start work nobody wants.
	select {
	case req := <-m.cancelCh:
		return m.cancel(ctx, req.reason)
	case <-ctx.Done():
		return m.cancel(context.Background(), "server shutting down")
	default:
	}

	externalID, err := m.executor.StartExecution(ctx, agent.ExternalID, exec.InputData)
	if err != nil {
		return fmt.Errorf("executor start failed: %w", err)
	}
	exec.ExternalID = externalID
	if err := m.store.SaveExecution(ctx, exec); err != nil {
		return fmt.Errorf("failed to persist external id: %w", err)
	}

	return m.poll(ctx)
}

// poll queries the executor at a fixed interval until a terminal
// status is observed or cancellation interrupts the loop. A change is
// significant only when the observed status differs from the status
// recorded on the execution, so a stale or duplicate poll result
// never produces a duplicate broadcast.
func (m *Monitor) poll(ctx context.Context) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.cancel(context.Background(), "server shutting down")
		case req := <-m.cancelCh:
			return m.cancel(ctx, req.reason)
		case <-ticker.C:
			result, err := m.executor.GetExecutionStatus(ctx, m.execution.ExternalID)
			if err != nil {
				if errors.Is(err, executor.ErrUnavailable) {
					m.log.Debug().Err(err).Msg("executor unavailable, retrying at next poll")
					continue
				}
				return fmt.Errorf("executor poll failed: %w", err)
			}

			terminal, err := m.observe(ctx, result)
			if err != nil {
				return err
			}
			if terminal {
				return nil
			}
		}
	}
}

// observe applies one poll result to the execution. Returns true once
// a terminal status has been recorded and broadcast.
func (m *Monitor) observe(ctx context.Context, result *executor.StatusResult) (bool, error) {
	exec := m.execution

	switch result.Status {
	case models.ExecutionStatusRunning, models.ExecutionStatusCompleted, models.ExecutionStatusFailed:
	default:
		m.log.Warn().Str("status", string(result.Status)).Msg("ignoring unknown executor status")
		return false, nil
	}

	if result.Status == exec.Status {
		return false, nil
	}

	previous := exec.Status
	exec.Status = result.Status
	exec.OutputData = result.OutputData
	exec.ErrorMessage = result.ErrorMessage

	if err := m.store.SaveExecution(ctx, exec); err != nil {
		return false, fmt.Errorf("failed to persist status change: %w", err)
	}
	m.broadcast(models.EventExecutionStatusChanged, map[string]interface{}{
		"previous_status": previous,
	})

	if !exec.Status.IsTerminal() {
		return false, nil
	}

	now := time.Now()
	exec.CompletedAt = &now
	if err := m.store.SaveExecution(ctx, exec); err != nil {
		return false, fmt.Errorf("failed to persist terminal state: %w", err)
	}
	if exec.Status == models.ExecutionStatusCompleted {
		m.broadcast(models.EventExecutionCompleted, nil)
	} else {
		m.broadcast(models.EventExecutionFailed, nil)
	}
	return true, nil
}

// cancel stops the external execution best-effort and records the
// cancelled terminal state.
func (m *Monitor) cancel(ctx context.Context, reason string) error {
	exec := m.execution

	if exec.ExternalID != "" {
		if err := m.executor.StopExecution(ctx, exec.ExternalID); err != nil {
			m.log.Warn().Err(err).Msg("failed to stop execution on executor, cancelling anyway")
		}
	}

	now := time.Now()
	exec.Status = models.ExecutionStatusCancelled
	exec.CompletedAt = &now
	if err := m.store.SaveExecution(context.WithoutCancel(ctx), exec); err != nil {
		m.log.Error().Err(err).Msg("failed to persist cancelled state")
	}
	m.broadcast(models.EventExecutionCancelled, map[string]interface{}{
		"reason": reason,
	})
	m.log.Info().Str("reason", reason).Msg("execution cancelled")
	return nil
}

// fail is the top-level conversion of any unexpected error into the
// failed terminal state. Persistence here is best effort: even if the
// store is down, observers still get their one terminal event.
func (m *Monitor) fail(cause error) {
	exec := m.execution

	message := cause.Error()
	var rejected *executor.RejectedError
	if errors.As(cause, &rejected) {
		// Surface the executor's own refusal text, not our wrapping.
		message = rejected.Reason
	}

	now := time.Now()
	exec.Status = models.ExecutionStatusFailed
	exec.ErrorMessage = message
	exec.CompletedAt = &now
	if err := m.store.SaveExecution(context.Background(), exec); err != nil {
		m.log.Error().Err(err).Msg("failed to persist failed state")
	}
	m.broadcast(models.EventExecutionFailed, nil)
	m.log.Error().Err(cause).Msg("execution failed")
}

// broadcast delivers one event to the execution's subscribers and to
// the owning user's general subscription.
func (m *Monitor) broadcast(eventType models.EventType, extra map[string]interface{}) {
	envelope := models.ExecutionEnvelope(eventType, m.execution, extra)
	m.notifier.ToExecution(m.execution.ID, envelope)
	m.notifier.ToUser(m.execution.UserID, envelope)
}
