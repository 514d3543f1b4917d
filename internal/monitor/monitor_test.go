// internal/monitor/monitor_test.go
package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/executor"
	"agenthub/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	agent    *models.Agent
	agentErr error
	saveErr  error
	saved    []models.Execution
}

func (s *fakeStore) SaveExecution(ctx context.Context, execution *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, *execution)
	return nil
}

func (s *fakeStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agentErr != nil {
		return nil, s.agentErr
	}
	return s.agent, nil
}

// pollStep is one scripted answer to GetExecutionStatus. When the
// script runs out the last step repeats.
type pollStep struct {
	result *executor.StatusResult
	err    error
}

type fakeExecutor struct {
	mu         sync.Mutex
	startID    string
	startErr   error
	startCalls int
	steps      []pollStep
	pollCalls  int
	stopped    []string
	stopErr    error
}

func (e *fakeExecutor) StartExecution(ctx context.Context, agentExternalID string, inputData map[string]interface{}) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startCalls++
	if e.startErr != nil {
		return "", e.startErr
	}
	return e.startID, nil
}

func (e *fakeExecutor) GetExecutionStatus(ctx context.Context, externalID string) (*executor.StatusResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.pollCalls
	e.pollCalls++
	if idx >= len(e.steps) {
		idx = len(e.steps) - 1
	}
	step := e.steps[idx]
	return step.result, step.err
}

func (e *fakeExecutor) StopExecution(ctx context.Context, externalID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = append(e.stopped, externalID)
	return e.stopErr
}

func (e *fakeExecutor) polls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pollCalls
}

func (e *fakeExecutor) starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startCalls
}

func (e *fakeExecutor) stops() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.stopped))
	copy(out, e.stopped)
	return out
}

type fakeNotifier struct {
	mu         sync.Mutex
	execEvents []models.Envelope
	userEvents []models.Envelope
}

func (n *fakeNotifier) ToExecution(executionID string, envelope models.Envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.execEvents = append(n.execEvents, envelope)
}

func (n *fakeNotifier) ToUser(userID string, envelope models.Envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.userEvents = append(n.userEvents, envelope)
}

func (n *fakeNotifier) types() []models.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.EventType, 0, len(n.execEvents))
	for _, envelope := range n.execEvents {
		out = append(out, envelope.Type)
	}
	return out
}

func (n *fakeNotifier) countType(eventType models.EventType) int {
	count := 0
	for _, got := range n.types() {
		if got == eventType {
			count++
		}
	}
	return count
}

func (n *fakeNotifier) lastOfType(eventType models.EventType) (models.Envelope, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.execEvents) - 1; i >= 0; i-- {
		if n.execEvents[i].Type == eventType {
			return n.execEvents[i], true
		}
	}
	return models.Envelope{}, false
}

func registeredAgent() *models.Agent {
	return &models.Agent{
		ID:         "agent-1",
		UserID:     "user-1",
		Name:       "summarizer",
		ExternalID: "agent-ext-1",
		Status:     models.AgentStatusActive,
	}
}

func pendingExecution() *models.Execution {
	return models.NewExecution("user-1", "agent-1", map[string]interface{}{"x": 1})
}

func statusResult(status models.ExecutionStatus) *executor.StatusResult {
	return &executor.StatusResult{Status: status}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestMonitorRunsToCompletion(t *testing.T) {
	store := &fakeStore{agent: registeredAgent()}
	exec := &fakeExecutor{
		startID: "ext-1",
		steps: []pollStep{
			{result: statusResult(models.ExecutionStatusRunning)},
			{result: &executor.StatusResult{
				Status:     models.ExecutionStatusCompleted,
				OutputData: map[string]interface{}{"y": float64(2)},
			}},
		},
	}
	notifier := &fakeNotifier{}
	execution := pendingExecution()

	m := newMonitor(execution, store, exec, notifier, time.Millisecond, zerolog.Nop())
	m.Run(context.Background())

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, map[string]interface{}{"y": float64(2)}, execution.OutputData)
	assert.Equal(t, "ext-1", execution.ExternalID)
	require.NotNil(t, execution.StartedAt)
	require.NotNil(t, execution.CompletedAt)

	assert.Equal(t, []models.EventType{
		models.EventExecutionStarted,
		models.EventExecutionStatusChanged,
		models.EventExecutionCompleted,
	}, notifier.types())

	// Every execution event is mirrored to the owning user.
	assert.Len(t, notifier.userEvents, len(notifier.execEvents))

	changed, ok := notifier.lastOfType(models.EventExecutionStatusChanged)
	require.True(t, ok)
	assert.Equal(t, models.ExecutionStatusRunning, changed.Data["previous_status"])
}

func TestMonitorRepeatedStatusIsNotRebroadcast(t *testing.T) {
	store := &fakeStore{agent: registeredAgent()}
	exec := &fakeExecutor{
		startID: "ext-1",
		steps: []pollStep{
			{result: statusResult(models.ExecutionStatusRunning)},
			{result: statusResult(models.ExecutionStatusRunning)},
			{result: statusResult(models.ExecutionStatusRunning)},
			{result: statusResult(models.ExecutionStatusCompleted)},
		},
	}
	notifier := &fakeNotifier{}

	m := newMonitor(pendingExecution(), store, exec, notifier, time.Millisecond, zerolog.Nop())
	m.Run(context.Background())

	assert.Equal(t, 1, notifier.countType(models.EventExecutionStatusChanged))
	assert.Equal(t, 1, notifier.countType(models.EventExecutionCompleted))
	assert.Len(t, notifier.execEvents, 3)
}

func TestMonitorStartRejectionFailsImmediately(t *testing.T) {
	store := &fakeStore{agent: registeredAgent()}
	exec := &fakeExecutor{
		startErr: &executor.RejectedError{StatusCode: 400, Reason: "bad config"},
		steps:    []pollStep{{result: statusResult(models.ExecutionStatusRunning)}},
	}
	notifier := &fakeNotifier{}
	execution := pendingExecution()

	m := newMonitor(execution, store, exec, notifier, time.Millisecond, zerolog.Nop())
	m.Run(context.Background())

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "bad config", execution.ErrorMessage)
	require.NotNil(t, execution.CompletedAt)
	assert.Equal(t, 1, notifier.countType(models.EventExecutionFailed))
	assert.Zero(t, exec.polls())
}

func TestMonitorUnregisteredAgentFails(t *testing.T) {
	agent := registeredAgent()
	agent.ExternalID = ""
	store := &fakeStore{agent: agent}
	exec := &fakeExecutor{steps: []pollStep{{result: statusResult(models.ExecutionStatusRunning)}}}
	notifier := &fakeNotifier{}
	execution := pendingExecution()

	m := newMonitor(execution, store, exec, notifier, time.Millisecond, zerolog.Nop())
	m.Run(context.Background())

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 1, notifier.countType(models.EventExecutionFailed))
	assert.Zero(t, exec.starts())
}

func TestMonitorRetriesWhileExecutorUnavailable(t *testing.T) {
	store := &fakeStore{agent: registeredAgent()}
	exec := &fakeExecutor{
		startID: "ext-1",
		steps: []pollStep{
			{err: executor.ErrUnavailable},
			{err: executor.ErrUnavailable},
			{result: statusResult(models.ExecutionStatusCompleted)},
		},
	}
	notifier := &fakeNotifier{}
	execution := pendingExecution()

	m := newMonitor(execution, store, exec, notifier, time.Millisecond, zerolog.Nop())
	m.Run(context.Background())

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 3, exec.polls())
	assert.Zero(t, notifier.countType(models.EventExecutionFailed))
}

func TestMonitorIgnoresUnknownExecutorStatus(t *testing.T) {
	store := &fakeStore{agent: registeredAgent()}
	exec := &fakeExecutor{
		startID: "ext-1",
		steps: []pollStep{
			{result: statusResult("booting")},
			{result: statusResult(models.ExecutionStatusCompleted)},
		},
	}
	notifier := &fakeNotifier{}
	execution := pendingExecution()

	m := newMonitor(execution, store, exec, notifier, time.Millisecond, zerolog.Nop())
	m.Run(context.Background())

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 1, notifier.countType(models.EventExecutionStatusChanged))
}

func TestMonitorCancelStopsExternalExecution(t *testing.T) {
	store := &fakeStore{agent: registeredAgent()}
	exec := &fakeExecutor{
		startID: "ext-1",
		steps:   []pollStep{{result: statusResult(models.ExecutionStatusRunning)}},
	}
	notifier := &fakeNotifier{}
	execution := pendingExecution()

	m := newMonitor(execution, store, exec, notifier, time.Millisecond, zerolog.Nop())
	go m.Run(context.Background())

	waitFor(t, func() bool { return exec.polls() >= 1 })
	m.signalCancel("user requested cancellation")
	<-m.done

	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	require.NotNil(t, execution.CompletedAt)
	assert.Equal(t, []string{"ext-1"}, exec.stops())

	require.Equal(t, 1, notifier.countType(models.EventExecutionCancelled))
	cancelled, _ := notifier.lastOfType(models.EventExecutionCancelled)
	assert.Equal(t, "user requested cancellation", cancelled.Data["reason"])
	assert.Zero(t, notifier.countType(models.EventExecutionFailed))
}

func TestMonitorCancelBeforeStartSkipsExecutor(t *testing.T) {
	store := &fakeStore{agent: registeredAgent()}
	exec := &fakeExecutor{
		startID: "ext-1",
		steps:   []pollStep{{result: statusResult(models.ExecutionStatusRunning)}},
	}
	notifier := &fakeNotifier{}
	execution := pendingExecution()

	m := newMonitor(execution, store, exec, notifier, time.Millisecond, zerolog.Nop())
	m.signalCancel("user requested cancellation")
	m.Run(context.Background())

	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Zero(t, exec.starts())
	assert.Empty(t, exec.stops())
}

func TestMonitorStopFailureStillCancels(t *testing.T) {
	store := &fakeStore{agent: registeredAgent()}
	exec := &fakeExecutor{
		startID: "ext-1",
		steps:   []pollStep{{result: statusResult(models.ExecutionStatusRunning)}},
		stopErr: errors.New("connection refused"),
	}
	notifier := &fakeNotifier{}
	execution := pendingExecution()

	m := newMonitor(execution, store, exec, notifier, time.Millisecond, zerolog.Nop())
	go m.Run(context.Background())

	waitFor(t, func() bool { return exec.polls() >= 1 })
	m.signalCancel("user requested cancellation")
	<-m.done

	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Equal(t, 1, notifier.countType(models.EventExecutionCancelled))
}

func TestMonitorContextCancellationCancelsExecution(t *testing.T) {
	store := &fakeStore{agent: registeredAgent()}
	exec := &fakeExecutor{
		startID: "ext-1",
		steps:   []pollStep{{result: statusResult(models.ExecutionStatusRunning)}},
	}
	notifier := &fakeNotifier{}
	execution := pendingExecution()

	ctx, cancel := context.WithCancel(context.Background())
	m := newMonitor(execution, store, exec, notifier, time.Millisecond, zerolog.Nop())
	go m.Run(ctx)

	waitFor(t, func() bool { return exec.polls() >= 1 })
	cancel()
	<-m.done

	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	cancelled, ok := notifier.lastOfType(models.EventExecutionCancelled)
	require.True(t, ok)
	assert.Equal(t, "server shutting down", cancelled.Data["reason"])
}

func TestMonitorPersistenceFailureEndsInFailedEvent(t *testing.T) {
	store := &fakeStore{agent: registeredAgent(), saveErr: errors.New("connection reset")}
	exec := &fakeExecutor{steps: []pollStep{{result: statusResult(models.ExecutionStatusRunning)}}}
	notifier := &fakeNotifier{}
	execution := pendingExecution()

	m := newMonitor(execution, store, exec, notifier, time.Millisecond, zerolog.Nop())
	m.Run(context.Background())

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 1, notifier.countType(models.EventExecutionFailed))
}
