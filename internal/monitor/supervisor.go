// internal/monitor/supervisor.go
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"agenthub/internal/models"
)

// Supervisor launches one monitor per newly created execution,
// independent of the request that created it, and routes out-of-band
// cancellations. Exactly one monitor exists per live execution;
// starting a second one for the same execution is rejected so the
// single-writer rule on the execution record holds.
type Supervisor struct {
	store        Store
	executor     Executor
	notifier     Notifier
	pollInterval time.Duration
	log          zerolog.Logger

	mu       sync.Mutex
	monitors map[string]*Monitor
	workers  sync.WaitGroup
}

func NewSupervisor(store Store, exec Executor, notifier Notifier, pollInterval time.Duration, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		store:        store,
		executor:     exec,
		notifier:     notifier,
		pollInterval: pollInterval,
		log:          log,
		monitors:     make(map[string]*Monitor),
	}
}

// Start launches a monitor for the execution. The caller does not
// wait for completion. Returns an error if the execution is already
// being monitored.
func (s *Supervisor) Start(ctx context.Context, execution *models.Execution) error {
	s.mu.Lock()
	if _, exists := s.monitors[execution.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("execution %s is already being monitored", execution.ID)
	}

	m := newMonitor(execution, s.store, s.executor, s.notifier, s.pollInterval, s.log)
	s.monitors[execution.ID] = m
	s.workers.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.workers.Done()
		defer s.remove(execution.ID)
		m.Run(ctx)
	}()

	s.log.Info().Str("execution_id", execution.ID).Msg("monitor started")
	return nil
}

// Cancel signals the execution's monitor to stop. Safe to call for an
// execution that has already reached a terminal state: its monitor is
// gone and the call is a no-op.
func (s *Supervisor) Cancel(executionID, reason string) {
	s.mu.Lock()
	m := s.monitors[executionID]
	s.mu.Unlock()

	if m == nil {
		return
	}
	m.signalCancel(reason)
}

// IsActive reports whether a monitor is currently live for the execution.
func (s *Supervisor) IsActive(executionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.monitors[executionID]
	return ok
}

// ActiveCount returns the number of live monitors.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.monitors)
}

// Shutdown waits for all live monitors to reach a terminal state,
// bounded by the timeout.
func (s *Supervisor) Shutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %v", timeout)
	}
}

func (s *Supervisor) remove(executionID string) {
	s.mu.Lock()
	delete(s.monitors, executionID)
	s.mu.Unlock()
}
