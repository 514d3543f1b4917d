// internal/reaper/reaper.go
package reaper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"agenthub/internal/models"
)

// Store lists and persists executions for the sweep.
type Store interface {
	ListStaleExecutions(ctx context.Context, threshold time.Duration) ([]*models.Execution, error)
	SaveExecution(ctx context.Context, execution *models.Execution) error
}

// Notifier fans execution events out to observer connections.
type Notifier interface {
	ToUser(userID string, envelope models.Envelope)
	ToExecution(executionID string, envelope models.Envelope)
}

// Supervisor reports which executions currently have a live monitor.
type Supervisor interface {
	IsActive(executionID string) bool
}

// Reaper periodically fails executions orphaned by a crashed or
// restarted process: records stuck pending or running with no live
// monitor to ever finish them. An execution with an active monitor is
// never touched; that monitor is the record's sole writer.
type Reaper struct {
	store      Store
	notifier   Notifier
	supervisor Supervisor
	schedule   string
	threshold  time.Duration
	log        zerolog.Logger
	cron       *cron.Cron
}

func New(store Store, notifier Notifier, supervisor Supervisor, schedule string, threshold time.Duration, log zerolog.Logger) *Reaper {
	return &Reaper{
		store:      store,
		notifier:   notifier,
		supervisor: supervisor,
		schedule:   schedule,
		threshold:  threshold,
		log:        log,
	}
}

// Start schedules the sweep and runs one immediately to clean up
// after a previous process.
func (r *Reaper) Start() error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.schedule, r.Sweep); err != nil {
		return err
	}
	r.cron.Start()

	go r.Sweep()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Sweep fails every stale execution that no live monitor owns.
func (r *Reaper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	stale, err := r.store.ListStaleExecutions(ctx, r.threshold)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to list stale executions")
		return
	}

	for _, execution := range stale {
		if r.supervisor.IsActive(execution.ID) {
			continue
		}

		now := time.Now()
		execution.Status = models.ExecutionStatusFailed
		execution.ErrorMessage = "execution orphaned: no monitor is tracking it"
		execution.CompletedAt = &now

		if err := r.store.SaveExecution(ctx, execution); err != nil {
			r.log.Error().Err(err).Str("execution_id", execution.ID).Msg("failed to fail orphaned execution")
			continue
		}

		envelope := models.ExecutionEnvelope(models.EventExecutionFailed, execution, nil)
		r.notifier.ToExecution(execution.ID, envelope)
		r.notifier.ToUser(execution.UserID, envelope)

		r.log.Warn().Str("execution_id", execution.ID).Msg("failed orphaned execution")
	}
}
