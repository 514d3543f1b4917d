// internal/api/handlers/execution_handler.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"agenthub/internal/executor"
	"agenthub/internal/models"
	"agenthub/internal/monitor"
	"agenthub/internal/storage"
	"agenthub/internal/storage/postgres"
	"agenthub/internal/ws"
)

const defaultListLimit = 100

type ExecutionHandler struct {
	store       *storage.Store
	supervisor  *monitor.Supervisor
	broadcaster *ws.Broadcaster
	executor    *executor.Client

	// baseCtx outlives any single request; monitors launched from a
	// create must not die with the request that triggered them.
	baseCtx context.Context
}

func NewExecutionHandler(baseCtx context.Context, store *storage.Store, supervisor *monitor.Supervisor, broadcaster *ws.Broadcaster, executorClient *executor.Client) *ExecutionHandler {
	return &ExecutionHandler{
		store:       store,
		supervisor:  supervisor,
		broadcaster: broadcaster,
		executor:    executorClient,
		baseCtx:     baseCtx,
	}
}

type createExecutionRequest struct {
	AgentID   string                 `json:"agentId" validate:"required"`
	InputData map[string]interface{} `json:"inputData" validate:"required"`
}

func (h *ExecutionHandler) CreateExecution(w http.ResponseWriter, r *http.Request) {
	var req createExecutionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := UserIDFromContext(r.Context())

	agent, err := h.store.GetAgent(r.Context(), req.AgentID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			respondError(w, http.StatusNotFound, "agent not found")
		} else {
			respondError(w, http.StatusInternalServerError, "failed to load agent")
		}
		return
	}
	if agent.UserID != userID {
		respondError(w, http.StatusForbidden, "not enough permissions")
		return
	}
	if agent.ExternalID == "" {
		respondError(w, http.StatusBadRequest, "agent is not registered with the executor")
		return
	}

	execution := models.NewExecution(userID, agent.ID, req.InputData)
	if err := h.store.CreateExecution(r.Context(), execution); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create execution")
		return
	}

	envelope := models.ExecutionEnvelope(models.EventExecutionCreated, execution, nil)
	h.broadcaster.ToExecution(execution.ID, envelope)
	h.broadcaster.ToUser(execution.UserID, envelope)

	if err := h.supervisor.Start(h.baseCtx, execution); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, execution)
}

func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", defaultListLimit)

	executions, err := h.store.ListExecutions(r.Context(), UserIDFromContext(r.Context()), skip, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if executions == nil {
		executions = []*models.Execution{}
	}
	respondJSON(w, http.StatusOK, executions)
}

func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	execution, ok := h.ownedExecution(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, execution)
}

// GetExecutionResult returns the stored result. When the execution is
// recorded as running but no monitor owns it (for example after a
// restart), the executor is consulted once and the record refreshed.
// A live monitor is the record's sole writer, so in that case the
// stored state is returned as-is.
func (h *ExecutionHandler) GetExecutionResult(w http.ResponseWriter, r *http.Request) {
	execution, ok := h.ownedExecution(w, r)
	if !ok {
		return
	}

	if execution.Status == models.ExecutionStatusRunning &&
		execution.ExternalID != "" &&
		!h.supervisor.IsActive(execution.ID) {
		h.refreshFromExecutor(r.Context(), execution)
	}

	respondJSON(w, http.StatusOK, models.ExecutionResult{
		ExecutionID:  execution.ID,
		Status:       execution.Status,
		OutputData:   execution.OutputData,
		ErrorMessage: execution.ErrorMessage,
		CompletedAt:  execution.CompletedAt,
	})
}

func (h *ExecutionHandler) DeleteExecution(w http.ResponseWriter, r *http.Request) {
	execution, ok := h.ownedExecution(w, r)
	if !ok {
		return
	}

	// A live execution is cancelled before its record goes away so the
	// executor stops doing work nobody will ever read.
	if h.supervisor.IsActive(execution.ID) {
		h.supervisor.Cancel(execution.ID, "user requested cancellation")
	}

	if err := h.store.DeleteExecution(r.Context(), execution.ID); err != nil && !errors.Is(err, postgres.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, "failed to delete execution")
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

func (h *ExecutionHandler) refreshFromExecutor(ctx context.Context, execution *models.Execution) {
	result, err := h.executor.GetExecutionStatus(ctx, execution.ExternalID)
	if err != nil || result.Status == execution.Status {
		return
	}
	switch result.Status {
	case models.ExecutionStatusRunning, models.ExecutionStatusCompleted, models.ExecutionStatusFailed:
	default:
		return
	}

	previous := execution.Status
	execution.Status = result.Status
	execution.OutputData = result.OutputData
	execution.ErrorMessage = result.ErrorMessage
	if execution.Status.IsTerminal() {
		now := time.Now()
		execution.CompletedAt = &now
	}
	if err := h.store.SaveExecution(ctx, execution); err != nil {
		return
	}

	envelope := models.ExecutionEnvelope(models.EventExecutionStatusChanged, execution, map[string]interface{}{
		"previous_status": previous,
	})
	h.broadcaster.ToExecution(execution.ID, envelope)
	h.broadcaster.ToUser(execution.UserID, envelope)
}

func (h *ExecutionHandler) ownedExecution(w http.ResponseWriter, r *http.Request) (*models.Execution, bool) {
	execution, err := h.store.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			respondError(w, http.StatusNotFound, "execution not found")
		} else {
			respondError(w, http.StatusInternalServerError, "failed to load execution")
		}
		return nil, false
	}

	if execution.UserID != UserIDFromContext(r.Context()) {
		respondError(w, http.StatusForbidden, "not enough permissions")
		return nil, false
	}

	return execution, true
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal >= 0 {
			return intVal
		}
	}
	return defaultValue
}
