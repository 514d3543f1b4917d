// internal/api/handlers/agent_handler.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"agenthub/internal/executor"
	"agenthub/internal/models"
	"agenthub/internal/storage"
	"agenthub/internal/storage/postgres"
)

type AgentHandler struct {
	store    *storage.Store
	executor *executor.Client
}

func NewAgentHandler(store *storage.Store, executorClient *executor.Client) *AgentHandler {
	return &AgentHandler{
		store:    store,
		executor: executorClient,
	}
}

type createAgentRequest struct {
	Name          string                 `json:"name" validate:"required"`
	Configuration map[string]interface{} `json:"configuration"`
}

type updateAgentRequest struct {
	Name          string                 `json:"name"`
	Configuration map[string]interface{} `json:"configuration"`
}

func (h *AgentHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Configuration == nil {
		req.Configuration = make(map[string]interface{})
	}

	agent := models.NewAgent(UserIDFromContext(r.Context()), req.Name, req.Configuration)

	externalID, err := h.executor.RegisterAgent(r.Context(), agent.Name, agent.Configuration)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to register agent with executor: "+err.Error())
		return
	}
	agent.ExternalID = externalID
	agent.Status = models.AgentStatusActive

	if err := h.store.CreateAgent(r.Context(), agent); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store agent")
		return
	}

	respondJSON(w, http.StatusCreated, agent)
}

func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.ListAgents(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	if agents == nil {
		agents = []*models.Agent{}
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *AgentHandler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}

	var req updateAgentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != "" {
		agent.Name = req.Name
	}
	if req.Configuration != nil {
		agent.Configuration = req.Configuration
		if agent.ExternalID != "" {
			if err := h.executor.UpdateAgent(r.Context(), agent.ExternalID, agent.Configuration); err != nil {
				agent.Status = models.AgentStatusError
			} else {
				agent.Status = models.AgentStatusActive
			}
		}
	}

	if err := h.store.UpdateAgent(r.Context(), agent); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update agent")
		return
	}

	respondJSON(w, http.StatusOK, agent)
}

func (h *AgentHandler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteAgent(r.Context(), agent.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete agent")
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

// ownedAgent loads the agent from the path id and enforces ownership.
func (h *AgentHandler) ownedAgent(w http.ResponseWriter, r *http.Request) (*models.Agent, bool) {
	agent, err := h.store.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			respondError(w, http.StatusNotFound, "agent not found")
		} else {
			respondError(w, http.StatusInternalServerError, "failed to load agent")
		}
		return nil, false
	}

	if agent.UserID != UserIDFromContext(r.Context()) {
		respondError(w, http.StatusForbidden, "not enough permissions")
		return nil, false
	}

	return agent, true
}
