// internal/api/handlers/tool_handler.go
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

type ToolHandler struct {
	store    *storage.Store
	executor *executor.Client
}

func NewToolHandler(store *storage.Store, executorClient *executor.Client) *ToolHandler {
	return &ToolHandler{
		store:    store,
		executor: executorClient,
	}
}

type createToolRequest struct {
	Name          string                 `json:"name" validate:"required"`
	Schema        map[string]interface{} `json:"schema" validate:"required"`
	Configuration map[string]interface{} `json:"configuration"`
}

type updateToolRequest struct {
	Name          string                 `json:"name"`
	Configuration map[string]interface{} `json:"configuration"`
	Version       string                 `json:"version"`
}

func (h *ToolHandler) CreateTool(w http.ResponseWriter, r *http.Request) {
	var req createToolRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Configuration == nil {
		req.Configuration = make(map[string]interface{})
	}

	tool := models.NewTool(UserIDFromContext(r.Context()), req.Name, req.Schema, req.Configuration)

	externalID, err := h.executor.RegisterTool(r.Context(), tool.Name, tool.Schema, tool.Configuration)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to register tool with executor: "+err.Error())
		return
	}
	tool.ExternalID = externalID

	if err := h.store.CreateTool(r.Context(), tool); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store tool")
		return
	}

	respondJSON(w, http.StatusCreated, tool)
}

func (h *ToolHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := h.store.ListTools(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tools")
		return
	}
	if tools == nil {
		tools = []*models.Tool{}
	}
	respondJSON(w, http.StatusOK, tools)
}

func (h *ToolHandler) GetTool(w http.ResponseWriter, r *http.Request) {
	tool, ok := h.ownedTool(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, tool)
}

func (h *ToolHandler) UpdateTool(w http.ResponseWriter, r *http.Request) {
	tool, ok := h.ownedTool(w, r)
	if !ok {
		return
	}

	var req updateToolRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != "" {
		tool.Name = req.Name
	}
	if req.Version != "" {
		tool.Version = req.Version
	}
	if req.Configuration != nil {
		tool.Configuration = req.Configuration
		if tool.ExternalID != "" {
			if err := h.executor.UpdateTool(r.Context(), tool.ExternalID, tool.Configuration); err != nil {
				respondError(w, http.StatusBadRequest, "failed to update tool with executor: "+err.Error())
				return
			}
		}
	}

	if err := h.store.UpdateTool(r.Context(), tool); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update tool")
		return
	}

	respondJSON(w, http.StatusOK, tool)
}

func (h *ToolHandler) DeleteTool(w http.ResponseWriter, r *http.Request) {
	tool, ok := h.ownedTool(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteTool(r.Context(), tool.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete tool")
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

func (h *ToolHandler) ownedTool(w http.ResponseWriter, r *http.Request) (*models.Tool, bool) {
	tool, err := h.store.GetTool(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			respondError(w, http.StatusNotFound, "tool not found")
		} else {
			respondError(w, http.StatusInternalServerError, "failed to load tool")
		}
		return nil, false
	}

	if tool.UserID != UserIDFromContext(r.Context()) {
		respondError(w, http.StatusForbidden, "not enough permissions")
		return nil, false
	}

	return tool, true
}
