// internal/api/handlers/status_handler.go
package handlers

import (
	"net/http"
	"time"

	"agenthub/internal/monitor"
	"agenthub/internal/ws"
)

type StatusHandler struct {
	supervisor *monitor.Supervisor
	registry   *ws.Registry
	startedAt  time.Time
}

func NewStatusHandler(supervisor *monitor.Supervisor, registry *ws.Registry) *StatusHandler {
	return &StatusHandler{
		supervisor: supervisor,
		registry:   registry,
		startedAt:  time.Now(),
	}
}

func (h *StatusHandler) GetSystemStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"activeMonitors":  h.supervisor.ActiveCount(),
		"connectionCount": h.registry.Count(),
		"uptimeSeconds":   int(time.Since(h.startedAt).Seconds()),
		"updatedAt":       time.Now(),
	})
}
