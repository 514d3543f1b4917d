// internal/api/routes/routes.go
package routes

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"agenthub/internal/api/handlers"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Agents     *handlers.AgentHandler
	Tools      *handlers.ToolHandler
	Executions *handlers.ExecutionHandler
	WebSocket  *handlers.WebSocketHandler
	Status     *handlers.StatusHandler
	Verify     handlers.TokenVerifier
}

func SetupRouter(h Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Websocket endpoints carry their token in the query string and
	// must not sit behind the request timeout: the connection is
	// long-lived by design.
	r.Route("/ws", func(r chi.Router) {
		r.Get("/", h.WebSocket.ServeUser)
		r.Get("/executions/{id}", h.WebSocket.ServeExecution)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(jsonContentType)
		r.Use(bearerAuth(h.Verify))

		r.Route("/agents", func(r chi.Router) {
			r.Post("/", h.Agents.CreateAgent)
			r.Get("/", h.Agents.ListAgents)
			r.Get("/{id}", h.Agents.GetAgent)
			r.Put("/{id}", h.Agents.UpdateAgent)
			r.Delete("/{id}", h.Agents.DeleteAgent)
		})

		r.Route("/tools", func(r chi.Router) {
			r.Post("/", h.Tools.CreateTool)
			r.Get("/", h.Tools.ListTools)
			r.Get("/{id}", h.Tools.GetTool)
			r.Put("/{id}", h.Tools.UpdateTool)
			r.Delete("/{id}", h.Tools.DeleteTool)
		})

		r.Route("/executions", func(r chi.Router) {
			r.Post("/", h.Executions.CreateExecution)
			r.Get("/", h.Executions.ListExecutions)
			r.Get("/{id}", h.Executions.GetExecution)
			r.Get("/{id}/result", h.Executions.GetExecutionResult)
			r.Delete("/{id}", h.Executions.DeleteExecution)
		})

		r.Get("/system/status", h.Status.GetSystemStatus)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	return r
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// bearerAuth resolves the Authorization header to a user id via the
// injected verifier and stores it on the request context.
func bearerAuth(verify handlers.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			userID, err := verify(token)
			if err != nil {
				http.Error(w, "invalid authentication token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(handlers.WithUserID(r.Context(), userID)))
		})
	}
}
