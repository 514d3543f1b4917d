// internal/api/handlers/ws_handler.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"agenthub/internal/models"
	"agenthub/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TokenVerifier resolves an opaque client token to a user id.
// Authentication itself lives outside this service.
type TokenVerifier func(token string) (string, error)

type WebSocketHandler struct {
	registry  *ws.Registry
	verify    TokenVerifier
	readLimit int64
	log       zerolog.Logger
}

func NewWebSocketHandler(registry *ws.Registry, verify TokenVerifier, readLimit int64, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		registry:  registry,
		verify:    verify,
		readLimit: readLimit,
		log:       log,
	}
}

// ServeUser subscribes the client to all of its user's execution updates.
func (h *WebSocketHandler) ServeUser(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "")
}

// ServeExecution subscribes the client to a single execution's updates.
func (h *WebSocketHandler) ServeExecution(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, chi.URLParam(r, "id"))
}

func (h *WebSocketHandler) serve(w http.ResponseWriter, r *http.Request, executionID string) {
	userID, err := h.verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid authentication token", http.StatusUnauthorized)
		return
	}

	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	rawConn.SetReadLimit(h.readLimit)

	conn := ws.NewWebSocketConn(rawConn)

	// The acknowledgement goes out before the connection is
	// registered, so no execution event can overtake it.
	if executionID != "" {
		ack := models.Envelope{
			Type: models.EventConnected,
			Data: map[string]interface{}{
				"execution_id": executionID,
				"message":      "Connected to execution updates",
			},
		}
		if err := conn.Send(ack); err != nil {
			conn.Close(websocket.CloseGoingAway)
			return
		}
	}

	h.registry.Register(conn, userID, executionID)
	defer h.registry.Unregister(conn)

	h.log.Debug().
		Str("user_id", userID).
		Str("execution_id", executionID).
		Msg("observer connected")

	// Inbound messages are not part of the protocol; the read loop
	// exists to detect the peer going away.
	for {
		if _, _, err := rawConn.ReadMessage(); err != nil {
			break
		}
	}

	conn.Close(websocket.CloseNormalClosure)
	h.log.Debug().Str("user_id", userID).Msg("observer disconnected")
}
