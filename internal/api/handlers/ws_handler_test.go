// internal/api/handlers/ws_handler_test.go
package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/models"
	"agenthub/internal/ws"
)

func newWebSocketTestServer(t *testing.T) (*httptest.Server, *ws.Registry, *ws.Broadcaster) {
	t.Helper()

	registry := ws.NewRegistry()
	broadcaster := ws.NewBroadcaster(registry, zerolog.Nop())
	verify := func(token string) (string, error) {
		if token == "good" {
			return "user-1", nil
		}
		return "", errors.New("unknown token")
	}
	handler := NewWebSocketHandler(registry, verify, 64*1024, zerolog.Nop())

	router := chi.NewRouter()
	router.Get("/ws", handler.ServeUser)
	router.Get("/ws/executions/{id}", handler.ServeExecution)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, registry, broadcaster
}

func dialWebSocket(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func waitForCount(t *testing.T, registry *ws.Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("registry never reached %d connections", want)
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	srv, _, _ := newWebSocketTestServer(t)

	resp, err := http.Get(srv.URL + "/ws/executions/exec-1?token=bad")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketExecutionSubscriberGetsAckFirst(t *testing.T) {
	srv, registry, broadcaster := newWebSocketTestServer(t)

	conn := dialWebSocket(t, srv, "/ws/executions/exec-1?token=good")
	waitForCount(t, registry, 1)

	execution := models.NewExecution("user-1", "agent-1", nil)
	execution.ID = "exec-1"
	execution.Status = models.ExecutionStatusRunning
	broadcaster.ToExecution("exec-1", models.ExecutionEnvelope(models.EventExecutionStarted, execution, nil))

	var ack models.Envelope
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, models.EventConnected, ack.Type)
	assert.Equal(t, "exec-1", ack.Data["execution_id"])

	var event models.Envelope
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, models.EventExecutionStarted, event.Type)
	assert.Equal(t, "exec-1", event.Data["execution_id"])
	assert.Equal(t, string(models.ExecutionStatusRunning), event.Data["status"])
}

func TestWebSocketUserSubscriberGetsUserEvents(t *testing.T) {
	srv, registry, broadcaster := newWebSocketTestServer(t)

	conn := dialWebSocket(t, srv, "/ws?token=good")
	waitForCount(t, registry, 1)

	execution := models.NewExecution("user-1", "agent-1", nil)
	broadcaster.ToUser("user-1", models.ExecutionEnvelope(models.EventExecutionCompleted, execution, nil))
	broadcaster.ToUser("user-2", models.ExecutionEnvelope(models.EventExecutionFailed, execution, nil))

	var event models.Envelope
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, models.EventExecutionCompleted, event.Type)
}

func TestWebSocketDisconnectUnregisters(t *testing.T) {
	srv, registry, _ := newWebSocketTestServer(t)

	conn := dialWebSocket(t, srv, "/ws?token=good")
	waitForCount(t, registry, 1)

	conn.Close()
	waitForCount(t, registry, 0)
}
