// internal/ws/conn.go
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agenthub/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
)

// Connection is an observer handle capable of receiving envelopes.
// Identity is reference equality; the registry owns a connection for
// its registered lifetime.
type Connection interface {
	Send(envelope models.Envelope) error
	Close(code int) error
}

// WebSocketConn adapts a gorilla websocket connection. Writes are
// serialized through a mutex because gorilla allows only one
// concurrent writer per connection.
type WebSocketConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWebSocketConn wraps an upgraded websocket connection
func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{conn: conn}
}

func (c *WebSocketConn) Send(envelope models.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(envelope)
}

func (c *WebSocketConn) Close(code int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), deadline)
	return c.conn.Close()
}
