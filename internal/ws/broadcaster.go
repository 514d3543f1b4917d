// internal/ws/broadcaster.go
package ws

import (
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"agenthub/internal/models"
)

// Broadcaster fans an envelope out to every registered connection
// matching a selector. Targets are snapshotted before sending so a
// slow peer never blocks registry mutation, and a failed send prunes
// only that connection.
type Broadcaster struct {
	registry *Registry
	log      zerolog.Logger
}

// NewBroadcaster creates a broadcaster over the given registry
func NewBroadcaster(registry *Registry, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, log: log}
}

// ToUser sends the envelope to every connection subscribed to the user.
func (b *Broadcaster) ToUser(userID string, envelope models.Envelope) {
	b.send(b.registry.ConnectionsForUser(userID), envelope)
}

// ToExecution sends the envelope to every connection watching the execution.
func (b *Broadcaster) ToExecution(executionID string, envelope models.Envelope) {
	b.send(b.registry.ConnectionsForExecution(executionID), envelope)
}

// ToAll sends the envelope to every registered connection.
func (b *Broadcaster) ToAll(envelope models.Envelope) {
	b.send(b.registry.AllConnections(), envelope)
}

func (b *Broadcaster) send(conns []Connection, envelope models.Envelope) {
	for _, conn := range conns {
		if err := conn.Send(envelope); err != nil {
			b.log.Warn().Err(err).
				Str("event_type", string(envelope.Type)).
				Msg("dropping connection after failed send")
			b.registry.Unregister(conn)
			conn.Close(websocket.CloseGoingAway)
		}
	}
}
