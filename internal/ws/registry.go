// internal/ws/registry.go
package ws

import "sync"

// subscription is the (user, optional execution) association a
// connection establishes at register time. It is immutable for the
// connection's lifetime and is what failure-path cleanup uses, so a
// dying connection is always removed under its real identity.
type subscription struct {
	userID      string
	executionID string // empty for user-wide subscriptions
}

// Registry tracks live observer connections and their subscriptions.
// All mutation goes through Register/Unregister; readers get copies,
// never the live index maps.
type Registry struct {
	mu          sync.RWMutex
	connections map[Connection]subscription
	byUser      map[string]map[Connection]struct{}
	byExecution map[string]map[Connection]struct{}
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[Connection]subscription),
		byUser:      make(map[string]map[Connection]struct{}),
		byExecution: make(map[string]map[Connection]struct{}),
	}
}

// Register adds a connection subscribed to a user's updates and,
// when executionID is non-empty, to one execution's updates.
func (r *Registry) Register(conn Connection, userID, executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn] = subscription{userID: userID, executionID: executionID}

	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[Connection]struct{})
	}
	r.byUser[userID][conn] = struct{}{}

	if executionID != "" {
		if r.byExecution[executionID] == nil {
			r.byExecution[executionID] = make(map[Connection]struct{})
		}
		r.byExecution[executionID][conn] = struct{}{}
	}
}

// Unregister removes a connection from all indexes. Removing an
// absent connection is a no-op, tolerating races between dead
// connection cleanup and an explicit disconnect.
func (r *Registry) Unregister(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.connections[conn]
	if !ok {
		return
	}
	delete(r.connections, conn)

	if set, ok := r.byUser[sub.userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.byUser, sub.userID)
		}
	}

	if sub.executionID != "" {
		if set, ok := r.byExecution[sub.executionID]; ok {
			delete(set, conn)
			if len(set) == 0 {
				delete(r.byExecution, sub.executionID)
			}
		}
	}
}

// ConnectionsForUser returns a snapshot of the connections subscribed
// to a user's updates.
func (r *Registry) ConnectionsForUser(userID string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.byUser[userID])
}

// ConnectionsForExecution returns a snapshot of the connections
// subscribed to one execution's updates.
func (r *Registry) ConnectionsForExecution(executionID string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.byExecution[executionID])
}

// AllConnections returns a snapshot of every registered connection.
func (r *Registry) AllConnections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connection, 0, len(r.connections))
	for conn := range r.connections {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

func snapshot(set map[Connection]struct{}) []Connection {
	conns := make([]Connection, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	return conns
}
