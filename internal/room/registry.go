// ABOUTME: In-memory session registry mapping live connections to rooms
// ABOUTME: Fan-out broadcast of outbound events to every member of a session

package room

import (
	"log/slog"
	"sync"

	"github.com/skillburner/consult-gateway/internal/protocol"
)

const (
	// memberBufferSize is the channel buffer for each room member.
	memberBufferSize = 64
)

// Registry maps session ids to the set of connections currently bound to
// them. A connection is a member of at most one room at a time; Join moves
// it. Rooms are created lazily on first join and removed when emptied.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]map[string]chan *protocol.Event // sessionID -> connID -> ch
	membership map[string]string                          // connID -> sessionID
	logger     *slog.Logger
}

// NewRegistry creates a registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:      make(map[string]map[string]chan *protocol.Event),
		membership: make(map[string]string),
		logger:     logger.With("component", "rooms"),
	}
}

// Join adds a connection to a session's room, first removing any prior
// membership. Returns the channel the member receives broadcasts on.
func (r *Registry) Join(connID, sessionID string) <-chan *protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(connID)

	ch := make(chan *protocol.Event, memberBufferSize)
	if _, ok := r.rooms[sessionID]; !ok {
		r.rooms[sessionID] = make(map[string]chan *protocol.Event)
	}
	r.rooms[sessionID][connID] = ch
	r.membership[connID] = sessionID

	r.logger.Debug("connection joined room",
		"conn_id", connID,
		"session_id", sessionID)

	return ch
}

// Leave removes a connection from whatever room it is in and closes its
// channel. Safe to call for connections with no membership.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID)
}

func (r *Registry) leaveLocked(connID string) {
	sessionID, ok := r.membership[connID]
	if !ok {
		return
	}
	delete(r.membership, connID)

	members, ok := r.rooms[sessionID]
	if !ok {
		return
	}
	if ch, exists := members[connID]; exists {
		delete(members, connID)
		close(ch)
	}
	if len(members) == 0 {
		delete(r.rooms, sessionID)
	}

	r.logger.Debug("connection left room",
		"conn_id", connID,
		"session_id", sessionID)
}

// Broadcast delivers an event to every current member of a session's room.
// An empty room is a no-op. Non-blocking: events are dropped for members
// whose channels are full. Sends happen under the read lock; channels are
// only closed under the write lock, so a send can never hit a closed
// channel even while members are leaving.
func (r *Registry) Broadcast(sessionID string, event *protocol.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[sessionID]
	if len(members) == 0 {
		return
	}

	for _, ch := range members {
		select {
		case ch <- event:
			// Sent
		default:
			r.logger.Debug("dropped event for slow room member",
				"session_id", sessionID,
				"event_type", event.Type)
		}
	}
}

// MemberSession reports which session a connection is bound to, if any.
func (r *Registry) MemberSession(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.membership[connID]
	return sessionID, ok
}

// Close shuts down the registry and closes all member channels.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sessionID, members := range r.rooms {
		for connID, ch := range members {
			close(ch)
			delete(members, connID)
			delete(r.membership, connID)
		}
		delete(r.rooms, sessionID)
	}

	r.logger.Debug("registry closed")
}
