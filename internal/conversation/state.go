// ABOUTME: Per-connection authentication/session state machine
// ABOUTME: State is a closed sum so illegal operations are unrepresentable

package conversation

import (
	"sync"

	"github.com/skillburner/consult-gateway/internal/store"
)

// State is the connection lifecycle position. The three live variants are
// Unauthenticated, Authenticated and Bound; Disconnected is terminal.
// Operations that need an identity or a bound session type-switch on the
// variant, so there is no way to, say, send a message without a session.
type State interface {
	isState()
}

// Unauthenticated is the initial state: the transport is open but no
// identity assertion has been accepted yet.
type Unauthenticated struct{}

// Authenticated carries the verified identity. No session is bound.
type Authenticated struct {
	Identity *store.Identity
}

// Bound carries the identity plus the single session the connection is
// currently in.
type Bound struct {
	Identity  *store.Identity
	SessionID string
}

// Disconnected is terminal; no further operations are accepted.
type Disconnected struct{}

func (Unauthenticated) isState() {}
func (Authenticated) isState()   {}
func (Bound) isState()           {}
func (Disconnected) isState()    {}

// Conn is the ephemeral per-connection record. It exists only for the
// transport's lifetime and is never persisted. The mutex guards state
// transitions against a disconnect racing an in-flight operation.
type Conn struct {
	ID string

	mu    sync.Mutex
	state State
}

// NewConn creates a connection record in the Unauthenticated state.
func NewConn(id string) *Conn {
	return &Conn{ID: id, state: Unauthenticated{}}
}

// State returns the current state variant.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState transitions the connection. Transitions out of Disconnected are
// ignored: a close always wins.
func (c *Conn) setState(next State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, closed := c.state.(Disconnected); closed {
		return
	}
	c.state = next
}

// identity returns the connection's identity for the Authenticated and
// Bound states.
func (c *Conn) identity() (*store.Identity, bool) {
	switch s := c.State().(type) {
	case Authenticated:
		return s.Identity, true
	case Bound:
		return s.Identity, true
	default:
		return nil, false
	}
}

// boundSession returns the identity and session id when the connection is
// in the Bound state.
func (c *Conn) boundSession() (*store.Identity, string, bool) {
	if s, ok := c.State().(Bound); ok {
		return s.Identity, s.SessionID, true
	}
	return nil, "", false
}
