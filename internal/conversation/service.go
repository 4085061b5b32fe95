// ABOUTME: Service is the central relay layer for conversation turns
// ABOUTME: All messages are persisted first, then broadcast, then answered by the agent

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillburner/consult-gateway/internal/agent"
	"github.com/skillburner/consult-gateway/internal/auth"
	"github.com/skillburner/consult-gateway/internal/protocol"
	"github.com/skillburner/consult-gateway/internal/room"
	"github.com/skillburner/consult-gateway/internal/store"
)

// Service errors, converted to typed error events at the transport boundary.
var (
	// ErrNotAuthenticated: the operation needs an identity.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNoActiveSession: sendMessage outside the Bound state.
	ErrNoActiveSession = errors.New("no active session")

	// ErrEmptyMessage: trimmed message text is empty. Rejected locally
	// with no writes and no agent call.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrSessionAccess covers both a nonexistent session and one owned by
	// another identity. The shapes are deliberately identical so a caller
	// cannot probe which foreign session ids exist.
	ErrSessionAccess = errors.New("session not found")

	// ErrConnectionClosed: the connection already disconnected.
	ErrConnectionClosed = errors.New("connection closed")
)

// Fabricated agent-turn error texts, one per transport cause.
const (
	textRemoteError = "Sorry, there was an error getting a response from the agent."
	textNoResponse  = "Sorry, the agent did not respond."
	textSendFailed  = "Sorry, there was an error setting up the request to the agent."
)

// persistTimeout bounds background writes that must outlive a cancelled
// request context (a disconnect mid-turn never aborts a write).
const persistTimeout = 5 * time.Second

// AgentGateway defines what the service needs from the agent layer.
type AgentGateway interface {
	CreateSession(ctx context.Context, userID, sessionID, displayName string) error
	DeleteSession(ctx context.Context, userID, sessionID string) error
	Run(ctx context.Context, userID, sessionID, text string) ([]agent.ResponseItem, error)
	AgentName() string
}

// Service coordinates the connection state machine, the session registry and
// the message relay.
type Service struct {
	store  store.Store
	agent  AgentGateway
	rooms  *room.Registry
	logger *slog.Logger

	// emptyReplyNotice, when non-empty, is broadcast as a normal agent
	// message for turns whose response carried no extractable text.
	// Empty means such turns complete silently.
	emptyReplyNotice string

	turnLocks sync.Map // sessionID -> *sync.Mutex, serializes turns per session
}

// Option configures a Service.
type Option func(*Service)

// WithEmptyReplyNotice makes tool-only agent turns visible: the room
// receives a non-error agent message with the given text instead of
// silent completion.
func WithEmptyReplyNotice(text string) Option {
	return func(s *Service) { s.emptyReplyNotice = text }
}

// New creates the conversation service.
func New(st store.Store, gw AgentGateway, rooms *room.Registry, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  st,
		agent:  gw,
		rooms:  rooms,
		logger: logger.With("component", "conversation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AuthResult is the outcome of a successful authentication handshake.
type AuthResult struct {
	Identity *store.Identity
	Sessions []*store.SessionSummary
}

// Authenticate upserts the asserted identity by email and moves the
// connection to Authenticated. On store failure the connection stays where
// it was and the caller must not leak identity data in its error event.
func (s *Service) Authenticate(ctx context.Context, conn *Conn, assertion *auth.Assertion) (*AuthResult, error) {
	if _, closed := conn.State().(Disconnected); closed {
		return nil, ErrConnectionClosed
	}

	now := time.Now()
	identity, err := s.store.UpsertIdentity(ctx, &store.Identity{
		ID:          uuid.New().String(),
		Email:       assertion.Email,
		DisplayName: assertion.Name,
		AvatarRef:   assertion.AvatarRef,
		CreatedAt:   now,
		LastSeenAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("upserting identity: %w", err)
	}

	sessions, err := s.store.ListSessionsByOwner(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	// Re-authentication while bound drops the room membership: the new
	// identity may not own the old session.
	s.rooms.Leave(conn.ID)
	conn.setState(Authenticated{Identity: identity})

	s.logger.Info("connection authenticated",
		"conn_id", conn.ID,
		"identity_id", identity.ID)

	return &AuthResult{Identity: identity, Sessions: sessions}, nil
}

// SessionHandle is the outcome of creating or joining a session: the
// session, its message history, and the channel room broadcasts arrive on.
type SessionHandle struct {
	Session  *store.Session
	Messages []*store.Message
	Events   <-chan *protocol.Event
}

// CreateSession creates a new session owned by the connection's identity
// and binds the connection to it, leaving any previous room first. The
// agent-side mirror is initialized asynchronously; a mirror failure is
// logged and never rolls back local creation.
func (s *Service) CreateSession(ctx context.Context, conn *Conn) (*SessionHandle, error) {
	identity, ok := conn.identity()
	if !ok {
		return nil, ErrNotAuthenticated
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	now := time.Now()
	session := &store.Session{
		ID:             id.String(),
		OwnerID:        identity.ID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		// A duplicate random id means something is deeply wrong with the
		// generator or the store; surface it, never re-roll.
		return nil, fmt.Errorf("creating session: %w", err)
	}

	events := s.rooms.Join(conn.ID, session.ID)
	conn.setState(Bound{Identity: identity, SessionID: session.ID})

	// Mirror initialization is outside the creation critical path.
	go s.initAgentMirror(identity, session.ID)

	s.logger.Info("session created",
		"conn_id", conn.ID,
		"session_id", session.ID,
		"owner", identity.ID)

	return &SessionHandle{
		Session:  session,
		Messages: []*store.Message{},
		Events:   events,
	}, nil
}

// initAgentMirror requests agent-side session state, detached from the
// caller. Failures are logged only.
func (s *Service) initAgentMirror(identity *store.Identity, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.agent.CreateSession(ctx, identity.ID, sessionID, identity.DisplayName); err != nil {
		s.logger.Error("agent mirror initialization failed",
			"error", err,
			"identity_id", identity.ID,
			"session_id", sessionID)
	}
}

// JoinSession binds the connection to an existing session it owns. A
// missing session and a foreign session fail identically with
// ErrSessionAccess, and the connection state is unchanged.
func (s *Service) JoinSession(ctx context.Context, conn *Conn, sessionID string) (*SessionHandle, error) {
	identity, ok := conn.identity()
	if !ok {
		return nil, ErrNotAuthenticated
	}

	session, err := s.store.GetOwnedSession(ctx, sessionID, identity.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionAccess
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}

	messages, err := s.store.ListMessages(ctx, session.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	events := s.rooms.Join(conn.ID, session.ID)
	conn.setState(Bound{Identity: identity, SessionID: session.ID})

	s.logger.Info("session joined",
		"conn_id", conn.ID,
		"session_id", session.ID)

	return &SessionHandle{
		Session:  session,
		Messages: messages,
		Events:   events,
	}, nil
}

// SendMessage relays one user turn: persist, broadcast, run the agent,
// extract a reply, persist and broadcast it. Only validation failures
// return an error; everything downstream of validation completes the turn
// in-band, fabricating an error message into the room when the agent call
// fails.
func (s *Service) SendMessage(ctx context.Context, conn *Conn, text string) error {
	identity, sessionID, ok := conn.boundSession()
	if !ok {
		if _, authed := conn.identity(); authed {
			return ErrNoActiveSession
		}
		return ErrNotAuthenticated
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}

	// One turn at a time per session: concurrent sends queue here rather
	// than interleaving their agent calls and broadcasts.
	unlock := s.lockTurn(sessionID)
	defer unlock()

	userMsg := &store.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Author:    store.AuthorUser,
		Text:      trimmed,
		Timestamp: time.Now(),
	}
	s.persistMessage(userMsg)
	s.rooms.Broadcast(sessionID, protocol.NewMessageEvent(userMsg))

	// The agent call survives a client disconnect: results are still
	// persisted and broadcast to whoever remains in the room.
	items, err := s.agent.Run(context.WithoutCancel(ctx), identity.ID, sessionID, trimmed)
	if err != nil {
		s.completeTurnWithError(sessionID, err)
		return nil
	}

	reply, found := agent.ExtractReply(items, s.agent.AgentName())
	if !found {
		if s.emptyReplyNotice == "" {
			s.logger.Debug("agent turn yielded no extractable reply",
				"session_id", sessionID,
				"items", len(items))
			return nil
		}
		reply = s.emptyReplyNotice
	}

	agentMsg := &store.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Author:    store.AuthorAgent,
		Text:      reply,
		Timestamp: time.Now(),
	}
	s.persistMessage(agentMsg)
	s.rooms.Broadcast(sessionID, protocol.NewMessageEvent(agentMsg))

	return nil
}

// completeTurnWithError fabricates an agent-authored error message so the
// room always observes a completed turn. The text names which of the three
// transport causes occurred.
func (s *Service) completeTurnWithError(sessionID string, callErr error) {
	text := textSendFailed
	var terr *agent.TransportError
	if errors.As(callErr, &terr) {
		switch terr.Cause {
		case agent.CauseRemoteStatus:
			text = textRemoteError
		case agent.CauseNoResponse:
			text = textNoResponse
		}
	}

	s.logger.Warn("agent turn failed",
		"error", callErr,
		"session_id", sessionID)

	errMsg := &store.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Author:    store.AuthorAgent,
		Text:      text,
		IsError:   true,
		Timestamp: time.Now(),
	}
	s.persistMessage(errMsg)
	s.rooms.Broadcast(sessionID, protocol.NewMessageEvent(errMsg))
}

// persistMessage appends a message with a detached timeout context. A write
// failure is logged and tolerated: the turn proceeds with the in-memory
// copy, which has already been (or is about to be) broadcast.
func (s *Service) persistMessage(msg *store.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.store.AppendMessage(ctx, msg); err != nil {
		s.logger.Error("failed to persist message",
			"error", err,
			"message_id", msg.ID,
			"session_id", msg.SessionID)
	}
}

// DeleteSession removes a session in two phases: the agent-side mirror
// first, then the store record filtered by owner. Phase-1 failure aborts
// with the record intact. Phase-2 failure after phase-1 success leaves an
// agent-deleted/store-intact residue that is logged and accepted. If the
// deleted session is the connection's bound session, the connection reverts
// to Authenticated.
func (s *Service) DeleteSession(ctx context.Context, conn *Conn, sessionID string) error {
	identity, ok := conn.identity()
	if !ok {
		return ErrNotAuthenticated
	}

	if _, err := s.store.GetOwnedSession(ctx, sessionID, identity.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionAccess
		}
		return fmt.Errorf("looking up session: %w", err)
	}

	// Phase 1: agent mirror. Abort on failure, store record untouched.
	if err := s.agent.DeleteSession(ctx, identity.ID, sessionID); err != nil {
		return fmt.Errorf("deleting agent session: %w", err)
	}

	// Phase 2: store record, owner-filtered.
	if err := s.store.DeleteSession(ctx, sessionID, identity.ID); err != nil {
		s.logger.Warn("store delete failed after agent delete; leaving residual record",
			"error", err,
			"session_id", sessionID)
		return fmt.Errorf("deleting session record: %w", err)
	}

	// Let everyone still in the room know the session is gone.
	s.rooms.Broadcast(sessionID, &protocol.Event{
		Type:    protocol.TypeSessionDeleted,
		Payload: &protocol.DeletePayload{SessionID: sessionID},
	})

	if _, bound, isBound := conn.boundSession(); isBound && bound == sessionID {
		s.rooms.Leave(conn.ID)
		conn.setState(Authenticated{Identity: identity})
	}

	s.logger.Info("session deleted",
		"conn_id", conn.ID,
		"session_id", sessionID)
	return nil
}

// Disconnect releases the connection's room membership and marks it
// terminal. Safe to call more than once. In-flight turns keep running;
// their results still reach the store and any remaining room members.
func (s *Service) Disconnect(conn *Conn) {
	s.rooms.Leave(conn.ID)
	conn.mu.Lock()
	conn.state = Disconnected{}
	conn.mu.Unlock()

	s.logger.Debug("connection disconnected", "conn_id", conn.ID)
}

// lockTurn acquires the per-session turn mutex, creating it on first use.
func (s *Service) lockTurn(sessionID string) func() {
	v, _ := s.turnLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
