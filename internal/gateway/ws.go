// ABOUTME: WebSocket connection handler for conversation clients
// ABOUTME: Read loop dispatching inbound commands, write pump, and room event forwarding

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/skillburner/consult-gateway/internal/auth"
	"github.com/skillburner/consult-gateway/internal/conversation"
	"github.com/skillburner/consult-gateway/internal/protocol"
)

const (
	// outboundBufferSize is the per-connection outbound event queue.
	outboundBufferSize = 64

	// turnQueueSize bounds how many send_message commands may wait behind
	// an in-flight agent turn on one connection.
	turnQueueSize = 64

	// writeTimeout bounds a single frame write to a client.
	writeTimeout = 10 * time.Second
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Debug("websocket accept failed", "error", err)
		return
	}

	conn := &wsConn{
		sock:     sock,
		state:    conversation.NewConn(uuid.New().String()),
		service:  s.service,
		verifier: s.verifier,
		outbound: make(chan *protocol.Event, outboundBufferSize),
		turns:    make(chan string, turnQueueSize),
		logger:   s.logger,
	}
	conn.run(r.Context())
}

// wsConn pairs one WebSocket with its conversation connection state.
type wsConn struct {
	sock     *websocket.Conn
	state    *conversation.Conn
	service  *conversation.Service
	verifier auth.Verifier
	outbound chan *protocol.Event
	turns    chan string
	logger   *slog.Logger
}

// run drives the connection until the client goes away. The read loop owns
// teardown: when it returns, the connection is disconnected from its room
// and the write pump stops.
func (c *wsConn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.logger.Debug("websocket connected", "conn_id", c.state.ID)

	go c.writeLoop(ctx)
	go c.turnLoop(ctx)
	c.readLoop(ctx)

	c.service.Disconnect(c.state)
	_ = c.sock.Close(websocket.StatusNormalClosure, "")
	c.logger.Debug("websocket closed", "conn_id", c.state.ID)
}

func (c *wsConn) readLoop(ctx context.Context) {
	for {
		_, data, err := c.sock.Read(ctx)
		if err != nil {
			return
		}

		var in protocol.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.sendError(ctx, "malformed event")
			continue
		}
		c.dispatch(ctx, &in)
	}
}

func (c *wsConn) dispatch(ctx context.Context, in *protocol.Inbound) {
	switch in.Type {
	case protocol.TypeAuthenticate:
		c.handleAuthenticate(ctx, in.Token)
	case protocol.TypeCreateSession:
		c.handleCreateSession(ctx)
	case protocol.TypeJoinSession:
		c.handleJoinSession(ctx, in.SessionID)
	case protocol.TypeSendMessage:
		// Agent turns can take a while; queue them for the turn worker so
		// the read loop stays responsive while one connection's messages
		// are still processed in arrival order.
		select {
		case c.turns <- in.Text:
		default:
			c.sendError(ctx, "too many pending messages")
		}
	case protocol.TypeDeleteSession:
		c.handleDeleteSession(ctx, in.SessionID)
	default:
		c.logger.Debug("unknown inbound event",
			"conn_id", c.state.ID,
			"event_type", in.Type)
		c.sendError(ctx, "unknown event type")
	}
}

func (c *wsConn) handleAuthenticate(ctx context.Context, token string) {
	assertion, err := c.verifier.Verify(token)
	if err != nil {
		c.logger.Info("authentication rejected",
			"conn_id", c.state.ID,
			"error", err)
		c.send(ctx, &protocol.Event{
			Type:    protocol.TypeAuthResult,
			Payload: &protocol.AuthResultPayload{Error: "authentication failed"},
		})
		return
	}

	result, err := c.service.Authenticate(ctx, c.state, assertion)
	if err != nil {
		c.send(ctx, &protocol.Event{
			Type:    protocol.TypeAuthResult,
			Payload: &protocol.AuthResultPayload{Error: "authentication failed"},
		})
		return
	}

	c.send(ctx, &protocol.Event{
		Type: protocol.TypeAuthResult,
		Payload: &protocol.AuthResultPayload{
			Success:  true,
			Identity: protocol.IdentityToDTO(result.Identity),
			Sessions: protocol.SummariesToDTO(result.Sessions),
		},
	})
}

func (c *wsConn) handleCreateSession(ctx context.Context) {
	handle, err := c.service.CreateSession(ctx, c.state)
	if err != nil {
		c.sendError(ctx, errorText(err))
		return
	}

	c.forward(ctx, handle.Events)
	c.send(ctx, &protocol.Event{
		Type:    protocol.TypeSessionCreated,
		Payload: sessionPayload(handle),
	})
}

func (c *wsConn) handleJoinSession(ctx context.Context, sessionID string) {
	handle, err := c.service.JoinSession(ctx, c.state, sessionID)
	if err != nil {
		c.sendError(ctx, errorText(err))
		return
	}

	c.forward(ctx, handle.Events)
	c.send(ctx, &protocol.Event{
		Type:    protocol.TypeSessionJoined,
		Payload: sessionPayload(handle),
	})
}

func (c *wsConn) handleDeleteSession(ctx context.Context, sessionID string) {
	// Members of the deleted room, this connection included when bound to
	// it, hear about the deletion through the room broadcast. A deletion
	// from outside the room needs a direct notification.
	inRoom := false
	if bound, ok := c.state.State().(conversation.Bound); ok && bound.SessionID == sessionID {
		inRoom = true
	}

	if err := c.service.DeleteSession(ctx, c.state, sessionID); err != nil {
		c.send(ctx, &protocol.Event{
			Type: protocol.TypeSessionDeleteError,
			Payload: &protocol.DeletePayload{
				SessionID: sessionID,
				Error:     errorText(err),
			},
		})
		return
	}

	if !inRoom {
		c.send(ctx, &protocol.Event{
			Type:    protocol.TypeSessionDeleted,
			Payload: &protocol.DeletePayload{SessionID: sessionID},
		})
	}
}

// turnLoop runs this connection's message turns one at a time, in the
// order they arrived on the socket.
func (c *wsConn) turnLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-c.turns:
			if err := c.service.SendMessage(ctx, c.state, text); err != nil {
				c.sendError(ctx, errorText(err))
			}
		}
	}
}

// forward pumps room events into the outbound queue until the room channel
// closes. Moving rooms closes the old channel, ending the previous forwarder.
func (c *wsConn) forward(ctx context.Context, events <-chan *protocol.Event) {
	go func() {
		for event := range events {
			select {
			case c.outbound <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *wsConn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.outbound:
			data, err := event.Marshal()
			if err != nil {
				c.logger.Error("failed to encode outbound event",
					"conn_id", c.state.ID,
					"event_type", event.Type,
					"error", err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.sock.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				// The read loop observes the broken socket and tears down.
				c.logger.Debug("write failed",
					"conn_id", c.state.ID,
					"error", err)
				return
			}
		}
	}
}

func (c *wsConn) send(ctx context.Context, event *protocol.Event) {
	select {
	case c.outbound <- event:
	case <-ctx.Done():
	}
}

func (c *wsConn) sendError(ctx context.Context, text string) {
	c.send(ctx, &protocol.Event{
		Type:    protocol.TypeSessionError,
		Payload: &protocol.ErrorPayload{Error: text},
	})
}

// errorText maps service errors to client-facing strings. Internal detail
// never crosses the wire.
func errorText(err error) string {
	switch {
	case errors.Is(err, conversation.ErrNotAuthenticated):
		return "not authenticated"
	case errors.Is(err, conversation.ErrNoActiveSession):
		return "no active session"
	case errors.Is(err, conversation.ErrEmptyMessage):
		return "message text is empty"
	case errors.Is(err, conversation.ErrSessionAccess):
		return "session not found"
	case errors.Is(err, conversation.ErrConnectionClosed):
		return "connection closed"
	default:
		return "internal error"
	}
}

func sessionPayload(handle *conversation.SessionHandle) *protocol.SessionPayload {
	return &protocol.SessionPayload{
		Session:  protocol.SessionToDTO(handle.Session, len(handle.Messages)),
		Messages: protocol.MessagesToDTO(handle.Messages),
	}
}
