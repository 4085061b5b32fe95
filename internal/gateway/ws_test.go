// ABOUTME: Tests for the WebSocket conversation surface
// ABOUTME: Drives a real client through authenticate, session, relay, and delete

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillburner/consult-gateway/internal/auth"
	"github.com/skillburner/consult-gateway/internal/protocol"
)

// wireEvent is an outbound envelope as seen on the wire.
type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialWS(t *testing.T, ctx context.Context, serverURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func sendCmd(t *testing.T, ctx context.Context, conn *websocket.Conn, cmd protocol.Inbound) {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readWire(t *testing.T, ctx context.Context, conn *websocket.Conn) wireEvent {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)
	var event wireEvent
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func decodePayload[T any](t *testing.T, event wireEvent) T {
	t.Helper()
	var payload T
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	return payload
}

func authedClient(t *testing.T, ctx context.Context, serverURL string, verifier *auth.JWTVerifier) *websocket.Conn {
	t.Helper()
	conn := dialWS(t, ctx, serverURL)
	token, err := verifier.Generate(&auth.Assertion{
		Email: "alice@example.com",
		Name:  "Alice",
	}, time.Hour)
	require.NoError(t, err)

	sendCmd(t, ctx, conn, protocol.Inbound{Type: protocol.TypeAuthenticate, Token: token})
	event := readWire(t, ctx, conn)
	require.Equal(t, protocol.TypeAuthResult, event.Type)
	result := decodePayload[protocol.AuthResultPayload](t, event)
	require.True(t, result.Success)
	return conn
}

func TestWS_AuthenticateSuccess(t *testing.T) {
	server, _, verifier := newTestServer(t)
	ctx := context.Background()
	conn := dialWS(t, ctx, server.URL)

	token, err := verifier.Generate(&auth.Assertion{
		Email: "alice@example.com",
		Name:  "Alice",
	}, time.Hour)
	require.NoError(t, err)

	sendCmd(t, ctx, conn, protocol.Inbound{Type: protocol.TypeAuthenticate, Token: token})
	event := readWire(t, ctx, conn)
	require.Equal(t, protocol.TypeAuthResult, event.Type)

	result := decodePayload[protocol.AuthResultPayload](t, event)
	assert.True(t, result.Success)
	require.NotNil(t, result.Identity)
	assert.Equal(t, "alice@example.com", result.Identity.Email)
	assert.NotNil(t, result.Sessions)
	assert.Empty(t, result.Error)
}

func TestWS_AuthenticateBadToken(t *testing.T) {
	server, _, _ := newTestServer(t)
	ctx := context.Background()
	conn := dialWS(t, ctx, server.URL)

	sendCmd(t, ctx, conn, protocol.Inbound{Type: protocol.TypeAuthenticate, Token: "garbage"})
	event := readWire(t, ctx, conn)
	require.Equal(t, protocol.TypeAuthResult, event.Type)

	result := decodePayload[protocol.AuthResultPayload](t, event)
	assert.False(t, result.Success)
	assert.Equal(t, "authentication failed", result.Error)
	assert.Nil(t, result.Identity)
}

func TestWS_SendMessageBeforeAuth(t *testing.T) {
	server, _, _ := newTestServer(t)
	ctx := context.Background()
	conn := dialWS(t, ctx, server.URL)

	sendCmd(t, ctx, conn, protocol.Inbound{Type: protocol.TypeSendMessage, Text: "hi"})
	event := readWire(t, ctx, conn)
	require.Equal(t, protocol.TypeSessionError, event.Type)

	payload := decodePayload[protocol.ErrorPayload](t, event)
	assert.Equal(t, "not authenticated", payload.Error)
}

func TestWS_UnknownEventType(t *testing.T) {
	server, _, _ := newTestServer(t)
	ctx := context.Background()
	conn := dialWS(t, ctx, server.URL)

	sendCmd(t, ctx, conn, protocol.Inbound{Type: "do_something"})
	event := readWire(t, ctx, conn)
	require.Equal(t, protocol.TypeSessionError, event.Type)

	payload := decodePayload[protocol.ErrorPayload](t, event)
	assert.Equal(t, "unknown event type", payload.Error)
}

func TestWS_FullConversationFlow(t *testing.T) {
	server, _, verifier := newTestServer(t)
	ctx := context.Background()
	conn := authedClient(t, ctx, server.URL, verifier)

	// Create a session; history is empty but present
	sendCmd(t, ctx, conn, protocol.Inbound{Type: protocol.TypeCreateSession})
	event := readWire(t, ctx, conn)
	require.Equal(t, protocol.TypeSessionCreated, event.Type)
	created := decodePayload[protocol.SessionPayload](t, event)
	require.NotNil(t, created.Session)
	sessionID := created.Session.ID
	require.NotEmpty(t, sessionID)
	assert.NotNil(t, created.Messages)
	assert.Empty(t, created.Messages)

	// One turn: the user message comes back first, then the agent reply
	sendCmd(t, ctx, conn, protocol.Inbound{Type: protocol.TypeSendMessage, Text: "What should I learn?"})

	event = readWire(t, ctx, conn)
	require.Equal(t, protocol.TypeNewMessage, event.Type)
	userMsg := decodePayload[protocol.MessagePayload](t, event)
	assert.Equal(t, "user", userMsg.Message.Sender)
	assert.Equal(t, "What should I learn?", userMsg.Message.Text)

	event = readWire(t, ctx, conn)
	require.Equal(t, protocol.TypeNewMessage, event.Type)
	agentMsg := decodePayload[protocol.MessagePayload](t, event)
	assert.Equal(t, "agent", agentMsg.Message.Sender)
	assert.Equal(t, "Hello from the consultant.", agentMsg.Message.Text)
	assert.False(t, agentMsg.Message.IsError)

	// Delete the bound session; the room broadcast announces it
	sendCmd(t, ctx, conn, protocol.Inbound{Type: protocol.TypeDeleteSession, SessionID: sessionID})
	event = readWire(t, ctx, conn)
	require.Equal(t, protocol.TypeSessionDeleted, event.Type)
	deleted := decodePayload[protocol.DeletePayload](t, event)
	assert.Equal(t, sessionID, deleted.SessionID)
}

func TestWS_RapidSendsProcessedInArrivalOrder(t *testing.T) {
	server, _, verifier := newTestServer(t)
	ctx := context.Background()
	conn := authedClient(t, ctx, server.URL, verifier)

	sendCmd(t, ctx, conn, protocol.Inbound{Type: protocol.TypeCreateSession})
	require.Equal(t, protocol.TypeSessionCreated, readWire(t, ctx, conn).Type)

	// Fire several turns back to back without waiting for replies
	const turnCount = 5
	for i := 1; i <= turnCount; i++ {
		sendCmd(t, ctx, conn, protocol.Inbound{
			Type: protocol.TypeSendMessage,
			Text: fmt.Sprintf("turn %d", i),
		})
	}

	// Each turn completes fully before the next starts: user message then
	// reply, in the order the turns arrived on the socket
	for i := 1; i <= turnCount; i++ {
		event := readWire(t, ctx, conn)
		require.Equal(t, protocol.TypeNewMessage, event.Type)
		user := decodePayload[protocol.MessagePayload](t, event)
		assert.Equal(t, "user", user.Message.Sender)
		assert.Equal(t, fmt.Sprintf("turn %d", i), user.Message.Text)

		event = readWire(t, ctx, conn)
		require.Equal(t, protocol.TypeNewMessage, event.Type)
		reply := decodePayload[protocol.MessagePayload](t, event)
		assert.Equal(t, "agent", reply.Message.Sender)
	}
}

func TestWS_RejoinReplaysHistory(t *testing.T) {
	server, _, verifier := newTestServer(t)
	ctx := context.Background()
	conn := authedClient(t, ctx, server.URL, verifier)

	sendCmd(t, ctx, conn, protocol.Inbound{Type: protocol.TypeCreateSession})
	event := readWire(t, ctx, conn)
	require.Equal(t, protocol.TypeSessionCreated, event.Type)
	sessionID := decodePayload[protocol.SessionPayload](t, event).Session.ID

	sendCmd(t, ctx, conn, protocol.Inbound{Type: protocol.TypeSendMessage, Text: "hello"})
	readWire(t, ctx, conn) // user message
	readWire(t, ctx, conn) // agent reply

	// A second client of the same user joins and gets the history up front
	conn2 := authedClient(t, ctx, server.URL, verifier)
	sendCmd(t, ctx, conn2, protocol.Inbound{Type: protocol.TypeJoinSession, SessionID: sessionID})
	event = readWire(t, ctx, conn2)
	require.Equal(t, protocol.TypeSessionJoined, event.Type)

	joined := decodePayload[protocol.SessionPayload](t, event)
	require.Len(t, joined.Messages, 2)
	assert.Equal(t, "hello", joined.Messages[0].Text)
	assert.Equal(t, "Hello from the consultant.", joined.Messages[1].Text)
	assert.Equal(t, 2, joined.Session.MessageCount)
}

func TestWS_JoinForeignSessionFails(t *testing.T) {
	server, _, verifier := newTestServer(t)
	ctx := context.Background()

	// Bob creates a session
	bob := dialWS(t, ctx, server.URL)
	token, err := verifier.Generate(&auth.Assertion{Email: "bob@example.com", Name: "Bob"}, time.Hour)
	require.NoError(t, err)
	sendCmd(t, ctx, bob, protocol.Inbound{Type: protocol.TypeAuthenticate, Token: token})
	readWire(t, ctx, bob)
	sendCmd(t, ctx, bob, protocol.Inbound{Type: protocol.TypeCreateSession})
	event := readWire(t, ctx, bob)
	require.Equal(t, protocol.TypeSessionCreated, event.Type)
	bobSession := decodePayload[protocol.SessionPayload](t, event).Session.ID

	// Alice cannot join it, and the error looks like a missing session
	alice := authedClient(t, ctx, server.URL, verifier)
	sendCmd(t, ctx, alice, protocol.Inbound{Type: protocol.TypeJoinSession, SessionID: bobSession})
	event = readWire(t, ctx, alice)
	require.Equal(t, protocol.TypeSessionError, event.Type)
	payload := decodePayload[protocol.ErrorPayload](t, event)
	assert.Equal(t, "session not found", payload.Error)
}

func TestWS_AgentFailureSurfacesAsErrorMessage(t *testing.T) {
	server, ag, verifier := newTestServer(t)
	ctx := context.Background()
	conn := authedClient(t, ctx, server.URL, verifier)

	sendCmd(t, ctx, conn, protocol.Inbound{Type: protocol.TypeCreateSession})
	require.Equal(t, protocol.TypeSessionCreated, readWire(t, ctx, conn).Type)

	ag.failWith(context.DeadlineExceeded)

	sendCmd(t, ctx, conn, protocol.Inbound{Type: protocol.TypeSendMessage, Text: "hello"})
	readWire(t, ctx, conn) // the user message

	event := readWire(t, ctx, conn)
	require.Equal(t, protocol.TypeNewMessage, event.Type)
	msg := decodePayload[protocol.MessagePayload](t, event)
	assert.True(t, msg.Message.IsError)
	assert.Equal(t, "agent", msg.Message.Sender)
}
