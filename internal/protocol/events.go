// ABOUTME: Wire event envelopes exchanged with clients over the WebSocket
// ABOUTME: Inbound commands, outbound events, and the client-facing DTO shapes

package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/skillburner/consult-gateway/internal/store"
)

// Inbound event types (client -> gateway)
const (
	TypeAuthenticate  = "authenticate"
	TypeCreateSession = "create_session"
	TypeJoinSession   = "join_session"
	TypeSendMessage   = "send_message"
	TypeDeleteSession = "delete_session"
)

// Outbound event types (gateway -> client)
const (
	TypeAuthResult         = "auth_result"
	TypeSessionCreated     = "session_created"
	TypeSessionJoined      = "session_joined"
	TypeSessionError       = "session_error"
	TypeNewMessage         = "new_message"
	TypeSessionDeleted     = "session_deleted"
	TypeSessionDeleteError = "session_delete_error"
)

// Inbound is a decoded client command. Exactly the payload fields for the
// envelope's Type are populated.
type Inbound struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Event is an outbound envelope. Payload is one of the *Payload structs
// below, matching Type.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Marshal encodes the event for the wire.
func (e *Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.Type, err)
	}
	return data, nil
}

// IdentityDTO is the client-facing identity shape.
type IdentityDTO struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	AvatarRef   string `json:"image,omitempty"`
}

// SessionDTO is the client-facing session shape.
type SessionDTO struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity"`
	MessageCount   int       `json:"message_count"`
}

// MessageDTO is the client-facing message shape. Field names follow the
// original client contract (sender, is_error).
type MessageDTO struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	IsError   bool      `json:"is_error,omitempty"`
}

// AuthResultPayload reports the outcome of an authenticate command.
type AuthResultPayload struct {
	Success  bool          `json:"success"`
	Identity *IdentityDTO  `json:"identity,omitempty"`
	Sessions []*SessionDTO `json:"sessions,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// SessionPayload carries a session plus its message history, used for both
// session_created and session_joined so a client can render without a
// second fetch.
type SessionPayload struct {
	Session  *SessionDTO   `json:"session"`
	Messages []*MessageDTO `json:"messages"`
}

// MessagePayload wraps a broadcast message.
type MessagePayload struct {
	Message *MessageDTO `json:"message"`
}

// ErrorPayload carries a typed error string.
type ErrorPayload struct {
	Error string `json:"error"`
}

// DeletePayload reports a session deletion outcome.
type DeletePayload struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

// IdentityToDTO converts a stored identity to its wire shape.
func IdentityToDTO(identity *store.Identity) *IdentityDTO {
	return &IdentityDTO{
		ID:          identity.ID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		AvatarRef:   identity.AvatarRef,
	}
}

// SessionToDTO converts a stored session to its wire shape.
func SessionToDTO(session *store.Session, messageCount int) *SessionDTO {
	return &SessionDTO{
		ID:             session.ID,
		CreatedAt:      session.CreatedAt,
		LastActivityAt: session.LastActivityAt,
		MessageCount:   messageCount,
	}
}

// SummaryToDTO converts a session summary to its wire shape.
func SummaryToDTO(sum *store.SessionSummary) *SessionDTO {
	return &SessionDTO{
		ID:             sum.ID,
		CreatedAt:      sum.CreatedAt,
		LastActivityAt: sum.LastActivityAt,
		MessageCount:   sum.MessageCount,
	}
}

// SummariesToDTO converts a summary slice, returning an empty (non-nil)
// slice for a user with no sessions.
func SummariesToDTO(sums []*store.SessionSummary) []*SessionDTO {
	out := make([]*SessionDTO, 0, len(sums))
	for _, sum := range sums {
		out = append(out, SummaryToDTO(sum))
	}
	return out
}

// MessageToDTO converts a stored message to its wire shape.
func MessageToDTO(msg *store.Message) *MessageDTO {
	return &MessageDTO{
		ID:        msg.ID,
		Text:      msg.Text,
		Sender:    msg.Author,
		Timestamp: msg.Timestamp,
		IsError:   msg.IsError,
	}
}

// MessagesToDTO converts a message slice, returning an empty (non-nil)
// slice for an empty log so the JSON encodes as [] rather than null.
func MessagesToDTO(msgs []*store.Message) []*MessageDTO {
	out := make([]*MessageDTO, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, MessageToDTO(msg))
	}
	return out
}

// NewMessageEvent builds the room-broadcast envelope for a message.
func NewMessageEvent(msg *store.Message) *Event {
	return &Event{
		Type:    TypeNewMessage,
		Payload: &MessagePayload{Message: MessageToDTO(msg)},
	}
}
