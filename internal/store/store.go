// ABOUTME: Store interface and data types for consult-gateway persistence
// ABOUTME: Defines Identity, Session, Message, Document and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
// Owner-scoped session lookups return it for both a missing id and an id
// owned by someone else, so callers cannot probe for foreign sessions.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when a session insert hits the unique
// id constraint. Callers treat this as fatal; ids are never re-rolled.
var ErrDuplicateSession = errors.New("session already exists")

// Author constants for messages
const (
	AuthorUser  = "user"
	AuthorAgent = "agent"
)

// Identity is a verified user record keyed by email.
type Identity struct {
	ID          string
	Email       string
	DisplayName string
	AvatarRef   string
	CreatedAt   time.Time
	LastSeenAt  time.Time
}

// Session is an owned conversation scope. Messages live in their own table
// and are fetched separately.
type Session struct {
	ID             string
	OwnerID        string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// SessionSummary is the listing shape for a user's session sidebar:
// session metadata plus a message count, no message bodies.
type SessionSummary struct {
	ID             string
	CreatedAt      time.Time
	LastActivityAt time.Time
	MessageCount   int
}

// Message is a single entry in a session's append-only log.
type Message struct {
	ID        string
	SessionID string
	Author    string // "user" or "agent"
	Text      string
	IsError   bool
	Timestamp time.Time
}

// Document is a stored blob (generated PDFs and the like), served to the
// presentational layer by id.
type Document struct {
	ID          string
	Name        string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// Store defines the interface for identity, session and document persistence
type Store interface {
	// Identities
	UpsertIdentity(ctx context.Context, identity *Identity) (*Identity, error)
	GetIdentity(ctx context.Context, id string) (*Identity, error)

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetOwnedSession(ctx context.Context, id, ownerID string) (*Session, error)
	ListSessionsByOwner(ctx context.Context, ownerID string) ([]*SessionSummary, error)
	DeleteSession(ctx context.Context, id, ownerID string) error

	// Messages (append-only per session)
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)

	// Documents (blob payloads for the document viewer)
	PutDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)

	// Close releases any resources held by the store
	Close() error
}
