// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite, with failure injection hooks

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
// The Fail* fields, when set, make the corresponding operation return that
// error so tests can exercise partial-failure paths.
type MockStore struct {
	mu         sync.RWMutex
	identities map[string]*Identity  // keyed by identity ID
	emailIndex map[string]string     // email -> identity ID
	sessions   map[string]*Session   // keyed by session ID
	messages   map[string][]*Message // keyed by session ID
	documents  map[string]*Document  // keyed by document ID

	FailUpsert error
	FailCreate error
	FailAppend error
	FailDelete error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		identities: make(map[string]*Identity),
		emailIndex: make(map[string]string),
		sessions:   make(map[string]*Session),
		messages:   make(map[string][]*Message),
		documents:  make(map[string]*Document),
	}
}

// UpsertIdentity inserts or refreshes an identity keyed by email.
func (m *MockStore) UpsertIdentity(ctx context.Context, identity *Identity) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpsert != nil {
		return nil, m.FailUpsert
	}

	if existingID, ok := m.emailIndex[identity.Email]; ok {
		existing := m.identities[existingID]
		existing.DisplayName = identity.DisplayName
		existing.AvatarRef = identity.AvatarRef
		existing.LastSeenAt = identity.LastSeenAt
		out := *existing
		return &out, nil
	}

	stored := *identity
	m.identities[stored.ID] = &stored
	m.emailIndex[stored.Email] = stored.ID
	out := stored
	return &out, nil
}

// GetIdentity retrieves an identity by ID.
func (m *MockStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	identity, ok := m.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *identity
	return &out, nil
}

// CreateSession stores a new session, enforcing id uniqueness.
func (m *MockStore) CreateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreate != nil {
		return m.FailCreate
	}
	if _, exists := m.sessions[session.ID]; exists {
		return ErrDuplicateSession
	}

	s := *session
	m.sessions[s.ID] = &s
	return nil
}

// GetSession retrieves a session by ID regardless of owner.
func (m *MockStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *session
	return &out, nil
}

// GetOwnedSession retrieves a session filtered by owner. Missing and foreign
// sessions are indistinguishable.
func (m *MockStore) GetOwnedSession(ctx context.Context, id, ownerID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok || session.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	out := *session
	return &out, nil
}

// ListSessionsByOwner returns summaries sorted by last activity descending.
func (m *MockStore) ListSessionsByOwner(ctx context.Context, ownerID string) ([]*SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var summaries []*SessionSummary
	for _, session := range m.sessions {
		if session.OwnerID != ownerID {
			continue
		}
		summaries = append(summaries, &SessionSummary{
			ID:             session.ID,
			CreatedAt:      session.CreatedAt,
			LastActivityAt: session.LastActivityAt,
			MessageCount:   len(m.messages[session.ID]),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastActivityAt.After(summaries[j].LastActivityAt)
	})
	return summaries, nil
}

// DeleteSession removes a session filtered by id and owner.
func (m *MockStore) DeleteSession(ctx context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailDelete != nil {
		return m.FailDelete
	}

	session, ok := m.sessions[id]
	if !ok || session.OwnerID != ownerID {
		return ErrNotFound
	}

	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

// AppendMessage appends a message and touches the session's last activity.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAppend != nil {
		return m.FailAppend
	}

	stored := *msg
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], &stored)

	if session, ok := m.sessions[msg.SessionID]; ok {
		session.LastActivityAt = msg.Timestamp
	}
	return nil
}

// ListMessages returns a session's messages in insertion order. A limit of
// 0 or less returns the entire log.
func (m *MockStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}

	out := make([]*Message, len(msgs))
	for i, msg := range msgs {
		c := *msg
		out[i] = &c
	}
	return out, nil
}

// PutDocument stores a document blob.
func (m *MockStore) PutDocument(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := *doc
	m.documents[d.ID] = &d
	return nil
}

// GetDocument retrieves a document by ID.
func (m *MockStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *doc
	return &out, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
