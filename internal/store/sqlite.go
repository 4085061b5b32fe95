// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides identity/session/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS identities (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			display_name  TEXT NOT NULL,
			avatar_ref    TEXT,
			created_at    TEXT NOT NULL,
			last_seen_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_identities_email ON identities(email);

		CREATE TABLE IF NOT EXISTS sessions (
			id               TEXT PRIMARY KEY,
			owner_id         TEXT NOT NULL REFERENCES identities(id),
			created_at       TEXT NOT NULL,
			last_activity_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_owner_activity
			ON sessions(owner_id, last_activity_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			author     TEXT NOT NULL,
			text       TEXT NOT NULL,
			is_error   INTEGER NOT NULL DEFAULT 0,
			timestamp  TEXT NOT NULL,

			CHECK (author IN ('user', 'agent'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

		CREATE TABLE IF NOT EXISTS documents (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			content_type TEXT NOT NULL,
			data         BLOB NOT NULL,
			created_at   TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// UpsertIdentity inserts a new identity keyed by email, or refreshes the
// display name, avatar and last-seen timestamp of an existing one. The
// returned identity carries the stored id and created_at, which survive
// across logins.
func (s *SQLiteStore) UpsertIdentity(ctx context.Context, identity *Identity) (*Identity, error) {
	query := `
		INSERT INTO identities (id, email, display_name, avatar_ref, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_ref = excluded.avatar_ref,
			last_seen_at = excluded.last_seen_at
	`

	_, err := s.db.ExecContext(ctx, query,
		identity.ID,
		identity.Email,
		identity.DisplayName,
		identity.AvatarRef,
		identity.CreatedAt.UTC().Format(time.RFC3339),
		identity.LastSeenAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting identity: %w", err)
	}

	stored, err := s.getIdentityByEmail(ctx, identity.Email)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("upserted identity", "id", stored.ID, "email", stored.Email)
	return stored, nil
}

// GetIdentity retrieves an identity by ID.
// Returns ErrNotFound if the identity doesn't exist.
func (s *SQLiteStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	query := `
		SELECT id, email, display_name, avatar_ref, created_at, last_seen_at
		FROM identities
		WHERE id = ?
	`
	return s.scanIdentity(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) getIdentityByEmail(ctx context.Context, email string) (*Identity, error) {
	query := `
		SELECT id, email, display_name, avatar_ref, created_at, last_seen_at
		FROM identities
		WHERE email = ?
	`
	return s.scanIdentity(s.db.QueryRowContext(ctx, query, email))
}

func (s *SQLiteStore) scanIdentity(row *sql.Row) (*Identity, error) {
	var identity Identity
	var avatarRef sql.NullString
	var createdAtStr, lastSeenAtStr string

	err := row.Scan(
		&identity.ID,
		&identity.Email,
		&identity.DisplayName,
		&avatarRef,
		&createdAtStr,
		&lastSeenAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying identity: %w", err)
	}

	identity.AvatarRef = avatarRef.String

	identity.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	identity.LastSeenAt, err = time.Parse(time.RFC3339, lastSeenAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_seen_at: %w", err)
	}

	return &identity, nil
}

// CreateSession creates a new session.
// If a session with the same id already exists, it returns ErrDuplicateSession.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, owner_id, created_at, last_activity_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.OwnerID,
		session.CreatedAt.UTC().Format(time.RFC3339),
		session.LastActivityAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", session.ID, "owner", session.OwnerID)
	return nil
}

// GetSession retrieves a session by ID regardless of owner.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, owner_id, created_at, last_activity_at
		FROM sessions
		WHERE id = ?
	`
	return s.scanSession(s.db.QueryRowContext(ctx, query, id))
}

// GetOwnedSession retrieves a session by ID, filtered by owner. A missing
// session and a session owned by another identity both return ErrNotFound.
func (s *SQLiteStore) GetOwnedSession(ctx context.Context, id, ownerID string) (*Session, error) {
	query := `
		SELECT id, owner_id, created_at, last_activity_at
		FROM sessions
		WHERE id = ? AND owner_id = ?
	`
	return s.scanSession(s.db.QueryRowContext(ctx, query, id, ownerID))
}

func (s *SQLiteStore) scanSession(row *sql.Row) (*Session, error) {
	var session Session
	var createdAtStr, lastActivityStr string

	err := row.Scan(
		&session.ID,
		&session.OwnerID,
		&createdAtStr,
		&lastActivityStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	session.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	session.LastActivityAt, err = time.Parse(time.RFC3339, lastActivityStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}

	return &session, nil
}

// ListSessionsByOwner returns session summaries for an owner, most recently
// active first, with per-session message counts.
func (s *SQLiteStore) ListSessionsByOwner(ctx context.Context, ownerID string) ([]*SessionSummary, error) {
	query := `
		SELECT s.id, s.created_at, s.last_activity_at, COUNT(m.seq)
		FROM sessions s
		LEFT JOIN messages m ON m.session_id = s.id
		WHERE s.owner_id = ?
		GROUP BY s.id
		ORDER BY s.last_activity_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var summaries []*SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var createdAtStr, lastActivityStr string

		if err := rows.Scan(&sum.ID, &createdAtStr, &lastActivityStr, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning session summary: %w", err)
		}

		sum.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		sum.LastActivityAt, err = time.Parse(time.RFC3339, lastActivityStr)
		if err != nil {
			return nil, fmt.Errorf("parsing last_activity_at: %w", err)
		}

		summaries = append(summaries, &sum)
	}

	return summaries, rows.Err()
}

// DeleteSession removes a session filtered by id AND owner, so a caller can
// never delete a session it does not own. Returns ErrNotFound when no row
// matched. Messages cascade via the foreign key.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id, ownerID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted session", "id", id, "owner", ownerID)
	return nil
}

// AppendMessage appends a message to a session's log and touches the
// session's last-activity timestamp. Messages are never updated or deleted
// individually; the seq column fixes insertion order.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	isError := 0
	if msg.IsError {
		isError = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, author, text, is_error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.SessionID,
		msg.Author,
		msg.Text,
		isError,
		msg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ? WHERE id = ?`,
		msg.Timestamp.UTC().Format(time.RFC3339),
		msg.SessionID,
	)
	if err != nil {
		return fmt.Errorf("touching session activity: %w", err)
	}

	return tx.Commit()
}

// ListMessages returns a session's messages in insertion order. A limit of
// 0 or less returns the entire log; history replay must never truncate.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	// SQLite treats a negative LIMIT as unbounded
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, session_id, author, text, is_error, timestamp
		FROM messages
		WHERE session_id = ?
		ORDER BY seq ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var isError int
		var timestampStr string

		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Author, &msg.Text, &isError, &timestampStr); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		msg.IsError = isError != 0
		msg.Timestamp, err = time.Parse(time.RFC3339Nano, timestampStr)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}

		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// PutDocument stores a document blob.
func (s *SQLiteStore) PutDocument(ctx context.Context, doc *Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, name, content_type, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		doc.ID,
		doc.Name,
		doc.ContentType,
		doc.Data,
		doc.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}

	s.logger.Debug("stored document", "id", doc.ID, "name", doc.Name, "bytes", len(doc.Data))
	return nil
}

// GetDocument retrieves a document by ID.
// Returns ErrNotFound if the document doesn't exist.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	query := `
		SELECT id, name, content_type, data, created_at
		FROM documents
		WHERE id = ?
	`

	var doc Document
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID,
		&doc.Name,
		&doc.ContentType,
		&doc.Data,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}

	doc.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &doc, nil
}
