// Package store provides persistent storage for the gateway using SQLite.
//
// # Data Models
//
//   - Identity: Verified user record keyed by email
//   - Session: Owned conversation scope with created/last-activity timestamps
//   - Message: Append-only, insertion-ordered entries in a session's log
//   - Document: Blob payloads served to the document viewer by id
//
// # Invariants
//
// Session ids are unique across the store; an insert collision surfaces as
// ErrDuplicateSession and is never retried with a fresh id. The message log
// is append-only: messages are inserted with an autoincrement sequence
// number and never updated or deleted individually. Owner-scoped lookups
// (GetOwnedSession, DeleteSession) filter by id AND owner so that a missing
// session and a foreign session are indistinguishable to the caller.
//
// # SQLite Configuration
//
// The store uses SQLite via modernc.org/sqlite with WAL mode for concurrent
// reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// The schema is created automatically on open.
//
// # Testing
//
// MockStore is an in-memory implementation used by service tests. Its Fail*
// fields inject errors into individual operations to exercise the relay's
// partial-failure handling.
package store
