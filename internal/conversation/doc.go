// Package conversation implements the per-connection state machine, the
// message relay, and session lifecycle management.
//
// # State Machine
//
// Each live connection holds a Conn whose State is a closed sum:
//
//	Unauthenticated -> Authenticated -> Bound
//	any state       -> Disconnected (terminal)
//
// Authenticate moves the connection forward by upserting the asserted
// identity (keyed by email). CreateSession and JoinSession bind the
// connection to exactly one session; binding to a new session leaves the
// old room first. Disconnect is terminal and releases room membership
// immediately.
//
// # Message Relay
//
// SendMessage turns one inbound message into:
//
//  1. A durable append to the session's message log (write failures are
//     logged and tolerated; the turn proceeds with the in-memory copy)
//  2. An immediate room broadcast, before the agent is contacted
//  3. A synchronous agent turn with a bounded timeout
//  4. Reply extraction from the heterogeneous response list
//  5. A durable append and broadcast of the reply
//
// When the agent call fails, a fabricated agent message with the error flag
// set is persisted and broadcast instead, its text distinguishing the three
// transport causes. The room therefore always observes a completed turn.
//
// Turns are serialized per session: concurrent SendMessage calls on the
// same session queue on a keyed mutex, so broadcast order within a session
// matches turn order. There is no cross-session ordering guarantee.
//
// # Session Deletion
//
// DeleteSession is two-phase: the agent-side mirror is deleted first, and
// only on success is the store record removed (filtered by owner, so
// cross-identity deletion is impossible). A phase-2 failure leaves an
// agent-deleted/store-intact residue that is logged and accepted; there is
// no reconciliation sweep.
package conversation
