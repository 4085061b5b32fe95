// ABOUTME: Package documentation for the gateway transport layer
// ABOUTME: Describes the WebSocket surface and the HTTP endpoints

// Package gateway exposes the service over the network.
//
// The WebSocket endpoint /ws carries the conversation protocol: JSON
// envelopes in both directions, decoded into protocol.Inbound commands and
// answered with protocol.Event frames. Each connection runs a read loop, a
// write pump, a turn worker that executes send_message commands one at a
// time in arrival order, and one forwarder per room membership; a read
// error or close tears all of it down and releases the connection's room
// membership.
//
// Service errors never cross the wire verbatim. They are mapped to typed
// outbound events (auth_result, session_error, session_delete_error) with
// fixed client-facing strings.
//
// The HTTP surface carries /health plus the document blob endpoints used by
// external viewer clients: POST /documents stores a blob and returns its id,
// GET /documents/{id} serves it back with its stored content type.
package gateway
