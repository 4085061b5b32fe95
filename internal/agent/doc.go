// Package agent provides the gateway to the external conversational agent
// service.
//
// # Overview
//
// The agent service is a stateful conversational backend with a REST
// surface. For each gateway session there is a mirrored agent-side session
// keyed by (identity id, session id); the Gateway manages that mirror's
// lifecycle and runs synchronous turns against it.
//
// # Gateway
//
//	gw := agent.NewGateway(agent.Config{
//	    BaseURL:   "http://localhost:8000",
//	    AppName:   "SkillConsultantAgent",
//	    AgentName: "SkillConsultantAgent",
//	    Timeout:   30 * time.Second,
//	}, logger)
//
// Key operations:
//
//   - CreateSession(ctx, userID, sessionID, displayName): initialize the mirror
//   - DeleteSession(ctx, userID, sessionID): tear the mirror down
//   - Run(ctx, userID, sessionID, text): execute one turn, returning the
//     ordered response items
//
// # Error Taxonomy
//
// Every failed call returns a *TransportError whose Cause distinguishes
// the three ways a call can fail:
//
//   - CauseRemoteStatus: the service answered with a non-2xx status
//   - CauseNoResponse: the request went out but nothing came back (timeout)
//   - CauseConnect: the request could not be sent at all
//
// The relay turns each cause into a distinct error message persisted and
// broadcast into the room, so a turn always completes visibly.
//
// # Reply Extraction
//
// A turn's response is an ordered list of author-tagged items whose parts
// mix text with tool-call and tool-result payloads. ExtractReply scans the
// list from the end backward for the last model-role item by the expected
// agent that carries non-empty text. It is a pure function, tested against
// constructed fixtures with no network involved. A turn with no extractable
// text (tool-only output) yields ("", false) — a content-shape outcome,
// not a transport failure.
package agent
