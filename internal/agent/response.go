// ABOUTME: Agent service response shapes and reply extraction
// ABOUTME: ExtractReply is a pure function over the heterogeneous response list

package agent

import (
	"encoding/json"
	"strings"
)

// Content roles used by the agent service.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Part is one element of a content block. Exactly one of the fields is
// populated: plain text, a tool invocation, or a tool result.
type Part struct {
	Text             string          `json:"text,omitempty"`
	FunctionCall     json.RawMessage `json:"functionCall,omitempty"`
	FunctionResponse json.RawMessage `json:"functionResponse,omitempty"`
}

// Content is a role-tagged block of parts.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// ResponseItem is one entry in the ordered list a turn produces. Author
// identifies which agent (or sub-agent) emitted the item.
type ResponseItem struct {
	Author  string  `json:"author"`
	Content Content `json:"content"`
}

// ExtractReply picks the user-visible reply out of a turn's response list.
//
// A turn interleaves tool calls, tool results and intermediate model output,
// possibly from several authors. The reply is the text of the LAST item
// that (a) was authored by the expected agent, (b) carries a model-role
// content block, and (c) has at least one part with non-empty text. The
// scan runs from the end backward so intermediate model chatter earlier in
// the turn is skipped.
//
// Returns ("", false) when no such part exists — a tool-only turn, not an
// error.
func ExtractReply(items []ResponseItem, agentName string) (string, bool) {
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if item.Author != agentName {
			continue
		}
		if item.Content.Role != RoleModel {
			continue
		}
		for _, part := range item.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				return text, true
			}
		}
	}
	return "", false
}
