package domain

import (
	"bytes"
	"encoding/json"
)

// DefaultWorkflowRole is used when the last turn carries an unknown role tag.
const DefaultWorkflowRole = "000"

// WorkflowRoles are the workflow stage tags a client may put on a turn.
var WorkflowRoles = []string{"000", "100", "200", "300", "400", "500"}

// ResolveWorkflowRole maps a client-supplied role tag onto a known workflow
// stage, falling back to DefaultWorkflowRole.
func ResolveWorkflowRole(tag string) string {
	for _, r := range WorkflowRoles {
		if r == tag {
			return r
		}
	}
	return DefaultWorkflowRole
}

// InboundMessage is one element of the client-supplied message list. Only the
// last element drives the pipeline; earlier ones are ignored.
type InboundMessage struct {
	Role        string          `json:"role"`
	Text        *string         `json:"text,omitempty"`
	Description *string         `json:"description,omitempty"`
	History     json.RawMessage `json:"history,omitempty"`
	Sources     *Sources        `json:"sources,omitempty"`
}

// ConversationTurn is the request-level view of the last inbound message.
// It is never persisted.
type ConversationTurn struct {
	Role        string
	UserMessage string
	Description string
	History     json.RawMessage
	Sources     *Sources
}

const defaultTaskMessage = "Propose task description"

// TurnFromMessage builds the turn that drives one pipeline run. A message
// without a description is treated as a bare description with the default
// task instruction.
func TurnFromMessage(m InboundMessage) ConversationTurn {
	turn := ConversationTurn{Role: ResolveWorkflowRole(m.Role)}
	switch {
	case m.Text != nil && m.Description != nil:
		turn.UserMessage = *m.Text
		turn.Description = *m.Description
	case m.Text != nil:
		turn.UserMessage = defaultTaskMessage
		turn.Description = *m.Text
	case m.Description != nil:
		turn.UserMessage = defaultTaskMessage
		turn.Description = *m.Description
	}
	turn.History = m.History
	if isBlankJSON(turn.History) {
		turn.History = json.RawMessage(`{}`)
	}
	if m.Sources != nil && !m.Sources.Empty() {
		turn.Sources = m.Sources
	}
	return turn
}

func isBlankJSON(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", `""`:
		return true
	}
	return false
}
