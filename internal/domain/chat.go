package domain

import "github.com/pkg/errors"

// Role tags a chat message for the provider adapters.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the
// orchestrator and LLM integrations.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

var (
	ErrNoUserMessage      = errors.New("domain: conversation has no user message")
	ErrMisplacedSystemMsg = errors.New("domain: system message must come first and appear once")
)

// ValidateConversation checks the ordering rules every adapter relies on:
// at most one system message, placed first, and at least one user message.
func ValidateConversation(messages []ChatMessage) error {
	hasUser := false
	for i, m := range messages {
		switch m.Role {
		case RoleSystem:
			if i != 0 {
				return ErrMisplacedSystemMsg
			}
		case RoleUser:
			hasUser = true
		}
	}
	if !hasUser {
		return ErrNoUserMessage
	}
	return nil
}

// PromptMessages builds the [system?, user] pair sent for a rendered template.
// An empty system text is dropped.
func PromptMessages(system, user string) []ChatMessage {
	msgs := make([]ChatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: system})
	}
	return append(msgs, ChatMessage{Role: RoleUser, Content: user})
}
