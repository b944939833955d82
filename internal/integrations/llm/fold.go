package llm

import (
	"strings"

	"nc-assistant/internal/domain"
)

// FoldSystem rewrites a conversation for backends without a system role.
// System content is prepended to the first non-system message and removed
// from the sequence. Applying it to an already folded conversation is a
// no-op. A conversation holding only system content becomes one user message.
func FoldSystem(messages []domain.ChatMessage) []domain.ChatMessage {
	var system []string
	out := make([]domain.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		if len(system) > 0 {
			m.Content = strings.Join(system, "\n\n") + "\n\n" + m.Content
			system = nil
		}
		out = append(out, m)
	}
	if len(system) > 0 {
		out = append(out, domain.ChatMessage{Role: domain.RoleUser, Content: strings.Join(system, "\n\n")})
	}
	return out
}
