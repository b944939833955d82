package domain

// AssistantRole is the role tag stamped on every FinalAnswer.
const AssistantRole = "ai"

// FinalAnswer is the terminal artifact of one orchestration run. It is
// returned to the client and never stored server-side.
type FinalAnswer struct {
	Text             any     `json:"text"`
	Label            any     `json:"label"`
	Description      any     `json:"description"`
	Sources          Sources `json:"sources"`
	UserQuery        string  `json:"user_query"`
	InputDescription string  `json:"input_description"`
	KnowledgeQuery   string  `json:"knowledge_query"`
	Role             string  `json:"role"`
	UserRole         string  `json:"user_role"`
}
