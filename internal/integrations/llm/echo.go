package llm

import (
	"context"
	"encoding/json"
	"iter"

	"nc-assistant/internal/domain"
)

// EchoName is the registry key of the offline provider.
const EchoName = "echo"

// Echo is an offline provider for local development. It answers with the
// last user message, wrapped as a JSON object when JSON mode is requested.
// It has no incremental output and streams through SingleShot.
type Echo struct {
	Model string
}

func NewEcho(model string) (Provider, error) {
	if model == "" {
		model = "echo-1"
	}
	return &Echo{Model: model}, nil
}

func (e *Echo) Name() string { return EchoName }

func (e *Echo) Complete(ctx context.Context, messages []domain.ChatMessage, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := domain.ValidateConversation(messages); err != nil {
		return "", NewProviderError(EchoName, 0, err)
	}
	var last string
	for _, m := range messages {
		if m.Role == domain.RoleUser {
			last = m.Content
		}
	}
	if !opts.JSONMode {
		return last, nil
	}
	out, err := json.Marshal(map[string]string{"comment": last, "label": "", "description": ""})
	if err != nil {
		return "", NewProviderError(EchoName, 0, err)
	}
	return string(out), nil
}

func (e *Echo) Stream(ctx context.Context, messages []domain.ChatMessage, opts Options) iter.Seq2[string, error] {
	return SingleShot(ctx, e, messages, opts)
}
