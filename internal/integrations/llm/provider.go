// Package llm defines the provider-neutral chat interface every model
// backend adapter implements, plus the helpers adapters share.
package llm

import (
	"context"
	"iter"

	"nc-assistant/internal/domain"
)

// Options are the per-call generation settings taken from a prompt template.
type Options struct {
	Temperature float64
	JSONMode    bool
}

// Provider is one chat-completion backend.
//
// Stream yields incremental text fragments whose concatenation equals what
// Complete returns for the same input. The sequence is finite and can only be
// ranged over once; stopping the range early releases the upstream
// connection. A non-nil error is always the last element.
type Provider interface {
	Name() string
	Complete(ctx context.Context, messages []domain.ChatMessage, opts Options) (string, error)
	Stream(ctx context.Context, messages []domain.ChatMessage, opts Options) iter.Seq2[string, error]
}

// KeyFunc resolves an API key on demand.
type KeyFunc func(ctx context.Context) (string, error)

// StaticKey returns a KeyFunc that always yields key.
func StaticKey(key string) KeyFunc {
	return func(context.Context) (string, error) {
		return key, nil
	}
}
