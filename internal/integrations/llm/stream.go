package llm

import (
	"context"
	"iter"
	"strings"

	"nc-assistant/internal/domain"
)

// SingleShot adapts a blocking completion into a one-element stream. It is
// the fallback for backends with no incremental output.
func SingleShot(ctx context.Context, p Provider, messages []domain.ChatMessage, opts Options) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		text, err := p.Complete(ctx, messages, opts)
		if err != nil {
			yield("", err)
			return
		}
		yield(text, nil)
	}
}

// Collect drains a stream and returns the concatenated text.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}
