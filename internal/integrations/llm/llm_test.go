package llm

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"nc-assistant/internal/domain"
)

func TestFoldSystemPrependsOnce(t *testing.T) {
	in := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "S"},
		{Role: domain.RoleUser, Content: "U"},
		{Role: domain.RoleAssistant, Content: "A"},
		{Role: domain.RoleUser, Content: "U2"},
	}
	out := FoldSystem(in)
	require.Len(t, out, 3)
	require.Equal(t, domain.RoleUser, out[0].Role)
	require.Equal(t, "S\n\nU", out[0].Content)
	require.Equal(t, "U2", out[2].Content)

	joined := ""
	for _, m := range out {
		joined += m.Content
	}
	require.Equal(t, 1, strings.Count(joined, "S"))

	require.Equal(t, out, FoldSystem(out))
	require.Equal(t, domain.RoleSystem, in[0].Role, "input must not be mutated")
}

func TestFoldSystemOnlySystem(t *testing.T) {
	out := FoldSystem([]domain.ChatMessage{{Role: domain.RoleSystem, Content: "S"}})
	require.Equal(t, []domain.ChatMessage{{Role: domain.RoleUser, Content: "S"}}, out)
}

func TestFoldSystemWithoutSystem(t *testing.T) {
	in := []domain.ChatMessage{{Role: domain.RoleUser, Content: "U"}}
	require.Equal(t, in, FoldSystem(in))
}

type countingProvider struct {
	calls int
	text  string
	err   error
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Complete(context.Context, []domain.ChatMessage, Options) (string, error) {
	p.calls++
	return p.text, p.err
}

func (p *countingProvider) Stream(ctx context.Context, m []domain.ChatMessage, o Options) iter.Seq2[string, error] {
	return SingleShot(ctx, p, m, o)
}

func TestSingleShotYieldsWholeResponse(t *testing.T) {
	p := &countingProvider{text: "whole answer"}
	var chunks []string
	for c, err := range p.Stream(context.Background(), nil, Options{}) {
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
	require.Equal(t, []string{"whole answer"}, chunks)
	require.Equal(t, 1, p.calls)
}

func TestSingleShotPropagatesError(t *testing.T) {
	p := &countingProvider{err: errors.New("boom")}
	text, err := Collect(p.Stream(context.Background(), nil, Options{}))
	require.Error(t, err)
	require.Empty(t, text)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	var gotModel string
	r.Register(func(model string) (Provider, error) {
		gotModel = model
		return NewEcho(model)
	}, "echo", "Local")

	require.True(t, r.Has("LOCAL"))
	require.Equal(t, []string{"echo", "local"}, r.Names())

	p, err := r.New("echo", " custom ")
	require.NoError(t, err)
	require.Equal(t, EchoName, p.Name())
	require.Equal(t, "custom", gotModel)

	_, err = r.New("cohere", "")
	require.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry()
	r.Register(func(string) (Provider, error) { return nil, errors.New("no key") }, "broken")
	_, err := r.New("broken", "")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnsupportedProvider)
}

func TestProviderError(t *testing.T) {
	base := errors.New("too many requests")
	err := NewProviderError("openai", http.StatusTooManyRequests, base)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, http.StatusTooManyRequests, pe.HTTPStatusCode())
	require.ErrorIs(t, err, base)
	require.Contains(t, err.Error(), "openai")

	require.Same(t, err, NewProviderError("other", 500, err))
	require.NoError(t, NewProviderError("openai", 500, nil))
}

func TestEcho(t *testing.T) {
	p, err := NewEcho("")
	require.NoError(t, err)
	msgs := domain.PromptMessages("sys", "line \"one\"\nline two")

	text, err := p.Complete(context.Background(), msgs, Options{})
	require.NoError(t, err)
	require.Equal(t, "line \"one\"\nline two", text)

	text, err = p.Complete(context.Background(), msgs, Options{JSONMode: true})
	require.NoError(t, err)
	require.JSONEq(t, `{"comment":"line \"one\"\nline two","label":"","description":""}`, text)

	streamed, err := Collect(p.Stream(context.Background(), msgs, Options{JSONMode: true}))
	require.NoError(t, err)
	require.Equal(t, text, streamed)

	_, err = p.Complete(context.Background(), []domain.ChatMessage{{Role: domain.RoleSystem, Content: "x"}}, Options{})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
}
