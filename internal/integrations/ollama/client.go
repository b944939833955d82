// Package ollama adapts a local Ollama server to llm.Provider.
package ollama

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"

	"nc-assistant/internal/domain"
	"nc-assistant/internal/integrations/llm"
)

const (
	Name         = "ollama"
	DefaultModel = "llama3"
)

// errStopped ends a chat callback when the consumer stops ranging.
var errStopped = errors.New("ollama: consumer stopped")

// chatAPI is the subset of *api.Client used here.
type chatAPI interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// Client is an llm.Provider for models served by Ollama. The server address
// comes from OLLAMA_HOST.
type Client struct {
	model string

	initOnce sync.Once
	api      chatAPI
	initErr  error
}

func NewClient(model string) (*Client, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &Client{model: model}, nil
}

func newWithAPI(model string, a chatAPI) *Client {
	c := &Client{model: model, api: a}
	c.initOnce.Do(func() {})
	return c
}

func (c *Client) Name() string { return Name }

func (c *Client) client() (chatAPI, error) {
	c.initOnce.Do(func() {
		cl, err := api.ClientFromEnvironment()
		if err != nil {
			c.initErr = llm.NewProviderError(Name, 0, errors.Wrap(err, "create client"))
			return
		}
		c.api = cl
	})
	return c.api, c.initErr
}

func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage, opts llm.Options) (string, error) {
	a, err := c.client()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	err = a.Chat(ctx, c.request(messages, opts, false), func(resp api.ChatResponse) error {
		b.WriteString(content(resp))
		return nil
	})
	if err != nil {
		return "", wrapErr(err)
	}
	return b.String(), nil
}

func (c *Client) Stream(ctx context.Context, messages []domain.ChatMessage, opts llm.Options) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		a, err := c.client()
		if err != nil {
			yield("", err)
			return
		}
		err = a.Chat(ctx, c.request(messages, opts, true), func(resp api.ChatResponse) error {
			text := content(resp)
			if text == "" {
				return nil
			}
			if !yield(text, nil) {
				return errStopped
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopped) {
			yield("", wrapErr(err))
		}
	}
}

// content returns the fragment carried by resp. The closing frame with
// Done set has no message.
func content(resp api.ChatResponse) string {
	if resp.Message == nil {
		return ""
	}
	return resp.Message.Content
}

func (c *Client) request(messages []domain.ChatMessage, opts llm.Options, stream bool) *api.ChatRequest {
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: toMessages(messages),
		Stream:   &stream,
		Options:  map[string]interface{}{"temperature": opts.Temperature},
	}
	if opts.JSONMode {
		req.Format = "json"
	}
	return req
}

func toMessages(messages []domain.ChatMessage) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, api.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func wrapErr(err error) error {
	status := 0
	var se api.StatusError
	if errors.As(err, &se) {
		status = se.StatusCode
	}
	return llm.NewProviderError(Name, status, err)
}
