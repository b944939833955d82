// Package openai adapts OpenAI-compatible chat completion APIs (OpenAI
// itself, Mistral) to llm.Provider.
package openai

import (
	"context"
	"io"
	"iter"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	goopenai "github.com/sashabaranov/go-openai"

	"nc-assistant/internal/domain"
	"nc-assistant/internal/integrations/llm"
)

const (
	Name         = "openai"
	MistralName  = "mistral"
	DefaultModel = "gpt-5-nano"

	DefaultBaseURL        = "https://api.openai.com/v1"
	MistralBaseURL        = "https://api.mistral.ai/v1"
	MistralDefaultModel   = "mistral-large-latest"
	defaultHeaderTimeout  = 120 * time.Second
)

// DefaultFixedTemperatureModels are model name prefixes that reject an
// explicit temperature.
var DefaultFixedTemperatureModels = []string{"gpt-5", "o1", "o3", "o4"}

// Client is an llm.Provider backed by an OpenAI-compatible endpoint.
type Client struct {
	name       string
	model      string
	baseURL    string
	httpClient *http.Client
	apiKey     llm.KeyFunc
	fixedTemp  []string

	initOnce sync.Once
	api      *goopenai.Client
	initErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(baseURL); s != "" {
			c.baseURL = strings.TrimRight(s, "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(model); s != "" {
			c.model = s
		}
	}
}

// WithName sets the provider name reported in errors and logs.
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// WithFixedTemperatureModels replaces the model prefixes for which the
// temperature parameter is omitted.
func WithFixedTemperatureModels(prefixes ...string) Option {
	return func(c *Client) {
		c.fixedTemp = prefixes
	}
}

// NewClient creates a Client. The API key is resolved on the first call and
// reused for the lifetime of the process.
func NewClient(apiKey llm.KeyFunc, opts ...Option) (*Client, error) {
	if apiKey == nil {
		return nil, errors.New("openai: api key source must not be nil")
	}
	c := &Client{
		name:       Name,
		model:      DefaultModel,
		baseURL:    DefaultBaseURL,
		httpClient: newHTTPClient(defaultHeaderTimeout),
		apiKey:     apiKey,
		fixedTemp:  DefaultFixedTemperatureModels,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// newHTTPClient bounds the wait for response headers only. Streamed bodies
// are read for as long as the request context allows.
func newHTTPClient(headerTimeout time.Duration) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: t}
}

// NewMistral points the client at Mistral's OpenAI-compatible endpoint.
func NewMistral(apiKey llm.KeyFunc, opts ...Option) (*Client, error) {
	base := []Option{
		WithName(MistralName),
		WithBaseURL(MistralBaseURL),
		WithModel(MistralDefaultModel),
		WithFixedTemperatureModels(),
	}
	return NewClient(apiKey, append(base, opts...)...)
}

func (c *Client) Name() string { return c.name }

// Model returns the model every request is sent to.
func (c *Client) Model() string { return c.model }

func (c *Client) client(ctx context.Context) (*goopenai.Client, error) {
	c.initOnce.Do(func() {
		key, err := c.apiKey(ctx)
		if err != nil {
			c.initErr = llm.NewProviderError(c.name, 0, errors.Wrap(err, "resolve api key"))
			return
		}
		cfg := goopenai.DefaultConfig(key)
		cfg.BaseURL = c.baseURL
		if c.httpClient != nil {
			cfg.HTTPClient = c.httpClient
		}
		c.api = goopenai.NewClientWithConfig(cfg)
	})
	return c.api, c.initErr
}

func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage, opts llm.Options) (string, error) {
	api, err := c.client(ctx)
	if err != nil {
		return "", err
	}
	resp, err := api.CreateChatCompletion(ctx, c.request(messages, opts))
	if err != nil {
		return "", c.wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", llm.NewProviderError(c.name, 0, errors.New("no choices in response"))
	}
	log.Debug().
		Str("provider", c.name).
		Str("model", c.model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("Chat completion done")
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) Stream(ctx context.Context, messages []domain.ChatMessage, opts llm.Options) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		api, err := c.client(ctx)
		if err != nil {
			yield("", err)
			return
		}
		req := c.request(messages, opts)
		req.Stream = true
		stream, err := api.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield("", c.wrapErr(err))
			return
		}
		defer func() {
			if err := stream.Close(); err != nil {
				log.Debug().Err(err).Str("provider", c.name).Msg("Failed to close completion stream")
			}
		}()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", c.wrapErr(err))
				return
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}

func (c *Client) request(messages []domain.ChatMessage, opts llm.Options) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toMessages(messages),
	}
	if !c.fixedTemperature() {
		// The request field is omitempty, so zero would fall back to the
		// server default.
		t := float32(opts.Temperature)
		if t == 0 {
			t = math.SmallestNonzeroFloat32
		}
		req.Temperature = t
	}
	if opts.JSONMode {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

func (c *Client) fixedTemperature() bool {
	model := strings.ToLower(c.model)
	for _, p := range c.fixedTemp {
		if strings.HasPrefix(model, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (c *Client) wrapErr(err error) error {
	var (
		apiErr *goopenai.APIError
		reqErr *goopenai.RequestError
		status int
	)
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return llm.NewProviderError(c.name, status, err)
}

func toMessages(messages []domain.ChatMessage) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, goopenai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
