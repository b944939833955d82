// Package anthropic adapts the Anthropic Messages API to llm.Provider.
package anthropic

import (
	"context"
	"iter"
	"net/http"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"nc-assistant/internal/domain"
	"nc-assistant/internal/integrations/llm"
)

const (
	Name             = "anthropic"
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 4096

	// maxTemperature is the Messages API upper bound; templates may ask for
	// up to 2.
	maxTemperature = 1.0
)

// Client is an llm.Provider for Claude models. The Messages API has a native
// system parameter and no JSON mode; JSON output relies on the prompt.
type Client struct {
	model      string
	maxTokens  int64
	baseURL    string
	httpClient *http.Client
	apiKey     llm.KeyFunc

	initOnce sync.Once
	api      sdk.Client
	initErr  error
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(model); s != "" {
			c.model = s
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithMaxTokens(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func NewClient(apiKey llm.KeyFunc, opts ...Option) (*Client, error) {
	if apiKey == nil {
		return nil, errors.New("anthropic: api key source must not be nil")
	}
	c := &Client{
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		apiKey:    apiKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() string { return Name }

func (c *Client) client(ctx context.Context) (*sdk.Client, error) {
	c.initOnce.Do(func() {
		key, err := c.apiKey(ctx)
		if err != nil {
			c.initErr = llm.NewProviderError(Name, 0, errors.Wrap(err, "resolve api key"))
			return
		}
		opts := []option.RequestOption{
			option.WithAPIKey(key),
			option.WithMaxRetries(0),
		}
		if c.baseURL != "" {
			opts = append(opts, option.WithBaseURL(c.baseURL))
		}
		if c.httpClient != nil {
			opts = append(opts, option.WithHTTPClient(c.httpClient))
		}
		c.api = sdk.NewClient(opts...)
	})
	if c.initErr != nil {
		return nil, c.initErr
	}
	return &c.api, nil
}

func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage, opts llm.Options) (string, error) {
	api, err := c.client(ctx)
	if err != nil {
		return "", err
	}
	msg, err := api.Messages.New(ctx, c.params(messages, opts))
	if err != nil {
		return "", wrapErr(err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	log.Debug().
		Str("provider", Name).
		Str("model", c.model).
		Int64("input_tokens", msg.Usage.InputTokens).
		Int64("output_tokens", msg.Usage.OutputTokens).
		Msg("Message completion done")
	return b.String(), nil
}

func (c *Client) Stream(ctx context.Context, messages []domain.ChatMessage, opts llm.Options) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		api, err := c.client(ctx)
		if err != nil {
			yield("", err)
			return
		}
		stream := api.Messages.NewStreaming(ctx, c.params(messages, opts))
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			event := stream.Current()
			ev, ok := event.AsAny().(sdk.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			delta, ok := ev.Delta.AsAny().(sdk.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			if !yield(delta.Text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", wrapErr(err))
		}
	}
}

func (c *Client) params(messages []domain.ChatMessage, opts llm.Options) sdk.MessageNewParams {
	p := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: sdk.Float(min(max(opts.Temperature, 0), maxTemperature)),
	}
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			p.System = append(p.System, sdk.TextBlockParam{Text: m.Content})
		case domain.RoleAssistant:
			p.Messages = append(p.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			p.Messages = append(p.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return p
}

func wrapErr(err error) error {
	status := 0
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return llm.NewProviderError(Name, status, err)
}
