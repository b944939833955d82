// Package gemini adapts Google's Gemini API to llm.Provider. Gemini has no
// system role, so conversations are folded before they are sent.
package gemini

import (
	"context"
	"iter"
	"net/http"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"nc-assistant/internal/domain"
	"nc-assistant/internal/integrations/llm"
)

const (
	Name         = "gemini"
	DefaultModel = "gemini-2.5-flash"

	roleUser  = "user"
	roleModel = "model"
)

// Client is an llm.Provider for Gemini models.
type Client struct {
	model      string
	baseURL    string
	httpClient *http.Client
	apiKey     llm.KeyFunc

	initOnce sync.Once
	api      *genai.Client
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

func NewClient(apiKey llm.KeyFunc, opts ...Option) (*Client, error) {
	if apiKey == nil {
		return nil, errors.New("gemini: api key source must not be nil")
	}
	c := &Client{model: DefaultModel, apiKey: apiKey}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() string { return Name }

func (c *Client) client(ctx context.Context) (*genai.Client, error) {
	c.initOnce.Do(func() {
		key, err := c.apiKey(ctx)
		if err != nil {
			c.initErr = llm.NewProviderError(Name, 0, errors.Wrap(err, "resolve api key"))
			return
		}
		cfg := &genai.ClientConfig{
			APIKey:     key,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: c.httpClient,
		}
		if c.baseURL != "" {
			cfg.HTTPOptions.BaseURL = c.baseURL
		}
		c.api, err = genai.NewClient(ctx, cfg)
		if err != nil {
			c.initErr = llm.NewProviderError(Name, 0, errors.Wrap(err, "create client"))
		}
	})
	return c.api, c.initErr
}

func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage, opts llm.Options) (string, error) {
	api, err := c.client(ctx)
	if err != nil {
		return "", err
	}
	resp, err := api.Models.GenerateContent(ctx, c.model, toContents(messages), generationConfig(opts))
	if err != nil {
		return "", wrapErr(err)
	}
	if resp.UsageMetadata != nil {
		log.Debug().
			Str("provider", Name).
			Str("model", c.model).
			Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount).
			Int32("completion_tokens", resp.UsageMetadata.CandidatesTokenCount).
			Msg("Content generation done")
	}
	return responseText(resp), nil
}

func (c *Client) Stream(ctx context.Context, messages []domain.ChatMessage, opts llm.Options) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		api, err := c.client(ctx)
		if err != nil {
			yield("", err)
			return
		}
		for resp, err := range api.Models.GenerateContentStream(ctx, c.model, toContents(messages), generationConfig(opts)) {
			if err != nil {
				yield("", wrapErr(err))
				return
			}
			text := responseText(resp)
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

func generationConfig(opts llm.Options) *genai.GenerateContentConfig {
	t := float32(opts.Temperature)
	cfg := &genai.GenerateContentConfig{Temperature: &t}
	if opts.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

func toContents(messages []domain.ChatMessage) []*genai.Content {
	folded := llm.FoldSystem(messages)
	out := make([]*genai.Content, 0, len(folded))
	for _, m := range folded {
		role := roleUser
		if m.Role == domain.RoleAssistant {
			role = roleModel
		}
		out = append(out, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}
	return out
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

func wrapErr(err error) error {
	status := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Code
	case errors.As(err, &apiErrPtr):
		status = apiErrPtr.Code
	}
	return llm.NewProviderError(Name, status, err)
}
