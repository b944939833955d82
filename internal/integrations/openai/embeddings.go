package openai

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/pkg/errors"
	goopenai "github.com/sashabaranov/go-openai"

	"nc-assistant/internal/integrations/llm"
)

// DefaultEmbeddingModel matches the dimension of the published indexes.
const DefaultEmbeddingModel = goopenai.LargeEmbedding3

// Embedder turns text into vectors with the OpenAI embeddings endpoint.
type Embedder struct {
	model      goopenai.EmbeddingModel
	baseURL    string
	httpClient *http.Client
	apiKey     llm.KeyFunc

	mu  sync.Mutex
	api *goopenai.Client
}

// NewEmbedder creates an Embedder; an empty model selects
// DefaultEmbeddingModel.
func NewEmbedder(apiKey llm.KeyFunc, model, baseURL string, httpClient *http.Client) (*Embedder, error) {
	if apiKey == nil {
		return nil, errors.New("openai: api key source must not be nil")
	}
	e := &Embedder{
		model:      goopenai.EmbeddingModel(strings.TrimSpace(model)),
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		apiKey:     apiKey,
	}
	if e.model == "" {
		e.model = DefaultEmbeddingModel
	}
	if e.baseURL == "" {
		e.baseURL = DefaultBaseURL
	}
	return e, nil
}

// client builds the API client once the key resolves. A failed key lookup
// is retried on the next call.
func (e *Embedder) client(ctx context.Context) (*goopenai.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.api != nil {
		return e.api, nil
	}
	key, err := e.apiKey(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "openai: resolve api key")
	}
	cfg := goopenai.DefaultConfig(key)
	cfg.BaseURL = e.baseURL
	if e.httpClient != nil {
		cfg.HTTPClient = e.httpClient
	}
	e.api = goopenai.NewClientWithConfig(cfg)
	return e.api, nil
}

// Embed returns the vector for one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input, in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	api, err := e.client(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := api.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, errors.Wrap(err, "openai: create embeddings")
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.Errorf("openai: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, errors.Errorf("openai: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
