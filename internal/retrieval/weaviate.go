package retrieval

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"

	"nc-assistant/internal/domain"
)

const contentProperty = "content"

// WeaviateClass maps a knowledge base onto a Weaviate class and the
// properties returned as passage metadata.
type WeaviateClass struct {
	Name       string
	Properties []string
}

// DefaultWeaviateClasses mirrors the metadata produced by the ingestion
// exports.
var DefaultWeaviateClasses = map[domain.KnowledgeBase]WeaviateClass{
	domain.KnowledgeBaseTechDocs: {
		Name:       "TechDoc",
		Properties: []string{"doc", "doc_root", "chunk_id", "ATA", "parts", "doc_type"},
	},
	domain.KnowledgeBaseNonConformities: {
		Name:       "NonConformity",
		Properties: []string{"doc", "chunk_id"},
	},
}

// WeaviateBackend queries a Weaviate server with nearVector searches. Query
// vectors come from the configured Embedder so both indexes share one model.
type WeaviateBackend struct {
	client   *weaviate.Client
	embedder Embedder
	classes  map[domain.KnowledgeBase]WeaviateClass
}

type WeaviateConfig struct {
	Host       string
	Scheme     string
	APIKey     string
	HTTPClient *http.Client
	Classes    map[domain.KnowledgeBase]WeaviateClass
}

func NewWeaviate(cfg WeaviateConfig, embedder Embedder) (*WeaviateBackend, error) {
	if embedder == nil {
		return nil, errors.New("retrieval: embedder must not be nil")
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("retrieval: weaviate host is required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	wc := weaviate.Config{
		Host:             cfg.Host,
		Scheme:           cfg.Scheme,
		ConnectionClient: cfg.HTTPClient,
	}
	if cfg.APIKey != "" {
		wc.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}
	client, err := weaviate.NewClient(wc)
	if err != nil {
		return nil, errors.Wrap(err, "retrieval: create weaviate client")
	}
	classes := cfg.Classes
	if len(classes) == 0 {
		classes = DefaultWeaviateClasses
	}
	return &WeaviateBackend{client: client, embedder: embedder, classes: classes}, nil
}

func (w *WeaviateBackend) Query(ctx context.Context, kb domain.KnowledgeBase, query string, limit int) (domain.RetrievalResult, error) {
	res := domain.RetrievalResult{KnowledgeBase: kb, Items: []domain.SourceItem{}}
	class, ok := w.classes[kb]
	if !ok {
		return res, errors.Wrapf(ErrUnavailable, "no weaviate class for %q", kb)
	}
	vec, err := w.embedder.Embed(ctx, query)
	if err != nil {
		return res, errors.Wrap(err, "retrieval: embed query")
	}

	fields := make([]graphql.Field, 0, len(class.Properties)+2)
	fields = append(fields, graphql.Field{Name: contentProperty})
	for _, p := range class.Properties {
		fields = append(fields, graphql.Field{Name: p})
	}
	fields = append(fields, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}})

	gql := w.client.GraphQL()
	resp, err := gql.Get().
		WithClassName(class.Name).
		WithFields(fields...).
		WithNearVector(gql.NearVectorArgBuilder().WithVector(vec)).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return res, errors.Wrapf(ErrUnavailable, "weaviate %s: %v", class.Name, err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return res, errors.Wrapf(ErrUnavailable, "weaviate %s: %s", class.Name, strings.Join(msgs, "; "))
	}
	data := make(map[string]any, len(resp.Data))
	for k, v := range resp.Data {
		data[k] = v
	}
	items, err := parseWeaviateHits(data, class.Name)
	if err != nil {
		return res, err
	}
	res.Items = items
	return res, nil
}

// parseWeaviateHits reads data.Get.<class>[] into passages. Relevance is
// 1 - distance.
func parseWeaviateHits(data map[string]any, class string) ([]domain.SourceItem, error) {
	items := []domain.SourceItem{}
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return items, errors.Wrap(ErrUnavailable, "weaviate response has no Get section")
	}
	raw, ok := get[class]
	if !ok || raw == nil {
		return items, nil
	}
	hits, ok := raw.([]any)
	if !ok {
		return items, errors.Wrapf(ErrUnavailable, "weaviate class %s: unexpected result shape", class)
	}
	for _, h := range hits {
		obj, ok := h.(map[string]any)
		if !ok {
			continue
		}
		item := domain.SourceItem{Metadata: map[string]any{}}
		for k, v := range obj {
			switch k {
			case contentProperty:
				item.Content, _ = v.(string)
			case "_additional":
				if add, ok := v.(map[string]any); ok {
					if d, ok := add["distance"].(float64); ok {
						rel := 1 - d
						item.Relevance = &rel
					}
				}
			default:
				item.Metadata[k] = v
			}
		}
		items = append(items, item)
	}
	return items, nil
}
