// Package retrieval fetches ranked passages from the two knowledge bases.
// Backends may fail; the Gateway in front of them never does.
package retrieval

import (
	"context"

	"github.com/pkg/errors"

	"nc-assistant/internal/domain"
)

// DefaultLimit is the number of passages requested per knowledge base.
const DefaultLimit = 10

// ErrUnavailable marks a backend that cannot serve queries (missing index,
// unreachable server, corrupt data).
var ErrUnavailable = errors.New("retrieval: backend unavailable")

// Backend runs a nearest-neighbour query against one knowledge base.
type Backend interface {
	Query(ctx context.Context, kb domain.KnowledgeBase, query string, limit int) (domain.RetrievalResult, error)
}

// Reranker reorders candidates by a secondary relevance model.
type Reranker interface {
	Rerank(ctx context.Context, query string, items []domain.SourceItem) ([]domain.SourceItem, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
