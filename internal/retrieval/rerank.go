package retrieval

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"nc-assistant/internal/domain"
)

// EmbeddingReranker rescores candidates by cosine similarity between the
// query and each passage content, embedded with the same model.
type EmbeddingReranker struct {
	embedder Embedder
}

func NewEmbeddingReranker(e Embedder) (*EmbeddingReranker, error) {
	if e == nil {
		return nil, errors.New("retrieval: embedder must not be nil")
	}
	return &EmbeddingReranker{embedder: e}, nil
}

// Rerank returns a reordered copy of items with Relevance set to the new
// score. The input slice is left untouched.
func (r *EmbeddingReranker) Rerank(ctx context.Context, query string, items []domain.SourceItem) ([]domain.SourceItem, error) {
	if len(items) == 0 {
		return items, nil
	}
	texts := make([]string, 0, len(items)+1)
	texts = append(texts, query)
	for _, it := range items {
		texts = append(texts, it.Content)
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, errors.Wrap(err, "retrieval: embed rerank candidates")
	}
	if len(vecs) != len(texts) {
		return nil, errors.Errorf("retrieval: expected %d vectors, got %d", len(texts), len(vecs))
	}

	out := make([]domain.SourceItem, len(items))
	copy(out, items)
	for i := range out {
		score := cosine(vecs[0], vecs[i+1])
		out[i].Relevance = &score
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].Relevance > *out[j].Relevance
	})
	return out, nil
}
