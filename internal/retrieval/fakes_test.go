package retrieval

import (
	"context"
	"errors"
	"strings"

	"nc-assistant/internal/domain"
)

// letterEmbedder maps text to counts of 'a', 'b' and 'c', enough to make
// similarity predictable.
type letterEmbedder struct {
	batchErr  error
	failOn    string
	batchSize []int
	single    int
}

func (e *letterEmbedder) vec(text string) []float32 {
	return []float32{
		float32(strings.Count(text, "a")),
		float32(strings.Count(text, "b")),
		float32(strings.Count(text, "c")),
	}
}

func (e *letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.single++
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, errors.New("input rejected")
	}
	return e.vec(text), nil
}

func (e *letterEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.batchSize = append(e.batchSize, len(texts))
	if e.batchErr != nil {
		return nil, e.batchErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return out, nil
}

type fakeBackend struct {
	res   domain.RetrievalResult
	err   error
	calls int
	limit int
}

func (b *fakeBackend) Query(_ context.Context, kb domain.KnowledgeBase, _ string, limit int) (domain.RetrievalResult, error) {
	b.calls++
	b.limit = limit
	if b.err != nil {
		return domain.RetrievalResult{}, b.err
	}
	r := b.res
	r.KnowledgeBase = kb
	return r, nil
}

type fakeReranker struct {
	err error
}

func (r *fakeReranker) Rerank(_ context.Context, _ string, items []domain.SourceItem) ([]domain.SourceItem, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]domain.SourceItem, len(items))
	for i := range items {
		out[len(items)-1-i] = items[i]
	}
	return out, nil
}

func items(contents ...string) []domain.SourceItem {
	out := make([]domain.SourceItem, 0, len(contents))
	for _, c := range contents {
		out = append(out, domain.SourceItem{Content: c})
	}
	return out
}

func contentsOf(items []domain.SourceItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Content)
	}
	return out
}
