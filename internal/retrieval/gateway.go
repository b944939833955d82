package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nc-assistant/internal/domain"
)

// Gateway wraps a Backend with optional reranking and absorbs every failure
// into an empty result so the pipeline can answer without evidence.
type Gateway struct {
	backend  Backend
	reranker Reranker
	limit    int
}

type GatewayOption func(*Gateway)

func WithReranker(r Reranker) GatewayOption {
	return func(g *Gateway) {
		g.reranker = r
	}
}

func WithLimit(limit int) GatewayOption {
	return func(g *Gateway) {
		if limit > 0 {
			g.limit = limit
		}
	}
}

// NewGateway returns a Gateway. A nil backend yields a gateway that always
// returns empty results.
func NewGateway(backend Backend, opts ...GatewayOption) *Gateway {
	g := &Gateway{backend: backend, limit: DefaultLimit}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Limit is the default number of passages per query.
func (g *Gateway) Limit() int { return g.limit }

// Search returns up to limit passages from kb. It never fails; a limit <= 0
// selects the gateway default.
func (g *Gateway) Search(ctx context.Context, kb domain.KnowledgeBase, query string, limit int) domain.RetrievalResult {
	empty := domain.RetrievalResult{KnowledgeBase: kb, Items: []domain.SourceItem{}}
	if limit <= 0 {
		limit = g.limit
	}
	query = strings.TrimSpace(query)
	logger := zerolog.Ctx(ctx).With().Str("knowledge_base", string(kb)).Logger()

	if g.backend == nil {
		logger.Warn().Msg("No retrieval backend configured, returning empty results")
		return empty
	}
	if query == "" {
		logger.Warn().Msg("Empty retrieval query, returning empty results")
		return empty
	}

	start := time.Now()
	res, err := g.backend.Query(ctx, kb, query, limit)
	if err != nil {
		logger.Error().Err(err).Str("query", query).Msg("Retrieval failed, returning empty results")
		return empty
	}
	res.KnowledgeBase = kb
	if res.Items == nil {
		res.Items = []domain.SourceItem{}
	}

	if g.reranker != nil && len(res.Items) > 0 {
		reranked, err := g.reranker.Rerank(ctx, query, res.Items)
		if err != nil {
			logger.Warn().Err(err).Msg("Rerank failed, keeping backend order")
		} else {
			res.Items = reranked
		}
	}
	if len(res.Items) > limit {
		res.Items = res.Items[:limit]
	}

	logger.Info().
		Int("results", len(res.Items)).
		Dur("took", time.Since(start)).
		Msg("Retrieval done")
	return res
}
