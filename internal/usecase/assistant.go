package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nc-assistant/internal/domain"
	"nc-assistant/internal/integrations/llm"
	"nc-assistant/internal/prompt"
	"nc-assistant/internal/retrieval"
)

// DefaultProvider is used when a request does not name one.
const DefaultProvider = "openai"

type PromptSource interface {
	Get(name string) (*prompt.Template, error)
}

type ProviderFactory interface {
	Has(name string) bool
	New(name, model string) (llm.Provider, error)
}

type Searcher interface {
	Search(ctx context.Context, kb domain.KnowledgeBase, query string, limit int) domain.RetrievalResult
}

// Assistant runs the question pipeline: query expansion, retrieval over both
// knowledge bases and the final generation. It holds no per-request state.
type Assistant struct {
	prompts         PromptSource
	providers       ProviderFactory
	search          Searcher
	defaultProvider string
	retrievalLimit  int
}

type Option func(*Assistant)

func WithDefaultProvider(name string) Option {
	return func(a *Assistant) {
		if name = strings.TrimSpace(name); name != "" {
			a.defaultProvider = name
		}
	}
}

// WithRetrievalLimit caps the passages fetched per knowledge base. Zero keeps
// the gateway default.
func WithRetrievalLimit(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.retrievalLimit = n
		}
	}
}

func NewAssistant(prompts PromptSource, providers ProviderFactory, search Searcher, opts ...Option) (*Assistant, error) {
	if prompts == nil {
		return nil, errors.New("usecase: prompt source must not be nil")
	}
	if providers == nil {
		return nil, errors.New("usecase: provider factory must not be nil")
	}
	if search == nil {
		return nil, errors.New("usecase: searcher must not be nil")
	}
	a := &Assistant{
		prompts:         prompts,
		providers:       providers,
		search:          search,
		defaultProvider: DefaultProvider,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

type AskInput struct {
	Messages []domain.InboundMessage
	Provider string
}

type stage struct {
	name     string
	template *prompt.Template
	provider llm.Provider
}

func (s stage) options() llm.Options {
	return llm.Options{Temperature: s.template.Temperature, JSONMode: s.template.JSONMode}
}

// Plan is a validated request: every template and provider it needs has been
// resolved, so running it can only fail upstream.
type Plan struct {
	Turn     domain.ConversationTurn
	Provider string

	query *stage
	final stage
}

// SkipsRetrieval reports whether the caller supplied the sources.
func (p *Plan) SkipsRetrieval() bool { return p.query == nil }

// Prepare validates in and resolves the templates and providers of the run.
// Nothing is sent upstream.
func (a *Assistant) Prepare(in AskInput) (*Plan, error) {
	if len(in.Messages) == 0 {
		return nil, newError(ErrorInvalidInput, "empty_messages", nil)
	}
	last := in.Messages[len(in.Messages)-1]
	if last.Text == nil && last.Description == nil {
		return nil, newError(ErrorInvalidInput, "empty_question", nil)
	}
	turn := domain.TurnFromMessage(last)
	if strings.TrimSpace(turn.Description) == "" {
		return nil, newError(ErrorInvalidInput, "empty_question", nil)
	}

	providerName := strings.ToLower(strings.TrimSpace(in.Provider))
	if providerName == "" {
		providerName = a.defaultProvider
	}
	if !a.providers.Has(providerName) {
		return nil, newError(ErrorUnsupportedProvider, providerName, llm.ErrUnsupportedProvider)
	}

	p := &Plan{Turn: turn, Provider: providerName}
	final, err := a.stage(turn.Role, providerName)
	if err != nil {
		return nil, err
	}
	p.final = final
	if turn.Sources == nil {
		q, err := a.stage(prompt.NameQuery, providerName)
		if err != nil {
			return nil, err
		}
		p.query = &q
	}
	return p, nil
}

func (a *Assistant) stage(name, providerName string) (stage, error) {
	tmpl, err := a.prompts.Get(name)
	if err != nil {
		if errors.Is(err, prompt.ErrNotFound) {
			return stage{}, newError(ErrorPromptNotFound, name, err)
		}
		return stage{}, newError(ErrorInternal, "prompt_load_error", err)
	}
	provider, err := a.providers.New(providerName, tmpl.HintFor(providerName))
	if err != nil {
		if errors.Is(err, llm.ErrUnsupportedProvider) {
			return stage{}, newError(ErrorUnsupportedProvider, providerName, err)
		}
		return stage{}, newError(ErrorInternal, "provider_init_error", err)
	}
	return stage{name: name, template: tmpl, provider: provider}, nil
}

// Ask runs the pipeline without incremental output.
func (a *Assistant) Ask(ctx context.Context, in AskInput) (domain.FinalAnswer, error) {
	p, err := a.Prepare(in)
	if err != nil {
		return domain.FinalAnswer{}, err
	}
	return a.run(ctx, p, nopSink{}, false)
}

func (a *Assistant) run(ctx context.Context, p *Plan, sink Sink, streaming bool) (domain.FinalAnswer, error) {
	turn := p.Turn
	logger := zerolog.Ctx(ctx).With().
		Str("provider", p.Provider).
		Str("role", turn.Role).
		Bool("streaming", streaming).
		Logger()
	start := time.Now()

	answer := domain.FinalAnswer{
		UserQuery:        turn.UserMessage,
		InputDescription: turn.Description,
		Role:             domain.AssistantRole,
		UserRole:         turn.Role,
	}
	baseVars := map[string]any{
		"role":         turn.Role,
		"user_message": turn.UserMessage,
		"description":  turn.Description,
	}

	if p.query == nil {
		answer.Sources = *turn.Sources
		logger.Debug().Msg("Sources supplied by caller, skipping query expansion and retrieval")
	} else {
		if err := sink.Envelope(TypeAction, actionBuildQuery, stageQuery); err != nil {
			return domain.FinalAnswer{}, sinkError(err)
		}
		query, err := a.expandQuery(ctx, *p.query, baseVars)
		if err != nil {
			return domain.FinalAnswer{}, err
		}
		answer.KnowledgeQuery = query
		logger.Debug().Str("stage", stageQuery).Str("query", query).Msg("Search query built")
		if err := sink.Envelope(TypeResult, query, stageQuery); err != nil {
			return domain.FinalAnswer{}, sinkError(err)
		}

		if err := sink.Envelope(TypeAction, actionSearchDocs, stageDocSearch); err != nil {
			return domain.FinalAnswer{}, sinkError(err)
		}
		if err := sink.Envelope(TypeAction, actionSearchNC, stageNCSearch); err != nil {
			return domain.FinalAnswer{}, sinkError(err)
		}
		docs, nc, err := a.retrieve(ctx, query)
		if err != nil {
			return domain.FinalAnswer{}, err
		}
		if answer.Sources, err = marshalSources(docs, nc); err != nil {
			return domain.FinalAnswer{}, newError(ErrorInternal, "sources_encode_error", err)
		}
		logger.Debug().
			Int("tech_docs", len(docs.Sources)).
			Int("non_conformities", len(nc.Sources)).
			Msg("Retrieval finished")
		if err := sink.Envelope(TypeResult, docs, stageDocSearch); err != nil {
			return domain.FinalAnswer{}, sinkError(err)
		}
		if err := sink.Envelope(TypeResult, nc, stageNCSearch); err != nil {
			return domain.FinalAnswer{}, sinkError(err)
		}
	}

	vars := make(map[string]any, len(baseVars)+3)
	for k, v := range baseVars {
		vars[k] = v
	}
	vars["search_docs"] = rawOrEmpty(answer.Sources.TechDocs)
	vars["search_nc"] = rawOrEmpty(answer.Sources.NonConformities)
	vars["history"] = string(turn.History)

	if err := sink.Envelope(TypeAction, finalAction(turn.Role), turn.Role); err != nil {
		return domain.FinalAnswer{}, sinkError(err)
	}
	raw, err := a.generate(ctx, p.final, vars, sink, streaming, turn.Role)
	if err != nil {
		return domain.FinalAnswer{}, err
	}

	parsed := RecoverJSON(raw)
	checkAnswerContract(&logger, parsed)
	answer.Text = parsed["comment"]
	answer.Label = parsed["label"]
	answer.Description = parsed["description"]
	if err := sink.Envelope(TypeResult, parsed, turn.Role); err != nil {
		return domain.FinalAnswer{}, sinkError(err)
	}
	if err := sink.Envelope(TypeResult, answer, MetadataFinal); err != nil {
		return domain.FinalAnswer{}, sinkError(err)
	}

	logger.Info().Dur("took", time.Since(start)).Msg("Answer generated")
	return answer, nil
}

func (a *Assistant) expandQuery(ctx context.Context, q stage, vars map[string]any) (string, error) {
	r := q.template.Render(vars)
	text, err := q.provider.Complete(ctx, domain.PromptMessages(r.System, r.User), q.options())
	if err != nil {
		return "", upstreamError("query_generation_error", err)
	}
	return strings.TrimSpace(text), nil
}

// retrieve searches both knowledge bases concurrently. Search never fails, so
// only a cancelled context stops it.
func (a *Assistant) retrieve(ctx context.Context, query string) (domain.FormattedSources, domain.FormattedSources, error) {
	var docs, nc domain.RetrievalResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		docs = a.search.Search(gctx, domain.KnowledgeBaseTechDocs, query, a.retrievalLimit)
		return nil
	})
	g.Go(func() error {
		nc = a.search.Search(gctx, domain.KnowledgeBaseNonConformities, query, a.retrievalLimit)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return domain.FormattedSources{}, domain.FormattedSources{}, upstreamError("retrieval_canceled", err)
	}
	return retrieval.Format(docs), retrieval.Format(nc), nil
}

func (a *Assistant) generate(ctx context.Context, s stage, vars map[string]any, sink Sink, streaming bool, metadata string) (string, error) {
	r := s.template.Render(vars)
	msgs := domain.PromptMessages(r.System, r.User)
	if !streaming {
		text, err := s.provider.Complete(ctx, msgs, s.options())
		if err != nil {
			return "", upstreamError("generation_error", err)
		}
		return text, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var b strings.Builder
	for chunk, err := range s.provider.Stream(ctx, msgs, s.options()) {
		if err != nil {
			return "", upstreamError("generation_error", err)
		}
		if chunk == "" {
			continue
		}
		b.WriteString(chunk)
		if err := sink.Delta(chunk, metadata); err != nil {
			return "", sinkError(err)
		}
	}
	return b.String(), nil
}

// RunPrompt renders one named template with vars and returns the model
// output, parsed as JSON when the template asks for JSON.
func (a *Assistant) RunPrompt(ctx context.Context, name, providerName string, vars map[string]any) (any, error) {
	providerName = strings.ToLower(strings.TrimSpace(providerName))
	if providerName == "" {
		providerName = a.defaultProvider
	}
	if !a.providers.Has(providerName) {
		return nil, newError(ErrorUnsupportedProvider, providerName, llm.ErrUnsupportedProvider)
	}
	s, err := a.stage(name, providerName)
	if err != nil {
		return nil, err
	}
	if missing := s.template.MissingInputs(vars); len(missing) > 0 {
		zerolog.Ctx(ctx).Warn().Str("template", name).Strs("missing", missing).Msg("Rendering with unresolved inputs")
	}
	r := s.template.Render(vars)
	text, err := s.provider.Complete(ctx, domain.PromptMessages(r.System, r.User), s.options())
	if err != nil {
		return nil, upstreamError("generation_error", err)
	}
	if s.template.JSONMode {
		return RecoverJSON(text), nil
	}
	return text, nil
}

func marshalSources(docs, nc domain.FormattedSources) (domain.Sources, error) {
	d, err := json.Marshal(docs)
	if err != nil {
		return domain.Sources{}, errors.Wrap(err, "encode tech doc sources")
	}
	n, err := json.Marshal(nc)
	if err != nil {
		return domain.Sources{}, errors.Wrap(err, "encode nc sources")
	}
	return domain.Sources{TechDocs: d, NonConformities: n}, nil
}

func rawOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return `{"sources":[]}`
	}
	return string(raw)
}
