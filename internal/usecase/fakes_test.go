package usecase

import (
	"context"
	"iter"
	"strings"
	"sync"

	"nc-assistant/internal/domain"
	"nc-assistant/internal/integrations/llm"
	"nc-assistant/internal/prompt"
)

func testTemplates() *prompt.Registry {
	return prompt.NewRegistry(
		&prompt.Template{
			Name:       "compute_nc_scenarios_query",
			SystemText: "Build a search query.",
			UserText:   "{{role}}|{{user_message}}|{{description}}",
			InputNames: []string{"role", "user_message", "description"},
		},
		&prompt.Template{
			Name:        "compute_nc_scenarios_propose_000",
			SystemText:  "Propose a report.",
			UserText:    "docs={{search_docs}} nc={{search_nc}} history={{history}} desc={{description}}",
			InputNames:  []string{"role", "user_message", "description", "search_docs", "search_nc", "history"},
			Temperature: 0.2,
			JSONMode:    true,
		},
		&prompt.Template{
			Name:        "compute_nc_scenarios_propose_100",
			SystemText:  "Analyse the non-conformity.",
			UserText:    "{{description}}",
			Temperature: 0.2,
			JSONMode:    true,
			ModelHint:   &prompt.ModelHint{Provider: "fake", Model: "fake-large"},
		},
	)
}

type call struct {
	model    string
	messages []domain.ChatMessage
	opts     llm.Options
	stream   bool
}

// fakeModel answers the query stage with queryReply and JSON-mode stages
// with finalReply. Streams are cut in chunkSize pieces.
type fakeModel struct {
	mu         sync.Mutex
	calls      []call
	queryReply string
	finalReply string
	chunkSize  int
	queryErr   error
	finalErr   error
}

func (m *fakeModel) record(c call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

func (m *fakeModel) Calls() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]call(nil), m.calls...)
}

func (m *fakeModel) reply(opts llm.Options) (string, error) {
	if opts.JSONMode {
		return m.finalReply, m.finalErr
	}
	return m.queryReply, m.queryErr
}

type fakeProvider struct {
	model string
	m     *fakeModel
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Complete(_ context.Context, msgs []domain.ChatMessage, opts llm.Options) (string, error) {
	p.m.record(call{model: p.model, messages: msgs, opts: opts})
	return p.m.reply(opts)
}

func (p *fakeProvider) Stream(ctx context.Context, msgs []domain.ChatMessage, opts llm.Options) iter.Seq2[string, error] {
	p.m.record(call{model: p.model, messages: msgs, opts: opts, stream: true})
	return func(yield func(string, error) bool) {
		text, err := p.m.reply(opts)
		if err != nil {
			yield("", err)
			return
		}
		size := p.m.chunkSize
		if size <= 0 {
			size = 4
		}
		for len(text) > 0 {
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}
			n := min(size, len(text))
			if !yield(text[:n], nil) {
				return
			}
			text = text[n:]
		}
	}
}

type fakeProviders struct {
	m *fakeModel
}

func (f fakeProviders) Has(name string) bool { return name == "fake" }

func (f fakeProviders) New(name, model string) (llm.Provider, error) {
	if name != "fake" {
		return nil, llm.ErrUnsupportedProvider
	}
	return &fakeProvider{model: model, m: f.m}, nil
}

type fakeSearcher struct {
	mu      sync.Mutex
	queries map[domain.KnowledgeBase][]string
	results map[domain.KnowledgeBase][]domain.SourceItem
}

func newFakeSearcher() *fakeSearcher {
	return &fakeSearcher{
		queries: map[domain.KnowledgeBase][]string{},
		results: map[domain.KnowledgeBase][]domain.SourceItem{},
	}
}

func (s *fakeSearcher) Search(_ context.Context, kb domain.KnowledgeBase, query string, _ int) domain.RetrievalResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[kb] = append(s.queries[kb], query)
	items := s.results[kb]
	if items == nil {
		items = []domain.SourceItem{}
	}
	return domain.RetrievalResult{KnowledgeBase: kb, Items: items}
}

func (s *fakeSearcher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queries {
		n += len(q)
	}
	return n
}

type event struct {
	kind     string
	text     any
	metadata string
}

type recordingSink struct {
	events  []event
	failAt  int
	written int
}

func (s *recordingSink) add(e event) error {
	s.written++
	if s.failAt > 0 && s.written >= s.failAt {
		return context.Canceled
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Preamble() error {
	return s.add(event{kind: "preamble"})
}

func (s *recordingSink) Envelope(typ string, text any, metadata string) error {
	return s.add(event{kind: typ, text: text, metadata: metadata})
}

func (s *recordingSink) Delta(fragment, metadata string) error {
	return s.add(event{kind: "delta", text: fragment, metadata: metadata})
}

func (s *recordingSink) deltas() string {
	var b strings.Builder
	for _, e := range s.events {
		if e.kind == "delta" {
			b.WriteString(e.text.(string))
		}
	}
	return b.String()
}

func ptr[T any](v T) *T { return &v }
