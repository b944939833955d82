package usecase

import (
	"context"

	"github.com/pkg/errors"

	"nc-assistant/internal/domain"
)

// Envelope types, mirrored by the sse package.
const (
	TypeAction = "action"
	TypeResult = "result"
)

// MetadataFinal tags the last result event of a stream.
const MetadataFinal = "final"

// Stage tags carried in the metadata of action and result events.
const (
	stageQuery     = "query"
	stageDocSearch = "doc_search"
	stageNCSearch  = "nc_search"
)

const (
	actionBuildQuery   = "Build appropriate request"
	actionSearchDocs   = "Search for relevant technical documents"
	actionSearchNC     = "Search for similar non-conformities"
	actionFinalGeneric = "Generating answer"
)

var finalActions = map[string]string{
	"000": "Propose structured non-conformity report",
	"100": "Analysing non-conformity",
}

func finalAction(role string) string {
	if a, ok := finalActions[role]; ok {
		return a
	}
	return actionFinalGeneric
}

// Sink receives the events of a streamed run in order. sse.Encoder
// satisfies it.
type Sink interface {
	Preamble() error
	Envelope(typ string, text any, metadata string) error
	Delta(fragment, metadata string) error
}

type nopSink struct{}

func (nopSink) Preamble() error { return nil }

func (nopSink) Envelope(string, any, string) error { return nil }

func (nopSink) Delta(string, string) error { return nil }

// ErrSinkClosed marks a run stopped because the client went away.
var ErrSinkClosed = errors.New("usecase: event sink closed")

func sinkError(err error) *Error {
	return newError(ErrorInternal, "event_write_error", errors.Wrap(ErrSinkClosed, err.Error()))
}

// Stream runs the pipeline and reports every stage to sink: an action event
// before it starts, a result event when it ends, one delta per fragment of the
// final generation and a last result tagged "final" with the answer.
//
// Validation happens before the first event, so an error returned without any
// event written is safe to report as a plain response.
func (a *Assistant) Stream(ctx context.Context, in AskInput, sink Sink) (domain.FinalAnswer, error) {
	p, err := a.Prepare(in)
	if err != nil {
		return domain.FinalAnswer{}, err
	}
	if err := sink.Preamble(); err != nil {
		return domain.FinalAnswer{}, sinkError(err)
	}
	return a.run(ctx, p, sink, true)
}
