package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"nc-assistant/internal/domain"
	"nc-assistant/internal/sse"
	"nc-assistant/internal/usecase"
)

type aiRequest struct {
	Messages []domain.InboundMessage `json:"messages"`
	Provider string                  `json:"provider"`
	Stream   bool                    `json:"stream"`
}

type promptRequest struct {
	Name      string         `json:"name"`
	Provider  string         `json:"provider"`
	Variables map[string]any `json:"variables"`
}

type promptResponse struct {
	Result any `json:"result"`
}

func wantsStream(r *http.Request, body aiRequest) bool {
	return body.Stream || strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) handleAI(w http.ResponseWriter, r *http.Request) {
	var body aiRequest
	if !h.decode(w, r, &body) {
		return
	}
	in := usecase.AskInput{Messages: body.Messages, Provider: body.Provider}
	ctx := r.Context()

	if !wantsStream(r, body) {
		answer, err := h.assistant.Ask(ctx, in)
		if err != nil {
			writeUseCaseError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, answer)
		return
	}

	sink := &streamSink{w: w}
	if _, err := h.assistant.Stream(ctx, in, sink); err != nil {
		if !sink.started {
			writeUseCaseError(w, r, err)
			return
		}
		_, code, description := classify(err)
		zerolog.Ctx(ctx).Error().Err(err).Msg("Stream aborted")
		if ctx.Err() == nil {
			_ = sink.enc.Error(code, description)
		}
	}
}

// streamSink switches the response to text/event-stream on the first event,
// so failures before any output still get a plain JSON error.
type streamSink struct {
	w       http.ResponseWriter
	enc     *sse.Encoder
	started bool
}

func (s *streamSink) start() {
	if s.started {
		return
	}
	s.started = true
	hdr := s.w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.enc = sse.NewEncoder(s.w)
}

func (s *streamSink) Preamble() error {
	s.start()
	return s.enc.Preamble()
}

func (s *streamSink) Envelope(typ string, text any, metadata string) error {
	s.start()
	return s.enc.Envelope(typ, text, metadata)
}

func (s *streamSink) Delta(fragment, metadata string) error {
	s.start()
	return s.enc.Delta(fragment, metadata)
}

func (h *Handler) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var body promptRequest
	if !h.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, "prompt name is required")
		return
	}
	out, err := h.assistant.RunPrompt(r.Context(), body.Name, body.Provider, body.Variables)
	if err != nil {
		writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, promptResponse{Result: out})
}
