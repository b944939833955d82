package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"nc-assistant/internal/domain"
	"nc-assistant/internal/usecase"
)

type stubAssistant struct {
	out    domain.FinalAnswer
	err    error
	in     usecase.AskInput
	stream func(sink usecase.Sink) error

	promptName string
	promptVars map[string]any
	promptOut  any
}

func (s *stubAssistant) Ask(_ context.Context, in usecase.AskInput) (domain.FinalAnswer, error) {
	s.in = in
	return s.out, s.err
}

func (s *stubAssistant) Stream(_ context.Context, in usecase.AskInput, sink usecase.Sink) (domain.FinalAnswer, error) {
	s.in = in
	if s.stream != nil {
		if err := s.stream(sink); err != nil {
			return domain.FinalAnswer{}, err
		}
	}
	return s.out, s.err
}

func (s *stubAssistant) RunPrompt(_ context.Context, name, _ string, vars map[string]any) (any, error) {
	s.promptName = name
	s.promptVars = vars
	return s.promptOut, s.err
}

func makeRequest(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func serve(t *testing.T, h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func parseBody[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

const aiBody = `{"messages":[{"role":"000","text":"Write the report","description":"Crack on frame 24"}],"provider":"anthropic"}`

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)

	_, err = NewHandler(&stubAssistant{}, WithAuth(nil, true))
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	h, err := NewHandler(&stubAssistant{})
	require.NoError(t, err)

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAI_HappyPath(t *testing.T) {
	uc := &stubAssistant{out: domain.FinalAnswer{Text: "done", Role: domain.AssistantRole, UserRole: "000"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	rec := serve(t, h, makeRequest(http.MethodPost, "/ai", aiBody))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "anthropic", uc.in.Provider)
	require.Len(t, uc.in.Messages, 1)
	require.Equal(t, "Crack on frame 24", *uc.in.Messages[0].Description)

	out := parseBody[domain.FinalAnswer](t, rec.Body.Bytes())
	require.Equal(t, "done", out.Text)
	require.Equal(t, "ai", out.Role)
	require.NotEmpty(t, rec.Header().Get(correlationHeader))
}

func TestAI_InvalidBody(t *testing.T) {
	h, err := NewHandler(&stubAssistant{})
	require.NoError(t, err)

	rec := serve(t, h, makeRequest(http.MethodPost, "/ai", `not-json`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	out := parseBody[errorResponse](t, rec.Body.Bytes())
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	require.Equal(t, http.StatusBadRequest, out.StatusCode)
}

func TestAI_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_question"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "unsupported provider", err: &usecase.Error{Code: usecase.ErrorUnsupportedProvider, Reason: "cohere"}, status: http.StatusBadRequest, code: string(usecase.ErrorUnsupportedProvider)},
		{name: "prompt not found", err: &usecase.Error{Code: usecase.ErrorPromptNotFound, Reason: "300"}, status: http.StatusNotFound, code: string(usecase.ErrorPromptNotFound)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "generation_error"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "generation_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "sources_encode_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewHandler(&stubAssistant{err: tc.err})
			require.NoError(t, err)

			rec := serve(t, h, makeRequest(http.MethodPost, "/ai", aiBody))
			require.Equal(t, tc.status, rec.Code)

			out := parseBody[errorResponse](t, rec.Body.Bytes())
			require.Equal(t, tc.code, out.Error)
			require.Equal(t, tc.status, out.StatusCode)
			require.NotEmpty(t, out.Description)
		})
	}
}

func TestAI_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, err := NewHandler(&stubAssistant{})
	require.NoError(t, err)

	r := makeRequest(http.MethodPost, "/ai", aiBody)
	r.Header.Set("x-correlation-id", "corr-123")
	rec := serve(t, h, r)
	require.Equal(t, "corr-123", rec.Header().Get(correlationHeader))
}

func TestCorrelationIDReachesRequestLogs(t *testing.T) {
	var logs bytes.Buffer
	h, err := NewHandler(&stubAssistant{}, WithLogger(zerolog.New(&logs)))
	require.NoError(t, err)

	r := makeRequest(http.MethodPost, "/ai", aiBody)
	r.Header.Set(correlationHeader, "corr-456")
	rec := serve(t, h, r)
	require.Equal(t, http.StatusOK, rec.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(logs.Bytes()), &line))
	require.Equal(t, "corr-456", line["correlation_id"])
	require.Equal(t, "Request served", line["message"])

	logs.Reset()
	rec = serve(t, h, makeRequest(http.MethodGet, "/ping", ""))
	minted := rec.Header().Get(correlationHeader)
	require.NotEmpty(t, minted)
	require.Contains(t, logs.String(), `"correlation_id":"`+minted+`"`)
}

func TestAI_Streams(t *testing.T) {
	uc := &stubAssistant{
		out: domain.FinalAnswer{Text: "hi"},
		stream: func(sink usecase.Sink) error {
			require.NoError(t, sink.Preamble())
			require.NoError(t, sink.Envelope(usecase.TypeAction, "Build appropriate request", "query"))
			require.NoError(t, sink.Delta("hi", "000"))
			require.NoError(t, sink.Envelope(usecase.TypeResult, domain.FinalAnswer{Text: "hi"}, usecase.MetadataFinal))
			return nil
		},
	}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	r := makeRequest(http.MethodPost, "/ai", aiBody)
	r.Header.Set("Accept", "text/event-stream")
	rec := serve(t, h, r)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	require.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "event: delta_encoding\ndata: \"v1\"\n\n"), body)
	require.Contains(t, body, "data: {\"type\":\"action\",\"text\":\"Build appropriate request\",\"metadata\":\"query\"}\n\n")
	require.Contains(t, body, "event: delta\ndata: {\"v\":\"hi\",\"metadata\":\"000\"}\n\n")
	require.Contains(t, body, "\"metadata\":\"final\"}\n\n")
}

func TestAI_StreamFlagInBody(t *testing.T) {
	uc := &stubAssistant{stream: func(sink usecase.Sink) error { return sink.Preamble() }}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	rec := serve(t, h, makeRequest(http.MethodPost, "/ai", `{"messages":[],"stream":true}`))
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestAI_StreamErrorBeforeOutputIsJSON(t *testing.T) {
	uc := &stubAssistant{err: &usecase.Error{Code: usecase.ErrorUnsupportedProvider, Reason: "cohere"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	r := makeRequest(http.MethodPost, "/ai", aiBody)
	r.Header.Set("Accept", "text/event-stream")
	rec := serve(t, h, r)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	out := parseBody[errorResponse](t, rec.Body.Bytes())
	require.Equal(t, string(usecase.ErrorUnsupportedProvider), out.Error)
}

func TestAI_StreamErrorAfterOutputIsEvent(t *testing.T) {
	uc := &stubAssistant{stream: func(sink usecase.Sink) error {
		require.NoError(t, sink.Preamble())
		return &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "generation_error"}
	}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	r := makeRequest(http.MethodPost, "/ai", aiBody)
	r.Header.Set("Accept", "text/event-stream")
	rec := serve(t, h, r)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "event: error\ndata: {\"error\":\"RATE_LIMITED\"")
}

func TestPrompt(t *testing.T) {
	uc := &stubAssistant{promptOut: map[string]any{"comment": "ok"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	rec := serve(t, h, makeRequest(http.MethodPost, "/prompt", `{"name":"query","variables":{"description":"dent"}}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"result":{"comment":"ok"}}`, rec.Body.String())
	require.Equal(t, "query", uc.promptName)
	require.Equal(t, "dent", uc.promptVars["description"])

	rec = serve(t, h, makeRequest(http.MethodPost, "/prompt", `{"variables":{}}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	h, err := NewHandler(&stubAssistant{}, WithAllowedOrigins("https://nc.example.com/"))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodOptions, "/ai", nil)
	r.Header.Set("Origin", "https://nc.example.com")
	r.Header.Set("Access-Control-Request-Method", "POST")
	rec := serve(t, h, r)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://nc.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	rec = serve(t, h, r)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLambdaAdapter(t *testing.T) {
	uc := &stubAssistant{stream: func(sink usecase.Sink) error {
		require.NoError(t, sink.Preamble())
		return sink.Delta("chunk", "000")
	}}
	h, err := NewHandler(uc)
	require.NoError(t, err)
	a, err := NewLambdaAdapter(h)
	require.NoError(t, err)

	resp, err := a.Handle(context.Background(), events.LambdaFunctionURLRequest{
		RawPath:         "/ai",
		Headers:         map[string]string{"accept": "text/event-stream", "x-correlation-id": "lambda-1"},
		Body:            "eyJtZXNzYWdlcyI6W119",
		IsBase64Encoded: true,
		RequestContext: events.LambdaFunctionURLRequestContext{
			HTTP: events.LambdaFunctionURLRequestContextHTTPDescription{Method: http.MethodPost},
		},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Headers["Content-Type"])
	require.Equal(t, "lambda-1", resp.Headers[correlationHeader])

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(body, []byte("event: delta_encoding\n")))
	require.Contains(t, string(body), `{"v":"chunk","metadata":"000"}`)
	require.Equal(t, "", uc.in.Provider)
}

func TestLambdaAdapter_ValidatesDependency(t *testing.T) {
	_, err := NewLambdaAdapter(nil)
	require.Error(t, err)
}
