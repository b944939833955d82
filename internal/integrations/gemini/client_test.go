package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"nc-assistant/internal/domain"
	"nc-assistant/internal/integrations/llm"
)

func TestToContentsFoldsSystemOnce(t *testing.T) {
	contents := toContents([]domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "S"},
		{Role: domain.RoleUser, Content: "U"},
		{Role: domain.RoleAssistant, Content: "A"},
		{Role: domain.RoleUser, Content: "U2"},
	})
	require.Len(t, contents, 3)
	require.Equal(t, "user", contents[0].Role)
	require.Equal(t, "S\n\nU", contents[0].Parts[0].Text)
	require.Equal(t, "model", contents[1].Role)
	require.Equal(t, "U2", contents[2].Parts[0].Text)

	total := 0
	for _, c := range contents {
		total += strings.Count(c.Parts[0].Text, "S")
	}
	require.Equal(t, 1, total)
}

func TestGenerationConfig(t *testing.T) {
	cfg := generationConfig(llm.Options{Temperature: 0.5, JSONMode: true})
	require.NotNil(t, cfg.Temperature)
	require.InDelta(t, 0.5, *cfg.Temperature, 1e-6)
	require.Equal(t, "application/json", cfg.ResponseMIMEType)

	require.Empty(t, generationConfig(llm.Options{}).ResponseMIMEType)
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(llm.StaticKey("g-key"), WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()), WithModel("gemini-test"))
	require.NoError(t, err)
	return c
}

func TestComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "gemini-test:generateContent")
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"comment\":"},{"text":"\"ok\"}"}]}}]}`))
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv).Complete(context.Background(), domain.PromptMessages("S", "U"), llm.Options{JSONMode: true})
	require.NoError(t, err)
	require.Equal(t, `{"comment":"ok"}`, out)
	require.NotContains(t, body, "systemInstruction")
}

func TestCompleteStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Complete(context.Background(), domain.PromptMessages("", "U"), llm.Options{})
	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, Name, pe.Provider)
	require.Equal(t, http.StatusTooManyRequests, pe.HTTPStatusCode())
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, ":streamGenerateContent")
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			_, _ = w.Write([]byte(`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"` + part + `"}]}}]}` + "\n\n"))
		}
	}))
	defer srv.Close()

	text, err := llm.Collect(newTestClient(t, srv).Stream(context.Background(), domain.PromptMessages("S", "U"), llm.Options{}))
	require.NoError(t, err)
	require.Equal(t, "Hello", text)
}
