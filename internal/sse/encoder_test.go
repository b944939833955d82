package sse

import (
	"bufio"
	"bytes"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreamble(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Preamble())
	require.Equal(t, "event: delta_encoding\ndata: \"v1\"\n\n", buf.String())
}

func TestEnvelope(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Envelope(TypeAction, "Build appropriate request", "query"))
	require.NoError(t, enc.Envelope(TypeResult, map[string]any{"sources": []any{}}, ""))
	require.Equal(t,
		"data: {\"type\":\"action\",\"text\":\"Build appropriate request\",\"metadata\":\"query\"}\n\n"+
			"data: {\"type\":\"result\",\"text\":{\"sources\":[]}}\n\n",
		buf.String())
}

func TestDeltaKeepsNewlinesOnOneDataLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Delta("line 1\nline <2>", "000"))
	require.Equal(t, "event: delta\ndata: {\"v\":\"line 1\\nline <2>\",\"metadata\":\"000\"}\n\n", buf.String())
}

func TestError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Error("UPSTREAM_ERROR", "provider failed"))
	require.Equal(t, "event: error\ndata: {\"error\":\"UPSTREAM_ERROR\",\"description\":\"provider failed\"}\n\n", buf.String())
}

func TestFlushesHTTPResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, NewEncoder(rec).Delta("x", ""))
	require.True(t, rec.Flushed)
}

func TestFlushesBufferedWriter(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriterSize(&buf, 4096)
	require.NoError(t, NewEncoder(bw).Delta("x", ""))
	require.NotZero(t, buf.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("client gone") }

func TestWriteError(t *testing.T) {
	err := NewEncoder(failingWriter{}).Delta("x", "")
	require.ErrorContains(t, err, "client gone")
}

func TestUnencodablePayload(t *testing.T) {
	var buf bytes.Buffer
	err := NewEncoder(&buf).Named("bad", make(chan int))
	require.Error(t, err)
	require.Zero(t, buf.Len())
}
