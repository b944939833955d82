package handler

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/pkg/errors"
)

// LambdaAdapter serves a Lambda Function URL in RESPONSE_STREAM mode with an
// http.Handler. The body is piped to the runtime as the handler writes it, so
// server-sent events reach the client as they are produced.
type LambdaAdapter struct {
	next http.Handler
}

func NewLambdaAdapter(next http.Handler) (*LambdaAdapter, error) {
	if next == nil {
		return nil, errors.New("handler: http handler must not be nil")
	}
	return &LambdaAdapter{next: next}, nil
}

func (a *LambdaAdapter) Handle(ctx context.Context, event events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	req, err := toHTTPRequest(ctx, event)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	w := &pipeResponseWriter{header: http.Header{}, body: pw, ready: make(chan struct{})}
	go func() {
		defer func() {
			w.WriteHeader(http.StatusOK)
			_ = pw.Close()
		}()
		a.next.ServeHTTP(w, req)
	}()

	select {
	case <-w.ready:
	case <-ctx.Done():
		_ = pr.CloseWithError(ctx.Err())
		return nil, ctx.Err()
	}
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: w.status,
		Headers:    w.headers,
		Body:       pr,
	}, nil
}

func toHTTPRequest(ctx context.Context, event events.LambdaFunctionURLRequest) (*http.Request, error) {
	body := event.Body
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, errors.Wrap(err, "handler: decode base64 body")
		}
		body = string(decoded)
	}
	method := event.RequestContext.HTTP.Method
	if method == "" {
		method = http.MethodGet
	}
	u := &url.URL{Path: event.RawPath, RawQuery: event.RawQueryString}
	if u.Path == "" {
		u.Path = "/"
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), strings.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "handler: build request")
	}
	for k, v := range event.Headers {
		req.Header.Set(k, v)
	}
	if len(event.Cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(event.Cookies, "; "))
	}
	req.Host = event.RequestContext.DomainName
	req.RemoteAddr = event.RequestContext.HTTP.SourceIP
	return req, nil
}

// pipeResponseWriter publishes the status and headers on the first write and
// streams the body through the pipe.
type pipeResponseWriter struct {
	header  http.Header
	body    *io.PipeWriter
	once    sync.Once
	ready   chan struct{}
	status  int
	headers map[string]string
}

func (w *pipeResponseWriter) Header() http.Header { return w.header }

func (w *pipeResponseWriter) WriteHeader(status int) {
	w.once.Do(func() {
		w.status = status
		w.headers = make(map[string]string, len(w.header))
		for k, v := range w.header {
			w.headers[k] = strings.Join(v, ", ")
		}
		close(w.ready)
	})
}

func (w *pipeResponseWriter) Write(p []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.body.Write(p)
}

// Flush is a no-op; every Write already reaches the runtime.
func (w *pipeResponseWriter) Flush() {}
