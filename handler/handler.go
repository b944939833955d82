// Package handler exposes the assistant over HTTP: the question endpoint,
// document access for the front end and account routes.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"nc-assistant/internal/auth"
	"nc-assistant/internal/domain"
	"nc-assistant/internal/usecase"
)

const defaultMaxBodyBytes = 1 << 20

// Assistant is the orchestrator surface the handler needs.
type Assistant interface {
	Ask(ctx context.Context, in usecase.AskInput) (domain.FinalAnswer, error)
	Stream(ctx context.Context, in usecase.AskInput, sink usecase.Sink) (domain.FinalAnswer, error)
	RunPrompt(ctx context.Context, name, provider string, vars map[string]any) (any, error)
}

// Documents reads the PDF and NC buckets.
type Documents interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
	ListJSONKeys(ctx context.Context, bucket string) ([]string, error)
}

type Authenticator interface {
	Register(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) (auth.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (auth.Tokens, error)
	Verify(accessToken string) (string, error)
}

type Handler struct {
	assistant      Assistant
	docs           Documents
	docsBucket     string
	ncBucket       string
	authn          Authenticator
	requireAuth    bool
	allowedOrigins []string
	maxBodyBytes   int64
	logger         zerolog.Logger

	mux  *http.ServeMux
	root http.Handler
}

type Option func(*Handler)

// WithDocuments enables /doc, /json and /nc.
func WithDocuments(docs Documents, docsBucket, ncBucket string) Option {
	return func(h *Handler) {
		h.docs = docs
		h.docsBucket = docsBucket
		h.ncBucket = ncBucket
	}
}

// WithAuth enables the account routes. When required is set every data
// route needs a bearer access token.
func WithAuth(a Authenticator, required bool) Option {
	return func(h *Handler) {
		h.authn = a
		h.requireAuth = required
	}
}

func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) {
		for _, o := range origins {
			if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
				h.allowedOrigins = append(h.allowedOrigins, o)
			}
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(a Assistant, opts ...Option) (*Handler, error) {
	if a == nil {
		return nil, errors.New("handler: assistant must not be nil")
	}
	h := &Handler{
		assistant:    a,
		maxBodyBytes: defaultMaxBodyBytes,
		logger:       zerolog.Nop(),
		mux:          http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.requireAuth && h.authn == nil {
		return nil, errors.New("handler: auth required but no authenticator configured")
	}
	h.routes()

	var root http.Handler = h.mux
	root = h.cors(root)
	root = h.correlation(root)
	root = hlog.AccessHandler(logAccess)(root)
	root = hlog.NewHandler(h.logger)(root)
	h.root = root
	return h, nil
}

func (h *Handler) routes() {
	h.mux.HandleFunc("GET /ping", h.handlePing)
	h.mux.Handle("POST /ai", h.protect(http.HandlerFunc(h.handleAI)))
	h.mux.Handle("POST /prompt", h.protect(http.HandlerFunc(h.handlePrompt)))

	if h.docs != nil {
		h.mux.Handle("GET /doc/{path...}", h.protect(http.HandlerFunc(h.handleDoc)))
		h.mux.Handle("GET /json/{path...}", h.protect(http.HandlerFunc(h.handleJSON)))
		h.mux.Handle("GET /nc", h.protect(http.HandlerFunc(h.handleListNC)))
	}
	if h.authn != nil {
		h.mux.HandleFunc("POST /register", h.handleRegister)
		h.mux.HandleFunc("POST /login", h.handleLogin)
		h.mux.HandleFunc("POST /refresh", h.handleRefresh)
		h.mux.Handle("GET /protected", h.authenticate(http.HandlerFunc(h.handleProtected)))
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
