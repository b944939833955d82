package handler

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"nc-assistant/internal/auth"
	"nc-assistant/internal/repository"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) readCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var c credentials
	if !h.decode(w, r, &c) {
		return c, false
	}
	if strings.TrimSpace(c.Username) == "" || c.Password == "" {
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, "username and password required")
		return c, false
	}
	return c, true
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	c, ok := h.readCredentials(w, r)
	if !ok {
		return
	}
	err := h.authn.Register(r.Context(), c.Username, c.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, messageResponse{Message: "User registered successfully"})
	case errors.Is(err, repository.ErrUserExists):
		writeError(w, r, http.StatusConflict, codeConflict, "user already exists")
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidUsername):
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, strings.TrimPrefix(err.Error(), "auth: "))
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Registration failed")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	c, ok := h.readCredentials(w, r)
	if !ok {
		return
	}
	tokens, err := h.authn.Login(r.Context(), c.Username, c.Password)
	if err != nil {
		h.writeAuthError(w, r, err, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// handleRefresh takes the refresh token as the bearer credential.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
		return
	}
	tokens, err := h.authn.Refresh(r.Context(), token)
	if err != nil {
		h.writeAuthError(w, r, err, "invalid or expired token")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleProtected(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: "Welcome " + userFrom(r.Context()) + "!"})
}

func (h *Handler) writeAuthError(w http.ResponseWriter, r *http.Request, err error, description string) {
	if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrInvalidToken) {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, description)
		return
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("Authentication failed")
	writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
}
