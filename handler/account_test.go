package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"nc-assistant/internal/auth"
	"nc-assistant/internal/repository"
)

func newAuthHandler(t *testing.T, required bool) *Handler {
	t.Helper()
	svc, err := auth.NewService(repository.NewMemory(), "test-secret", auth.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	h, err := NewHandler(&stubAssistant{}, WithAuth(svc, required))
	require.NoError(t, err)
	return h
}

func bearer(r *http.Request, token string) *http.Request {
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func TestAccountFlow(t *testing.T) {
	h := newAuthHandler(t, false)
	creds := `{"username":"inspector","password":"correct horse"}`

	rec := serve(t, h, makeRequest(http.MethodPost, "/register", creds))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(t, h, makeRequest(http.MethodPost, "/register", creds))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(t, h, makeRequest(http.MethodPost, "/login", `{"username":"inspector","password":"nope nope"}`))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, h, makeRequest(http.MethodPost, "/login", creds))
	require.Equal(t, http.StatusOK, rec.Code)
	tokens := parseBody[auth.Tokens](t, rec.Body.Bytes())
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)

	rec = serve(t, h, bearer(httptest.NewRequest(http.MethodGet, "/protected", nil), tokens.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"Welcome inspector!"}`, rec.Body.String())

	rec = serve(t, h, bearer(makeRequest(http.MethodPost, "/refresh", ""), tokens.RefreshToken))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, h, bearer(makeRequest(http.MethodPost, "/refresh", ""), tokens.AccessToken))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	h := newAuthHandler(t, false)

	rec := serve(t, h, makeRequest(http.MethodPost, "/register", `{"username":"inspector"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, makeRequest(http.MethodPost, "/register", `{"username":"inspector","password":"short"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequiredAuthGuardsDataRoutes(t *testing.T) {
	h := newAuthHandler(t, true)

	rec := serve(t, h, makeRequest(http.MethodPost, "/ai", aiBody))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, h, makeRequest(http.MethodPost, "/register", `{"username":"inspector","password":"correct horse"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = serve(t, h, makeRequest(http.MethodPost, "/login", `{"username":"inspector","password":"correct horse"}`))
	tokens := parseBody[auth.Tokens](t, rec.Body.Bytes())

	rec = serve(t, h, bearer(makeRequest(http.MethodPost, "/ai", aiBody), tokens.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, h, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
