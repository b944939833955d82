package handler

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"nc-assistant/internal/usecase"
)

// Handler-level error codes. Orchestrator failures reuse usecase codes.
const (
	codeInvalidInput = string(usecase.ErrorInvalidInput)
	codeInternal     = string(usecase.ErrorInternal)
	codeUnauthorized = "UNAUTHORIZED"
	codeConflict     = "CONFLICT"
	codeNotFound     = "NOT_FOUND"
	codeStorage      = "STORAGE_ERROR"
	codeInvalidJSON  = "INVALID_JSON_FILE"
)

// statusClientClosedRequest is reported when the caller went away mid-run.
const statusClientClosedRequest = 499

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description"`
	StatusCode  int    `json:"status_code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, description string) {
	zerolog.Ctx(r.Context()).Warn().
		Int("status", status).
		Str("code", code).
		Str("description", description).
		Msg("Request failed")
	writeJSON(w, status, errorResponse{Error: code, Description: description, StatusCode: status})
}

// classify maps an orchestrator error onto a status, code and client-safe
// description.
func classify(err error) (int, string, string) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, codeInternal, "internal error"
	}
	code := string(ue.Code)
	switch ue.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, code, ue.Reason
	case usecase.ErrorUnsupportedProvider:
		return http.StatusBadRequest, code, "provider " + ue.Reason + " is not supported"
	case usecase.ErrorPromptNotFound:
		return http.StatusNotFound, code, "prompt " + ue.Reason + " not found"
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, code, "model provider rate limit reached, retry later"
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, code, "model provider request failed"
	case usecase.ErrorCanceled:
		return statusClientClosedRequest, code, "request canceled"
	default:
		return http.StatusInternalServerError, codeInternal, "internal error"
	}
}

func writeUseCaseError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, description := classify(err)
	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("Assistant failed")
	} else {
		logger.Debug().Err(err).Msg("Assistant rejected request")
	}
	writeError(w, r, status, code, description)
}
