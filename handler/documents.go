package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"nc-assistant/internal/integrations/objectstore"
)

const defaultMaxNCRows = 500

func (h *Handler) fetch(w http.ResponseWriter, r *http.Request, bucket string) ([]byte, bool) {
	key := strings.TrimPrefix(r.PathValue("path"), "/")
	if key == "" || strings.Contains(key, "..") {
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, "invalid object path")
		return nil, false
	}
	data, err := h.docs.Fetch(r.Context(), bucket, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, codeNotFound, "object "+key+" not found")
			return nil, false
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Str("bucket", bucket).Str("key", key).Msg("Object fetch failed")
		writeError(w, r, http.StatusBadGateway, codeStorage, "object storage unavailable")
		return nil, false
	}
	return data, true
}

func (h *Handler) handleDoc(w http.ResponseWriter, r *http.Request) {
	data, ok := h.fetch(w, r, h.docsBucket)
	if !ok {
		return
	}
	name := path.Base(r.PathValue("path"))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleJSON(w http.ResponseWriter, r *http.Request) {
	data, ok := h.fetch(w, r, h.ncBucket)
	if !ok {
		return
	}
	if !json.Valid(data) {
		writeError(w, r, http.StatusInternalServerError, codeInvalidJSON, "invalid JSON file")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleListNC returns up to max_rows parsed NC records, optionally filtered
// on nc_event_id. Unparsable objects are skipped.
func (h *Handler) handleListNC(w http.ResponseWriter, r *http.Request) {
	maxRows := defaultMaxNCRows
	if raw := r.URL.Query().Get("max_rows"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, codeInvalidInput, "max_rows must be a positive integer")
			return
		}
		maxRows = n
	}
	id := r.URL.Query().Get("id")
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	keys, err := h.docs.ListJSONKeys(ctx, h.ncBucket)
	if err != nil {
		logger.Error().Err(err).Str("bucket", h.ncBucket).Msg("Listing NC records failed")
		writeError(w, r, http.StatusBadGateway, codeStorage, "object storage unavailable")
		return
	}

	records := make([]map[string]any, 0, min(len(keys), maxRows))
	for _, key := range keys {
		if len(records) >= maxRows {
			break
		}
		data, err := h.docs.Fetch(ctx, h.ncBucket, key)
		if err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("Skipping unreadable NC record")
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(data, &rec); err != nil || rec == nil {
			logger.Warn().Str("key", key).Msg("Skipping unparsable NC record")
			continue
		}
		records = append(records, rec)
	}

	if id != "" {
		filtered := records[:0]
		for _, rec := range records {
			if v, ok := rec["nc_event_id"]; ok && fmt.Sprint(v) == id {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	writeJSON(w, http.StatusOK, records)
}
