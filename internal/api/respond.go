package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kalambet/ideaboard/internal/collection"
	"github.com/kalambet/ideaboard/internal/config"
	"github.com/kalambet/ideaboard/internal/outline"
	"github.com/kalambet/ideaboard/internal/provider"
	"github.com/kalambet/ideaboard/internal/studio"
)

const maxRequestBodySize = 1 << 20 // 1MB

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON request body into v. An empty body leaves v as is.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBodyLimit(w, r, v, maxRequestBodySize)
}

func decodeBodyLimit(w http.ResponseWriter, r *http.Request, v any, limit int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// writeErr maps domain errors onto HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	var decodeErr *provider.DecodeError
	var statusErr *provider.StatusError
	switch {
	case errors.Is(err, studio.ErrNotFound),
		errors.Is(err, collection.ErrNotFound),
		errors.Is(err, outline.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, studio.ErrGenerating):
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
	case errors.Is(err, studio.ErrUnknownFeature),
		errors.Is(err, config.ErrUnknownProvider),
		errors.Is(err, studio.ErrInvalidPatch),
		errors.Is(err, provider.ErrEmptyPrompt):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, provider.ErrMissingKey), errors.Is(err, studio.ErrNotConfigured):
		httpError(w, http.StatusPreconditionFailed, "missing_key_error", "%v", err)
	case provider.IsRateLimit(err):
		httpError(w, http.StatusTooManyRequests, "rate_limit_error", "%v", err)
	case errors.As(err, &decodeErr), errors.As(err, &statusErr):
		httpError(w, http.StatusBadGateway, "api_error", "upstream error: %v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}
