// Package handler implements the HTTP read API over wallet snapshot chains
// and change events.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// writeJSON serialises v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a service error to a status code. Unexpected
// errors are logged and reported as 500 without details.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidWallet):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "snapshot already in progress")
	case domain.IsPrecondition(err), errors.Is(err, domain.ErrChainConflict):
		writeError(w, http.StatusConflict, "chain changed concurrently, retry")
	case domain.IsTransient(err):
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	// Positions come from the provider, so malformed ones are upstream faults.
	case errors.Is(err, domain.ErrInvalidPosition), errors.Is(err, domain.ErrDuplicateMarket):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseLimit reads ?limit=, defaulting to 50 and capping at 500.
func parseLimit(r *http.Request) int {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return min(limit, maxLimit)
}
