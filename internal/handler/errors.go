package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fieldops/tripsync/internal/domain"
	"github.com/fieldops/tripsync/internal/syncer"
)

// errorResponse is the uniform error body: {"error": {"code", "message"}}.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON serializes v with the given status. Encoding failures are logged
// and swallowed; by that point the status line is already on the wire.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encoding failed", "error", err)
	}
}

// writeError maps a domain sentinel to its HTTP status and code. Unknown
// errors become an opaque 500 so internals never leak to the client.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{errorDetail{"validation_error", unwrapMessage(err)}})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{errorDetail{"not_found", unwrapMessage(err)}})
	case errors.Is(err, domain.ErrNoActiveTrip):
		writeJSON(w, http.StatusNotFound, errorResponse{errorDetail{"no_active_trip", "no trip is in progress"}})
	case errors.Is(err, domain.ErrTripInFlight):
		writeJSON(w, http.StatusConflict, errorResponse{errorDetail{"trip_in_flight", "another trip operation is in progress"}})
	case errors.Is(err, syncer.ErrSyncInFlight):
		writeJSON(w, http.StatusConflict, errorResponse{errorDetail{"sync_in_flight", "a sync pass is already running"}})
	case errors.Is(err, domain.ErrNoLocation):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{errorDetail{"no_location", "no position could be acquired"}})
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrOffline):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{errorDetail{"unavailable", unwrapMessage(err)}})
	default:
		slog.Error("unhandled error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{errorDetail{"internal", "internal server error"}})
	}
}

// badRequest rejects a request before it reaches the lifecycle layer
// (missing or malformed body).
func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{errorDetail{"bad_request", message}})
}

// unwrapMessage strips the "pkg.Type.Method: " wrapping prefixes so the
// client sees "final odometer 10.0 below initial 100.0", not the call chain.
func unwrapMessage(err error) string {
	msg := err.Error()
	for _, prefix := range []string{
		"lifecycle.Manager.StartTrip: ",
		"lifecycle.Manager.EndTrip: ",
		"lifecycle.Manager.Resume: ",
		"lifecycle.Manager.AddPhoto: ",
		"validation error: ",
	} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}
