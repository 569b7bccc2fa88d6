package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/opentomato/tomato/pkg/apierr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, err string, message string) {
	Respond(w, status, ErrorResponse{
		Error:   err,
		Message: message,
	})
}

// RespondAPIError translates a pkg/apierr.Error into its matching HTTP
// status and writes it. Any other error is treated as an opaque internal
// failure so a broken invariant never leaks implementation detail.
func RespondAPIError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	message := err.Error()
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		message = "internal error"
	}
	RespondError(w, statusForKind(kind), string(kind), message)
}

func statusForKind(kind apierr.Kind) int {
	switch kind {
	case apierr.Denied:
		return http.StatusForbidden
	case apierr.NotFound:
		return http.StatusNotFound
	case apierr.Busy:
		return http.StatusConflict
	case apierr.UnsupportedAttribute, apierr.InvalidValue:
		return http.StatusBadRequest
	case apierr.TimedOut:
		return http.StatusGone
	case apierr.NotEmpty:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
