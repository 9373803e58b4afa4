package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vaultmesh/datahub/internal/apperr"
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

// RespondErr maps a store/domain error to its HTTP status via apperr and
// writes the corresponding error envelope. Non-classified errors are
// logged and surfaced as a bare 500 without leaking detail (§7).
func RespondErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := apperr.Status(err)
	kind, classified := apperr.Kinds(err)
	if !classified {
		logger.Error("unclassified error", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
		return
	}
	RespondError(w, status, string(kind), apperr.Message(err))
}
