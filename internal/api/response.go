package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Guizzs26/openmusic-export/internal/models"
)

type response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, response{Status: "success", Message: message, Data: data})
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{Status: "fail", Message: message})
}

// writeError maps the error taxonomy to a status code. Server-side failures
// are logged and answered with a generic message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeFail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeFail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrConflict):
		writeFail(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrForbidden):
		writeFail(w, http.StatusForbidden, "you are not allowed to access this resource")
	case models.IsRetryable(err):
		logger.Error("Request failed on an unavailable dependency", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, response{Status: "error", Message: "service temporarily unavailable, try again later"})
	default:
		logger.Error("Unhandled request error", "error", err)
		writeJSON(w, http.StatusInternalServerError, response{Status: "error", Message: "internal server error"})
	}
}
