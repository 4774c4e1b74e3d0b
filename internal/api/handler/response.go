package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/maraichr/docflow/pkg/apierr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeAPIError writes a structured error response. Server errors are logged
// with their cause, client errors only at debug level.
func writeAPIError(w http.ResponseWriter, logger *slog.Logger, e *apierr.Error) {
	if logger != nil {
		if e.Status() >= 500 {
			logger.Error(e.Message(), slog.String("code", string(e.Code())), slog.String("error", e.Error()))
		} else {
			logger.Debug(e.Message(), slog.String("code", string(e.Code())), slog.Int("status", e.Status()))
		}
	}
	writeJSON(w, e.Status(), e.Response())
}
