package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shineum/mailhook/internal/ingest"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ingest.ErrorBody{Error: message})
}
