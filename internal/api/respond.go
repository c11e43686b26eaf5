package api

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the flat error shape clients expect.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// writeServerError writes a 500. The underlying error is attached as details
// only when the handler is configured to expose them (non-production).
func (h *Handler) writeServerError(w http.ResponseWriter, message string, err error) {
	body := errorBody{Error: message}
	if h.exposeDetails && err != nil {
		body.Details = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, body)
}
