// Package handler holds the HTTP handlers of the predictionhub API.
package handler

import (
	"encoding/json"
	"net/http"
)

// writeJSON marshals v and writes it with status. Marshal failures fall back
// to a plain 500.
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

// failure is the error envelope of the sync endpoints.
type failure struct {
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error"`
}
