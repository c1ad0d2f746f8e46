package httpapi

import (
	"encoding/json"
	"net/http"
)

// All endpoints answer with the same envelope: success plus payload
// fields on the happy path, success:false with error/details otherwise.
type envelope map[string]any

func (s *Server) respondJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string, details string) {
	body := envelope{"success": false, "error": msg}
	if details != "" {
		body["details"] = details
	}
	s.respondJSON(w, status, body)
}
