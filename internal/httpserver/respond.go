package httpserver

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body returned for non-2xx responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Respond writes v as a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// RespondError writes an ErrorResponse with the given status, reason code,
// and human-readable message.
func RespondError(w http.ResponseWriter, status int, reason, message string) {
	Respond(w, status, ErrorResponse{Error: reason, Message: message})
}
