package handlers

import (
	"encoding/json"
	"net/http"
)

// errorBody is the wire shape of every handler-level error. The message
// is user-facing: no SQL, no schema identifiers, no internal detail.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorResponse writes a JSON error body with the given status code.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, errorBody{Error: errorCode, Message: message})
}

// WriteJSON encodes data as the response body. The status code is written
// first; an encoding failure after that can only be reported to the caller.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}
