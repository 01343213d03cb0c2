package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteDomainError maps err onto a status with auth.HTTPStatus. Validation
// messages are passed through; every other class gets a fixed message so
// permission and storage details never reach the client.
func WriteDomainError(w http.ResponseWriter, err error) {
	status := auth.HTTPStatus(err)
	switch status {
	case http.StatusBadRequest:
		WriteBadRequest(w, err.Error())
	case http.StatusUnauthorized:
		WriteUnauthorized(w, "authentication required")
	case http.StatusForbidden:
		WriteForbidden(w, "access denied")
	default:
		WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
