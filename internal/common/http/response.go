package http

import (
	"encoding/json"
	"net/http"

	"webhook-relay/internal/common/errors"
)

// ErrorBody is the JSON envelope of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error type and a client-safe message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps err to its HTTP status and writes the error envelope.
func WriteError(w http.ResponseWriter, err error) {
	errType := errors.GetType(err)
	if errType == "" {
		errType = errors.ErrTypeInternal
	}
	WriteJSON(w, errors.HTTPStatus(err), ErrorBody{
		Error: ErrorDetail{Type: string(errType), Message: errors.Message(err)},
	})
}

// DecodeJSON decodes a request body into v, rejecting unknown fields and
// trailing data.
func DecodeJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return errors.ValidationError("invalid request body: " + err.Error())
	}
	if decoder.More() {
		return errors.ValidationError("invalid request body: unexpected trailing data")
	}
	return nil
}
