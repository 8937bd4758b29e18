// Package httputil holds the JSON response helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"audita/pkg/platform/sentinel"
)

// Code is the machine-readable error code in error envelopes.
type Code string

const (
	CodeBadRequest Code = "bad_request"
	CodeNotFound   Code = "not_found"
	CodeInternal   Code = "internal_error"
)

// Error is a client-facing failure with a code and description.
type Error struct {
	Code        Code
	Description string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Description
}

// NewError builds an Error.
func NewError(code Code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// ToHTTPStatus maps a code to its status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteError translates err to a JSON error envelope. Store misses map to
// 404; anything unrecognized is an internal error whose detail is withheld.
func WriteError(w http.ResponseWriter, err error) {
	code := CodeInternal
	description := ""

	var herr *Error
	switch {
	case errors.As(err, &herr):
		code = herr.Code
		description = herr.Description
	case errors.Is(err, sentinel.ErrNotFound):
		code = CodeNotFound
		description = err.Error()
	}
	if code == CodeInternal {
		description = ""
	}

	WriteJSON(w, ToHTTPStatus(code), errorResponse{
		Error:            string(code),
		ErrorDescription: description,
	})
}
