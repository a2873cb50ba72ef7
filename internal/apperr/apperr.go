// Package apperr defines the machine-distinguishable error kinds surfaced to
// API clients and their mapping onto HTTP status codes.
package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind classifies an error for clients.
type Kind string

// Error kinds.
const (
	MissingCredential               Kind = "MISSING_CREDENTIAL"
	InvalidCredential               Kind = "INVALID_CREDENTIAL"
	ExpiredToken                    Kind = "EXPIRED_TOKEN"
	UnknownUser                     Kind = "UNKNOWN_USER"
	QuotaExceeded                   Kind = "QUOTA_EXCEEDED"
	DuplicateRegistration           Kind = "DUPLICATE_REGISTRATION"
	UnsupportedLanguage             Kind = "UNSUPPORTED_LANGUAGE"
	InvalidRequest                  Kind = "INVALID_REQUEST"
	PayloadTooLarge                 Kind = "PAYLOAD_TOO_LARGE"
	RateLimited                     Kind = "RATE_LIMITED"
	NotFound                        Kind = "NOT_FOUND"
	MethodNotAllowed                Kind = "METHOD_NOT_ALLOWED"
	TranscriptionUnrecognized       Kind = "TRANSCRIPTION_UNRECOGNIZED"
	TranscriptionServiceUnavailable Kind = "TRANSCRIPTION_UNAVAILABLE"
	TranscriptionProcessingError    Kind = "TRANSCRIPTION_FAILED"
	Internal                        Kind = "INTERNAL_ERROR"
)

var statusByKind = map[Kind]int{
	MissingCredential:               http.StatusUnauthorized,
	InvalidCredential:               http.StatusUnauthorized,
	ExpiredToken:                    http.StatusUnauthorized,
	UnknownUser:                     http.StatusUnauthorized,
	QuotaExceeded:                   http.StatusTooManyRequests,
	DuplicateRegistration:           http.StatusConflict,
	UnsupportedLanguage:             http.StatusBadRequest,
	InvalidRequest:                  http.StatusBadRequest,
	PayloadTooLarge:                 http.StatusRequestEntityTooLarge,
	RateLimited:                     http.StatusTooManyRequests,
	NotFound:                        http.StatusNotFound,
	MethodNotAllowed:                http.StatusMethodNotAllowed,
	TranscriptionUnrecognized:       http.StatusUnprocessableEntity,
	TranscriptionServiceUnavailable: http.StatusServiceUnavailable,
	TranscriptionProcessingError:    http.StatusInternalServerError,
	Internal:                        http.StatusInternalServerError,
}

// internalMessage replaces the message of every Internal error on the wire.
const internalMessage = "An internal error occurred"

// Error is an error carrying a Kind and a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New creates an Error without an underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error around an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind, so errors.Is(err, apperr.New(k, ""))
// works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of err, or Internal if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Status returns the HTTP status code for a kind.
func Status(kind Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Write renders err as a JSON error envelope. Errors without a kind, and
// Internal errors, never expose their message.
func Write(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	message := internalMessage

	var e *Error
	if errors.As(err, &e) && kind != Internal {
		message = e.Message
	}

	WriteKind(w, kind, message)
}

// WriteKind renders a JSON error envelope for an explicit kind and message.
func WriteKind(w http.ResponseWriter, kind Kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(Status(kind))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    string(kind),
			"message": message,
		},
	})
}
