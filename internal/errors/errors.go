// Package errors defines the abstract error taxonomy shared by the
// gateway and worker: a closed set of kinds, an HTTP status mapping, and
// a structured AppError carrying a request id for cross-component
// tracing.
package errors

import (
	"fmt"
	"net/http"
	"time"
)

// Kind is one of the eleven abstract error categories the pipeline
// recognizes. Kinds are not Go error types; they are a classification
// tag carried by AppError.
type Kind string

const (
	Config               Kind = "CONFIG"
	ConnectionUnavailable Kind = "CONNECTION_UNAVAILABLE"
	Timeout              Kind = "TIMEOUT"
	UpstreamTransient     Kind = "UPSTREAM_TRANSIENT"
	UpstreamPermanent     Kind = "UPSTREAM_PERMANENT"
	CircuitOpen           Kind = "CIRCUIT_OPEN"
	NoHealthyInstance     Kind = "NO_HEALTHY_INSTANCE"
	Validation            Kind = "VALIDATION"
	NotFound              Kind = "NOT_FOUND"
	Integrity             Kind = "INTEGRITY"
	Internal              Kind = "INTERNAL"
)

// StatusCodes maps each kind to the HTTP status the gateway returns.
var StatusCodes = map[Kind]int{
	Config:                http.StatusInternalServerError,
	ConnectionUnavailable: http.StatusServiceUnavailable,
	Timeout:               http.StatusGatewayTimeout,
	UpstreamTransient:     http.StatusBadGateway,
	UpstreamPermanent:     http.StatusBadGateway,
	CircuitOpen:           http.StatusServiceUnavailable,
	NoHealthyInstance:     http.StatusServiceUnavailable,
	Validation:            http.StatusBadRequest,
	NotFound:              http.StatusNotFound,
	Integrity:             http.StatusUnprocessableEntity,
	Internal:              http.StatusInternalServerError,
}

// retryable holds the kinds a surrounding retry wrapper should retry
// locally before they become terminal, per spec §7 propagation rules.
var retryable = map[Kind]bool{
	Timeout:           true,
	UpstreamTransient: true,
}

// Retryable reports whether a kind's failures should be retried by the
// caller before becoming terminal.
func Retryable(k Kind) bool {
	return retryable[k]
}

// chatMessageKeys maps each kind to the localized-message template key
// a chat reply is keyed by. Categories not in the closed §4.3 set
// (invalid_url, auth_error) fall back to "other".
var chatMessageKeys = map[Kind]string{
	Validation: "invalid_url",
	NotFound:   "other",
}

// ChatMessageKey returns the localized template key for a chat-facing
// failure category.
func ChatMessageKey(k Kind) string {
	if key, ok := chatMessageKeys[k]; ok {
		return key
	}
	return "other"
}

// AppError is a structured application error carrying a kind, a
// human-readable message, optional context, and a request id for
// cross-component tracing.
type AppError struct {
	Kind      Kind        `json:"error"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// StatusCode returns the HTTP status this error maps to.
func (e *AppError) StatusCode() int {
	if code, ok := StatusCodes[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// New creates an AppError of the given kind.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message, Timestamp: time.Now()}
}

// NewWithDetails creates an AppError carrying extra structured context.
func NewWithDetails(kind Kind, message string, details interface{}) *AppError {
	return &AppError{Kind: kind, Message: message, Details: details, Timestamp: time.Now()}
}

// WithRequestID attaches a request id for tracing and returns the
// receiver for chaining.
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// Wrap converts a plain error into an AppError of the given kind,
// passing through an existing AppError unchanged.
func Wrap(err error, kind Kind) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(kind, err.Error())
}

// As reports whether err is an AppError and returns it.
func As(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}
