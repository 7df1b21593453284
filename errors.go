package crmclient

import (
	"errors"
	"fmt"
)

// Sentinel transport errors. A HTTPClient implementation should wrap one of
// these so the Scheduler's classifier can tell transient failures from
// permanent ones without inspecting implementation-specific types.
var (
	// ErrConnection indicates the request never reached the server (dial
	// failure, connection reset, DNS failure).
	ErrConnection = errors.New("crmclient: connection error")

	// ErrPayload indicates the response body could not be decoded as JSON.
	ErrPayload = errors.New("crmclient: payload decode error")

	// ErrTimeout indicates the request did not complete within the
	// transport's deadline.
	ErrTimeout = errors.New("crmclient: request timeout")
)

// HTTPStatusError wraps a non-2xx HTTP status returned by the transport.
// A 5XX status (500-599) is treated as retriable by the classifier; other
// statuses propagate immediately.
type HTTPStatusError struct {
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("crmclient: server returned HTTP %d", e.Status)
}

// ValidationError reports malformed input caught before any request is
// issued: a reserved method name, a wrong clause value kind, an empty id
// list passed where one isn't allowed, and so on.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "crmclient: " + e.Msg }

func newValidationError(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// MisuseError reports a forbidden clause combination, e.g. a `start` or
// `order` clause passed to GetAll, or `ID` inside params for GetByID.
type MisuseError struct {
	Msg string
}

func (e *MisuseError) Error() string { return "crmclient: " + e.Msg }

func newMisuseError(format string, args ...any) error {
	return &MisuseError{Msg: fmt.Sprintf(format, args...)}
}

// ServerContentError reports an error surfaced inside a decoded envelope
// (result_error / error_description at the top level, or a batch item's
// result_error). Not retried — the server successfully answered and told us
// no.
type ServerContentError struct {
	Message string
}

func (e *ServerContentError) Error() string {
	return "crmclient: server reported an error: " + e.Message
}

// ExhaustionError is returned when the retry ceiling (MAX_RETRIES) is
// reached. It wraps the last transient cause so callers can still inspect
// it with errors.Unwrap/errors.As.
type ExhaustionError struct {
	Attempts int
	Cause    error
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("crmclient: all %d attempts to reach the server were exhausted: %v", e.Attempts, e.Cause)
}

func (e *ExhaustionError) Unwrap() error { return e.Cause }
