package afcp

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies an afcp.Error per spec §7.
type ErrorKind string

const (
	// ErrInvalidInput marks a malformed agent record, raised by Register.
	// Admission's check returns an AdmissionDecision and never raises it.
	ErrInvalidInput ErrorKind = "invalid_input"
	// ErrUnknownAgent marks an agent id not present in the registry.
	ErrUnknownAgent ErrorKind = "unknown_agent"
	// ErrNoAgentAvailable marks an empty candidate set after filters, raised
	// by Route and Consensus.
	ErrNoAgentAvailable ErrorKind = "no_agent_available"
	// ErrRateLimited marks an Admission rejection; carries RetryAfter.
	ErrRateLimited ErrorKind = "rate_limited"
	// ErrTimeout marks a deadline elapsed before a Transport response.
	ErrTimeout ErrorKind = "timeout"
	// ErrAgentError marks a Transport failure; carries AgentID.
	ErrAgentError ErrorKind = "agent_error"
	// ErrCancelled marks caller cancellation before completion.
	ErrCancelled ErrorKind = "cancelled"
)

// Error is AFCP's single error type. Every public operation that fails
// returns one, so callers can switch on Kind without string matching.
type Error struct {
	Kind       ErrorKind
	Message    string
	AgentID    string
	RetryAfter time.Duration
	Cause      error
}

// NewError constructs an Error of the given kind with a message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("afcp: %s: %s", e.Kind, e.Message)
	if e.AgentID != "" {
		msg += fmt.Sprintf(" (agent=%s)", e.AgentID)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// WithAgentID returns a copy of e with AgentID set.
func (e *Error) WithAgentID(id string) *Error {
	c := *e
	c.AgentID = id
	return &c
}

// WithRetryAfter returns a copy of e with RetryAfter set.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	c := *e
	c.RetryAfter = d
	return &c
}

// WithCause returns a copy of e with Cause set.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.Cause = cause
	return &c
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var afcpErr *Error
	if errors.As(err, &afcpErr) {
		return afcpErr.Kind == kind
	}
	return false
}

// GetErrorKind extracts the ErrorKind from err, or "" if err is not an
// *Error.
func GetErrorKind(err error) ErrorKind {
	var afcpErr *Error
	if errors.As(err, &afcpErr) {
		return afcpErr.Kind
	}
	return ""
}

// IsRetryable reports whether err carries a kind a caller should retry:
// Timeout and RateLimited are, the rest are not.
func IsRetryable(err error) bool {
	switch GetErrorKind(err) {
	case ErrTimeout, ErrRateLimited:
		return true
	default:
		return false
	}
}
