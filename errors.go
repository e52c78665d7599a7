package eventpipe

import (
	"errors"
	"fmt"
)

// Error represents a structured eventpipe error with context.
type Error struct {
	Op           string    // operation that failed (e.g. "Session.Enable", "BufferManager.WriteEvent")
	Code         ErrorCode // high-level error category
	SessionIndex int       // session index (-1 if not applicable)
	Msg          string    // human-readable message
	Inner        error     // wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.SessionIndex >= 0 {
		parts = append(parts, fmt.Sprintf("session=%d", e.SessionIndex))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("eventpipe: %s (%s)", msg, parts[0])
	}

	return fmt.Sprintf("eventpipe: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support based on error code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents a high-level, closed error category.
//
// Per the error-handling policy: expected negative outcomes (a session
// table being full, a buffer budget being exhausted, an oversized event
// payload) are NOT surfaced as *Error from the hot write path — those
// are bool/counter returns. ErrorCode is reserved for the control-plane
// operations (Enable/Disable/Suspend, sink setup) where failure really
// is exceptional.
type ErrorCode string

const (
	ErrCodeSessionFull       ErrorCode = "session table full"
	ErrCodeBudgetExhausted   ErrorCode = "buffer budget exhausted"
	ErrCodeOversizedPayload  ErrorCode = "event payload exceeds buffer capacity"
	ErrCodeSinkClosed        ErrorCode = "sink closed"
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"
	ErrCodeNotStarted        ErrorCode = "session not started"
	ErrCodeShuttingDown      ErrorCode = "eventpipe shutting down"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, SessionIndex: -1, Msg: msg}
}

// NewSessionError creates a new session-scoped error.
func NewSessionError(op string, sessionIndex int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, SessionIndex: sessionIndex, Code: code, Msg: msg}
}

// WrapError wraps an existing error with eventpipe context.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ue, ok := inner.(*Error); ok {
		return &Error{Op: op, SessionIndex: ue.SessionIndex, Code: ue.Code, Msg: ue.Msg, Inner: ue.Inner}
	}

	return &Error{Op: op, SessionIndex: -1, Code: ErrCodeInvalidParameters, Msg: inner.Error(), Inner: inner}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
