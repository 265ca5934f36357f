package session

import (
	"errors"
	"fmt"
)

// Error codes surfaced by the manager.
const (
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeRuntimeUnavailable = "RUNTIME_UNAVAILABLE"
	CodeEngineInit         = "ENGINE_INIT_ERROR"
	CodeEngine             = "ENGINE_ERROR"
	CodeAuthFailure        = "AUTH_FAILURE"
	CodeInvalidSessionID   = "INVALID_SESSION_ID"
	CodeManagerClosed      = "MANAGER_CLOSED"
)

// Error is a coded session error. Two errors match under errors.Is when
// their codes are equal.
type Error struct {
	Code      string
	SessionID string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.SessionID != "" {
		msg = fmt.Sprintf("%s (session %s)", msg, e.SessionID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrSessionNotFound    = &Error{Code: CodeSessionNotFound, Message: "session not found"}
	ErrRuntimeUnavailable = &Error{Code: CodeRuntimeUnavailable, Message: "browser runtime unavailable"}
	ErrEngineInit         = &Error{Code: CodeEngineInit, Message: "engine initialization failed"}
	ErrEngine             = &Error{Code: CodeEngine, Message: "engine error"}
	ErrAuthFailure        = &Error{Code: CodeAuthFailure, Message: "authentication failed"}
	ErrInvalidSessionID   = &Error{Code: CodeInvalidSessionID, Message: "invalid session id"}
	ErrManagerClosed      = &Error{Code: CodeManagerClosed, Message: "session manager closed"}
)

func newError(code, id, message string, err error) *Error {
	return &Error{Code: code, SessionID: id, Message: message, Err: err}
}

func notFound(id string) *Error {
	return newError(CodeSessionNotFound, id, "session not found", nil)
}

// CodeOf returns the session error code carried by err, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
