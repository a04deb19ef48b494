package ssh

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the engine. Callers branch with errors.Is; the
// management API maps them to wire codes via ErrorCode.
var (
	ErrConnection      = errors.New("connection failed")
	ErrAuth            = errors.New("authentication failed")
	ErrSSH             = errors.New("ssh protocol error")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidConfig   = errors.New("invalid session config")
	ErrIO              = errors.New("io error")

	ErrSessionClosed   = errors.New("session closed")
	ErrQueueFull       = errors.New("write queue is full")
	ErrAlreadyStarted  = errors.New("session already started")
	ErrHostKeyRejected = errors.New("host key rejected")
	ErrHostKeyMismatch = errors.New("host key mismatch")
	ErrDecisionTimeout = errors.New("Host key verification timed out")
)

// classifiedError separates the message shown to the user from the sentinel
// that drives errors.Is branching and wire codes. Error() returns only the
// message, so event payloads carry clean text instead of stacked prefixes.
type classifiedError struct {
	kind error
	msg  string
}

func (e *classifiedError) Error() string { return e.msg }
func (e *classifiedError) Unwrap() error { return e.kind }

// classify builds a user-facing error filed under one of the sentinel kinds.
func classify(kind error, format string, a ...any) error {
	return &classifiedError{kind: kind, msg: fmt.Sprintf(format, a...)}
}

// maxErrorMessageLen caps error text attached to sessions and events so a
// misbehaving server cannot flood the UI.
const maxErrorMessageLen = 200

// SanitizeErrorMessage trims whitespace and truncates overlong error text.
func SanitizeErrorMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > maxErrorMessageLen {
		return msg[:maxErrorMessageLen] + "..."
	}
	return msg
}

// ErrorCode reduces an engine error to its stable wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, ErrInvalidConfig):
		return "INVALID_CONFIG"
	case errors.Is(err, ErrAuth):
		return "AUTH_ERROR"
	case errors.Is(err, ErrHostKeyMismatch), errors.Is(err, ErrHostKeyRejected), errors.Is(err, ErrDecisionTimeout):
		return "SSH_ERROR"
	case errors.Is(err, ErrConnection):
		return "CONNECTION_ERROR"
	case errors.Is(err, ErrSSH):
		return "SSH_ERROR"
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrSessionClosed), errors.Is(err, ErrIO):
		return "IO_ERROR"
	case err == nil:
		return ""
	default:
		return "UNKNOWN_ERROR"
	}
}
