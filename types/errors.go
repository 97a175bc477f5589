package types

import (
	"errors"
	"fmt"
)

// Exit codes carried by ProcessError.
const (
	ExitGeneric  = 1
	ExitNotFound = 127
)

// Sentinel errors returned by client operations.
var (
	ErrNotConnected     = errors.New("agent: not connected")
	ErrAlreadyConnected = errors.New("agent: already connected")
	ErrBudgetExhausted  = errors.New("agent: budget exhausted")
	ErrMaxTurns         = errors.New("agent: max turns reached")
	ErrNoSessionStore   = errors.New("agent: no session store configured")
	ErrNoSessions       = errors.New("agent: no sessions in store")
	ErrPromptBlocked    = errors.New("agent: prompt blocked by hook")
	ErrStoreNotListable = errors.New("agent: session store does not support listing")
	ErrNoQuery          = errors.New("agent: no query in flight")
	ErrUnsupported      = errors.New("agent: not supported by this transport")
)

// ProcessError reports a failure of the OpenCode server: a subprocess exit
// or an HTTP error response. It is the single error type transports surface
// for server-side failures.
type ProcessError struct {
	Message    string
	ExitCode   int
	StatusCode int // HTTP status, 0 for subprocess errors
	Stderr     string
	Cause      error
}

func (e *ProcessError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("process error: %s (status %d)", e.Message, e.StatusCode)
	case e.ExitCode != 0:
		return fmt.Sprintf("process error: %s (exit code %d)", e.Message, e.ExitCode)
	default:
		return fmt.Sprintf("process error: %s", e.Message)
	}
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// NewProcessError builds a ProcessError with the generic exit code.
func NewProcessError(format string, args ...any) *ProcessError {
	return &ProcessError{Message: fmt.Sprintf(format, args...), ExitCode: ExitGeneric}
}

// PolicyViolation is returned when a local policy refuses a tool call.
type PolicyViolation struct {
	Tool   string
	Reason string
}

func (e *PolicyViolation) Error() string {
	if e.Tool == "" {
		return "policy violation: " + e.Reason
	}
	return fmt.Sprintf("policy violation: %s: %s", e.Tool, e.Reason)
}
