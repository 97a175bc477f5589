package agent

import "github.com/armatrix/opencode-agent-sdk-go/types"

// ProcessError reports a failed OpenCode subprocess or HTTP request.
type ProcessError = types.ProcessError

// PolicyViolation is returned when a local policy refuses a tool call.
type PolicyViolation = types.PolicyViolation

// Sentinel errors returned by client operations.
var (
	ErrNotConnected     = types.ErrNotConnected
	ErrAlreadyConnected = types.ErrAlreadyConnected
	ErrBudgetExhausted  = types.ErrBudgetExhausted
	ErrMaxTurns         = types.ErrMaxTurns
	ErrNoSessionStore   = types.ErrNoSessionStore
	ErrNoSessions       = types.ErrNoSessions
	ErrStoreNotListable = types.ErrStoreNotListable
	ErrPromptBlocked    = types.ErrPromptBlocked
	ErrNoQuery          = types.ErrNoQuery
	ErrUnsupported      = types.ErrUnsupported
)

func notConnected() error {
	return &ProcessError{Message: "not connected", ExitCode: types.ExitGeneric, Cause: ErrNotConnected}
}
