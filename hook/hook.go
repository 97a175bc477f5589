// Package hook defines public types for the agent hook system.
//
// Hooks let callers intercept tool permission requests, observe completed
// tool calls, vet prompts before they are sent, and react when a response
// finishes. The [Matcher] type binds a set of [Func] callbacks to a specific
// [Event] and an optional tool-name pattern.
package hook

import (
	"context"
	"time"
)

// Event identifies when a hook fires.
type Event string

const (
	PreToolUse       Event = "PreToolUse"
	PostToolUse      Event = "PostToolUse"
	UserPromptSubmit Event = "UserPromptSubmit"
	Stop             Event = "Stop"
	SubagentStop     Event = "SubagentStop"
	PreCompact       Event = "PreCompact"
	Notification     Event = "Notification"
)

// Permission decisions a PreToolUse hook may return.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
	DecisionAsk   = "ask"
)

// DefaultTimeout bounds a matcher whose Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Input is passed to hook functions.
type Input struct {
	HookEventName Event          `json:"hook_event_name"`
	SessionID     string         `json:"session_id"`
	Cwd           string         `json:"cwd,omitempty"`
	ToolName      string         `json:"tool_name,omitempty"`   // PreToolUse, PostToolUse.
	ToolInput     map[string]any `json:"tool_input,omitempty"`  // PreToolUse, PostToolUse.
	ToolOutput    string         `json:"tool_output,omitempty"` // PostToolUse.
	Prompt        string         `json:"prompt,omitempty"`      // UserPromptSubmit.
	StopReason    string         `json:"stop_reason,omitempty"` // Stop.
}

// Context carries identifiers of the call that triggered the hook.
type Context struct {
	SessionID  string
	ToolCallID string
}

// Output is returned by hook functions. A nil or zero value means "no action".
type Output struct {
	PermissionDecision string // "allow", "deny" or "ask".
	Reason             string
	Continue           *bool // nil means continue.
	StopReason         string
}

// Denies reports whether the output refuses the tool call.
func (o *Output) Denies() bool {
	return o != nil && o.PermissionDecision == DecisionDeny
}

// Halts reports whether the output asks to stop processing.
func (o *Output) Halts() bool {
	return o != nil && o.Continue != nil && !*o.Continue
}

// Deny returns an Output refusing a tool call.
func Deny(reason string) *Output {
	return &Output{PermissionDecision: DecisionDeny, Reason: reason}
}

// Allow returns an Output approving a tool call.
func Allow() *Output {
	return &Output{PermissionDecision: DecisionAllow}
}

// Halt returns an Output that stops processing with the given reason.
func Halt(reason string) *Output {
	stop := false
	return &Output{Continue: &stop, StopReason: reason}
}

// Func is the signature for hook callbacks.
type Func func(ctx context.Context, input *Input, toolUseID string, hctx *Context) (*Output, error)

// Matcher defines which events a set of hooks should fire for.
type Matcher struct {
	Event Event // Which event to match.
	// Pattern is a regular expression matched against the whole tool name.
	// A plain name is therefore an exact match. Empty matches every tool.
	Pattern string
	Hooks   []Func        // Functions to call (in order).
	Timeout time.Duration // Max time for all hooks in this matcher (0 = 30s default).
}
