// Package permission decides whether a tool call requested by the OpenCode
// agent may proceed. Decisions come from declarative rules, an optional
// callback and the permission mode, and are finally mapped onto the reply
// vocabulary OpenCode understands.
package permission

import (
	"context"
	"fmt"
	"strings"
)

// Decision represents the outcome of a permission check.
type Decision int

const (
	Allow Decision = iota // Tool execution is permitted
	Deny                  // Tool execution is blocked
	Ask                   // User should be prompted for confirmation
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Ask:
		return "ask"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Replies accepted by OpenCode's permission endpoint.
const (
	ReplyOnce   = "once"
	ReplyAlways = "always"
	ReplyReject = "reject"
)

// Reply maps d onto OpenCode's permission reply. There is no interactive
// user behind the SDK, so Ask is answered like Allow.
func (d Decision) Reply() string {
	if d == Deny {
		return ReplyReject
	}
	return ReplyOnce
}

// Mode controls the default permission behavior.
type Mode string

const (
	ModeDefault           Mode = "default"           // read=allow, write/bash=ask
	ModeAcceptEdits       Mode = "acceptEdits"       // read+write=allow, bash=ask
	ModeBypassPermissions Mode = "bypassPermissions" // all=allow
	ModePlan              Mode = "plan"              // read=allow, write+bash=deny
)

// ParseMode validates a mode string. Empty yields ModeDefault.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeDefault, nil
	case ModeDefault, ModeAcceptEdits, ModeBypassPermissions, ModePlan:
		return Mode(s), nil
	}
	return "", fmt.Errorf("permission: unknown mode %q", s)
}

// Func is a user-provided permission callback.
// It receives the tool name and input, returns a Decision.
type Func func(ctx context.Context, toolName string, input map[string]any) (Decision, error)

// ReadOnlyTools lists OpenCode tools classified as read-only.
// These are always allowed in Default and AcceptEdits modes.
var ReadOnlyTools = map[string]bool{
	"read":      true,
	"glob":      true,
	"grep":      true,
	"list":      true,
	"webfetch":  true,
	"websearch": true,
	"todoread":  true,
}

// WriteTools lists OpenCode tools classified as write operations.
// Allowed in AcceptEdits and BypassPermissions modes.
var WriteTools = map[string]bool{
	"write":     true,
	"edit":      true,
	"multiedit": true,
	"patch":     true,
	"todowrite": true,
}

// Checker evaluates whether a tool can be used.
type Checker struct {
	mode       Mode
	rules      []Rule
	canUseTool Func // Optional user-provided callback, overrides mode-based check
}

// NewChecker creates a permission checker with the given mode, callback and rules.
func NewChecker(mode Mode, canUseTool Func, rules ...Rule) *Checker {
	if mode == "" {
		mode = ModeDefault
	}
	return &Checker{mode: mode, canUseTool: canUseTool, rules: rules}
}

// Check evaluates whether the named tool with the given input is allowed.
// Deny rules are absolute. Then the callback, other matching rules and
// finally the mode decide.
func (c *Checker) Check(ctx context.Context, toolName string, input map[string]any) (Decision, error) {
	ruled, matched := MatchRules(c.rules, toolName)
	if matched && ruled == Deny {
		return Deny, nil
	}

	if c.canUseTool != nil {
		return c.canUseTool(ctx, toolName, input)
	}
	if matched {
		return ruled, nil
	}

	name := strings.ToLower(toolName)
	switch c.mode {
	case ModeBypassPermissions:
		return Allow, nil
	case ModePlan:
		if ReadOnlyTools[name] {
			return Allow, nil
		}
		return Deny, nil
	case ModeAcceptEdits:
		if ReadOnlyTools[name] || WriteTools[name] {
			return Allow, nil
		}
		return Ask, nil
	default: // ModeDefault
		if ReadOnlyTools[name] {
			return Allow, nil
		}
		return Ask, nil
	}
}

// Mode returns the current permission mode.
func (c *Checker) Mode() Mode {
	return c.mode
}

// SetMode updates the permission mode.
func (c *Checker) SetMode(mode Mode) {
	c.mode = mode
}
