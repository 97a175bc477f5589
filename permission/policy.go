package permission

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/armatrix/opencode-agent-sdk-go/hook"
	"github.com/armatrix/opencode-agent-sdk-go/types"
)

// Policy is a local safety net applied to tool calls before OpenCode runs
// them. Substring lists are matched literally, globs with doublestar.
type Policy struct {
	DenyFileSubstrings []string
	DenyBashSubstrings []string
	DenyFileGlobs      []string

	// OpenCodePermission is forwarded to OpenCode as its per-tool
	// permission configuration ("allow", "ask" or "deny").
	OpenCodePermission map[string]string
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() *Policy {
	return &Policy{
		DenyFileSubstrings: []string{"/.env", ".env"},
		DenyBashSubstrings: []string{"rm -rf", "sudo ", "curl | sh"},
		OpenCodePermission: map[string]string{
			"bash":     "ask",
			"edit":     "ask",
			"read":     "allow",
			"webfetch": "allow",
		},
	}
}

var (
	bashTools = map[string]bool{"bash": true, "shell": true, "terminal": true}
	fileTools = map[string]bool{"read": true, "write": true, "edit": true, "open": true, "file": true, "multiedit": true, "patch": true}

	commandKeys = []string{"command", "cmd", "input"}
	pathKeys    = []string{"filePath", "path", "file", "filepath", "filename"}
)

// AssertFileAllowed returns a *types.PolicyViolation if path is denied.
func (p *Policy) AssertFileAllowed(path string) error {
	if v := p.checkFile("", path); v != nil {
		return v
	}
	return nil
}

// AssertBashAllowed returns a *types.PolicyViolation if command is denied.
func (p *Policy) AssertBashAllowed(command string) error {
	if v := p.checkBash("", command); v != nil {
		return v
	}
	return nil
}

// CheckToolCall inspects a tool call payload. Shell tools are checked by
// their command, file tools by their target path. Other tools pass.
func (p *Policy) CheckToolCall(toolName string, payload map[string]any) *types.PolicyViolation {
	name := strings.ToLower(toolName)
	if bashTools[name] {
		if cmd := FirstString(payload, commandKeys...); cmd != "" {
			if v := p.checkBash(name, cmd); v != nil {
				return v
			}
		}
	}
	if fileTools[name] {
		if path := FirstString(payload, pathKeys...); path != "" {
			return p.checkFile(name, path)
		}
	}
	return nil
}

func (p *Policy) checkFile(tool, path string) *types.PolicyViolation {
	for _, s := range p.DenyFileSubstrings {
		if strings.Contains(path, s) {
			return &types.PolicyViolation{Tool: tool, Reason: fmt.Sprintf("Denied file access by policy: %s", path)}
		}
	}
	for _, g := range p.DenyFileGlobs {
		if ok, _ := doublestar.PathMatch(g, path); ok {
			return &types.PolicyViolation{Tool: tool, Reason: fmt.Sprintf("Denied file access by policy: %s", path)}
		}
	}
	return nil
}

func (p *Policy) checkBash(tool, command string) *types.PolicyViolation {
	for _, s := range p.DenyBashSubstrings {
		if strings.Contains(command, s) {
			return &types.PolicyViolation{Tool: tool, Reason: fmt.Sprintf("Denied shell command by policy: %s", command)}
		}
	}
	return nil
}

// PreToolUseHook adapts the policy into a hook that denies violating calls.
func (p *Policy) PreToolUseHook() hook.Func {
	return func(_ context.Context, in *hook.Input, _ string, _ *hook.Context) (*hook.Output, error) {
		if v := p.CheckToolCall(in.ToolName, in.ToolInput); v != nil {
			return hook.Deny(v.Reason), nil
		}
		return nil, nil
	}
}

// Matcher returns a PreToolUse matcher running PreToolUseHook for every tool.
func (p *Policy) Matcher() hook.Matcher {
	return hook.Matcher{Event: hook.PreToolUse, Hooks: []hook.Func{p.PreToolUseHook()}}
}

// FirstString returns the first non-empty string value among keys.
func FirstString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
