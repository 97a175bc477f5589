package agent

import (
	"context"
	"log/slog"

	"github.com/armatrix/opencode-agent-sdk-go/hook"
	"github.com/armatrix/opencode-agent-sdk-go/internal/hookrunner"
	"github.com/armatrix/opencode-agent-sdk-go/permission"
)

// gate applies hooks and the permission checker to tool calls reported by
// either transport.
type gate struct {
	hooks   *hookrunner.Runner
	checker *permission.Checker
	cwd     string
	logger  *slog.Logger
}

// preToolUse decides a permission request. A denying hook wins, an
// allowing hook skips the checker.
func (g *gate) preToolUse(ctx context.Context, sessionID, toolName, toolCallID string, input map[string]any) permission.Decision {
	if input == nil {
		input = map[string]any{}
	}
	out := g.hooks.RunPreToolUse(ctx, &hook.Input{
		SessionID: sessionID,
		Cwd:       g.cwd,
		ToolName:  toolName,
		ToolInput: input,
	}, toolCallID, &hook.Context{SessionID: sessionID, ToolCallID: toolCallID})

	switch {
	case out.Denies():
		g.logger.Debug("tool denied by hook", "tool", toolName, "reason", out.Reason)
		return permission.Deny
	case out != nil && out.PermissionDecision == hook.DecisionAllow:
		return permission.Allow
	}

	decision, err := g.checker.Check(ctx, toolName, input)
	if err != nil {
		g.logger.Warn("permission check failed", "tool", toolName, "error", err)
		return permission.Deny
	}
	return decision
}

func (g *gate) postToolUse(ctx context.Context, sessionID, toolName, toolCallID string, input map[string]any, output string) {
	if !g.hooks.Has(hook.PostToolUse) {
		return
	}
	g.hooks.RunPostToolUse(ctx, &hook.Input{
		SessionID:  sessionID,
		Cwd:        g.cwd,
		ToolName:   toolName,
		ToolInput:  input,
		ToolOutput: output,
	}, toolCallID, &hook.Context{SessionID: sessionID, ToolCallID: toolCallID})
}

// promptBlocked runs the UserPromptSubmit hooks and returns the blocking
// output, if any.
func (g *gate) promptBlocked(ctx context.Context, sessionID, prompt string) *hook.Output {
	if !g.hooks.Has(hook.UserPromptSubmit) {
		return nil
	}
	return g.hooks.RunUserPromptSubmit(ctx, &hook.Input{SessionID: sessionID, Cwd: g.cwd, Prompt: prompt})
}

func (g *gate) stop(ctx context.Context, sessionID, reason string) {
	if !g.hooks.Has(hook.Stop) {
		return
	}
	g.hooks.RunStop(ctx, &hook.Input{SessionID: sessionID, Cwd: g.cwd, StopReason: reason})
}
