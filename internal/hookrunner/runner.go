// Package hookrunner provides the internal runner that executes hook matchers.
package hookrunner

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	pubhook "github.com/armatrix/opencode-agent-sdk-go/hook"
)

// Runner executes hooks matched by event and tool name.
// A failing or panicking hook is logged and skipped; it never fails the
// operation that triggered it.
type Runner struct {
	matchers []matcherEntry
	logger   *slog.Logger
}

type matcherEntry struct {
	event   pubhook.Event
	pattern *regexp.Regexp // nil = match all tools
	hooks   []pubhook.Func
	timeout time.Duration
}

// New creates a Runner from public Matcher definitions.
// Returns an error if any pattern is not a valid regular expression.
func New(matchers []pubhook.Matcher, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries := make([]matcherEntry, 0, len(matchers))
	for i, m := range matchers {
		entry := matcherEntry{
			event:   m.Event,
			hooks:   m.Hooks,
			timeout: m.Timeout,
		}
		if entry.timeout <= 0 {
			entry.timeout = pubhook.DefaultTimeout
		}
		if m.Pattern != "" {
			re, err := regexp.Compile("^(?:" + m.Pattern + ")$")
			if err != nil {
				return nil, fmt.Errorf("matcher[%d]: invalid pattern %q: %w", i, m.Pattern, err)
			}
			entry.pattern = re
		}
		entries = append(entries, entry)
	}
	return &Runner{matchers: entries, logger: logger}, nil
}

// Has reports whether any matcher is registered for event.
func (r *Runner) Has(event pubhook.Event) bool {
	if r == nil {
		return false
	}
	for _, m := range r.matchers {
		if m.event == event {
			return true
		}
	}
	return false
}

// RunPreToolUse runs the PreToolUse hooks matching input.ToolName.
// The first output that denies the call wins and stops evaluation.
// Otherwise the last output carrying a decision is returned, or nil.
func (r *Runner) RunPreToolUse(ctx context.Context, input *pubhook.Input, toolUseID string, hctx *pubhook.Context) *pubhook.Output {
	input.HookEventName = pubhook.PreToolUse
	return r.run(ctx, input, toolUseID, hctx, (*pubhook.Output).Denies)
}

// RunPostToolUse runs the PostToolUse hooks matching input.ToolName.
func (r *Runner) RunPostToolUse(ctx context.Context, input *pubhook.Input, toolUseID string, hctx *pubhook.Context) {
	input.HookEventName = pubhook.PostToolUse
	r.run(ctx, input, toolUseID, hctx, nil)
}

// RunUserPromptSubmit runs the UserPromptSubmit hooks. A returned output
// that denies or halts means the prompt must not be sent.
func (r *Runner) RunUserPromptSubmit(ctx context.Context, input *pubhook.Input) *pubhook.Output {
	input.HookEventName = pubhook.UserPromptSubmit
	out := r.run(ctx, input, "", &pubhook.Context{SessionID: input.SessionID}, blocksPrompt)
	if blocksPrompt(out) {
		return out
	}
	return nil
}

// RunStop runs the Stop hooks once a response has finished.
func (r *Runner) RunStop(ctx context.Context, input *pubhook.Input) {
	input.HookEventName = pubhook.Stop
	r.run(ctx, input, "", &pubhook.Context{SessionID: input.SessionID}, nil)
}

// toolEvent reports whether matcher patterns apply to event. Prompt and
// stop events carry no tool name, so their patterns are ignored.
func toolEvent(event pubhook.Event) bool {
	return event == pubhook.PreToolUse || event == pubhook.PostToolUse
}

func blocksPrompt(o *pubhook.Output) bool {
	return o.Denies() || o.Halts()
}

// run is the internal dispatcher. stop, when non-nil, ends evaluation as
// soon as a hook output satisfies it.
func (r *Runner) run(ctx context.Context, input *pubhook.Input, toolUseID string, hctx *pubhook.Context, stop func(*pubhook.Output) bool) *pubhook.Output {
	if r == nil {
		return nil
	}
	var combined *pubhook.Output

	for _, entry := range r.matchers {
		if entry.event != input.HookEventName {
			continue
		}
		if entry.pattern != nil && toolEvent(input.HookEventName) && !entry.pattern.MatchString(input.ToolName) {
			continue
		}

		tctx, cancel := context.WithTimeout(ctx, entry.timeout)
		for _, fn := range entry.hooks {
			out := r.call(tctx, fn, input, toolUseID, hctx)
			if out == nil {
				continue
			}
			if stop != nil && stop(out) {
				cancel()
				return out
			}
			if combined == nil || out.PermissionDecision != "" {
				combined = out
			}
		}
		cancel()
	}

	return combined
}

// call invokes one hook, bounded by ctx. Errors, panics and timeouts are
// logged and yield nil.
func (r *Runner) call(ctx context.Context, fn pubhook.Func, input *pubhook.Input, toolUseID string, hctx *pubhook.Context) *pubhook.Output {
	type result struct {
		out *pubhook.Output
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("hook panicked: %v", p)}
			}
		}()
		out, err := fn(ctx, input, toolUseID, hctx)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			r.logger.Warn("hook failed",
				"event", input.HookEventName,
				"tool", input.ToolName,
				"error", res.err,
			)
			return nil
		}
		return res.out
	case <-ctx.Done():
		r.logger.Warn("hook timed out",
			"event", input.HookEventName,
			"tool", input.ToolName,
			"error", ctx.Err(),
		)
		return nil
	}
}
