// Package backend runs one prompt at a time against either OpenCode or the
// Anthropic Messages API behind a single interface, with the same local
// safety policy enforced on both.
//
// Usage:
//
//	sa, err := backend.New("opencode", nil)
//	if err != nil { ... }
//	err = sa.Session(ctx, func(b backend.Backend) error {
//	    res, err := b.Run(ctx, "summarize README.md")
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(res.Text)
//	    return nil
//	})
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/armatrix/opencode-agent-sdk-go/types"
)

// Backend names accepted by New.
const (
	NameOpenCode = "opencode"
	NameClaude   = "claude"
)

var (
	// ErrUnknownBackend is returned by New for names other than
	// NameOpenCode and NameClaude.
	ErrUnknownBackend = errors.New("backend: unknown backend")

	// ErrNotStarted is returned by Run before Start or after Close.
	ErrNotStarted = errors.New("backend: not started")
)

// RunResult is the outcome of one Run.
type RunResult struct {
	Text    string
	Raw     any // backend specific: []agent.Message or []anthropic.Message
	Backend string
	Model   string

	Usage types.Usage
	Cost  decimal.Decimal

	// Denied lists the tool calls refused during the run. The model is told
	// about each refusal and the run carries on.
	Denied []*types.PolicyViolation
}

// HookSet holds optional callbacks around a run. BeforeRun and BeforeTool
// veto by returning an error.
type HookSet struct {
	BeforeRun  func(prompt string) error
	BeforeTool func(tool string, input map[string]any) error
	AfterRun   func(RunResult)
	OnError    func(error)
}

func (h *HookSet) beforeRun(prompt string) error {
	if h == nil || h.BeforeRun == nil {
		return nil
	}
	return h.BeforeRun(prompt)
}

func (h *HookSet) beforeTool(tool string, input map[string]any) error {
	if h == nil || h.BeforeTool == nil {
		return nil
	}
	return h.BeforeTool(tool, input)
}

func (h *HookSet) afterRun(res RunResult) {
	if h != nil && h.AfterRun != nil {
		h.AfterRun(res)
	}
}

// fail reports err to OnError and returns it.
func (h *HookSet) fail(err error) error {
	if h != nil && h.OnError != nil && err != nil {
		h.OnError(err)
	}
	return err
}

// Backend is an agent that answers prompts.
type Backend interface {
	Start(ctx context.Context) error
	Run(ctx context.Context, prompt string) (RunResult, error)
	Close() error
}

// vetTool runs BeforeTool and then the policy on a tool call.
func vetTool(h *HookSet, check func(string, map[string]any) *types.PolicyViolation, tool string, input map[string]any) *types.PolicyViolation {
	if err := h.beforeTool(tool, input); err != nil {
		var v *types.PolicyViolation
		if errors.As(err, &v) {
			return v
		}
		return &types.PolicyViolation{Tool: tool, Reason: err.Error()}
	}
	if check == nil {
		return nil
	}
	return check(tool, input)
}

// ExtractText returns the text carried by raw. Strings are returned as is.
// Maps are searched for the first string (or list of strings) under text,
// output_text, output, message, result or content. Anything else is
// formatted with %v.
func ExtractText(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case map[string]any:
		for _, key := range []string{"text", "output_text", "output", "message", "result", "content"} {
			switch val := v[key].(type) {
			case string:
				return val
			case []string:
				if len(val) > 0 {
					return strings.Join(val, "\n")
				}
			case []any:
				var chunks []string
				for _, part := range val {
					if s, ok := part.(string); ok {
						chunks = append(chunks, s)
					}
				}
				if len(chunks) > 0 {
					return strings.Join(chunks, "\n")
				}
			}
		}
	}
	return fmt.Sprintf("%v", raw)
}
