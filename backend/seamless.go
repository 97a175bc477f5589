package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/armatrix/opencode-agent-sdk-go/permission"
)

// SeamlessAgent selects a backend by name so callers can switch between
// OpenCode and Claude without code changes.
type SeamlessAgent struct {
	name    string
	policy  *permission.Policy
	backend Backend
}

// New returns an agent for the named backend, NameOpenCode or NameClaude.
// A nil policy means permission.DefaultPolicy.
func New(name string, policy *permission.Policy, opts ...Option) (*SeamlessAgent, error) {
	if policy == nil {
		policy = permission.DefaultPolicy()
	}
	a := &SeamlessAgent{name: name, policy: policy}
	switch name {
	case NameOpenCode:
		a.backend = NewOpenCodeBackend(policy, opts...)
	case NameClaude:
		a.backend = NewClaudeBackend(policy, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return a, nil
}

// Name returns the backend name.
func (a *SeamlessAgent) Name() string { return a.name }

// Policy returns the policy enforced on tool calls.
func (a *SeamlessAgent) Policy() *permission.Policy { return a.policy }

// Backend returns the underlying backend.
func (a *SeamlessAgent) Backend() Backend { return a.backend }

// Session starts the backend, calls fn with it and closes it again, also
// when fn fails.
func (a *SeamlessAgent) Session(ctx context.Context, fn func(Backend) error) (err error) {
	if err := a.backend.Start(ctx); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.backend.Close())
	}()
	return fn(a.backend)
}

// RunAgent runs a single prompt on the named backend with the default
// policy.
func RunAgent(ctx context.Context, name, prompt string, opts ...Option) (RunResult, error) {
	a, err := New(name, nil, opts...)
	if err != nil {
		return RunResult{}, err
	}
	var res RunResult
	err = a.Session(ctx, func(b Backend) error {
		res, err = b.Run(ctx, prompt)
		return err
	})
	return res, err
}
