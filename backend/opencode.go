package backend

import (
	"context"
	"slices"
	"strings"
	"sync"

	agent "github.com/armatrix/opencode-agent-sdk-go"
	"github.com/armatrix/opencode-agent-sdk-go/hook"
	"github.com/armatrix/opencode-agent-sdk-go/mcp"
	"github.com/armatrix/opencode-agent-sdk-go/permission"
	"github.com/armatrix/opencode-agent-sdk-go/types"
)

// OpenCodeBackend runs prompts on an OpenCode server through an
// agent.Client in HTTP mode. The policy and BeforeTool are applied to the
// server's permission requests by a PreToolUse hook.
type OpenCodeBackend struct {
	cfg    config
	policy *permission.Policy

	mu     sync.Mutex
	client *agent.Client

	dmu    sync.Mutex
	denied []*types.PolicyViolation
}

var _ Backend = (*OpenCodeBackend)(nil)

// NewOpenCodeBackend returns an OpenCode backend. A nil policy means
// permission.DefaultPolicy.
func NewOpenCodeBackend(policy *permission.Policy, opts ...Option) *OpenCodeBackend {
	if policy == nil {
		policy = permission.DefaultPolicy()
	}
	cfg := resolve(opts)
	if cfg.serverURL == "" {
		cfg.serverURL = agent.DefaultServerURL
	}
	return &OpenCodeBackend{cfg: cfg, policy: policy}
}

// Start connects to the server and creates a session.
func (b *OpenCodeBackend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return types.ErrAlreadyConnected
	}

	allow, deny := permissionRules(b.policy.OpenCodePermission)
	opts := []agent.Option{
		agent.WithServerURL(b.cfg.serverURL),
		agent.WithLogger(b.cfg.logger),
		agent.WithHooks(hook.Matcher{Event: hook.PreToolUse, Hooks: []hook.Func{b.vet}}),
		agent.WithAllowedTools(allow...),
		agent.WithDisallowedTools(deny...),
	}
	if b.cfg.model != "" {
		opts = append(opts, agent.WithModel(b.cfg.model))
	}
	if b.cfg.systemPrompt != "" {
		opts = append(opts, agent.WithSystemPrompt(b.cfg.systemPrompt))
	}
	if b.cfg.maxBudgetUSD > 0 {
		opts = append(opts, agent.WithBudget(b.cfg.maxBudgetUSD))
	}
	if len(b.cfg.servers) > 0 {
		servers := make(map[string]mcp.ServerConfig, len(b.cfg.servers))
		for _, srv := range b.cfg.servers {
			servers[srv.Name()] = srv.Config()
		}
		opts = append(opts, agent.WithMCPServers(servers))
	}
	opts = append(opts, b.cfg.agentOptions...)

	client := agent.NewClient(opts...)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	b.client = client
	return nil
}

// permissionRules splits OpenCode's per-tool permission map into allow and
// deny lists. "ask" entries are left to the permission checker.
func permissionRules(perms map[string]string) (allow, deny []string) {
	for tool, p := range perms {
		switch p {
		case "allow":
			allow = append(allow, tool)
		case "deny":
			deny = append(deny, tool)
		}
	}
	slices.Sort(allow)
	slices.Sort(deny)
	return allow, deny
}

func (b *OpenCodeBackend) vet(_ context.Context, in *hook.Input, _ string, _ *hook.Context) (*hook.Output, error) {
	v := vetTool(b.cfg.hooks, b.policy.CheckToolCall, in.ToolName, in.ToolInput)
	if v == nil {
		return nil, nil
	}
	b.cfg.logger.Info("tool call denied", "tool", in.ToolName, "reason", v.Reason)
	b.dmu.Lock()
	b.denied = append(b.denied, v)
	b.dmu.Unlock()
	return hook.Deny(v.Reason), nil
}

// Run sends prompt and waits for the end of the turn.
func (b *OpenCodeBackend) Run(ctx context.Context, prompt string) (RunResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.cfg.hooks
	if b.client == nil {
		return RunResult{}, h.fail(ErrNotStarted)
	}
	if err := h.beforeRun(prompt); err != nil {
		return RunResult{}, h.fail(err)
	}

	b.dmu.Lock()
	b.denied = nil
	b.dmu.Unlock()

	if err := b.client.Query(ctx, prompt); err != nil {
		return RunResult{}, h.fail(err)
	}
	msgs, err := b.client.ReceiveResponse(ctx).Collect()
	if err != nil {
		return RunResult{}, h.fail(err)
	}

	res := RunResult{Backend: NameOpenCode, Model: b.cfg.model, Raw: msgs}
	var text strings.Builder
	for _, m := range msgs {
		switch m := m.(type) {
		case *agent.SystemMessage:
			if model, ok := m.Data["model"].(string); ok && m.Subtype == agent.SubtypeInit {
				res.Model = model
			}
		case *agent.AssistantMessage:
			text.WriteString(m.Text())
		case *agent.ResultMessage:
			res.Usage.Add(m.Usage)
			res.Cost = res.Cost.Add(m.TotalCostUSD)
		}
	}
	res.Text = text.String()

	b.dmu.Lock()
	res.Denied = b.denied
	b.denied = nil
	b.dmu.Unlock()

	h.afterRun(res)
	return res, nil
}

// SessionID returns the OpenCode session id, or "" before Start.
func (b *OpenCodeBackend) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return ""
	}
	return b.client.SessionID()
}

// Close ends the session.
func (b *OpenCodeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Disconnect()
	b.client = nil
	return err
}
