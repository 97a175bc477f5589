package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/shopspring/decimal"

	agent "github.com/armatrix/opencode-agent-sdk-go"
	"github.com/armatrix/opencode-agent-sdk-go/internal/budget"
	"github.com/armatrix/opencode-agent-sdk-go/permission"
	"github.com/armatrix/opencode-agent-sdk-go/types"
)

// ClaudeBackend talks to the Anthropic Messages API directly. Tool calls
// are vetted by the policy and BeforeTool; allowed calls to SDK server
// tools are executed in process, everything else is answered with an error
// result. The conversation carries over between runs until Close.
type ClaudeBackend struct {
	cfg    config
	policy *permission.Policy

	mu      sync.Mutex
	client  *anthropic.Client
	tools   *toolRegistry
	budget  *budget.Tracker
	history []anthropic.MessageParam
}

var _ Backend = (*ClaudeBackend)(nil)

// NewClaudeBackend returns a Claude backend. A nil policy means
// permission.DefaultPolicy. The API key is read from ANTHROPIC_API_KEY
// unless WithClientOptions sets one.
func NewClaudeBackend(policy *permission.Policy, opts ...Option) *ClaudeBackend {
	if policy == nil {
		policy = permission.DefaultPolicy()
	}
	cfg := resolve(opts)
	cfg.model = strings.TrimPrefix(cfg.model, "anthropic/")
	if cfg.model == "" {
		cfg.model = agent.DefaultModel
	}
	return &ClaudeBackend{cfg: cfg, policy: policy}
}

// Start creates the API client.
func (b *ClaudeBackend) Start(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return types.ErrAlreadyConnected
	}
	tools, err := newToolRegistry(b.cfg.servers)
	if err != nil {
		return err
	}
	client := anthropic.NewClient(b.cfg.clientOptions...)
	b.client = &client
	b.tools = tools
	b.budget = budget.NewTracker(decimal.NewFromFloat(b.cfg.maxBudgetUSD), nil)
	b.history = nil
	b.cfg.logger.Debug("claude backend started", "model", b.cfg.model, "tools", len(tools.order))
	return nil
}

// Run sends prompt and follows tool calls until the model ends its turn.
func (b *ClaudeBackend) Run(ctx context.Context, prompt string) (RunResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.cfg.hooks
	if b.client == nil {
		return RunResult{}, h.fail(ErrNotStarted)
	}
	if err := h.beforeRun(prompt); err != nil {
		return RunResult{}, h.fail(err)
	}

	res := RunResult{Backend: NameClaude, Model: b.cfg.model}
	var (
		raw  []anthropic.Message
		text strings.Builder
	)
	history := append(slices.Clone(b.history), anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))

	for turn := 0; ; turn++ {
		if turn >= b.cfg.maxTurns {
			return RunResult{}, h.fail(types.ErrMaxTurns)
		}
		if b.budget.Exhausted() {
			return RunResult{}, h.fail(types.ErrBudgetExhausted)
		}
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(b.cfg.model),
			MaxTokens: b.cfg.maxTokens,
			Messages:  history,
		}
		if b.cfg.systemPrompt != "" {
			params.System = []anthropic.TextBlockParam{{Text: b.cfg.systemPrompt}}
		}
		if tools := b.tools.ListForAPI(); len(tools) > 0 {
			params.Tools = tools
		}

		msg, err := b.client.Messages.New(ctx, params)
		if err != nil {
			return RunResult{}, h.fail(fmt.Errorf("claude: %w", err))
		}
		raw = append(raw, *msg)
		if msg.Model != "" {
			res.Model = string(msg.Model)
		}
		usage := types.Usage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
		}
		res.Usage.Add(usage)
		res.Cost = res.Cost.Add(b.budget.Record(&types.ResultMessage{Usage: usage}, res.Model))
		history = append(history, msg.ToParam())

		var results []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_use":
				results = append(results, b.callTool(ctx, block.AsToolUse(), &res))
			}
		}
		if msg.StopReason != anthropic.StopReasonToolUse || len(results) == 0 {
			break
		}
		history = append(history, anthropic.NewUserMessage(results...))
	}

	b.history = history
	res.Text = text.String()
	res.Raw = raw
	h.afterRun(res)
	return res, nil
}

func (b *ClaudeBackend) callTool(ctx context.Context, tu anthropic.ToolUseBlock, res *RunResult) anthropic.ContentBlockParamUnion {
	var input map[string]any
	if err := json.Unmarshal(json.RawMessage(tu.Input), &input); err != nil || input == nil {
		input = map[string]any{}
	}
	if v := vetTool(b.cfg.hooks, b.policy.CheckToolCall, tu.Name, input); v != nil {
		b.cfg.logger.Info("tool call denied", "tool", tu.Name, "reason", v.Reason)
		res.Denied = append(res.Denied, v)
		return anthropic.NewToolResultBlock(tu.ID, "denied: "+v.Reason, true)
	}
	out, isErr := b.tools.Execute(ctx, tu.Name, json.RawMessage(tu.Input))
	return anthropic.NewToolResultBlock(tu.ID, out, isErr)
}

// TotalCost returns the estimated spend since Start.
func (b *ClaudeBackend) TotalCost() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.budget == nil {
		return decimal.Zero
	}
	return b.budget.TotalCost()
}

// Close drops the client and the conversation.
func (b *ClaudeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = nil
	b.history = nil
	return nil
}
