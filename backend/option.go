package backend

import (
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go/option"

	agent "github.com/armatrix/opencode-agent-sdk-go"
	"github.com/armatrix/opencode-agent-sdk-go/mcp"
)

// Default limits of the Claude backend.
const (
	DefaultMaxTokens = 4096
	DefaultMaxTurns  = 20
)

type config struct {
	model        string
	serverURL    string
	systemPrompt string
	maxTokens    int64
	maxTurns     int
	maxBudgetUSD float64
	hooks        *HookSet
	servers      []*mcp.SDKServer
	logger       *slog.Logger

	clientOptions []option.RequestOption
	agentOptions  []agent.Option
}

// Option configures a backend.
type Option func(*config)

func resolve(opts []Option) config {
	c := config{
		maxTokens: DefaultMaxTokens,
		maxTurns:  DefaultMaxTurns,
		logger:    slog.Default(),
	}
	for _, fn := range opts {
		fn(&c)
	}
	return c
}

// WithModel sets the model. The OpenCode backend accepts "provider/model".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithServerURL sets the OpenCode server. Defaults to agent.DefaultServerURL.
func WithServerURL(url string) Option {
	return func(c *config) { c.serverURL = url }
}

// WithSystemPrompt sets the system prompt of both backends.
func WithSystemPrompt(prompt string) Option {
	return func(c *config) { c.systemPrompt = prompt }
}

// WithMaxTokens bounds each Messages API response of the Claude backend.
func WithMaxTokens(n int64) Option {
	return func(c *config) { c.maxTokens = n }
}

// WithMaxTurns bounds the model round trips of one Claude backend run.
func WithMaxTurns(n int) Option {
	return func(c *config) { c.maxTurns = n }
}

// WithBudget stops further runs once maxUSD has been spent.
func WithBudget(maxUSD float64) Option {
	return func(c *config) { c.maxBudgetUSD = maxUSD }
}

// WithHooks sets the run callbacks.
func WithHooks(h HookSet) Option {
	return func(c *config) { c.hooks = &h }
}

// WithTools exposes the tools of in-process MCP servers. OpenCode reaches
// them over MCP; the Claude backend calls them directly.
func WithTools(servers ...*mcp.SDKServer) Option {
	return func(c *config) { c.servers = append(c.servers, servers...) }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithClientOptions passes request options to the Anthropic client, e.g.
// option.WithAPIKey or option.WithBaseURL.
func WithClientOptions(opts ...option.RequestOption) Option {
	return func(c *config) { c.clientOptions = append(c.clientOptions, opts...) }
}

// WithAgentOptions passes options to the OpenCode client. They are applied
// after the backend's own.
func WithAgentOptions(opts ...agent.Option) Option {
	return func(c *config) { c.agentOptions = append(c.agentOptions, opts...) }
}
