package agent

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/armatrix/opencode-agent-sdk-go/hook"
	"github.com/armatrix/opencode-agent-sdk-go/internal/acp"
	"github.com/armatrix/opencode-agent-sdk-go/mcp"
	"github.com/armatrix/opencode-agent-sdk-go/permission"
)

// PluginLocal is the only supported plugin type.
const PluginLocal = "local"

// Plugin references a plugin directory. On Connect the skills of a local
// plugin are added to SkillDirs and its MCP servers to MCPServers.
type Plugin struct {
	Type string // PluginLocal, or empty
	Path string
}

// AgentOptions holds every client setting. Field names follow the Claude
// Agent SDK options object.
type AgentOptions struct {
	// Cwd is the project directory. Defaults to ".".
	Cwd string

	// Model is the model id within ProviderID, e.g. "claude-sonnet-4-5".
	Model      string
	ProviderID string

	// MaxBufferSize bounds a single line read from the server.
	MaxBufferSize int

	SystemPrompt string

	// MCPServers are passed to OpenCode. Entries with SDK set are started
	// in-process on Connect.
	MCPServers map[string]mcp.ServerConfig

	AllowedTools    []string
	DisallowedTools []string
	Plugins         []Plugin
	PermissionMode  permission.Mode
	Hooks           []hook.Matcher

	// MaxTurns bounds the number of queries. Defaults to DefaultMaxTurns.
	MaxTurns int

	// Resume continues an existing OpenCode session instead of creating one.
	Resume string

	// ServerURL selects HTTP mode against a running `opencode serve`.
	// Empty spawns `opencode acp` and speaks JSON-RPC over stdio.
	ServerURL string

	// MaxBudgetUSD stops further queries once spent. Zero is unlimited.
	MaxBudgetUSD float64

	// CanUseTool decides permission requests the hooks did not settle.
	CanUseTool permission.Func

	// Env is added to the environment of the spawned agent.
	Env map[string]string

	// BinaryPath overrides the opencode executable lookup.
	BinaryPath string

	// SettingSources are settings files merged under the explicit options.
	SettingSources []string

	// SkillDirs hold markdown skills prepended to the system prompt.
	SkillDirs []string

	SessionStore   SessionStore
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	HTTPClient     *http.Client

	streamBufferSize int
	dialACP          func(acp.Config) (*acp.Client, error)
}

// Option configures a Client via the functional options pattern.
type Option func(*AgentOptions)

// applyDefaults fills in zero-value fields with sensible defaults.
func (o *AgentOptions) applyDefaults() {
	if o.Cwd == "" {
		o.Cwd = "."
	}
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.ProviderID == "" {
		o.ProviderID = DefaultProviderID
	}
	if o.MaxBufferSize <= 0 {
		o.MaxBufferSize = DefaultMaxBufferSize
	}
	if o.MaxTurns == 0 {
		o.MaxTurns = DefaultMaxTurns
	}
	if o.PermissionMode == "" {
		o.PermissionMode = permission.ModeDefault
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.streamBufferSize <= 0 {
		o.streamBufferSize = DefaultStreamBufferSize
	}
	if o.dialACP == nil {
		o.dialACP = acp.Start
	}
}

// resolveOptions applies all option functions. Defaults are filled on
// Connect, after settings files have been merged.
func resolveOptions(opts []Option) AgentOptions {
	var o AgentOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithAgentOptions replaces all options set so far with o.
func WithAgentOptions(o AgentOptions) Option {
	return func(dst *AgentOptions) { *dst = o }
}

// --- Transport ---

// WithServerURL selects HTTP mode against a running OpenCode server.
func WithServerURL(url string) Option {
	return func(o *AgentOptions) { o.ServerURL = url }
}

// WithBinaryPath sets the opencode executable used in subprocess mode.
func WithBinaryPath(path string) Option {
	return func(o *AgentOptions) { o.BinaryPath = path }
}

// WithHTTPClient sets the HTTP client used in HTTP mode.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *AgentOptions) { o.HTTPClient = hc }
}

// WithMaxBufferSize bounds a single line read from the server.
func WithMaxBufferSize(n int) Option {
	return func(o *AgentOptions) { o.MaxBufferSize = n }
}

// WithEnv adds environment variables to the spawned agent.
func WithEnv(env map[string]string) Option {
	return func(o *AgentOptions) { o.Env = env }
}

// WithCwd sets the project directory.
func WithCwd(dir string) Option {
	return func(o *AgentOptions) { o.Cwd = dir }
}

// WithResume continues the OpenCode session with the given id.
func WithResume(sessionID string) Option {
	return func(o *AgentOptions) { o.Resume = sessionID }
}

// --- Model & Prompt ---

// WithModel sets the model id, e.g. string(anthropic.ModelClaudeSonnet4_5).
func WithModel(model string) Option {
	return func(o *AgentOptions) { o.Model = model }
}

// WithProvider sets the OpenCode provider id of the model.
func WithProvider(providerID string) Option {
	return func(o *AgentOptions) { o.ProviderID = providerID }
}

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *AgentOptions) { o.SystemPrompt = prompt }
}

// WithMaxTurns bounds the number of queries per client.
func WithMaxTurns(n int) Option {
	return func(o *AgentOptions) { o.MaxTurns = n }
}

// WithBudget stops further queries once maxUSD has been spent.
func WithBudget(maxUSD float64) Option {
	return func(o *AgentOptions) { o.MaxBudgetUSD = maxUSD }
}

// --- Tools & Permissions ---

// WithMCPServers sets the MCP servers available to the agent.
func WithMCPServers(servers map[string]mcp.ServerConfig) Option {
	return func(o *AgentOptions) { o.MCPServers = servers }
}

// WithAllowedTools allows the named tools without asking.
func WithAllowedTools(names ...string) Option {
	return func(o *AgentOptions) { o.AllowedTools = names }
}

// WithDisallowedTools disables the named tools.
func WithDisallowedTools(names ...string) Option {
	return func(o *AgentOptions) { o.DisallowedTools = names }
}

// WithPermissionMode sets the permission mode.
func WithPermissionMode(mode permission.Mode) Option {
	return func(o *AgentOptions) { o.PermissionMode = mode }
}

// WithCanUseTool sets the permission callback.
func WithCanUseTool(fn permission.Func) Option {
	return func(o *AgentOptions) { o.CanUseTool = fn }
}

// WithHooks appends hook matchers.
func WithHooks(matchers ...hook.Matcher) Option {
	return func(o *AgentOptions) { o.Hooks = append(o.Hooks, matchers...) }
}

// WithPlugins sets plugin references.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *AgentOptions) { o.Plugins = plugins }
}

// --- Configuration files ---

// WithSettingSources merges the given settings files under explicit options.
func WithSettingSources(paths ...string) Option {
	return func(o *AgentOptions) { o.SettingSources = paths }
}

// WithSkillDirs loads markdown skills from dirs into the system prompt.
func WithSkillDirs(dirs ...string) Option {
	return func(o *AgentOptions) { o.SkillDirs = dirs }
}

// --- Infrastructure ---

// WithSessionStore persists a record of the session on Disconnect.
func WithSessionStore(store SessionStore) Option {
	return func(o *AgentOptions) { o.SessionStore = store }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *AgentOptions) { o.Logger = logger }
}

// WithTracerProvider sets the OpenTelemetry tracer provider. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *AgentOptions) { o.TracerProvider = tp }
}

// WithStreamBufferSize sets the channel buffer of response streams.
func WithStreamBufferSize(n int) Option {
	return func(o *AgentOptions) { o.streamBufferSize = n }
}
