package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/armatrix/opencode-agent-sdk-go/internal/budget"
	"github.com/armatrix/opencode-agent-sdk-go/internal/config"
	"github.com/armatrix/opencode-agent-sdk-go/internal/hookrunner"
	"github.com/armatrix/opencode-agent-sdk-go/mcp"
	"github.com/armatrix/opencode-agent-sdk-go/permission"
	"github.com/armatrix/opencode-agent-sdk-go/plugin"
	"github.com/armatrix/opencode-agent-sdk-go/types"
)

// Client is a session with an OpenCode agent. It mirrors ClaudeSDKClient:
// Connect, then alternate Query and ReceiveResponse, then Disconnect.
//
// With ServerURL set the client talks to `opencode serve` over HTTP;
// otherwise it spawns `opencode acp` and speaks JSON-RPC over stdio.
type Client struct {
	opts AgentOptions

	mu       sync.Mutex
	active   AgentOptions // opts after settings and defaults, set by Connect
	logger   *slog.Logger
	tr       transport
	gate     *gate
	budget   *budget.Tracker
	servers  []*mcp.SDKServer
	record   *SessionRecord
	turns    int
	inflight bool
}

// NewClient creates a Client configured by the given options. Nothing is
// contacted until Connect.
func NewClient(opts ...Option) *Client {
	return &Client{opts: resolveOptions(opts)}
}

// Options returns the options the client was created with.
func (c *Client) Options() AgentOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// Connect opens the session. In HTTP mode a session is created, or the
// resumed one verified. In subprocess mode the agent is spawned, the
// protocol handshake performed and a session created or loaded.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr != nil {
		return ErrAlreadyConnected
	}

	o := c.opts
	if err := o.loadSettings(); err != nil {
		return err
	}
	o.applyDefaults()
	cwd, err := filepath.Abs(o.Cwd)
	if err != nil {
		return fmt.Errorf("resolve cwd: %w", err)
	}
	o.Cwd = cwd
	if err := o.loadPlugins(); err != nil {
		return err
	}

	system, err := o.systemPrompt()
	if err != nil {
		return err
	}
	runner, err := hookrunner.New(o.Hooks, o.Logger)
	if err != nil {
		return fmt.Errorf("hooks: %w", err)
	}
	rules := append(permission.DenyRules(o.DisallowedTools...), permission.AllowRules(o.AllowedTools...)...)
	g := &gate{
		hooks:   runner,
		checker: permission.NewChecker(o.PermissionMode, o.CanUseTool, rules...),
		cwd:     o.Cwd,
		logger:  o.Logger,
	}
	servers, started, err := startSDKServers(ctx, o.MCPServers)
	if err != nil {
		return err
	}

	var tr transport
	if o.ServerURL != "" {
		if len(servers) > 0 {
			o.Logger.Debug("mcp servers are configured on the opencode server in http mode", "count", len(servers))
		}
		tr, err = dialHTTP(ctx, &o, system, g)
	} else {
		tr, err = dialACP(ctx, &o, system, g, servers)
	}
	if err != nil {
		stopSDKServers(started, o.Logger)
		return err
	}

	c.active = o
	c.logger = o.Logger
	c.tr = tr
	c.gate = g
	c.servers = started
	c.budget = budget.NewTracker(decimal.NewFromFloat(o.MaxBudgetUSD), nil)
	c.turns = 0
	c.inflight = false
	c.record = c.openRecord(ctx, tr)

	c.logger.Debug("connected", "mode", tr.mode(), "session_id", tr.sessionID(), "model", o.Model)
	return nil
}

// startSDKServers validates configs, starts in-process servers and returns the configs with
// SDK entries replaced by their loopback URLs.
func startSDKServers(ctx context.Context, configs map[string]mcp.ServerConfig) (map[string]mcp.ServerConfig, []*mcp.SDKServer, error) {
	out := make(map[string]mcp.ServerConfig, len(configs))
	var started []*mcp.SDKServer
	for name, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			stopSDKServers(started, slog.Default())
			return nil, nil, fmt.Errorf("mcp server %s: %w", name, err)
		}
		if cfg.SDK == nil {
			out[name] = cfg
			continue
		}
		live, err := cfg.SDK.Start(ctx)
		if err != nil {
			stopSDKServers(started, slog.Default())
			return nil, nil, fmt.Errorf("start mcp server %s: %w", name, err)
		}
		started = append(started, cfg.SDK)
		out[name] = live
	}
	return out, started, nil
}

func stopSDKServers(servers []*mcp.SDKServer, logger *slog.Logger) {
	for _, s := range servers {
		if err := s.Close(); err != nil {
			logger.Warn("stop mcp server", "server", s.Name(), "error", err)
		}
	}
}

// openRecord loads the stored record of a resumed session, or starts one.
func (c *Client) openRecord(ctx context.Context, tr transport) *SessionRecord {
	now := time.Now()
	if store := c.active.SessionStore; store != nil && c.active.Resume != "" {
		if rec, err := store.Load(ctx, tr.sessionID()); err == nil {
			rec.UpdatedAt = now
			return rec
		}
	}
	return &SessionRecord{
		ID:        tr.sessionID(),
		Mode:      tr.mode(),
		Model:     c.active.Model,
		Cwd:       c.active.Cwd,
		ServerURL: c.active.ServerURL,
		TotalCost: decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Query sends a text prompt.
func (c *Client) Query(ctx context.Context, prompt string) error {
	return c.QueryParts(ctx, TextPart(prompt))
}

// QueryParts sends a prompt made of parts. UserPromptSubmit hooks may block
// it; the budget and MaxTurns are enforced before anything is sent.
func (c *Client) QueryParts(ctx context.Context, parts ...Part) error {
	c.mu.Lock()
	tr, g := c.tr, c.gate
	c.mu.Unlock()
	if tr == nil {
		return notConnected()
	}

	if out := g.promptBlocked(ctx, tr.sessionID(), types.PromptText(parts)); out != nil {
		reason := out.Reason
		if reason == "" {
			reason = out.StopReason
		}
		return fmt.Errorf("%w: %s", ErrPromptBlocked, reason)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.budget.Exhausted() {
		return ErrBudgetExhausted
	}
	if c.active.MaxTurns > 0 && c.turns >= c.active.MaxTurns {
		return ErrMaxTurns
	}
	if err := tr.send(ctx, parts); err != nil {
		return err
	}
	c.turns++
	c.record.NumTurns++
	c.inflight = true
	return nil
}

// ReceiveResponse streams the reply to the last query: an init
// SystemMessage, the translated transport messages, and a final
// ResultMessage.
func (c *Client) ReceiveResponse(ctx context.Context) *MessageStream {
	c.mu.Lock()
	tr, inflight, buffer := c.tr, c.inflight, c.active.streamBufferSize
	c.mu.Unlock()
	if tr == nil {
		return failedStream(notConnected())
	}
	if !inflight {
		return failedStream(ErrNoQuery)
	}
	return newMessageStream(ctx, buffer, func(ctx context.Context, emit func(Message) error) error {
		return c.receive(ctx, tr, emit)
	})
}

func (c *Client) receive(ctx context.Context, tr transport, emit func(Message) error) error {
	defer func() {
		c.mu.Lock()
		c.inflight = false
		c.mu.Unlock()
	}()

	sid := tr.sessionID()
	err := emit(&SystemMessage{Subtype: SubtypeInit, Data: map[string]any{
		"session_id": sid,
		"model":      c.active.Model,
		"cwd":        c.active.Cwd,
	}})
	if err != nil {
		return err
	}

	var stopReason string
	err = tr.receive(ctx, func(m Message) error {
		if res, ok := m.(*ResultMessage); ok {
			c.recordResult(res)
			stopReason = res.StopReason
		}
		return emit(m)
	})
	if err == nil {
		c.gate.stop(ctx, sid, stopReason)
	}
	return err
}

func (c *Client) recordResult(res *ResultMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cost := c.budget.Record(res, c.active.Model)
	c.record.TotalCost = c.record.TotalCost.Add(cost)
	c.record.Usage.Add(res.Usage)
	c.record.UpdatedAt = time.Now()
}

// Interrupt stops the running response.
func (c *Client) Interrupt(ctx context.Context) error {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil {
		return notConnected()
	}
	return tr.interrupt(ctx)
}

// Disconnect closes the session, stops in-process MCP servers and saves
// the session record when a store is configured. Without a store the
// server-side session is deleted in HTTP mode. Disconnect is idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	tr, servers, store := c.tr, c.servers, c.active.SessionStore
	var rec *SessionRecord
	if c.record != nil {
		rec = c.record.Clone()
	}
	c.tr, c.servers = nil, nil
	c.mu.Unlock()
	if tr == nil {
		return nil
	}

	var errs []error
	if err := tr.close(store != nil); err != nil {
		errs = append(errs, err)
	}
	stopSDKServers(servers, c.logger)
	if store != nil && rec != nil {
		if err := store.Save(context.Background(), rec); err != nil {
			errs = append(errs, fmt.Errorf("save session record: %w", err))
		}
	}
	return errors.Join(errs...)
}

// SessionID returns the OpenCode session id, or "" when not connected.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return ""
	}
	return c.tr.sessionID()
}

// Messages returns the session history. Only HTTP mode supports it.
func (c *Client) Messages(ctx context.Context) ([]Message, error) {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil {
		return nil, notConnected()
	}
	return tr.history(ctx)
}

// TotalCost returns the cost recorded since Connect.
func (c *Client) TotalCost() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.budget == nil {
		return decimal.Zero
	}
	return c.budget.TotalCost()
}

// ContinueLatest makes the next Connect resume the most recently updated
// session of the configured store.
func (c *Client) ContinueLatest(ctx context.Context) error {
	c.mu.Lock()
	connected, store := c.tr != nil, c.opts.SessionStore
	c.mu.Unlock()
	if connected {
		return ErrAlreadyConnected
	}
	rec, err := Latest(ctx, store)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.opts.Resume = rec.ID
	c.mu.Unlock()
	return nil
}

// loadSettings merges SettingSources under the explicit options.
func (o *AgentOptions) loadSettings() error {
	if len(o.SettingSources) == 0 {
		return nil
	}
	s, err := config.LoadSettings(o.SettingSources...)
	if err != nil {
		return err
	}

	if o.Model == "" {
		o.Model = s.Model
	}
	if o.ProviderID == "" {
		o.ProviderID = s.ProviderID
	}
	if o.ServerURL == "" {
		o.ServerURL = s.ServerURL
	}
	if o.SystemPrompt == "" {
		o.SystemPrompt = s.SystemPrompt
	}
	if o.MaxTurns == 0 {
		o.MaxTurns = s.MaxTurns
	}
	if o.MaxBudgetUSD == 0 {
		o.MaxBudgetUSD = s.MaxBudgetUSD
	}
	if len(o.AllowedTools) == 0 {
		o.AllowedTools = s.AllowedTools
	}
	if len(o.DisallowedTools) == 0 {
		o.DisallowedTools = s.DisallowedTools
	}
	if o.PermissionMode == "" && s.PermissionMode != "" {
		mode, err := permission.ParseMode(s.PermissionMode)
		if err != nil {
			return err
		}
		o.PermissionMode = mode
	}
	o.SkillDirs = append(append([]string(nil), s.SkillDirs...), o.SkillDirs...)

	if len(s.MCPServers) > 0 {
		servers := make(map[string]mcp.ServerConfig, len(s.MCPServers)+len(o.MCPServers))
		for name, srv := range s.MCPServers {
			servers[name] = mcp.ServerConfig{
				Command:   srv.Command,
				Args:      srv.Args,
				Env:       srv.Env,
				URL:       srv.URL,
				Headers:   srv.Headers,
				Transport: mcp.TransportType(srv.Type),
			}
		}
		maps.Copy(servers, o.MCPServers)
		o.MCPServers = servers
	}
	if len(s.Env) > 0 {
		env := maps.Clone(s.Env)
		maps.Copy(env, o.Env)
		o.Env = env
	}
	return nil
}

// loadPlugins adds the skills and MCP servers of local plugins. Explicit
// servers win over plugin servers of the same name. Relative plugin paths
// are resolved against Cwd.
func (o *AgentOptions) loadPlugins() error {
	if len(o.Plugins) == 0 {
		return nil
	}
	servers := maps.Clone(o.MCPServers)
	if servers == nil {
		servers = make(map[string]mcp.ServerConfig)
	}
	for _, ref := range o.Plugins {
		if ref.Type != "" && ref.Type != PluginLocal {
			o.Logger.Warn("unsupported plugin type", "type", ref.Type, "path", ref.Path)
			continue
		}
		path := ref.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(o.Cwd, path)
		}
		p, err := plugin.Load(path)
		if err != nil {
			return err
		}
		o.SkillDirs = append(o.SkillDirs, p.SkillsDir())
		for name, srv := range p.Servers() {
			if _, ok := servers[name]; !ok {
				servers[name] = srv
			}
		}
		o.Logger.Debug("plugin loaded", "name", p.Name, "skills", len(p.Skills), "mcp_servers", len(p.MCPServers))
	}
	o.MCPServers = servers
	return nil
}

// systemPrompt prepends the skills found in SkillDirs to SystemPrompt.
func (o *AgentOptions) systemPrompt() (string, error) {
	skills, err := config.LoadSkills(o.SkillDirs...)
	if err != nil {
		return "", err
	}
	prefix := config.FormatSkillsPrompt(skills)
	switch {
	case prefix == "":
		return o.SystemPrompt, nil
	case o.SystemPrompt == "":
		return prefix, nil
	}
	return prefix + o.SystemPrompt, nil
}
