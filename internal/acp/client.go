package acp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/armatrix/opencode-agent-sdk-go/internal/tracing"
	"github.com/armatrix/opencode-agent-sdk-go/mcp"
	"github.com/armatrix/opencode-agent-sdk-go/permission"
	"github.com/armatrix/opencode-agent-sdk-go/types"
)

// DefaultMaxBufferSize bounds a single line read from the agent.
const DefaultMaxBufferSize = 10 << 20

// Config configures a Client.
type Config struct {
	// BinaryPath overrides the opencode executable lookup.
	BinaryPath string

	// Cwd is the agent's working directory. Relative paths are resolved
	// against the process working directory.
	Cwd string

	// Env adds environment variables to the agent process.
	Env map[string]string

	MaxBufferSize  int
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider

	// OnPermission decides a permission request. Nil allows every tool
	// call once.
	OnPermission func(ctx context.Context, req PermissionRequest) permission.Decision
}

// Client speaks ACP to a single agent over a pair of pipes.
type Client struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	proc *process
	in   io.Reader
	out  io.WriteCloser
	wmu  sync.Mutex

	ids     idGenerator
	mu      sync.Mutex
	pending map[int64]chan callResult
	readErr error
	session string
	turn    uint64

	// legacy is set once the agent rejected a current method name.
	legacy atomic.Bool

	updates  *queue
	tr       *translator
	trTurn   uint64
	readDone chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

type callResult struct {
	raw json.RawMessage
	err error
}

// Start spawns `opencode acp --cwd <cwd>` and returns a client reading its
// output. The caller continues with Initialize.
func Start(cfg Config) (*Client, error) {
	bin, err := FindBinary(cfg.BinaryPath)
	if err != nil {
		return nil, err
	}
	cwd := cfg.Cwd
	if cwd == "" {
		cwd = "."
	}
	if cwd, err = filepath.Abs(cwd); err != nil {
		return nil, fmt.Errorf("resolve cwd: %w", err)
	}
	cfg.Cwd = cwd

	proc, err := spawn(bin, cwd, cfg.Env, loggerOf(cfg))
	if err != nil {
		return nil, err
	}
	c := newClient(proc.stdout, proc.stdin, cfg)
	c.proc = proc
	go c.readLoop()
	return c, nil
}

// NewClient returns a client over r (agent output) and w (agent input).
// It is used for agents that are not spawned by Start.
func NewClient(r io.Reader, w io.WriteCloser, cfg Config) *Client {
	c := newClient(r, w, cfg)
	go c.readLoop()
	return c
}

func loggerOf(cfg Config) *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.Default()
}

func newClient(r io.Reader, w io.WriteCloser, cfg Config) *Client {
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = DefaultMaxBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		logger:   loggerOf(cfg),
		tracer:   tracing.Tracer(cfg.TracerProvider),
		in:       r,
		out:      w,
		pending:  make(map[int64]chan callResult),
		updates:  newQueue(),
		tr:       newTranslator(),
		readDone: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SessionID returns the current session id, or "" before a session exists.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Initialize performs the protocol handshake.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	raw, err := c.call(ctx, MethodInitialize, initializeParams{
		ProtocolVersion:    ProtocolVersion,
		ClientCapabilities: map[string]any{},
	})
	if err != nil {
		return nil, err
	}
	var res InitializeResult
	if err := decodeResult(MethodInitialize, raw, &res); err != nil {
		return nil, err
	}
	c.logger.Debug("agent initialized", "protocol_version", res.ProtocolVersion)
	return &res, nil
}

// NewSession creates a session and makes it current.
func (c *Client) NewSession(ctx context.Context, cwd string, servers []mcp.ACPServer, model string) (string, error) {
	if servers == nil {
		servers = []mcp.ACPServer{}
	}
	raw, err := c.call(ctx, MethodSessionNew, newSessionParams{Cwd: cwd, MCPServers: servers, Model: model})
	if err != nil {
		return "", err
	}
	var res sessionResult
	if err := decodeResult(MethodSessionNew, raw, &res); err != nil {
		return "", err
	}
	if res.SessionID == "" {
		return "", types.NewProcessError("%s: response has no sessionId", MethodSessionNew)
	}
	c.setSession(res.SessionID)
	return res.SessionID, nil
}

// LoadSession resumes an existing session and makes it current.
func (c *Client) LoadSession(ctx context.Context, id, cwd string, servers []mcp.ACPServer) (string, error) {
	if servers == nil {
		servers = []mcp.ACPServer{}
	}
	raw, err := c.call(ctx, MethodSessionLoad, loadSessionParams{SessionID: id, Cwd: cwd, MCPServers: servers})
	if err != nil {
		return "", err
	}
	var res sessionResult
	if err := decodeResult(MethodSessionLoad, raw, &res); err != nil {
		return "", err
	}
	if res.SessionID == "" {
		res.SessionID = id
	}
	c.setSession(res.SessionID)
	return res.SessionID, nil
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	c.session = id
	c.mu.Unlock()
	c.logger.Debug("session ready", "session_id", id)
}

// Prompt sends a prompt and returns once it is written. The reply arrives
// through Receive.
func (c *Client) Prompt(ctx context.Context, parts []types.Part) error {
	sid := c.SessionID()
	if sid == "" {
		return &types.ProcessError{Message: "no session", ExitCode: types.ExitGeneric, Cause: types.ErrNotConnected}
	}
	started := time.Now()
	c.mu.Lock()
	c.turn++
	turn := c.turn
	c.mu.Unlock()

	params := promptParams{SessionID: sid, Prompt: parts}
	pc, err := c.send(ctx, c.method(MethodSessionPrompt), params)
	if err != nil {
		return err
	}
	go func() {
		raw, err := c.await(c.ctx, pc)
		if old, ok := c.fallback(MethodSessionPrompt, err); ok {
			raw, err = c.roundTrip(c.ctx, old, params)
		}
		if err != nil {
			c.updates.push(item{err: err, turn: turn})
			return
		}
		var res PromptResult
		if err := decodeResult(MethodSessionPrompt, raw, &res); err != nil {
			c.updates.push(item{err: err, turn: turn})
			return
		}
		c.updates.push(item{done: &res, elapsed: time.Since(started), turn: turn})
	}()
	return nil
}

func (c *Client) currentTurn() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn
}

// Cancel asks the agent to stop the running prompt. The prompt then
// completes with stop reason "cancelled".
func (c *Client) Cancel(ctx context.Context) error {
	return c.notify(c.method(MethodSessionCancel), cancelParams{SessionID: c.SessionID()})
}

// Receive calls emit for every message of the running prompt turn and
// returns after the closing ResultMessage. If the agent goes away first,
// the process error is returned. Whatever is left of a turn abandoned by
// an earlier Receive is discarded.
func (c *Client) Receive(ctx context.Context, emit func(types.Message) error) error {
	for {
		it, err := c.updates.pop(ctx)
		if err != nil {
			return err
		}
		if !it.eof {
			turn := c.currentTurn()
			if it.turn != turn {
				continue
			}
			if c.trTurn != turn {
				c.tr = newTranslator()
				c.trTurn = turn
			}
		}
		switch {
		case it.eof:
			c.tr = newTranslator()
			return it.err
		case it.err != nil:
			c.tr = newTranslator()
			return it.err
		case it.done != nil:
			msgs := c.tr.finish(it.done, c.SessionID(), it.elapsed)
			c.tr = newTranslator()
			for _, m := range msgs {
				if err := emit(m); err != nil {
					return err
				}
			}
			return nil
		case it.update != nil:
			for _, m := range c.tr.update(it.update) {
				if err := emit(m); err != nil {
					return err
				}
			}
		}
	}
}

// Close shuts the agent down: stdin is closed, then the process is
// terminated and reaped. Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.proc != nil {
			c.closeErr = c.proc.close()
		} else {
			c.closeErr = c.out.Close()
		}
		select {
		case <-c.readDone:
		case <-time.After(closeGrace):
			c.logger.Warn("agent reader did not stop")
		}
	})
	return c.closeErr
}

type pendingCall struct {
	id     int64
	method string
	ch     chan callResult
	span   trace.Span
}

// legacyMethods are the names older agents register for the session
// methods.
var legacyMethods = map[string]string{
	MethodSessionNew:    "newSession",
	MethodSessionLoad:   "loadSession",
	MethodSessionPrompt: "prompt",
	MethodSessionCancel: "cancel",
}

// method returns the name to send for m.
func (c *Client) method(m string) string {
	if old, ok := legacyMethods[m]; ok && c.legacy.Load() {
		return old
	}
	return m
}

// fallback reports whether err is the agent rejecting method as unknown
// while a legacy name is still untried. It then switches the client to
// legacy names and returns the one to retry with.
func (c *Client) fallback(method string, err error) (string, bool) {
	old, ok := legacyMethods[method]
	if !ok || err == nil || c.legacy.Load() {
		return "", false
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != ErrCodeMethodNotFound {
		return "", false
	}
	c.legacy.Store(true)
	c.logger.Debug("agent uses legacy method names", "method", method, "legacy", old)
	return old, true
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := c.roundTrip(ctx, c.method(method), params)
	if old, ok := c.fallback(method, err); ok {
		return c.roundTrip(ctx, old, params)
	}
	return raw, err
}

func (c *Client) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	pc, err := c.send(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return c.await(ctx, pc)
}

// send registers a pending call and writes the request.
func (c *Client) send(ctx context.Context, method string, params any) (*pendingCall, error) {
	_, span := c.tracer.Start(ctx, tracing.SpanACPRequest,
		trace.WithAttributes(attribute.String(tracing.AttrMethod, method)))
	pc := &pendingCall{id: c.ids.Next(), method: method, ch: make(chan callResult, 1), span: span}

	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		tracing.End(span, err)
		return nil, err
	}
	c.pending[pc.id] = pc.ch
	c.mu.Unlock()

	if err := c.write(request{JSONRPC: "2.0", ID: pc.id, Method: method, Params: params}); err != nil {
		c.forget(pc.id)
		tracing.End(span, err)
		return nil, err
	}
	return pc, nil
}

func (c *Client) await(ctx context.Context, pc *pendingCall) (raw json.RawMessage, err error) {
	defer func() { tracing.End(pc.span, err) }()
	select {
	case res := <-pc.ch:
		if rpcErr, ok := res.err.(*RPCError); ok {
			return nil, &types.ProcessError{
				Message:  fmt.Sprintf("%s: %s", pc.method, rpcErr.Message),
				ExitCode: types.ExitGeneric,
				Cause:    rpcErr,
			}
		}
		return res.raw, res.err
	case <-ctx.Done():
		c.forget(pc.id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) notify(method string, params any) error {
	return c.write(notification{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) respond(id json.RawMessage, result any, rpcErr *RPCError) {
	resp := response{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil {
		resp.Result = result
	}
	if err := c.write(resp); err != nil {
		c.logger.Warn("failed to answer agent request", "error", err)
	}
}

// write sends v as one compact JSON line.
func (c *Client) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	c.logger.Debug(">>>", "line", string(b))
	b = append(b, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.out.Write(b); err != nil {
		return &types.ProcessError{Message: "write to agent: " + err.Error(), ExitCode: types.ExitGeneric, Cause: err}
	}
	return nil
}

func decodeResult(method string, raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &types.ProcessError{
			Message:  fmt.Sprintf("%s: decode result: %v", method, err),
			ExitCode: types.ExitGeneric,
			Cause:    err,
		}
	}
	return nil
}

// readLoop routes agent output until EOF. Lines that are not JSON are
// logged and skipped.
func (c *Client) readLoop() {
	defer close(c.readDone)

	sc := bufio.NewScanner(c.in)
	sc.Buffer(make([]byte, 0, min(64*1024, c.cfg.MaxBufferSize)), c.cfg.MaxBufferSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg incoming
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Warn("skipping non-JSON line from agent", "line", truncate(line, 200))
			continue
		}
		c.logger.Debug("<<<", "line", string(line))
		c.dispatch(&msg)
	}
	c.finish(sc.Err())
}

// finish records why the connection ended, fails every pending call and
// marks the end of the update queue. After a read error the agent may
// still be running, so callers are released before it is stopped.
func (c *Client) finish(readErr error) {
	if readErr != nil {
		c.fail(&types.ProcessError{Message: "read agent output: " + readErr.Error(), ExitCode: types.ExitGeneric, Cause: readErr})
		if c.proc != nil {
			_ = c.proc.terminate()
		}
		return
	}
	var err error = types.NewProcessError("agent closed the connection")
	if c.proc != nil {
		if werr := c.proc.wait(); werr != nil {
			err = werr
		}
	}
	c.fail(err)
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	c.readErr = err
	pending := c.pending
	c.pending = make(map[int64]chan callResult)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: err}
	}
	c.updates.push(item{eof: true, err: err})
}

func (c *Client) dispatch(msg *incoming) {
	switch {
	case msg.isResponse():
		var id int64
		if err := json.Unmarshal(msg.ID, &id); err != nil {
			c.logger.Warn("response with unexpected id", "id", string(msg.ID))
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("response for unknown request", "id", id)
			return
		}
		if msg.Error != nil {
			ch <- callResult{err: msg.Error}
			return
		}
		ch <- callResult{raw: msg.Result}

	case msg.isRequest():
		switch msg.Method {
		case MethodRequestPermission, legacyRequestPermission:
			c.handlePermission(msg.ID, msg.Params)
		default:
			c.respond(msg.ID, nil, &RPCError{Code: ErrCodeMethodNotFound, Message: "method not found: " + msg.Method})
		}

	case msg.Method == MethodSessionUpdate || msg.Method == legacySessionUpdate:
		c.handleUpdate(msg.Params)

	default:
		c.logger.Debug("ignoring agent message", "method", msg.Method)
	}
}

func (c *Client) handleUpdate(params json.RawMessage) {
	var n sessionNotification
	if err := json.Unmarshal(params, &n); err != nil {
		c.logger.Warn("skipping malformed session update", "error", err)
		return
	}
	u := n.Update
	if u == nil {
		// Older agents send the update fields at the top level.
		u = new(SessionUpdate)
		if err := json.Unmarshal(params, u); err != nil {
			c.logger.Warn("skipping malformed session update", "error", err)
			return
		}
	}
	if sid := c.SessionID(); n.SessionID != "" && sid != "" && n.SessionID != sid {
		return
	}
	c.updates.push(item{update: u, turn: c.currentTurn()})
}

func (c *Client) handlePermission(id json.RawMessage, params json.RawMessage) {
	var p permissionParams
	if err := json.Unmarshal(params, &p); err != nil {
		c.respond(id, nil, &RPCError{Code: ErrCodeInvalidParams, Message: err.Error()})
		return
	}
	req := PermissionRequest{
		SessionID:  p.SessionID,
		ToolCallID: p.ToolCall.ToolCallID,
		Title:      p.ToolCall.Title,
		Kind:       p.ToolCall.Kind,
		RawInput:   p.ToolCall.RawInput,
		Options:    p.Options,
	}
	if req.SessionID == "" {
		req.SessionID = c.SessionID()
	}
	if req.ToolCallID == "" {
		req.ToolCallID = uuid.NewString()
	}
	if req.RawInput == nil {
		req.RawInput = map[string]any{}
	}

	decision := permission.Allow
	if c.cfg.OnPermission != nil {
		decision = c.cfg.OnPermission(c.ctx, req)
	}
	optionID := SelectOption(p.Options, decision)
	c.logger.Debug("permission decided", "tool", req.Title, "tool_call_id", req.ToolCallID, "option", optionID)

	var out permissionOutcome
	out.Outcome.Outcome = "selected"
	out.Outcome.OptionID = optionID
	c.respond(id, out, nil)
}

// SelectOption picks the option answering decision: the first reject_once
// option for Deny, the first allow_once option otherwise. Without a
// matching option it falls back to "reject" or "once".
func SelectOption(opts []PermissionOption, decision permission.Decision) string {
	kind, fallback := OptionAllowOnce, permission.ReplyOnce
	if decision == permission.Deny {
		kind, fallback = OptionRejectOnce, permission.ReplyReject
	}
	for _, o := range opts {
		if o.Kind == kind && o.OptionID != "" {
			return o.OptionID
		}
	}
	return fallback
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
