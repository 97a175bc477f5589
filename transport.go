package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/armatrix/opencode-agent-sdk-go/internal/acp"
	"github.com/armatrix/opencode-agent-sdk-go/internal/opencode"
	"github.com/armatrix/opencode-agent-sdk-go/mcp"
	"github.com/armatrix/opencode-agent-sdk-go/permission"
	"github.com/armatrix/opencode-agent-sdk-go/types"
)

// transport is one connected OpenCode session.
type transport interface {
	mode() string
	sessionID() string
	send(ctx context.Context, parts []Part) error
	receive(ctx context.Context, emit func(Message) error) error
	interrupt(ctx context.Context) error
	history(ctx context.Context) ([]Message, error)
	// close releases the session. keep is set when a session record is
	// stored, so the server-side session must survive.
	close(keep bool) error
}

// deleteTimeout bounds the best-effort session delete on Disconnect.
const deleteTimeout = 5 * time.Second

// splitModel accepts "provider/model" or a bare model id.
func splitModel(providerID, model string) (string, string) {
	if p, m, ok := strings.Cut(model, "/"); ok {
		return p, m
	}
	return providerID, model
}

// --- HTTP ---

type httpTransport struct {
	api  *opencode.Client
	sid  string
	base opencode.ChatRequest
	gate *gate

	mu      sync.Mutex
	pending []Part
}

func dialHTTP(ctx context.Context, o *AgentOptions, system string, g *gate) (*httpTransport, error) {
	api := opencode.New(opencode.Config{
		BaseURL:        o.ServerURL,
		Directory:      o.Cwd,
		HTTPClient:     o.HTTPClient,
		MaxBufferSize:  o.MaxBufferSize,
		Logger:         o.Logger,
		TracerProvider: o.TracerProvider,
	})

	var sid string
	if o.Resume != "" {
		s, err := api.GetSession(ctx, o.Resume)
		if err != nil {
			return nil, err
		}
		sid = s.ID
	} else {
		s, err := api.CreateSession(ctx, "")
		if err != nil {
			return nil, err
		}
		sid = s.ID
	}

	provider, model := splitModel(o.ProviderID, o.Model)
	base := opencode.ChatRequest{
		Model:  &opencode.Model{ProviderID: provider, ModelID: model},
		System: system,
	}
	if len(o.DisallowedTools) > 0 {
		base.Tools = make(map[string]bool, len(o.DisallowedTools))
		for _, name := range o.DisallowedTools {
			base.Tools[name] = false
		}
	}
	return &httpTransport{api: api, sid: sid, base: base, gate: g}, nil
}

func (t *httpTransport) mode() string      { return ModeHTTP }
func (t *httpTransport) sessionID() string { return t.sid }

// send stores the parts; they are posted when the response is received.
func (t *httpTransport) send(_ context.Context, parts []Part) error {
	t.mu.Lock()
	t.pending = append(t.pending, parts...)
	t.mu.Unlock()
	return nil
}

func (t *httpTransport) receive(ctx context.Context, emit func(Message) error) error {
	t.mu.Lock()
	parts := t.pending
	t.pending = nil
	t.mu.Unlock()
	if len(parts) == 0 {
		return ErrNoQuery
	}

	req := t.base
	req.Parts = parts
	return t.api.ChatStream(ctx, t.sid, req, opencode.StreamOptions{
		OnPermission: func(ctx context.Context, p opencode.Permission) string {
			return t.gate.preToolUse(ctx, t.sid, p.Type, p.CallID, p.Metadata).Reply()
		},
		OnToolResult: func(ctx context.Context, p opencode.Part) {
			var input map[string]any
			var output string
			if p.State != nil {
				input, output = p.State.Input, p.State.Output
			}
			t.gate.postToolUse(ctx, t.sid, p.Tool, p.CallID, input, output)
		},
	}, emit)
}

func (t *httpTransport) interrupt(ctx context.Context) error {
	return t.api.Abort(ctx, t.sid)
}

func (t *httpTransport) history(ctx context.Context) ([]Message, error) {
	msgs, err := t.api.Messages(ctx, t.sid)
	if err != nil {
		return nil, err
	}
	var out []Message
	for _, m := range msgs {
		if m.Info.Role == "user" {
			var parts []Part
			for _, p := range m.Parts {
				if p.Type == "text" {
					parts = append(parts, TextPart(p.Text))
				}
			}
			out = append(out, &UserMessage{Content: parts})
			continue
		}
		for _, tm := range opencode.TranslateParts(m.Parts) {
			if am, ok := tm.(*AssistantMessage); ok && am.Model == "" {
				am.Model = m.Info.ModelID
			}
			out = append(out, tm)
		}
	}
	return out, nil
}

func (t *httpTransport) close(keep bool) error {
	if keep {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()
	if err := t.api.DeleteSession(ctx, t.sid); err != nil {
		t.gate.logger.Warn("delete session failed", "session_id", t.sid, "error", err)
	}
	return nil
}

// --- ACP ---

type acpTransport struct {
	rpc  *acp.Client
	gate *gate

	mu     sync.Mutex
	system string // sent ahead of the first prompt
}

func dialACP(ctx context.Context, o *AgentOptions, system string, g *gate, servers map[string]mcp.ServerConfig) (*acpTransport, error) {
	t := &acpTransport{gate: g, system: system}
	rpc, err := o.dialACP(acp.Config{
		BinaryPath:     o.BinaryPath,
		Cwd:            o.Cwd,
		Env:            o.Env,
		MaxBufferSize:  o.MaxBufferSize,
		Logger:         o.Logger,
		TracerProvider: o.TracerProvider,
		OnPermission:   t.onPermission,
	})
	if err != nil {
		return nil, err
	}
	t.rpc = rpc

	if _, err := rpc.Initialize(ctx); err != nil {
		rpc.Close()
		return nil, err
	}
	acpServers := mcp.BuildACPServers(servers)
	if o.Resume != "" {
		_, err = rpc.LoadSession(ctx, o.Resume, o.Cwd, acpServers)
	} else {
		provider, model := splitModel(o.ProviderID, o.Model)
		_, err = rpc.NewSession(ctx, o.Cwd, acpServers, provider+"/"+model)
	}
	if err != nil {
		rpc.Close()
		return nil, err
	}
	return t, nil
}

func (t *acpTransport) onPermission(ctx context.Context, req acp.PermissionRequest) permission.Decision {
	return t.gate.preToolUse(ctx, req.SessionID, req.Title, req.ToolCallID, req.RawInput)
}

func (t *acpTransport) mode() string      { return ModeSubprocess }
func (t *acpTransport) sessionID() string { return t.rpc.SessionID() }

func (t *acpTransport) send(ctx context.Context, parts []Part) error {
	t.mu.Lock()
	if t.system != "" {
		parts = append([]Part{TextPart(t.system)}, parts...)
		t.system = ""
	}
	t.mu.Unlock()
	return t.rpc.Prompt(ctx, parts)
}

func (t *acpTransport) receive(ctx context.Context, emit func(Message) error) error {
	sid := t.sessionID()
	return t.rpc.Receive(ctx, func(m types.Message) error {
		if am, ok := m.(*AssistantMessage); ok {
			for _, tu := range am.ToolUses() {
				t.gate.postToolUse(ctx, sid, tu.Name, tu.ID, tu.Input, "")
			}
		}
		return emit(m)
	})
}

func (t *acpTransport) interrupt(ctx context.Context) error {
	return t.rpc.Cancel(ctx)
}

func (t *acpTransport) history(context.Context) ([]Message, error) {
	return nil, &ProcessError{Message: "message history is not available in subprocess mode", ExitCode: types.ExitGeneric, Cause: ErrUnsupported}
}

func (t *acpTransport) close(bool) error {
	return t.rpc.Close()
}
