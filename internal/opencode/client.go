// Package opencode talks to a running `opencode serve` instance over its
// REST API and its Server-Sent Events stream.
package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/armatrix/opencode-agent-sdk-go/internal/tracing"
	"github.com/armatrix/opencode-agent-sdk-go/types"
)

// Defaults for Config fields left zero.
const (
	DefaultTimeout        = 120 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxBufferSize  = 10 * 1024 * 1024
)

// Config configures a Client.
type Config struct {
	BaseURL string

	// Directory is sent as the directory query parameter so the server
	// resolves the project from the caller's working directory.
	Directory string

	// HTTPClient is used for bounded requests. Nil builds one with Timeout.
	HTTPClient *http.Client
	Timeout    time.Duration

	// MaxBufferSize bounds a single line of the event stream.
	MaxBufferSize int

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

// Client is an OpenCode REST client. It is safe for concurrent use.
type Client struct {
	baseURL   string
	directory string
	http      *http.Client
	stream    *http.Client // no overall timeout, for SSE and long chats
	maxBuf    int
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates a Client from cfg.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = DefaultMaxBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	hc := cfg.HTTPClient
	stream := cfg.HTTPClient
	if hc == nil {
		transport := &http.Transport{
			Proxy:       http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{Timeout: DefaultConnectTimeout}).DialContext,
		}
		hc = &http.Client{Timeout: cfg.Timeout, Transport: transport}
		stream = &http.Client{Transport: transport}
	} else if hc.Timeout != 0 {
		cp := *hc
		cp.Timeout = 0
		stream = &cp
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		directory: cfg.Directory,
		http:      hc,
		stream:    stream,
		maxBuf:    cfg.MaxBufferSize,
		logger:    cfg.Logger,
		tracer:    tracing.Tracer(cfg.TracerProvider),
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// CreateSession creates a new session.
func (c *Client) CreateSession(ctx context.Context, title string) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanSessionCreate)
	var s Session
	body := map[string]any{}
	if title != "" {
		body["title"] = title
	}
	err := c.do(ctx, c.http, http.MethodPost, "/session", body, &s)
	if err == nil && s.ID == "" {
		err = types.NewProcessError("create session: response has no id")
	}
	span.SetAttributes(attribute.String(tracing.AttrSessionID, s.ID))
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("created session", "session_id", s.ID)
	return &s, nil
}

// GetSession fetches a session, typically to verify a resumed id.
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanSessionGet,
		trace.WithAttributes(attribute.String(tracing.AttrSessionID, id)))
	var s Session
	err := c.do(ctx, c.http, http.MethodGet, "/session/"+url.PathEscape(id), nil, &s)
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession deletes a session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	ctx, span := c.tracer.Start(ctx, tracing.SpanSessionDelete,
		trace.WithAttributes(attribute.String(tracing.AttrSessionID, id)))
	err := c.do(ctx, c.http, http.MethodDelete, "/session/"+url.PathEscape(id), nil, nil)
	tracing.End(span, err)
	return err
}

// Chat sends a message and blocks until the assistant reply is complete.
func (c *Client) Chat(ctx context.Context, sessionID string, req ChatRequest) (*Message, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanChat,
		trace.WithAttributes(attribute.String(tracing.AttrSessionID, sessionID)))
	if req.Model != nil {
		span.SetAttributes(attribute.String(tracing.AttrModel, req.Model.ModelID))
	}
	msg, err := c.chat(ctx, c.http, sessionID, req)
	tracing.End(span, err)
	return msg, err
}

func (c *Client) chat(ctx context.Context, hc *http.Client, sessionID string, req ChatRequest) (*Message, error) {
	if req.Parts == nil {
		req.Parts = []types.Part{}
	}
	var msg Message
	if err := c.do(ctx, hc, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/message", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Messages returns the message history of a session.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanMessages,
		trace.WithAttributes(attribute.String(tracing.AttrSessionID, sessionID)))
	var msgs []Message
	err := c.do(ctx, c.http, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/message", nil, &msgs)
	tracing.End(span, err)
	return msgs, err
}

// Abort stops the running generation of a session.
func (c *Client) Abort(ctx context.Context, sessionID string) error {
	ctx, span := c.tracer.Start(ctx, tracing.SpanAbort,
		trace.WithAttributes(attribute.String(tracing.AttrSessionID, sessionID)))
	err := c.do(ctx, c.http, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/abort", nil, nil)
	tracing.End(span, err)
	return err
}

// RespondPermission answers a permission request with "once", "always"
// or "reject".
func (c *Client) RespondPermission(ctx context.Context, sessionID, permissionID, response string) error {
	ctx, span := c.tracer.Start(ctx, tracing.SpanPermission, trace.WithAttributes(
		attribute.String(tracing.AttrSessionID, sessionID),
		attribute.String(tracing.AttrPermissionID, permissionID),
	))
	path := "/session/" + url.PathEscape(sessionID) + "/permissions/" + url.PathEscape(permissionID)
	err := c.do(ctx, c.http, http.MethodPost, path, map[string]string{"response": response}, nil)
	tracing.End(span, err)
	return err
}

func (c *Client) endpoint(path string) string {
	u := c.baseURL + path
	if c.directory != "" {
		u += "?directory=" + url.QueryEscape(c.directory)
	}
	return u
}

// do performs a JSON request. Transport failures and non-2xx responses
// become *types.ProcessError.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		c.logger.Debug(">>>", "method", method, "path", path, "body", string(b))
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), rd)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return &types.ProcessError{
			Message:  fmt.Sprintf("%s %s: %v", method, path, err),
			ExitCode: types.ExitGeneric,
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &types.ProcessError{
			Message:  fmt.Sprintf("%s %s: read body: %v", method, path, err),
			ExitCode: types.ExitGeneric,
			Cause:    err,
		}
	}
	c.logger.Debug("<<<", "method", method, "path", path, "status", resp.StatusCode, "bytes", len(data))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &types.ProcessError{
			Message:    fmt.Sprintf("%s %s: %s", method, path, snippet(data)),
			ExitCode:   types.ExitGeneric,
			StatusCode: resp.StatusCode,
		}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &types.ProcessError{
			Message:  fmt.Sprintf("%s %s: decode response: %v", method, path, err),
			ExitCode: types.ExitGeneric,
			Cause:    err,
		}
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty response"
	}
	return s
}
