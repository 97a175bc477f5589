package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/armatrix/opencode-agent-sdk-go/internal/schema"
)

// DefaultServerVersion is reported by SDK servers created without a version.
const DefaultServerVersion = "1.0.0"

// SdkTool is a Go function exposed as an MCP tool.
type SdkTool struct {
	Name        string
	Description string
	InputSchema map[string]any

	call func(ctx context.Context, raw json.RawMessage) (string, error)
}

// NewTool wraps handler as a tool. The input type T is used for automatic
// JSON Schema generation.
func NewTool[T any](name, description string, handler func(ctx context.Context, input T) (string, error)) SdkTool {
	return SdkTool{
		Name:        name,
		Description: description,
		InputSchema: schema.Reflect[T](),
		call: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var input T
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &input); err != nil {
					return "", fmt.Errorf("invalid input: %w", err)
				}
			}
			return handler(ctx, input)
		},
	}
}

// mcpInputSchema converts InputSchema for the MCP server. Every call
// returns a fresh schema since a resolved schema cannot be resolved again.
func (t SdkTool) mcpInputSchema() (*jsonschema.Schema, error) {
	b, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, err
	}
	var in jsonschema.Schema
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// register adds t to server. The arguments, already validated against the
// input schema, are decoded into the tool's input type by call.
func (t SdkTool) register(server *mcpsdk.Server) error {
	check, err := t.mcpInputSchema()
	if err != nil {
		return fmt.Errorf("mcp: schema of tool %s: %w", t.Name, err)
	}
	if _, err := check.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true}); err != nil {
		return fmt.Errorf("mcp: schema of tool %s: %w", t.Name, err)
	}
	in, err := t.mcpInputSchema()
	if err != nil {
		return fmt.Errorf("mcp: schema of tool %s: %w", t.Name, err)
	}

	server.AddTool(&mcpsdk.Tool{Name: t.Name, Description: t.Description, InputSchema: in},
		func(ctx context.Context, _ *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[map[string]any]) (*mcpsdk.CallToolResultFor[any], error) {
			raw, err := json.Marshal(params.Arguments)
			if err != nil {
				return nil, err
			}
			text, err := t.call(ctx, raw)
			if err != nil {
				return &mcpsdk.CallToolResultFor[any]{
					IsError: true,
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
				}, nil
			}
			return &mcpsdk.CallToolResultFor[any]{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
			}, nil
		})
	return nil
}

// ToolDefinition is the advertised description of a tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// SDKServer is an in-process MCP server that wraps Go functions as tools.
// OpenCode reaches it over a loopback SSE endpoint opened by Start.
//
// Usage:
//
//	srv := mcp.CreateSDKServer("mytools", "", mcp.NewTool("greet", "Greet someone",
//	    func(ctx context.Context, in GreetInput) (string, error) { return "Hello, " + in.Name, nil }))
//	client := agent.NewClient(agent.WithMCPServers(map[string]mcp.ServerConfig{"mytools": srv.Config()}))
type SDKServer struct {
	name    string
	version string
	tools   []SdkTool

	mu       sync.Mutex
	server   *mcpsdk.Server
	httpSrv  *http.Server
	listener net.Listener
	url      string
}

// CreateSDKServer creates an in-process MCP server with the given tools.
// An empty version defaults to DefaultServerVersion.
func CreateSDKServer(name, version string, tools ...SdkTool) *SDKServer {
	if version == "" {
		version = DefaultServerVersion
	}
	return &SDKServer{name: name, version: version, tools: tools}
}

// Name returns the server name.
func (s *SDKServer) Name() string { return s.name }

// Version returns the server version.
func (s *SDKServer) Version() string { return s.version }

// ToolNames returns the names of all registered tools.
func (s *SDKServer) ToolNames() []string {
	names := make([]string, len(s.tools))
	for i, t := range s.tools {
		names[i] = t.Name
	}
	return names
}

// ToolDefinitions returns name, description and input schema of each tool.
func (s *SDKServer) ToolDefinitions() []ToolDefinition {
	defs := make([]ToolDefinition, len(s.tools))
	for i, t := range s.tools {
		defs[i] = ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	return defs
}

// Call invokes a tool directly, bypassing MCP.
func (s *SDKServer) Call(ctx context.Context, tool string, input json.RawMessage) (string, error) {
	for _, t := range s.tools {
		if t.Name == tool {
			return t.call(ctx, input)
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrToolNotFound, s.name, tool)
}

// Config returns a ServerConfig referencing s.
func (s *SDKServer) Config() ServerConfig {
	return ServerConfig{SDK: s}
}

// URL returns the SSE endpoint while the server is running.
func (s *SDKServer) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Start serves the tools over SSE on a loopback port and returns the
// config OpenCode should use to reach them.
func (s *SDKServer) Start(ctx context.Context) (ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return ServerConfig{}, ErrServerStarted
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: s.name, Version: s.version}, nil)
	for _, t := range s.tools {
		if err := t.register(server); err != nil {
			return ServerConfig{}, err
		}
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return ServerConfig{}, fmt.Errorf("mcp: listen for %s: %w", s.name, err)
	}

	handler := mcpsdk.NewSSEHandler(func(*http.Request) *mcpsdk.Server { return server })
	s.server = server
	s.listener = ln
	s.httpSrv = &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	s.url = "http://" + ln.Addr().String() + "/"

	go func(srv *http.Server) {
		_ = srv.Serve(ln)
	}(s.httpSrv)

	return ServerConfig{URL: s.url, Transport: TransportSSE}, nil
}

// Close stops serving. It is safe to call on a server that never started.
func (s *SDKServer) Close() error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.server = nil
	s.listener = nil
	s.url = ""
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		// Open SSE streams never finish on their own.
		return srv.Close()
	}
	return nil
}
