package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetInput struct {
	Name string `json:"name" jsonschema:"description=Name to greet"`
}

func greetTool() SdkTool {
	return NewTool("greet", "Greet someone", func(_ context.Context, in greetInput) (string, error) {
		if in.Name == "" {
			return "", errors.New("name is required")
		}
		return "Hello, " + in.Name, nil
	})
}

func TestCreateSDKServer(t *testing.T) {
	srv := CreateSDKServer("greeter", "", greetTool())

	assert.Equal(t, "greeter", srv.Name())
	assert.Equal(t, DefaultServerVersion, srv.Version())
	assert.Equal(t, []string{"greet"}, srv.ToolNames())
	assert.Equal(t, "2.1.0", CreateSDKServer("x", "2.1.0").Version())
	assert.Same(t, srv, srv.Config().SDK)
}

func TestToolDefinitions(t *testing.T) {
	defs := CreateSDKServer("greeter", "", greetTool()).ToolDefinitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "greet", defs[0].Name)
	assert.Equal(t, "Greet someone", defs[0].Description)
	assert.Equal(t, "object", defs[0].InputSchema["type"])

	props := defs[0].InputSchema["properties"].(map[string]any)
	name := props["name"].(map[string]any)
	assert.Equal(t, "Name to greet", name["description"])

	b, err := json.Marshal(defs[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"inputSchema"`)
}

func TestCall(t *testing.T) {
	srv := CreateSDKServer("greeter", "", greetTool())
	ctx := context.Background()

	out, err := srv.Call(ctx, "greet", json.RawMessage(`{"name":"Ada"}`))
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada", out)

	_, err = srv.Call(ctx, "greet", json.RawMessage(`{`))
	assert.ErrorContains(t, err, "invalid input")

	_, err = srv.Call(ctx, "greet", nil)
	assert.ErrorContains(t, err, "name is required")

	_, err = srv.Call(ctx, "missing", nil)
	assert.True(t, errors.Is(err, ErrToolNotFound))
}

func TestStartServesToolsOverSSE(t *testing.T) {
	srv := CreateSDKServer("greeter", "", greetTool())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := srv.Start(ctx)
	require.NoError(t, err)
	defer srv.Close()

	assert.Equal(t, TransportSSE, cfg.Transport)
	assert.True(t, strings.HasPrefix(cfg.URL, "http://127.0.0.1:"))
	assert.Equal(t, cfg.URL, srv.URL())

	_, err = srv.Start(ctx)
	assert.ErrorIs(t, err, ErrServerStarted)

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v1.0.0"}, nil)
	session, err := client.Connect(ctx, mcpsdk.NewSSEClientTransport(cfg.URL, nil))
	require.NoError(t, err)
	defer session.Close()

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "greet",
		Arguments: map[string]any{"name": "Grace"},
	})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "Hello, Grace", res.Content[0].(*mcpsdk.TextContent).Text)
	assert.False(t, res.IsError)
}

type weatherInput struct {
	City  string `json:"city" jsonschema:"description=City name to get weather for"`
	Units string `json:"units,omitempty" jsonschema:"description=Temperature units,enum=celsius,enum=fahrenheit"`
}

func TestStartUsesReflectedSchema(t *testing.T) {
	weather := NewTool("get_weather", "Get current weather for a city", func(_ context.Context, in weatherInput) (string, error) {
		if in.City == "Atlantis" {
			return "", errors.New("unknown city")
		}
		return in.City + ": 22 " + in.Units, nil
	})
	srv := CreateSDKServer("weather", "", weather)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := srv.Start(ctx)
	require.NoError(t, err)
	defer srv.Close()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v1.0.0"}, nil)
	session, err := client.Connect(ctx, mcpsdk.NewSSEClientTransport(cfg.URL, nil))
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	in := tools.Tools[0].InputSchema
	require.NotNil(t, in)
	assert.Equal(t, "City name to get weather for", in.Properties["city"].Description)
	assert.Equal(t, []string{"city"}, in.Required)

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "get_weather",
		Arguments: map[string]any{"city": "Tokyo", "units": "celsius"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Tokyo: 22 celsius", res.Content[0].(*mcpsdk.TextContent).Text)

	res, err = session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "get_weather",
		Arguments: map[string]any{"city": "Atlantis"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "unknown city", res.Content[0].(*mcpsdk.TextContent).Text)

	res, err = session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "get_weather",
		Arguments: map[string]any{"units": "kelvin"},
	})
	assert.True(t, err != nil || res.IsError, "arguments violating the schema are rejected")
}

func TestCloseIdempotent(t *testing.T) {
	srv := CreateSDKServer("idle", "")
	assert.NoError(t, srv.Close())

	_, err := srv.Start(context.Background())
	require.NoError(t, err)
	assert.NoError(t, srv.Close())
	assert.NoError(t, srv.Close())
	assert.Empty(t, srv.URL())
}
