package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/armatrix/opencode-agent-sdk-go/internal/schema"
	"github.com/armatrix/opencode-agent-sdk-go/mcp"
)

type toolEntry struct {
	server *mcp.SDKServer
	tool   string
	param  anthropic.ToolParam
}

// toolRegistry exposes SDK server tools to the Messages API. Tools are
// named the way OpenCode names MCP tools, so hook patterns and policies
// see the same names on both backends.
type toolRegistry struct {
	tools map[string]toolEntry
	order []string
}

func newToolRegistry(servers []*mcp.SDKServer) (*toolRegistry, error) {
	r := &toolRegistry{tools: make(map[string]toolEntry)}
	for _, srv := range servers {
		for _, def := range srv.ToolDefinitions() {
			name := mcp.ToolName(srv.Name(), def.Name)
			if _, dup := r.tools[name]; dup {
				return nil, fmt.Errorf("duplicate tool %s", name)
			}
			r.tools[name] = toolEntry{
				server: srv,
				tool:   def.Name,
				param: anthropic.ToolParam{
					Name:        name,
					Description: param.NewOpt(def.Description),
					InputSchema: schema.ToolInputSchema(def.InputSchema),
				},
			}
			r.order = append(r.order, name)
		}
	}
	return r, nil
}

// ListForAPI returns the tools in registration order.
func (r *toolRegistry) ListForAPI() []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(r.order))
	for _, name := range r.order {
		p := r.tools[name].param
		out = append(out, anthropic.ToolUnionParam{OfTool: &p})
	}
	return out
}

// Execute calls a tool. Tool failures are reported as error content, not
// as an error.
func (r *toolRegistry) Execute(ctx context.Context, name string, input json.RawMessage) (string, bool) {
	e, ok := r.tools[name]
	if !ok {
		return "tool not found: " + name, true
	}
	out, err := e.server.Call(ctx, e.tool, input)
	if err != nil {
		return err.Error(), true
	}
	return out, false
}
