// Package agent is a Go client with the surface of the Claude Agent SDK
// that delegates all work to an OpenCode server.
//
// The client never calls a model itself. It either talks to a running
// `opencode serve` over REST and Server-Sent Events (set [WithServerURL]),
// or spawns `opencode acp` and speaks the Agent Client Protocol, JSON-RPC
// 2.0 over stdio. Both transports yield the same message types.
//
// # Quick Start
//
//	client := agent.NewClient(agent.WithServerURL("http://127.0.0.1:4096"))
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	if err := client.Query(ctx, "What files are in this directory?"); err != nil {
//	    return err
//	}
//	for msg, err := range client.ReceiveResponse(ctx).All() {
//	    if err != nil {
//	        return err
//	    }
//	    if m, ok := msg.(*agent.AssistantMessage); ok {
//	        fmt.Print(m.Text())
//	    }
//	}
//
// For a single prompt, [Query] connects, streams and disconnects.
//
// # Sub-packages
//
//   - [hook] provides hook types for intercepting tool permission requests.
//   - [permission] provides permission modes, rules and tool call policies.
//   - [mcp] describes MCP servers and serves Go functions as MCP tools.
//   - [session] provides SessionStore implementations (FileStore, MemoryStore).
//   - [backend] switches between OpenCode and the Anthropic API.
package agent
