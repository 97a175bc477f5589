package acp

import (
	"encoding/json"

	"github.com/armatrix/opencode-agent-sdk-go/mcp"
	"github.com/armatrix/opencode-agent-sdk-go/types"
)

// ProtocolVersion is the ACP version sent in the initialize handshake.
const ProtocolVersion = 1

type initializeParams struct {
	ProtocolVersion    int            `json:"protocolVersion"`
	ClientCapabilities map[string]any `json:"clientCapabilities"`
}

// InitializeResult is the agent's reply to initialize.
type InitializeResult struct {
	ProtocolVersion   int             `json:"protocolVersion"`
	AgentCapabilities json.RawMessage `json:"agentCapabilities,omitempty"`
	AgentInfo         *struct {
		Name    string `json:"name"`
		Version string `json:"version,omitempty"`
	} `json:"agentInfo,omitempty"`
}

type newSessionParams struct {
	Cwd        string          `json:"cwd"`
	MCPServers []mcp.ACPServer `json:"mcpServers"`
	Model      string          `json:"model,omitempty"`
}

type loadSessionParams struct {
	SessionID  string          `json:"sessionId"`
	Cwd        string          `json:"cwd"`
	MCPServers []mcp.ACPServer `json:"mcpServers"`
}

type sessionResult struct {
	SessionID string `json:"sessionId"`
}

type promptParams struct {
	SessionID string       `json:"sessionId"`
	Prompt    []types.Part `json:"prompt"`
}

type cancelParams struct {
	SessionID string `json:"sessionId"`
}

// PromptResult is the agent's reply to session/prompt, sent when the turn
// has finished.
type PromptResult struct {
	StopReason string       `json:"stopReason"`
	Usage      *PromptUsage `json:"usage,omitempty"`
}

// PromptUsage is the token usage of one turn.
type PromptUsage struct {
	InputTokens       int64 `json:"inputTokens"`
	OutputTokens      int64 `json:"outputTokens"`
	ThoughtTokens     int64 `json:"thoughtTokens,omitempty"`
	CachedReadTokens  int64 `json:"cachedReadTokens,omitempty"`
	CachedWriteTokens int64 `json:"cachedWriteTokens,omitempty"`
	TotalTokens       int64 `json:"totalTokens,omitempty"`
}

// Update types carried by session/update.
const (
	UpdateAgentMessage   = "agent_message_chunk"
	UpdateAgentThought   = "agent_thought_chunk"
	UpdateToolCall       = "tool_call"
	UpdateToolCallUpdate = "tool_call_update"
	UpdateUsage          = "usage_update"
	UpdatePlan           = "plan"
)

// Tool call statuses.
const (
	ToolPending    = "pending"
	ToolInProgress = "in_progress"
	ToolCompleted  = "completed"
	ToolFailed     = "failed"
)

type sessionNotification struct {
	SessionID string         `json:"sessionId"`
	Update    *SessionUpdate `json:"update"`
}

// SessionUpdate is one session/update payload. Type selects which of the
// other fields are set.
type SessionUpdate struct {
	Type string `json:"sessionUpdate"`

	// agent_message_chunk, agent_thought_chunk
	Content *ContentChunk `json:"content,omitempty"`

	// tool_call, tool_call_update
	ToolCallID string         `json:"toolCallId,omitempty"`
	Title      string         `json:"title,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Status     string         `json:"status,omitempty"`
	RawInput   map[string]any `json:"rawInput,omitempty"`
	RawOutput  any            `json:"rawOutput,omitempty"`

	// usage_update
	Used int64 `json:"used,omitempty"`
	Size int64 `json:"size,omitempty"`
	Cost *Cost `json:"cost,omitempty"`

	// plan
	Entries []map[string]any `json:"entries,omitempty"`
}

// ContentChunk is the content of a message or thought chunk.
type ContentChunk struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Cost is the session cost reported by usage_update.
type Cost struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

// PermissionOption is one choice offered by session/request_permission.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name,omitempty"`
	Kind     string `json:"kind"`
}

// Permission option kinds.
const (
	OptionAllowOnce    = "allow_once"
	OptionAllowAlways  = "allow_always"
	OptionRejectOnce   = "reject_once"
	OptionRejectAlways = "reject_always"
)

type permissionParams struct {
	SessionID string `json:"sessionId"`
	ToolCall  struct {
		ToolCallID string         `json:"toolCallId"`
		Title      string         `json:"title"`
		Kind       string         `json:"kind,omitempty"`
		RawInput   map[string]any `json:"rawInput,omitempty"`
	} `json:"toolCall"`
	Options []PermissionOption `json:"options"`
}

// PermissionRequest is a tool call the agent asks the client to approve.
type PermissionRequest struct {
	SessionID  string
	ToolCallID string
	Title      string
	Kind       string
	RawInput   map[string]any
	Options    []PermissionOption
}

type permissionOutcome struct {
	Outcome struct {
		Outcome  string `json:"outcome"`
		OptionID string `json:"optionId"`
	} `json:"outcome"`
}
