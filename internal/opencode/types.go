package opencode

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/armatrix/opencode-agent-sdk-go/types"
)

// Session is an OpenCode session as returned by the REST API.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Directory string `json:"directory,omitempty"`
	Version   string `json:"version,omitempty"`
	Time      struct {
		Created int64 `json:"created"`
		Updated int64 `json:"updated"`
	} `json:"time"`
}

// Model selects the provider and model of a chat request.
type Model struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// ChatRequest is the body of POST /session/{id}/message.
type ChatRequest struct {
	Model  *Model          `json:"model,omitempty"`
	System string          `json:"system,omitempty"`
	Tools  map[string]bool `json:"tools,omitempty"`
	Parts  []types.Part    `json:"parts"`
}

// Tokens is the token accounting of a step-finish part or message.
type Tokens struct {
	Input     int64 `json:"input"`
	Output    int64 `json:"output"`
	Reasoning int64 `json:"reasoning"`
	Cache     struct {
		Read  int64 `json:"read"`
		Write int64 `json:"write"`
	} `json:"cache"`
}

// Usage converts t into the SDK usage type.
func (t Tokens) Usage() types.Usage {
	return types.Usage{
		InputTokens:              t.Input,
		OutputTokens:             t.Output,
		ReasoningTokens:          t.Reasoning,
		CacheReadInputTokens:     t.Cache.Read,
		CacheCreationInputTokens: t.Cache.Write,
	}
}

// ToolState is the state of a "tool" part.
type ToolState struct {
	Status   string         `json:"status"` // pending, running, completed, error
	Input    map[string]any `json:"input,omitempty"`
	Output   string         `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Title    string         `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Part is one element of an OpenCode message. Only the fields for Type
// are populated.
type Part struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID,omitempty"`
	MessageID string `json:"messageID,omitempty"`
	Type      string `json:"type"`

	// text, reasoning
	Text string `json:"text,omitempty"`

	// tool
	Tool   string     `json:"tool,omitempty"`
	CallID string     `json:"callID,omitempty"`
	State  *ToolState `json:"state,omitempty"`

	// step-finish
	Cost   decimal.Decimal `json:"cost,omitempty"`
	Tokens *Tokens         `json:"tokens,omitempty"`
	Reason string          `json:"reason,omitempty"`

	// tool-invocation, tool-result (older servers)
	ToolInvocationID string          `json:"toolInvocationId,omitempty"`
	ToolName         string          `json:"toolName,omitempty"`
	Input            map[string]any  `json:"input,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`

	raw map[string]any
}

// UnmarshalJSON keeps the raw fields so step-start data can be forwarded.
func (p *Part) UnmarshalJSON(data []byte) error {
	type plain Part
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Part(v)
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err == nil {
		p.raw = raw
	}
	return nil
}

// Raw returns the part as decoded from the wire.
func (p Part) Raw() map[string]any {
	if p.raw != nil {
		return p.raw
	}
	return map[string]any{"id": p.ID, "type": p.Type, "sessionID": p.SessionID}
}

// MessageInfo is the metadata of an OpenCode message.
type MessageInfo struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"sessionID"`
	Role       string          `json:"role"`
	ModelID    string          `json:"modelID,omitempty"`
	ProviderID string          `json:"providerID,omitempty"`
	Cost       decimal.Decimal `json:"cost,omitempty"`
	Tokens     *Tokens         `json:"tokens,omitempty"`
	Error      *NamedError     `json:"error,omitempty"`
}

// Message is a message with its parts.
type Message struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

// NamedError is OpenCode's error envelope.
type NamedError struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

// Permission is a pending tool permission request.
type Permission struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"` // tool kind: bash, edit, webfetch, ...
	Pattern   any            `json:"pattern,omitempty"`
	SessionID string         `json:"sessionID"`
	MessageID string         `json:"messageID,omitempty"`
	CallID    string         `json:"callID,omitempty"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Event is one message of the GET /event stream.
type Event struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// Event types handled by ChatStream.
const (
	EventPartUpdated       = "message.part.updated"
	EventPermissionUpdated = "permission.updated"
	EventSessionIdle       = "session.idle"
	EventSessionError      = "session.error"
)

type partUpdated struct {
	Part Part `json:"part"`
}

type sessionEvent struct {
	SessionID string      `json:"sessionID"`
	Error     *NamedError `json:"error,omitempty"`
}
