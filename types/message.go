// Package types holds the message, content block and error types shared by
// the client and its transports. The root agent package re-exports all of
// them, so most callers never import this package directly.
package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Message is a single item yielded by a response stream.
type Message interface {
	MessageType() string
}

// ContentBlock is one block of an assistant message.
type ContentBlock interface {
	BlockType() string
}

// TextBlock is plain assistant text.
type TextBlock struct {
	Text string `json:"text"`
}

// BlockType implements ContentBlock.
func (TextBlock) BlockType() string { return "text" }

// ToolUseBlock records a tool invocation made by the agent.
type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// BlockType implements ContentBlock.
func (ToolUseBlock) BlockType() string { return "tool_use" }

// AssistantMessage carries agent output: text and tool use blocks.
type AssistantMessage struct {
	Content []ContentBlock
	Model   string
}

// MessageType implements Message.
func (*AssistantMessage) MessageType() string { return "assistant" }

// Role is always "assistant".
func (*AssistantMessage) Role() string { return "assistant" }

// Text concatenates the text blocks of the message.
func (m *AssistantMessage) Text() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if tb, ok := b.(TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool use blocks of the message.
func (m *AssistantMessage) ToolUses() []ToolUseBlock {
	var out []ToolUseBlock
	for _, b := range m.Content {
		if tu, ok := b.(ToolUseBlock); ok {
			out = append(out, tu)
		}
	}
	return out
}

// UserMessage echoes a prompt back into a message history.
type UserMessage struct {
	Content []Part
}

// MessageType implements Message.
func (*UserMessage) MessageType() string { return "user" }

// System message subtypes.
const (
	SubtypeInit       = "init"
	SubtypeStepStart  = "step_start"
	SubtypeStepFinish = "step_finish"
	SubtypeToolResult = "tool_result"
	SubtypeToolError  = "tool_error"
	SubtypePlan       = "plan"
	SubtypeThought    = "thought"
	SubtypePermission = "permission"
)

// Result message subtypes.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// SystemMessage reports lifecycle and side-channel information.
type SystemMessage struct {
	Subtype string
	Data    map[string]any
}

// MessageType implements Message.
func (*SystemMessage) MessageType() string { return "system" }

// ResultMessage terminates every response stream.
type ResultMessage struct {
	Subtype      string
	Usage        Usage
	TotalCostUSD decimal.Decimal
	SessionID    string
	DurationMs   int64
	NumTurns     int
	IsError      bool
	StopReason   string
	Result       string
}

// MessageType implements Message.
func (*ResultMessage) MessageType() string { return "result" }

// Usage aggregates token counts reported by the server.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	ReasoningTokens          int64 `json:"reasoning_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`

	// ContextUsed and ContextSize come from ACP usage updates. They describe
	// the agent's context window rather than billed tokens, so Add keeps the
	// latest non-zero values instead of summing them.
	ContextUsed int64 `json:"context_used,omitempty"`
	ContextSize int64 `json:"context_size,omitempty"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.ReasoningTokens += other.ReasoningTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	if other.ContextUsed != 0 {
		u.ContextUsed = other.ContextUsed
	}
	if other.ContextSize != 0 {
		u.ContextSize = other.ContextSize
	}
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}
