package acp

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/armatrix/opencode-agent-sdk-go/types"
)

type toolCall struct {
	id      string
	title   string
	status  string
	input   map[string]any
	emitted bool
}

// translator turns the session updates of one prompt turn into messages.
// Message chunks are buffered and flushed before each finished tool call
// and at the end of the turn.
type translator struct {
	buf   strings.Builder
	all   strings.Builder
	tools map[string]*toolCall
	used  int64
	size  int64
	cost  *Cost
}

func newTranslator() *translator {
	return &translator{tools: make(map[string]*toolCall)}
}

func (t *translator) update(u *SessionUpdate) []types.Message {
	switch u.Type {
	case UpdateAgentMessage:
		if u.Content != nil && u.Content.Text != "" {
			t.buf.WriteString(u.Content.Text)
			t.all.WriteString(u.Content.Text)
		}

	case UpdateAgentThought:
		if u.Content != nil && u.Content.Text != "" {
			return []types.Message{&types.SystemMessage{
				Subtype: types.SubtypeThought,
				Data:    map[string]any{"text": u.Content.Text},
			}}
		}

	case UpdateToolCall:
		status := u.Status
		if status == "" {
			status = ToolPending
		}
		t.tools[u.ToolCallID] = &toolCall{
			id:     u.ToolCallID,
			title:  u.Title,
			status: status,
			input:  u.RawInput,
		}

	case UpdateToolCallUpdate:
		tc, ok := t.tools[u.ToolCallID]
		if !ok {
			tc = &toolCall{id: u.ToolCallID, title: u.Title}
			t.tools[u.ToolCallID] = tc
		}
		if u.Status != "" {
			tc.status = u.Status
		}
		if u.RawInput != nil {
			tc.input = u.RawInput
		}
		if (tc.status == ToolCompleted || tc.status == ToolFailed) && !tc.emitted {
			tc.emitted = true
			var out []types.Message
			if m := t.flush(); m != nil {
				out = append(out, m)
			}
			input := tc.input
			if input == nil {
				input = map[string]any{}
			}
			return append(out, &types.AssistantMessage{Content: []types.ContentBlock{
				types.ToolUseBlock{ID: tc.id, Name: tc.title, Input: input},
			}})
		}

	case UpdateUsage:
		t.used, t.size = u.Used, u.Size
		if u.Cost != nil {
			t.cost = u.Cost
		}

	case UpdatePlan:
		entries := u.Entries
		if entries == nil {
			entries = []map[string]any{}
		}
		return []types.Message{&types.SystemMessage{
			Subtype: types.SubtypePlan,
			Data:    map[string]any{"entries": entries},
		}}
	}
	return nil
}

// flush returns the buffered text as a message, or nil when empty.
func (t *translator) flush() types.Message {
	if t.buf.Len() == 0 {
		return nil
	}
	m := &types.AssistantMessage{Content: []types.ContentBlock{types.TextBlock{Text: t.buf.String()}}}
	t.buf.Reset()
	return m
}

// finish closes the turn: the remaining text and the ResultMessage.
func (t *translator) finish(res *PromptResult, sessionID string, elapsed time.Duration) []types.Message {
	var out []types.Message
	if m := t.flush(); m != nil {
		out = append(out, m)
	}
	rm := &types.ResultMessage{
		Subtype:    types.ResultSuccess,
		SessionID:  sessionID,
		DurationMs: elapsed.Milliseconds(),
		NumTurns:   1,
		StopReason: res.StopReason,
		Result:     t.all.String(),
		Usage: types.Usage{
			ContextUsed: t.used,
			ContextSize: t.size,
		},
	}
	if u := res.Usage; u != nil {
		rm.Usage.InputTokens = u.InputTokens
		rm.Usage.OutputTokens = u.OutputTokens
		rm.Usage.ReasoningTokens = u.ThoughtTokens
		rm.Usage.CacheReadInputTokens = u.CachedReadTokens
		rm.Usage.CacheCreationInputTokens = u.CachedWriteTokens
	}
	if t.cost != nil {
		rm.TotalCostUSD = decimal.NewFromFloat(t.cost.Amount)
	}
	return append(out, rm)
}
