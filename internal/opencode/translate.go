package opencode

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/armatrix/opencode-agent-sdk-go/types"
)

// Part types.
const (
	PartText           = "text"
	PartReasoning      = "reasoning"
	PartTool           = "tool"
	PartStepStart      = "step-start"
	PartStepFinish     = "step-finish"
	PartToolInvocation = "tool-invocation"
	PartToolResult     = "tool-result"
)

// Tool part statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// streamTranslator turns the part updates of one chat into SDK messages.
// Text parts are re-sent in full on every update, so only the suffix not
// yet seen is emitted. Each tool status transition is reported once per
// part.
type streamTranslator struct {
	sessionID string
	start     time.Time

	seenText   map[string]string
	toolStates map[string]string

	text       strings.Builder
	usage      types.Usage
	cost       decimal.Decimal
	steps      int
	stopReason string
}

func newStreamTranslator(sessionID string) *streamTranslator {
	return &streamTranslator{
		sessionID:  sessionID,
		start:      time.Now(),
		seenText:   make(map[string]string),
		toolStates: make(map[string]string),
	}
}

// part translates one part update. It returns nil when the update carries
// nothing new.
func (t *streamTranslator) part(p Part) types.Message {
	switch p.Type {
	case PartText, PartReasoning:
		delta := t.delta(p.ID, p.Text)
		if delta == "" {
			return nil
		}
		if p.Type == PartReasoning {
			return &types.SystemMessage{Subtype: types.SubtypeThought, Data: map[string]any{"text": delta}}
		}
		t.text.WriteString(delta)
		return &types.AssistantMessage{Content: []types.ContentBlock{types.TextBlock{Text: delta}}}

	case PartTool:
		if p.State == nil {
			return nil
		}
		status := p.State.Status
		if status == StatusPending || t.toolStates[p.ID] == status {
			return nil
		}
		t.toolStates[p.ID] = status
		switch status {
		case StatusRunning:
			return toolUse(p)
		case StatusCompleted:
			return toolResult(p)
		case StatusError:
			return toolError(p)
		}
		return nil

	case PartStepStart:
		return &types.SystemMessage{Subtype: types.SubtypeStepStart, Data: p.Raw()}

	case PartStepFinish:
		t.steps++
		data := map[string]any{"cost": p.Cost.InexactFloat64(), "reason": p.Reason}
		if p.Tokens != nil {
			u := p.Tokens.Usage()
			t.usage.Add(u)
			data["usage"] = u
		}
		t.cost = t.cost.Add(p.Cost)
		if p.Reason != "" {
			t.stopReason = p.Reason
		}
		return &types.SystemMessage{Subtype: types.SubtypeStepFinish, Data: data}
	}
	return nil
}

func (t *streamTranslator) delta(id, full string) string {
	prev := t.seenText[id]
	t.seenText[id] = full
	if strings.HasPrefix(full, prev) {
		return full[len(prev):]
	}
	return full
}

// result builds the ResultMessage that closes the stream.
func (t *streamTranslator) result(isError bool) *types.ResultMessage {
	subtype := types.ResultSuccess
	if isError {
		subtype = types.ResultError
	}
	turns := t.steps
	if turns == 0 {
		turns = 1
	}
	return &types.ResultMessage{
		Subtype:      subtype,
		Usage:        t.usage,
		TotalCostUSD: t.cost,
		SessionID:    t.sessionID,
		DurationMs:   time.Since(t.start).Milliseconds(),
		NumTurns:     turns,
		IsError:      isError,
		StopReason:   t.stopReason,
		Result:       t.text.String(),
	}
}

func callID(p Part) string {
	if p.CallID != "" {
		return p.CallID
	}
	return p.ID
}

func toolUse(p Part) *types.AssistantMessage {
	input := map[string]any{}
	if p.State != nil && p.State.Input != nil {
		input = p.State.Input
	}
	return &types.AssistantMessage{Content: []types.ContentBlock{
		types.ToolUseBlock{ID: callID(p), Name: p.Tool, Input: input},
	}}
}

func toolResult(p Part) *types.SystemMessage {
	return &types.SystemMessage{Subtype: types.SubtypeToolResult, Data: map[string]any{
		"tool_name": p.Tool,
		"tool_id":   callID(p),
		"output":    p.State.Output,
		"title":     p.State.Title,
		"input":     p.State.Input,
	}}
}

func toolError(p Part) *types.SystemMessage {
	return &types.SystemMessage{Subtype: types.SubtypeToolError, Data: map[string]any{
		"tool_name": p.Tool,
		"tool_id":   callID(p),
		"error":     p.State.Error,
	}}
}

// TranslateParts converts the parts of a completed message, as returned by
// the blocking chat endpoint or the message history, into SDK messages.
func TranslateParts(parts []Part) []types.Message {
	var msgs []types.Message
	for _, p := range parts {
		switch p.Type {
		case PartText:
			msgs = append(msgs, &types.AssistantMessage{Content: []types.ContentBlock{types.TextBlock{Text: p.Text}}})

		case PartToolInvocation:
			input := p.Input
			if input == nil {
				input = map[string]any{}
			}
			msgs = append(msgs, &types.AssistantMessage{Content: []types.ContentBlock{
				types.ToolUseBlock{ID: invocationID(p), Name: p.ToolName, Input: input},
			}})

		case PartToolResult:
			msgs = append(msgs, &types.SystemMessage{Subtype: types.SubtypeToolResult, Data: map[string]any{
				"tool_name": p.ToolName,
				"tool_id":   invocationID(p),
				"output":    resultText(p.Result),
			}})

		case PartTool:
			if p.State == nil || p.State.Status == StatusPending {
				continue
			}
			msgs = append(msgs, toolUse(p))
			switch p.State.Status {
			case StatusCompleted:
				msgs = append(msgs, toolResult(p))
			case StatusError:
				msgs = append(msgs, toolError(p))
			}

		case PartStepStart:
			msgs = append(msgs, &types.SystemMessage{Subtype: types.SubtypeStepStart, Data: p.Raw()})

		case PartStepFinish:
			res := &types.ResultMessage{
				Subtype:      types.ResultSuccess,
				TotalCostUSD: p.Cost,
				SessionID:    p.SessionID,
				NumTurns:     1,
				StopReason:   p.Reason,
			}
			if p.Tokens != nil {
				res.Usage = p.Tokens.Usage()
			}
			msgs = append(msgs, res)
		}
	}
	return msgs
}

func invocationID(p Part) string {
	if p.ToolInvocationID != "" {
		return p.ToolInvocationID
	}
	return p.ID
}

// resultText flattens a tool result: either a plain string or a list of
// parts whose text parts are concatenated.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
