package agent

import "github.com/armatrix/opencode-agent-sdk-go/types"

// Message types yielded by a response stream.
type (
	Message          = types.Message
	ContentBlock     = types.ContentBlock
	TextBlock        = types.TextBlock
	ToolUseBlock     = types.ToolUseBlock
	AssistantMessage = types.AssistantMessage
	UserMessage      = types.UserMessage
	SystemMessage    = types.SystemMessage
	ResultMessage    = types.ResultMessage
	Usage            = types.Usage
)

// Part is one element of a prompt, forwarded to the server unchanged.
type Part = types.Part

// TextPart returns a text prompt part.
func TextPart(text string) Part { return types.TextPart(text) }

// FilePart returns a file prompt part.
func FilePart(url, mime string) Part { return types.FilePart(url, mime) }

// System message subtypes.
const (
	SubtypeInit       = types.SubtypeInit
	SubtypeStepStart  = types.SubtypeStepStart
	SubtypeStepFinish = types.SubtypeStepFinish
	SubtypeToolResult = types.SubtypeToolResult
	SubtypeToolError  = types.SubtypeToolError
	SubtypePlan       = types.SubtypePlan
	SubtypeThought    = types.SubtypeThought
	SubtypePermission = types.SubtypePermission
)
