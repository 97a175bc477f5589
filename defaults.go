package agent

import "github.com/anthropics/anthropic-sdk-go"

const (
	// DefaultModel is used when neither options nor settings name a model.
	DefaultModel = string(anthropic.ModelClaudeSonnet4_5)

	// DefaultProviderID is the OpenCode provider the model belongs to.
	DefaultProviderID = "anthropic"

	// DefaultServerURL is where `opencode serve` listens by default.
	DefaultServerURL = "http://127.0.0.1:4096"

	// DefaultMaxTurns bounds the number of queries per client.
	DefaultMaxTurns = 100

	// DefaultMaxBufferSize bounds a single line read from the server.
	DefaultMaxBufferSize = 10 << 20

	// DefaultStreamBufferSize is the channel buffer of a MessageStream.
	DefaultStreamBufferSize = 64
)
