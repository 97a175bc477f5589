package mcp

import "errors"

// Sentinel errors for the MCP package.
var (
	// ErrInvalidConfig is returned when a ServerConfig is missing
	// required fields for its transport type.
	ErrInvalidConfig = errors.New("mcp: invalid server config")

	// ErrToolNotFound is returned when calling a tool the server does not have.
	ErrToolNotFound = errors.New("mcp: tool not found")

	// ErrServerStarted is returned by Start on a server that is already serving.
	ErrServerStarted = errors.New("mcp: server already started")
)
