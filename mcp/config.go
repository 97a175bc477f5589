// Package mcp describes the MCP (Model Context Protocol) servers an agent
// session may use. External servers are passed to OpenCode as-is; Go
// functions can be exposed as tools through an in-process [SDKServer].
package mcp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// TransportType identifies the MCP transport protocol.
type TransportType string

const (
	// TransportStdio communicates via a subprocess's stdin/stdout.
	TransportStdio TransportType = "stdio"

	// TransportSSE communicates via HTTP Server-Sent Events.
	TransportSSE TransportType = "sse"

	// TransportHTTP communicates via streamable HTTP.
	TransportHTTP TransportType = "http"
)

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Command is the executable to spawn (stdio transport only).
	Command string

	// Args are command-line arguments for the subprocess.
	Args []string

	// Env are extra environment variables for the subprocess.
	Env map[string]string

	// URL is the server address (SSE and HTTP transports).
	URL string

	// Headers are sent with every request to URL.
	Headers map[string]string

	// Transport selects the protocol. Inferred from Command or URL when empty.
	Transport TransportType

	// SDK is set for in-process servers. The client starts it on connect
	// and replaces the entry with the loopback URL it serves on.
	SDK *SDKServer
}

// Kind returns the effective transport of c, or "" when c has neither a
// command nor a URL.
func (c ServerConfig) Kind() TransportType {
	switch {
	case c.Transport != "":
		return c.Transport
	case c.Command != "":
		return TransportStdio
	case c.URL != "":
		return TransportSSE
	}
	return ""
}

// Validate checks that c carries the fields its transport needs.
func (c ServerConfig) Validate() error {
	if c.SDK != nil {
		return nil
	}
	switch c.Kind() {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("%w: stdio server needs a command", ErrInvalidConfig)
		}
	case TransportSSE, TransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("%w: %s server needs a url", ErrInvalidConfig, c.Kind())
		}
	case "":
		return fmt.Errorf("%w: neither command nor url set", ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	return nil
}

// EnvVar is a name/value pair in ACP server descriptions.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HTTPHeader is a name/value pair in ACP server descriptions.
type HTTPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ACPServer is the wire form of an MCP server in ACP session/new and
// session/load requests. Stdio servers carry no type field.
type ACPServer struct {
	Type    string       `json:"type,omitempty"`
	Name    string       `json:"name"`
	Command string       `json:"command,omitempty"`
	Args    []string     `json:"args,omitempty"`
	Env     []EnvVar     `json:"env,omitempty"`
	URL     string       `json:"url,omitempty"`
	Headers []HTTPHeader `json:"headers,omitempty"`
}

// MarshalJSON emits the shape ACP expects for the server's type: stdio
// servers always carry args and env arrays, remote servers always carry
// headers.
func (s ACPServer) MarshalJSON() ([]byte, error) {
	if s.Type == "" {
		return json.Marshal(struct {
			Name    string   `json:"name"`
			Command string   `json:"command"`
			Args    []string `json:"args"`
			Env     []EnvVar `json:"env"`
		}{s.Name, s.Command, nonNil(s.Args), nonNil(s.Env)})
	}
	return json.Marshal(struct {
		Type    string       `json:"type"`
		Name    string       `json:"name"`
		URL     string       `json:"url"`
		Headers []HTTPHeader `json:"headers"`
	}{s.Type, s.Name, s.URL, nonNil(s.Headers)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// BuildACPServers converts configs into ACP server descriptions, sorted by
// name. Entries with a command become stdio servers, entries with a URL
// become sse (or http) servers. Anything else is skipped, including SDK
// servers that have not been started.
func BuildACPServers(servers map[string]ServerConfig) []ACPServer {
	out := make([]ACPServer, 0, len(servers))
	for name, cfg := range servers {
		switch {
		case cfg.Command != "":
			out = append(out, ACPServer{
				Name:    name,
				Command: cfg.Command,
				Args:    append([]string{}, cfg.Args...),
				Env:     envVars(cfg.Env),
			})
		case cfg.URL != "":
			typ := string(TransportSSE)
			if cfg.Transport == TransportHTTP {
				typ = string(TransportHTTP)
			}
			out = append(out, ACPServer{
				Type:    typ,
				Name:    name,
				URL:     cfg.URL,
				Headers: headers(cfg.Headers),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func envVars(env map[string]string) []EnvVar {
	vars := make([]EnvVar, 0, len(env))
	for k, v := range env {
		vars = append(vars, EnvVar{Name: k, Value: v})
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars
}

func headers(h map[string]string) []HTTPHeader {
	out := make([]HTTPHeader, 0, len(h))
	for k, v := range h {
		out = append(out, HTTPHeader{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ToolName returns the name OpenCode gives tool on server, which is what
// hook patterns and permission rules see.
func ToolName(server, tool string) string {
	return sanitize(server) + "_" + sanitize(tool)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}
