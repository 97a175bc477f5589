// Package plugin loads local plugin directories. A plugin bundles skills,
// slash commands and MCP servers:
//
//	my-plugin/
//	  plugin.json   optional manifest: name, version, mcpServers
//	  commands/     *.md slash commands
//	  skills/       *.md skills added to the system prompt
package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/armatrix/opencode-agent-sdk-go/mcp"
)

// ErrEmpty is returned by Load for a directory without plugin content.
var ErrEmpty = errors.New("plugin: no manifest, commands or skills")

// Plugin is a loaded plugin directory.
type Plugin struct {
	// Name defaults to the directory name.
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`

	// Dir is the absolute path to the plugin directory.
	Dir string `json:"-"`

	MCPServers map[string]*MCPServerConfig `json:"mcpServers,omitempty"`

	// Commands are the slash command names found in commands/, sorted.
	Commands []string `json:"-"`

	// Skills are the paths of the .md files in skills/, sorted.
	Skills []string `json:"-"`
}

// MCPServerConfig defines an MCP server within a plugin manifest.
type MCPServerConfig struct {
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Transport string            `json:"transport,omitempty"`
}

// Load reads the plugin in dir.
func Load(dir string) (*Plugin, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("plugin: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("plugin: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("plugin: %s is not a directory", abs)
	}

	p := &Plugin{}
	data, err := os.ReadFile(filepath.Join(abs, "plugin.json"))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("plugin: parse %s/plugin.json: %w", filepath.Base(abs), err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("plugin: %w", err)
	}
	if p.Name == "" {
		p.Name = filepath.Base(abs)
	}
	p.Dir = abs

	for _, path := range markdownFiles(p.CommandsDir()) {
		p.Commands = append(p.Commands, strings.TrimSuffix(filepath.Base(path), ".md"))
	}
	p.Skills = markdownFiles(p.SkillsDir())

	if data == nil && len(p.Commands) == 0 && len(p.Skills) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, abs)
	}
	return p, nil
}

// LoadAll loads every plugin found one level below the given directories.
// Missing directories and subdirectories without plugin content are
// skipped.
func LoadAll(dirs ...string) ([]*Plugin, error) {
	var plugins []*Plugin
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("plugin: read dir %s: %w", dir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			p, err := Load(filepath.Join(dir, entry.Name()))
			if errors.Is(err, ErrEmpty) {
				continue
			}
			if err != nil {
				return nil, err
			}
			plugins = append(plugins, p)
		}
	}
	return plugins, nil
}

// CommandsDir is the directory holding the plugin's slash commands.
func (p *Plugin) CommandsDir() string { return filepath.Join(p.Dir, "commands") }

// SkillsDir is the directory holding the plugin's skills.
func (p *Plugin) SkillsDir() string { return filepath.Join(p.Dir, "skills") }

// Servers converts the manifest's MCP servers. Relative commands are
// resolved against the plugin directory.
func (p *Plugin) Servers() map[string]mcp.ServerConfig {
	if len(p.MCPServers) == 0 {
		return nil
	}
	out := make(map[string]mcp.ServerConfig, len(p.MCPServers))
	for name, s := range p.MCPServers {
		if s == nil {
			continue
		}
		command := s.Command
		if strings.HasPrefix(command, "./") || strings.HasPrefix(command, "../") {
			command = filepath.Join(p.Dir, command)
		}
		out[name] = mcp.ServerConfig{
			Command:   command,
			Args:      s.Args,
			Env:       s.Env,
			URL:       s.URL,
			Headers:   s.Headers,
			Transport: mcp.TransportType(s.Transport),
		}
	}
	return out
}

func markdownFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out
}
