// Package config loads layered settings files, skills and slash commands.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DirName is the per-user and per-project configuration directory.
const DirName = ".opencode-agent"

// MCPServer is an MCP server entry in a settings file.
type MCPServer struct {
	Type    string            `json:"type,omitempty" yaml:"type,omitempty"`
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Settings holds merged configuration from multiple sources.
// Later sources override earlier ones (user < project < local).
type Settings struct {
	Model           string               `json:"model,omitempty" yaml:"model,omitempty"`
	ProviderID      string               `json:"providerID,omitempty" yaml:"providerID,omitempty"`
	ServerURL       string               `json:"serverURL,omitempty" yaml:"serverURL,omitempty"`
	SystemPrompt    string               `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	MaxTurns        int                  `json:"maxTurns,omitempty" yaml:"maxTurns,omitempty"`
	MaxBudgetUSD    float64              `json:"maxBudgetUSD,omitempty" yaml:"maxBudgetUSD,omitempty"`
	AllowedTools    []string             `json:"allowedTools,omitempty" yaml:"allowedTools,omitempty"`
	DisallowedTools []string             `json:"disallowedTools,omitempty" yaml:"disallowedTools,omitempty"`
	PermissionMode  string               `json:"permissionMode,omitempty" yaml:"permissionMode,omitempty"`
	SkillDirs       []string             `json:"skillDirs,omitempty" yaml:"skillDirs,omitempty"`
	MCPServers      map[string]MCPServer `json:"mcpServers,omitempty" yaml:"mcpServers,omitempty"`
	Env             map[string]string    `json:"env,omitempty" yaml:"env,omitempty"`
	CustomSettings  map[string]any       `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// LoadSettings merges settings from JSON or YAML files, picked by
// extension. Later paths override earlier ones. Missing files are
// skipped; a file that fails to parse is an error.
func LoadSettings(paths ...string) (*Settings, error) {
	merged := &Settings{
		CustomSettings: make(map[string]any),
	}

	for _, path := range paths {
		s, err := loadSettingsFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		mergeSettings(merged, s)
	}

	return merged, nil
}

// DefaultSettingsPaths returns the standard settings file search paths,
// lowest precedence first.
func DefaultSettingsPaths(projectDir string) []string {
	home, _ := os.UserHomeDir()
	var paths []string

	if home != "" {
		paths = append(paths,
			filepath.Join(home, DirName, "settings.json"),
			filepath.Join(home, DirName, "settings.yaml"),
		)
	}

	if projectDir != "" {
		paths = append(paths,
			filepath.Join(projectDir, DirName, "settings.json"),
			filepath.Join(projectDir, DirName, "settings.yaml"),
			filepath.Join(projectDir, DirName, "settings.local.json"),
			filepath.Join(projectDir, DirName, "settings.local.yaml"),
		)
	}

	return paths
}

func loadSettingsFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Settings
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s)
	default:
		err = json.Unmarshal(data, &s)
	}
	if err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return &s, nil
}

func mergeSettings(dst, src *Settings) {
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.ProviderID != "" {
		dst.ProviderID = src.ProviderID
	}
	if src.ServerURL != "" {
		dst.ServerURL = src.ServerURL
	}
	if src.SystemPrompt != "" {
		dst.SystemPrompt = src.SystemPrompt
	}
	if src.MaxTurns > 0 {
		dst.MaxTurns = src.MaxTurns
	}
	if src.MaxBudgetUSD > 0 {
		dst.MaxBudgetUSD = src.MaxBudgetUSD
	}
	if len(src.AllowedTools) > 0 {
		dst.AllowedTools = src.AllowedTools
	}
	if len(src.DisallowedTools) > 0 {
		dst.DisallowedTools = src.DisallowedTools
	}
	if src.PermissionMode != "" {
		dst.PermissionMode = src.PermissionMode
	}
	dst.SkillDirs = append(dst.SkillDirs, src.SkillDirs...)
	for name, srv := range src.MCPServers {
		if dst.MCPServers == nil {
			dst.MCPServers = make(map[string]MCPServer)
		}
		dst.MCPServers[name] = srv
	}
	for k, v := range src.Env {
		if dst.Env == nil {
			dst.Env = make(map[string]string)
		}
		dst.Env[k] = v
	}
	for k, v := range src.CustomSettings {
		if dst.CustomSettings == nil {
			dst.CustomSettings = make(map[string]any)
		}
		dst.CustomSettings[k] = v
	}
}
