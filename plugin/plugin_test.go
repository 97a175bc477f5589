package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armatrix/opencode-agent-sdk-go/mcp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_CommandsAndSkills(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "my-plugin")
	writeFile(t, filepath.Join(dir, "commands", "commit.md"), "Create a git commit")
	writeFile(t, filepath.Join(dir, "commands", "review.md"), "Review $ARGUMENTS")
	writeFile(t, filepath.Join(dir, "commands", "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "skills", "tdd.md"), "Test-driven development workflow")

	p, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "my-plugin", p.Name)
	assert.Equal(t, dir, p.Dir)
	assert.Equal(t, []string{"commit", "review"}, p.Commands)
	assert.Equal(t, []string{filepath.Join(dir, "skills", "tdd.md")}, p.Skills)
	assert.Equal(t, filepath.Join(dir, "commands"), p.CommandsDir())
	assert.Equal(t, filepath.Join(dir, "skills"), p.SkillsDir())
	assert.Nil(t, p.Servers())
}

func TestLoad_Manifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "manifest-plugin")
	writeFile(t, filepath.Join(dir, "plugin.json"), `{
		"name": "github-tools",
		"version": "1.2.0",
		"mcpServers": {
			"github": {
				"command": "npx",
				"args": ["@modelcontextprotocol/server-github"],
				"transport": "stdio"
			},
			"local": {"command": "./bin/server"},
			"docs": {"url": "https://docs.example.com/mcp", "headers": {"Authorization": "Bearer x"}, "transport": "http"}
		}
	}`)

	p, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "github-tools", p.Name)
	assert.Equal(t, "1.2.0", p.Version)

	servers := p.Servers()
	require.Len(t, servers, 3)
	assert.Equal(t, mcp.ServerConfig{
		Command:   "npx",
		Args:      []string{"@modelcontextprotocol/server-github"},
		Transport: mcp.TransportStdio,
	}, servers["github"])
	assert.Equal(t, filepath.Join(dir, "bin", "server"), servers["local"].Command)
	assert.Equal(t, mcp.TransportHTTP, servers["docs"].Transport)
	assert.Equal(t, "Bearer x", servers["docs"].Headers["Authorization"])
}

func TestLoad_Errors(t *testing.T) {
	root := t.TempDir()

	_, err := Load(filepath.Join(root, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(root, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o755))
	_, err = Load(empty)
	assert.ErrorIs(t, err, ErrEmpty)

	file := filepath.Join(root, "file")
	writeFile(t, file, "x")
	_, err = Load(file)
	assert.ErrorContains(t, err, "not a directory")

	bad := filepath.Join(root, "bad")
	writeFile(t, filepath.Join(bad, "plugin.json"), "{")
	_, err = Load(bad)
	assert.ErrorContains(t, err, "parse bad/plugin.json")
}

func TestLoadAll(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "skills", "x.md"), "x")
	writeFile(t, filepath.Join(root, "b", "plugin.json"), `{}`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	writeFile(t, filepath.Join(root, "README.md"), "not a plugin")

	plugins, err := LoadAll(root, filepath.Join(root, "missing"))
	require.NoError(t, err)
	require.Len(t, plugins, 2)
	assert.Equal(t, "a", plugins[0].Name)
	assert.Equal(t, "b", plugins[1].Name)
}

func TestLoadAll_BadManifest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bad", "plugin.json"), "not json")

	_, err := LoadAll(root)
	assert.Error(t, err)
}
