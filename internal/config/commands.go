package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Command is a slash command loaded from a .md file. The chat REPL
// replaces "/name args" with the command's content.
type Command struct {
	Name     string // e.g. "commit" for commit.md
	Content  string
	FilePath string
}

// ArgumentsPlaceholder is replaced by the text following the command name.
const ArgumentsPlaceholder = "$ARGUMENTS"

// LoadCommands scans directories for .md command files. Later directories
// override earlier ones for the same name. The result is sorted by name.
func LoadCommands(dirs ...string) ([]Command, error) {
	seen := make(map[string]Command)

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			content, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), ".md")
			seen[name] = Command{Name: name, Content: string(content), FilePath: path}
		}
	}

	commands := make([]Command, 0, len(seen))
	for _, cmd := range seen {
		commands = append(commands, cmd)
	}
	sort.Slice(commands, func(i, j int) bool { return commands[i].Name < commands[j].Name })
	return commands, nil
}

// DefaultCommandDirs returns the user and project command directories.
func DefaultCommandDirs(projectDir string) []string {
	var dirs []string
	if home, _ := os.UserHomeDir(); home != "" {
		dirs = append(dirs, filepath.Join(home, DirName, "commands"))
	}
	if projectDir != "" {
		dirs = append(dirs, filepath.Join(projectDir, DirName, "commands"))
	}
	return dirs
}

// Expand renders the command with args. Without a placeholder, non-empty
// args are appended on a new line.
func (c Command) Expand(args string) string {
	args = strings.TrimSpace(args)
	if strings.Contains(c.Content, ArgumentsPlaceholder) {
		return strings.ReplaceAll(c.Content, ArgumentsPlaceholder, args)
	}
	if args == "" {
		return c.Content
	}
	return strings.TrimRight(c.Content, "\n") + "\n\n" + args
}

// ExpandInput resolves "/name args" against commands. ok is false when
// input is not a known command.
func ExpandInput(commands []Command, input string) (prompt string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", false
	}
	name, args, _ := strings.Cut(input[1:], " ")
	for _, c := range commands {
		if c.Name == name {
			return c.Expand(args), true
		}
	}
	return "", false
}
