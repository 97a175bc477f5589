package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is a markdown file whose content is added to the system prompt.
type Skill struct {
	Name        string // frontmatter name, or the file name without extension
	Description string
	Content     string // markdown body without frontmatter
}

// LoadSkills reads every .md file of dirs, sorted by name within a
// directory. Missing directories are skipped. A file may start with YAML
// frontmatter carrying name and description.
func LoadSkills(dirs ...string) ([]Skill, error) {
	var skills []Skill

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read skill dir: %w", err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read skill: %w", err)
			}
			skill, err := parseSkill(strings.TrimSuffix(entry.Name(), ".md"), string(content))
			if err != nil {
				return nil, fmt.Errorf("skill %s: %w", path, err)
			}
			skills = append(skills, skill)
		}
	}

	return skills, nil
}

func parseSkill(name, content string) (Skill, error) {
	fm, body, ok := splitFrontmatter(content)
	if !ok {
		return Skill{Name: name, Content: content}, nil
	}
	var props struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	}
	if err := yaml.Unmarshal([]byte(fm), &props); err != nil {
		return Skill{}, fmt.Errorf("invalid frontmatter: %w", err)
	}
	if n := strings.TrimSpace(props.Name); n != "" {
		name = n
	}
	return Skill{
		Name:        name,
		Description: strings.TrimSpace(props.Description),
		Content:     strings.TrimLeft(body, "\r\n"),
	}, nil
}

// splitFrontmatter separates a leading "---" delimited block from the
// body. ok is false when there is no complete block.
func splitFrontmatter(s string) (frontmatter, body string, ok bool) {
	lines := strings.SplitAfter(s, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", s, false
	}
	offset := len(lines[0])
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], ""), s[offset+len(lines[i]):], true
		}
		offset += len(lines[i])
	}
	return "", s, false
}

// FormatSkillsPrompt formats loaded skills into a string suitable for
// prepending to a system prompt.
func FormatSkillsPrompt(skills []Skill) string {
	if len(skills) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("# Available Skills\n\n")

	for _, skill := range skills {
		sb.WriteString("## ")
		sb.WriteString(skill.Name)
		sb.WriteString("\n\n")
		if skill.Description != "" {
			sb.WriteString(skill.Description)
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.TrimSpace(skill.Content))
		sb.WriteString("\n\n")
	}

	return sb.String()
}
