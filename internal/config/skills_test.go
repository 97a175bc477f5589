package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSkills_SingleDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "review.md"), []byte("# Review\nCode review"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "commit.md"), []byte("# Commit\nGit commit helper"), 0o644))

	skills, err := LoadSkills(dir)
	require.NoError(t, err)
	require.Len(t, skills, 2)
	assert.Equal(t, "commit", skills[0].Name, "sorted by file name")
	assert.Equal(t, "review", skills[1].Name)
}

func TestLoadSkills_SkipsNonMD(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skill.md"), []byte("valid"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	skills, err := LoadSkills(dir)
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, "skill", skills[0].Name)
	assert.Equal(t, "valid", skills[0].Content)
}

func TestLoadSkills_MissingDirSkipped(t *testing.T) {
	skills, err := LoadSkills("/nonexistent/dir")
	require.NoError(t, err)
	assert.Empty(t, skills)
}

func TestLoadSkills_Frontmatter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.md"), []byte(
		"---\r\nname: go-style\r\ndescription: Idiomatic Go review\r\n---\r\nPrefer small interfaces.\n"), 0o644))

	skills, err := LoadSkills(dir)
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, Skill{Name: "go-style", Description: "Idiomatic Go review", Content: "Prefer small interfaces.\n"}, skills[0])
}

func TestLoadSkills_BadFrontmatter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.md"), []byte("---\nname: [oops\n---\nbody"), 0o644))

	_, err := LoadSkills(dir)
	assert.ErrorContains(t, err, "invalid frontmatter")
}

func TestSplitFrontmatter_Unterminated(t *testing.T) {
	_, body, ok := splitFrontmatter("---\nname: x\nno end")
	assert.False(t, ok)
	assert.Equal(t, "---\nname: x\nno end", body)
}

func TestLoadSkills_MultipleDirs(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir1, "a.md"), []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir2, "b.md"), []byte("B"), 0o644))

	skills, err := LoadSkills(dir1, dir2)
	require.NoError(t, err)
	require.Len(t, skills, 2)
	assert.Equal(t, "a", skills[0].Name)
	assert.Equal(t, "b", skills[1].Name)
}

func TestFormatSkillsPrompt(t *testing.T) {
	assert.Empty(t, FormatSkillsPrompt(nil))

	out := FormatSkillsPrompt([]Skill{
		{Name: "commit", Content: "Write good messages.\n"},
		{Name: "go", Description: "Go rules", Content: "Use gofmt."},
	})
	assert.Equal(t, "# Available Skills\n\n## commit\n\nWrite good messages.\n\n## go\n\nGo rules\n\nUse gofmt.\n\n", out)
}
