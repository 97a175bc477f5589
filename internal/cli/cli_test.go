package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agent "github.com/armatrix/opencode-agent-sdk-go"
	"github.com/armatrix/opencode-agent-sdk-go/backend"
	"github.com/armatrix/opencode-agent-sdk-go/hook"
	"github.com/armatrix/opencode-agent-sdk-go/internal/config"
	"github.com/armatrix/opencode-agent-sdk-go/internal/opencodetest"
	"github.com/armatrix/opencode-agent-sdk-go/session"
)

type result struct {
	stdout string
	stderr string
	err    error
}

// execute runs the command line with HOME pointed at an empty directory
// so user settings and commands do not leak into the test.
func execute(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// promptText joins the text parts of a recorded chat request.
func promptText(chat map[string]any) string {
	parts, _ := chat["parts"].([]any)
	var texts []string
	for _, p := range parts {
		m, _ := p.(map[string]any)
		if s, ok := m["text"].(string); ok {
			texts = append(texts, s)
		}
	}
	return strings.Join(texts, "\n")
}

func TestRun_OpenCode(t *testing.T) {
	s := opencodetest.New(t, opencodetest.Reply("Hello from OpenCode", 0.02))

	r := execute(t, "", "run", "--server-url", s.URL, "--cwd", t.TempDir(), "--model", "openai/gpt-5", "hello", "world")
	require.NoError(t, r.err, r.stderr)
	assert.Equal(t, "Hello from OpenCode\n", r.stdout)

	chats := s.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, "hello world", promptText(chats[0]))
	assert.Equal(t, map[string]any{"providerID": "openai", "modelID": "gpt-5"}, chats[0]["model"])
	assert.Equal(t, []string{opencodetest.SessionID}, s.Deleted())
}

func TestRun_PromptFromStdin(t *testing.T) {
	s := opencodetest.New(t, opencodetest.Reply("ok", 0))

	r := execute(t, "explain main.go\n", "run", "--server-url", s.URL, "--cwd", t.TempDir(), "-")
	require.NoError(t, r.err, r.stderr)
	assert.Equal(t, "ok\n", r.stdout)
	assert.Equal(t, "explain main.go", promptText(s.Chats()[0]))
}

func TestRun_ServerURLFromEnv(t *testing.T) {
	s := opencodetest.New(t, opencodetest.Reply("from env", 0))
	t.Setenv("OPENCODE_AGENT_SERVER_URL", s.URL)

	r := execute(t, "", "run", "--cwd", t.TempDir(), "hi")
	require.NoError(t, r.err, r.stderr)
	assert.Equal(t, "from env\n", r.stdout)
}

func TestRun_ProviderJoinsModel(t *testing.T) {
	s := opencodetest.New(t, opencodetest.Reply("ok", 0))

	r := execute(t, "", "run", "--server-url", s.URL, "--cwd", t.TempDir(), "--provider", "openai", "--model", "gpt-5", "hi")
	require.NoError(t, r.err, r.stderr)
	assert.Equal(t, map[string]any{"providerID": "openai", "modelID": "gpt-5"}, s.Chats()[0]["model"])
}

func TestRun_Errors(t *testing.T) {
	r := execute(t, "", "run", "--backend", "gpt", "hi")
	assert.ErrorIs(t, r.err, backend.ErrUnknownBackend)

	r = execute(t, "", "run", "--permission-mode", "yolo", "hi")
	assert.ErrorContains(t, r.err, `unknown mode "yolo"`)

	r = execute(t, "", "run")
	assert.Error(t, r.err)
}

func TestChat(t *testing.T) {
	s := opencodetest.New(t, opencodetest.Reply("Hello", 0.02))
	cwd := t.TempDir()
	sessions := t.TempDir()
	writeCommand(t, cwd, "review", "Review $ARGUMENTS carefully.")

	stdin := strings.Join([]string{"hello", "", "/review main.go", "/nope", "/session", "/cost", "/help", "/exit", "never sent"}, "\n")
	r := execute(t, stdin, "chat", "--server-url", s.URL, "--cwd", cwd, "--session-dir", sessions)
	require.NoError(t, r.err, r.stderr)

	assert.Contains(t, r.stdout, "session "+opencodetest.SessionID+"\n")
	assert.Equal(t, 2, strings.Count(r.stdout, "Hello\n"))
	assert.Contains(t, r.stdout, "unknown command /nope\n")
	assert.Contains(t, r.stdout, "> "+opencodetest.SessionID+"\n")
	assert.Contains(t, r.stdout, "$0.0400\n")
	assert.Contains(t, r.stdout, "/review")

	chats := s.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, "hello", promptText(chats[0]))
	assert.Equal(t, "Review main.go carefully.", promptText(chats[1]))

	// With a store the server session is kept for later resumption.
	assert.Empty(t, s.Deleted())
	store, err := session.NewFileStore(sessions)
	require.NoError(t, err)
	rec, err := store.Load(context.Background(), opencodetest.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.NumTurns)
	assert.Equal(t, agent.ModeHTTP, rec.Mode)
}

func TestChat_StreamsDeltasOnOneLine(t *testing.T) {
	sid := opencodetest.SessionID
	s := opencodetest.New(t, opencodetest.Then(opencodetest.Reply("Hello world", 0), opencodetest.Text(sid, "p1", "Hello")))

	r := execute(t, "hi\n", "chat", "--server-url", s.URL, "--cwd", t.TempDir(), "--session-dir", t.TempDir())
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "> Hello world\n> ")
}

func TestChat_RefusedPromptKeepsChatting(t *testing.T) {
	s := opencodetest.New(t, opencodetest.Reply("pricey", 0.02))

	stdin := "first\nsecond\n/session\n"
	r := execute(t, stdin, "chat", "--server-url", s.URL, "--cwd", t.TempDir(), "--session-dir", t.TempDir(),
		"--max-budget-usd", "0.01")
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "pricey\n")
	assert.Contains(t, r.stdout, agent.ErrBudgetExhausted.Error()+"\n")
	assert.Contains(t, r.stdout, "> "+opencodetest.SessionID+"\n", "the chat goes on after a refused prompt")
	assert.Len(t, s.Chats(), 1)
}

func TestTurn_BlockedPrompt(t *testing.T) {
	s := opencodetest.New(t, opencodetest.Reply("unused", 0))
	client := agent.NewClient(
		agent.WithServerURL(s.URL),
		agent.WithCwd(t.TempDir()),
		agent.WithHooks(hook.Matcher{Event: hook.UserPromptSubmit, Hooks: []hook.Func{
			func(context.Context, *hook.Input, string, *hook.Context) (*hook.Output, error) {
				return hook.Halt("not today"), nil
			},
		}}),
	)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect()

	var out bytes.Buffer
	require.NoError(t, (&app{}).turn(ctx, client, "deploy", &out))
	assert.Contains(t, out.String(), "prompt blocked by hook: not today\n")
	assert.Empty(t, s.Chats())
}

func TestChat_PluginCommands(t *testing.T) {
	s := opencodetest.New(t, opencodetest.Reply("ok", 0))
	cwd := t.TempDir()
	pluginDir := filepath.Join(cwd, "plugins", "git")
	require.NoError(t, os.MkdirAll(filepath.Join(pluginDir, "commands"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "commands", "commit.md"), []byte("Write a commit message"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "commands", "review.md"), []byte("plugin review"), 0o644))
	writeCommand(t, cwd, "review", "project review")

	r := execute(t, "/commit staged only\n/review\n", "chat", "--server-url", s.URL, "--cwd", cwd,
		"--session-dir", t.TempDir(), "--plugin", "plugins/git")
	require.NoError(t, r.err, r.stderr)

	chats := s.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, "Write a commit message\n\nstaged only", promptText(chats[0]))
	assert.Equal(t, "project review", promptText(chats[1]))
}

func TestChat_Continue(t *testing.T) {
	s := opencodetest.New(t, opencodetest.Reply("again", 0))
	sessions := t.TempDir()
	store, err := session.NewFileStore(sessions)
	require.NoError(t, err)
	now := time.Now()
	for i, id := range []string{"ses_old", "ses_prev"} {
		require.NoError(t, store.Save(context.Background(), &agent.SessionRecord{
			ID:        id,
			Mode:      agent.ModeHTTP,
			CreatedAt: now,
			UpdatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	r := execute(t, "go on\n", "chat", "--continue", "--server-url", s.URL, "--cwd", t.TempDir(), "--session-dir", sessions)
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "session ses_prev\n")
	assert.Contains(t, r.stdout, "again\n")
}

func TestChat_ContinueWithoutSessions(t *testing.T) {
	r := execute(t, "", "chat", "--continue", "--server-url", "http://127.0.0.1:1", "--session-dir", t.TempDir())
	assert.ErrorIs(t, r.err, agent.ErrNoSessions)
}

func TestSessions(t *testing.T) {
	dir := t.TempDir()
	store, err := session.NewFileStore(dir)
	require.NoError(t, err)
	epoch := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(context.Background(), &agent.SessionRecord{
		ID: "ses_a", Mode: agent.ModeHTTP, Model: "claude-sonnet-4-5", NumTurns: 3,
		TotalCost: decimal.RequireFromString("0.125"), UpdatedAt: epoch,
	}))
	require.NoError(t, store.Save(context.Background(), &agent.SessionRecord{
		ID: "ses_b", Mode: agent.ModeSubprocess, Model: "gpt-5", NumTurns: 1,
		UpdatedAt: epoch.Add(time.Hour),
	}))

	r := execute(t, "", "sessions", "--session-dir", dir)
	require.NoError(t, r.err)
	lines := strings.Split(strings.TrimSpace(r.stdout), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"ID", "MODE", "MODEL", "TURNS", "COST", "UPDATED"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"ses_b", "acp", "gpt-5", "1", "$0.0000"}, strings.Fields(lines[1])[:5])
	assert.Equal(t, []string{"ses_a", "http", "claude-sonnet-4-5", "3", "$0.1250"}, strings.Fields(lines[2])[:5])

	r = execute(t, "", "sessions", "rm", "ses_a", "--session-dir", dir)
	require.NoError(t, r.err)
	assert.Equal(t, "deleted ses_a\n", r.stdout)
	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ses_b", records[0].ID)

	r = execute(t, "", "sessions", "rm", "ses_a", "--session-dir", dir)
	assert.ErrorIs(t, r.err, session.ErrNotFound)
}

func TestSessions_Empty(t *testing.T) {
	dir := t.TempDir()
	r := execute(t, "", "sessions", "--session-dir", dir)
	require.NoError(t, r.err)
	assert.Empty(t, r.stdout)
	assert.Contains(t, r.stderr, "no sessions in "+dir)
}

func TestSessions_DefaultDir(t *testing.T) {
	r := execute(t, "", "sessions")
	require.NoError(t, r.err)
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(home, config.DirName, "sessions"))
}

func writeCommand(t *testing.T, projectDir, name, content string) {
	t.Helper()
	dir := filepath.Join(projectDir, config.DirName, "commands")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".md"), []byte(content), 0o644))
}
