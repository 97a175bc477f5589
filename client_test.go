package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armatrix/opencode-agent-sdk-go/hook"
	"github.com/armatrix/opencode-agent-sdk-go/permission"
)

func connected(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c := NewClient(opts...)
	require.NoError(t, c.Connect(testContext(t)))
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func turn(t *testing.T, c *Client, prompt string) []Message {
	t.Helper()
	ctx := testContext(t)
	require.NoError(t, c.Query(ctx, prompt))
	msgs, err := c.ReceiveResponse(ctx).Collect()
	require.NoError(t, err)
	return msgs
}

// --- HTTP mode ---

func TestClient_HTTPRoundTrip(t *testing.T) {
	f := newFakeOpenCode(t)
	c := connected(t, f.options()...)
	assert.Equal(t, "ses_1", c.SessionID())

	msgs := turn(t, c, "hi")
	require.Len(t, msgs, 4)

	initMsg, ok := msgs[0].(*SystemMessage)
	require.True(t, ok)
	assert.Equal(t, SubtypeInit, initMsg.Subtype)
	assert.Equal(t, "ses_1", initMsg.Data["session_id"])
	assert.Equal(t, DefaultModel, initMsg.Data["model"])
	wd, _ := os.Getwd()
	assert.Equal(t, wd, initMsg.Data["cwd"])

	am, ok := msgs[1].(*AssistantMessage)
	require.True(t, ok)
	assert.Equal(t, "Hello", am.Text())

	step, ok := msgs[2].(*SystemMessage)
	require.True(t, ok)
	assert.Equal(t, SubtypeStepFinish, step.Subtype)

	res, ok := msgs[3].(*ResultMessage)
	require.True(t, ok)
	assert.Equal(t, "0.25", res.TotalCostUSD.String())
	assert.Equal(t, "Hello", res.Result)
	assert.Equal(t, "stop", res.StopReason)
	assert.Equal(t, int64(10), res.Usage.InputTokens)

	f.locked(func() {
		require.Len(t, f.chats, 1)
		assert.Equal(t, map[string]any{"providerID": "anthropic", "modelID": DefaultModel}, f.chats[0]["model"])
		assert.Equal(t, []any{map[string]any{"type": "text", "text": "hi"}}, f.chats[0]["parts"])
		assert.NotContains(t, f.chats[0], "tools")
	})
	assert.Equal(t, "0.25", c.TotalCost().String())
}

func TestClient_ModelAndTools(t *testing.T) {
	f := newFakeOpenCode(t)
	c := connected(t, f.options(
		WithModel("openai/gpt-5"),
		WithDisallowedTools("bash", "webfetch"),
		WithSystemPrompt("be brief"),
	)...)
	turn(t, c, "hi")

	f.locked(func() {
		body := f.chats[0]
		assert.Equal(t, map[string]any{"providerID": "openai", "modelID": "gpt-5"}, body["model"])
		assert.Equal(t, map[string]any{"bash": false, "webfetch": false}, body["tools"])
		assert.Equal(t, "be brief", body["system"])
	})
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient()
	err := c.Query(context.Background(), "hi")

	var pe *ProcessError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.ExitCode)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.ReceiveResponse(context.Background()).Collect()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Interrupt(context.Background()), ErrNotConnected)
	assert.Empty(t, c.SessionID())
	assert.NoError(t, c.Disconnect())
}

func TestClient_ConnectTwice(t *testing.T) {
	f := newFakeOpenCode(t)
	c := connected(t, f.options()...)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)
}

func TestClient_ReceiveWithoutQuery(t *testing.T) {
	f := newFakeOpenCode(t)
	c := connected(t, f.options()...)
	_, err := c.ReceiveResponse(context.Background()).Collect()
	assert.ErrorIs(t, err, ErrNoQuery)
}

func TestClient_PromptBlockedByHook(t *testing.T) {
	f := newFakeOpenCode(t)
	var seen string
	c := connected(t, f.options(WithHooks(hook.Matcher{
		Event: hook.UserPromptSubmit,
		Hooks: []hook.Func{func(_ context.Context, in *hook.Input, _ string, _ *hook.Context) (*hook.Output, error) {
			seen = in.Prompt
			return hook.Halt("no secrets"), nil
		}},
	}))...)

	err := c.Query(context.Background(), "my password is hunter2")
	require.ErrorIs(t, err, ErrPromptBlocked)
	assert.Contains(t, err.Error(), "no secrets")
	assert.Equal(t, "my password is hunter2", seen)
	f.locked(func() { assert.Empty(t, f.chats) })
}

func TestClient_MaxTurns(t *testing.T) {
	f := newFakeOpenCode(t)
	c := connected(t, f.options(WithMaxTurns(1))...)

	turn(t, c, "one")
	assert.ErrorIs(t, c.Query(context.Background(), "two"), ErrMaxTurns)
}

func TestClient_BudgetExhausted(t *testing.T) {
	f := newFakeOpenCode(t)
	c := connected(t, f.options(WithBudget(0.1))...)

	turn(t, c, "one")
	assert.ErrorIs(t, c.Query(context.Background(), "two"), ErrBudgetExhausted)
}

func TestClient_PermissionsThroughHooks(t *testing.T) {
	f := newFakeOpenCode(t)
	f.script = func(sid string) []string {
		return []string{
			`{"type":"permission.updated","properties":{"id":"perm_1","type":"bash","sessionID":"ses_1","callID":"call_1","metadata":{"command":"rm -rf /"}}}`,
			`{"type":"permission.updated","properties":{"id":"perm_2","type":"read","sessionID":"ses_1","callID":"call_2","metadata":{"filePath":"main.go"}}}`,
			`{"type":"permission.updated","properties":{"id":"perm_3","type":"edit","sessionID":"ses_1","callID":"call_3","metadata":{"filePath":"main.go"}}}`,
			idleEvent(sid),
		}
	}
	var inputs []*hook.Input
	c := connected(t, f.options(
		WithHooks(permission.DefaultPolicy().Matcher()),
		WithHooks(hook.Matcher{Event: hook.PreToolUse, Pattern: "edit", Hooks: []hook.Func{
			func(_ context.Context, in *hook.Input, toolUseID string, hctx *hook.Context) (*hook.Output, error) {
				inputs = append(inputs, in)
				assert.Equal(t, "call_3", toolUseID)
				assert.Equal(t, "ses_1", hctx.SessionID)
				return hook.Deny("read only"), nil
			},
		}}),
	)...)

	msgs := turn(t, c, "clean up")

	f.locked(func() {
		assert.Equal(t, map[string]string{
			"perm_1": permission.ReplyReject,
			"perm_2": permission.ReplyOnce,
			"perm_3": permission.ReplyReject,
		}, f.permissions)
	})
	require.Len(t, inputs, 1)
	assert.Equal(t, "main.go", inputs[0].ToolInput["filePath"])

	var replies []any
	for _, m := range msgs {
		if sm, ok := m.(*SystemMessage); ok && sm.Subtype == SubtypePermission {
			replies = append(replies, sm.Data["reply"])
		}
	}
	assert.Equal(t, []any{"reject", "once", "reject"}, replies)
}

func TestClient_PermissionModePlan(t *testing.T) {
	f := newFakeOpenCode(t)
	f.script = func(sid string) []string {
		return []string{
			`{"type":"permission.updated","properties":{"id":"perm_1","type":"write","sessionID":"ses_1"}}`,
			idleEvent(sid),
		}
	}
	c := connected(t, f.options(WithPermissionMode(permission.ModePlan))...)
	turn(t, c, "write it")
	f.locked(func() { assert.Equal(t, permission.ReplyReject, f.permissions["perm_1"]) })
}

func TestClient_PostToolUseHook(t *testing.T) {
	f := newFakeOpenCode(t)
	f.script = func(sid string) []string {
		return []string{
			`{"type":"message.part.updated","properties":{"part":{"id":"t1","sessionID":"ses_1","type":"tool","tool":"bash","callID":"call_1","state":{"status":"running","input":{"command":"ls"}}}}}`,
			`{"type":"message.part.updated","properties":{"part":{"id":"t1","sessionID":"ses_1","type":"tool","tool":"bash","callID":"call_1","state":{"status":"completed","input":{"command":"ls"},"output":"main.go"}}}}`,
			idleEvent(sid),
		}
	}
	var got *hook.Input
	c := connected(t, f.options(WithHooks(hook.Matcher{Event: hook.PostToolUse, Pattern: "bash", Hooks: []hook.Func{
		func(_ context.Context, in *hook.Input, _ string, _ *hook.Context) (*hook.Output, error) {
			got = in
			return nil, nil
		},
	}}))...)

	turn(t, c, "list")
	require.NotNil(t, got)
	assert.Equal(t, hook.PostToolUse, got.HookEventName)
	assert.Equal(t, "main.go", got.ToolOutput)
	assert.Equal(t, "ls", got.ToolInput["command"])
}

func TestClient_StopHook(t *testing.T) {
	f := newFakeOpenCode(t)
	reasons := make(chan string, 1)
	c := connected(t, f.options(WithHooks(hook.Matcher{Event: hook.Stop, Hooks: []hook.Func{
		func(_ context.Context, in *hook.Input, _ string, _ *hook.Context) (*hook.Output, error) {
			reasons <- in.StopReason
			return nil, nil
		},
	}}))...)

	turn(t, c, "hi")
	select {
	case r := <-reasons:
		assert.Equal(t, "stop", r)
	case <-time.After(time.Second):
		t.Fatal("stop hook not called")
	}
}

func TestClient_Interrupt(t *testing.T) {
	f := newFakeOpenCode(t)
	c := connected(t, f.options()...)
	require.NoError(t, c.Interrupt(context.Background()))
	f.locked(func() { assert.Equal(t, []string{"ses_1"}, f.aborted) })
}

func TestClient_Messages(t *testing.T) {
	f := newFakeOpenCode(t)
	c := connected(t, f.options()...)

	msgs, err := c.Messages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	um, ok := msgs[0].(*UserMessage)
	require.True(t, ok)
	assert.Equal(t, []Part{TextPart("hi")}, um.Content)

	am, ok := msgs[1].(*AssistantMessage)
	require.True(t, ok)
	assert.Equal(t, "hello", am.Text())
	assert.Equal(t, "claude-sonnet-4-5", am.Model)
}

func TestClient_DisconnectDeletesSession(t *testing.T) {
	f := newFakeOpenCode(t)
	c := NewClient(f.options()...)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	f.locked(func() { assert.Equal(t, []string{"ses_1"}, f.deleted) })
	assert.Empty(t, c.SessionID())
}

func TestClient_DisconnectSavesRecord(t *testing.T) {
	f := newFakeOpenCode(t)
	store := newRecordingStore()
	c := NewClient(f.options(WithSessionStore(store))...)
	require.NoError(t, c.Connect(context.Background()))
	turn(t, c, "hi")
	require.NoError(t, c.Disconnect())

	f.locked(func() { assert.Empty(t, f.deleted, "stored sessions stay on the server") })
	rec, err := store.Load(context.Background(), "ses_1")
	require.NoError(t, err)
	assert.Equal(t, ModeHTTP, rec.Mode)
	assert.Equal(t, DefaultModel, rec.Model)
	assert.Equal(t, f.srv.URL, rec.ServerURL)
	assert.Equal(t, 1, rec.NumTurns)
	assert.Equal(t, "0.25", rec.TotalCost.String())
	assert.Equal(t, int64(5), rec.Usage.OutputTokens)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestClient_ContinueLatest(t *testing.T) {
	f := newFakeOpenCode(t)
	now := time.Now()
	store := newRecordingStore(
		&SessionRecord{ID: "ses_older", UpdatedAt: now.Add(-time.Hour)},
		&SessionRecord{ID: "ses_old", NumTurns: 3, TotalCost: decimal.RequireFromString("1.5"), CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now},
	)
	c := NewClient(f.options(WithSessionStore(store))...)

	require.NoError(t, c.ContinueLatest(context.Background()))
	assert.Equal(t, "ses_old", c.Options().Resume)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, "ses_old", c.SessionID())
	f.locked(func() { assert.Equal(t, []string{"ses_old"}, f.gets) })
	assert.ErrorIs(t, c.ContinueLatest(context.Background()), ErrAlreadyConnected)

	turn(t, c, "again")
	require.NoError(t, c.Disconnect())
	rec, err := store.Load(context.Background(), "ses_old")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.NumTurns)
	assert.Equal(t, "1.75", rec.TotalCost.String())
}

func TestClient_ContinueLatestErrors(t *testing.T) {
	assert.ErrorIs(t, NewClient().ContinueLatest(context.Background()), ErrNoSessionStore)
	assert.ErrorIs(t, NewClient(WithSessionStore(newRecordingStore())).ContinueLatest(context.Background()), ErrNoSessions)
}

func TestClient_ResumeUnknownSession(t *testing.T) {
	f := newFakeOpenCode(t)
	c := NewClient(f.options(WithResume("ses_missing"))...)

	err := c.Connect(context.Background())
	var pe *ProcessError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 404, pe.StatusCode)
	assert.Empty(t, c.SessionID())
}

func TestClient_SettingsAndSkills(t *testing.T) {
	dir := t.TempDir()
	skills := filepath.Join(dir, "skills")
	require.NoError(t, os.Mkdir(skills, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skills, "go.md"), []byte("---\ndescription: Go rules\n---\nUse gofmt.\n"), 0o644))

	settings := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(settings, []byte(
		"model: claude-haiku-4-5\nsystemPrompt: from settings\ndisallowedTools: [bash]\nskillDirs: ["+skills+"]\n"), 0o644))

	f := newFakeOpenCode(t)
	c := connected(t, f.options(
		WithSettingSources(settings),
		WithSystemPrompt("explicit"),
	)...)
	turn(t, c, "hi")

	f.locked(func() {
		body := f.chats[0]
		assert.Equal(t, "claude-haiku-4-5", body["model"].(map[string]any)["modelID"])
		assert.Equal(t, map[string]any{"bash": false}, body["tools"])
		assert.Equal(t, "# Available Skills\n\n## go\n\nGo rules\n\nUse gofmt.\n\nexplicit", body["system"])
	})
}

func TestClient_InvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	c := NewClient(WithServerURL("http://127.0.0.1:1"), WithSettingSources(path))
	assert.Error(t, c.Connect(context.Background()))
}

func TestClient_InvalidHookPattern(t *testing.T) {
	c := NewClient(WithServerURL("http://127.0.0.1:1"), WithHooks(hook.Matcher{Event: hook.PreToolUse, Pattern: "("}))
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hooks")
}

func TestClient_ServerUnreachable(t *testing.T) {
	c := NewClient(WithServerURL("http://127.0.0.1:1"), WithLogger(quiet))
	err := c.Connect(context.Background())
	var pe *ProcessError
	assert.True(t, errors.As(err, &pe), "got %v", err)
}

// --- Package-level Query ---

func TestQuery_OneShot(t *testing.T) {
	f := newFakeOpenCode(t)

	var kinds []string
	for msg, err := range Query(testContext(t), "hi", f.options()...).All() {
		require.NoError(t, err)
		kinds = append(kinds, msg.MessageType())
	}
	assert.Equal(t, []string{"system", "assistant", "system", "result"}, kinds)
	f.locked(func() { assert.Equal(t, []string{"ses_1"}, f.deleted) })
}

func TestQuery_ConnectError(t *testing.T) {
	_, err := Query(context.Background(), "hi", WithServerURL("http://127.0.0.1:1"), WithLogger(quiet)).Collect()
	var pe *ProcessError
	assert.ErrorAs(t, err, &pe)
}
