package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	agent "github.com/armatrix/opencode-agent-sdk-go"
	"github.com/armatrix/opencode-agent-sdk-go/internal/config"
	"github.com/armatrix/opencode-agent-sdk-go/plugin"
)

const chatHelp = `/exit, /quit   leave the chat
/cost          show the cost of this session
/session       show the session id
/help          show this help`

func (a *app) newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session",
		Long: `chat reads prompts line by line and streams the answers. Lines starting
with "/" run built-in commands or the markdown commands found in
plugins, ~/` + config.DirName + `/commands and <cwd>/` + config.DirName + `/commands.`,
		Args: cobra.NoArgs,
		RunE: a.chat,
	}
	cmd.Flags().String(keyResume, "", "resume the session with this id")
	cmd.Flags().BoolP(keyContinue, "c", false, "resume the most recent stored session")
	_ = a.v.BindPFlag(keyResume, cmd.Flags().Lookup(keyResume))
	_ = a.v.BindPFlag(keyContinue, cmd.Flags().Lookup(keyContinue))
	return cmd
}

func (a *app) chat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	opts, err := a.agentOptions(cmd)
	if err != nil {
		return err
	}
	store, err := a.sessionStore()
	if err != nil {
		return err
	}
	opts = append(opts, agent.WithSessionStore(store))
	if id := a.v.GetString(keyResume); id != "" {
		opts = append(opts, agent.WithResume(id))
	}

	client := agent.NewClient(opts...)
	if a.v.GetBool(keyContinue) {
		if err := client.ContinueLatest(ctx); err != nil {
			return fmt.Errorf("continue: %w", err)
		}
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = client.Disconnect() }()

	commands, err := config.LoadCommands(commandDirs(client.Options())...)
	if err != nil {
		return fmt.Errorf("load commands: %w", err)
	}

	fmt.Fprintf(out, "session %s\n", client.SessionID())
	in := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}

		prompt := line
		if strings.HasPrefix(line, "/") {
			name, _, _ := strings.Cut(line[1:], " ")
			switch name {
			case "exit", "quit":
				return nil
			case "cost":
				fmt.Fprintf(out, "$%s\n", client.TotalCost().StringFixed(4))
				continue
			case "session":
				fmt.Fprintln(out, client.SessionID())
				continue
			case "help":
				fmt.Fprintln(out, chatHelp)
				for _, c := range commands {
					fmt.Fprintf(out, "/%-13s %s\n", c.Name, c.FilePath)
				}
				continue
			}
			expanded, ok := config.ExpandInput(commands, line)
			if !ok {
				fmt.Fprintf(out, "unknown command /%s\n", name)
				continue
			}
			prompt = expanded
		}

		if err := a.turn(ctx, client, prompt, out); err != nil {
			return err
		}
	}
}

// commandDirs lists plugin command directories before the user and
// project ones, so the latter override plugin commands of the same name.
func commandDirs(o agent.AgentOptions) []string {
	var dirs []string
	for _, ref := range o.Plugins {
		path := ref.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(o.Cwd, path)
		}
		if p, err := plugin.Load(path); err == nil {
			dirs = append(dirs, p.CommandsDir())
		}
	}
	return append(dirs, config.DefaultCommandDirs(o.Cwd)...)
}

// turn sends one prompt and prints the streamed answer. Text deltas are
// printed as they arrive and the answer ends with a newline. A prompt
// refused before it is sent is reported and the chat goes on.
func (a *app) turn(ctx context.Context, client *agent.Client, prompt string, out io.Writer) error {
	if err := client.Query(ctx, prompt); err != nil {
		if refused(err) {
			fmt.Fprintln(out, err)
			return nil
		}
		return err
	}
	var open bool
	endLine := func() {
		if open {
			fmt.Fprintln(out)
			open = false
		}
	}
	defer endLine()
	for msg, err := range client.ReceiveResponse(ctx).All() {
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *agent.AssistantMessage:
			if text := m.Text(); text != "" {
				fmt.Fprint(out, text)
				open = !strings.HasSuffix(text, "\n")
			}
			for _, tu := range m.ToolUses() {
				endLine()
				fmt.Fprintf(out, "[%s]\n", tu.Name)
			}
		case *agent.ResultMessage:
			endLine()
			if m.IsError {
				fmt.Fprintf(out, "error: %s\n", m.Result)
			}
		}
	}
	return nil
}

// refused reports whether err rejected a prompt without ending the
// session.
func refused(err error) bool {
	return errors.Is(err, agent.ErrPromptBlocked) ||
		errors.Is(err, agent.ErrBudgetExhausted) ||
		errors.Is(err, agent.ErrMaxTurns)
}
