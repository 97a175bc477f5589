// Package cli implements the opencode-agent command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	agent "github.com/armatrix/opencode-agent-sdk-go"
	"github.com/armatrix/opencode-agent-sdk-go/internal/config"
	"github.com/armatrix/opencode-agent-sdk-go/permission"
	"github.com/armatrix/opencode-agent-sdk-go/session"
)

// EnvPrefix prefixes the environment variables mirroring the flags, e.g.
// OPENCODE_AGENT_SERVER_URL for --server-url.
const EnvPrefix = "OPENCODE_AGENT"

// Flag and viper keys.
const (
	keyServerURL      = "server-url"
	keyModel          = "model"
	keyProvider       = "provider"
	keyCwd            = "cwd"
	keyConfig         = "config"
	keyPermissionMode = "permission-mode"
	keySessionDir     = "session-dir"
	keyVerbose        = "verbose"
	keyBackend        = "backend"
	keyResume         = "resume"
	keyContinue       = "continue"
	keyBudget         = "max-budget-usd"
	keyPlugin         = "plugin"
)

// app carries the state shared by the subcommands of one invocation.
type app struct {
	v *viper.Viper
}

// NewRootCmd builds the command tree. Every call gets its own viper
// instance so commands can be executed repeatedly in tests.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "opencode-agent",
		Short: "Run Claude Agent SDK style sessions against OpenCode",
		Long: `opencode-agent drives an OpenCode server the way the Claude Agent SDK
drives Claude Code. With --server-url it talks to a running "opencode serve";
without it spawns "opencode acp" and speaks JSON-RPC over stdio.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String(keyServerURL, "", "URL of a running opencode serve (empty spawns opencode acp)")
	pf.String(keyModel, "", "model id, optionally as provider/model")
	pf.String(keyProvider, "", "OpenCode provider id")
	pf.String(keyCwd, "", "project directory (default: current directory)")
	pf.StringSlice(keyConfig, nil, "settings files, lowest precedence first (default: user and project settings)")
	pf.String(keyPermissionMode, "", "default, acceptEdits, bypassPermissions or plan")
	pf.String(keySessionDir, "", "directory of stored session records (default: ~/"+config.DirName+"/sessions)")
	pf.StringSlice(keyPlugin, nil, "local plugin directories")
	pf.Float64(keyBudget, 0, "stop once this many USD are spent (0 is unlimited)")
	pf.BoolP(keyVerbose, "v", false, "log debug output to stderr")
	_ = a.v.BindPFlags(pf)

	a.v.SetEnvPrefix(EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(a.newRunCmd(), a.newChatCmd(), a.newSessionsCmd())
	return root
}

// logger writes to w at debug level with --verbose, warnings otherwise.
func (a *app) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if a.v.GetBool(keyVerbose) {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (a *app) cwd() (string, error) {
	if dir := a.v.GetString(keyCwd); dir != "" {
		return filepath.Abs(dir)
	}
	return os.Getwd()
}

func (a *app) sessionStore() (*session.FileStore, error) {
	dir := a.v.GetString(keySessionDir)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("session dir: %w", err)
		}
		dir = filepath.Join(home, config.DirName, "sessions")
	}
	return session.NewFileStore(dir)
}

// agentOptions translates the persistent flags into client options.
func (a *app) agentOptions(cmd *cobra.Command) ([]agent.Option, error) {
	cwd, err := a.cwd()
	if err != nil {
		return nil, err
	}
	sources := a.v.GetStringSlice(keyConfig)
	if len(sources) == 0 {
		sources = config.DefaultSettingsPaths(cwd)
	}

	opts := []agent.Option{
		agent.WithCwd(cwd),
		agent.WithSettingSources(sources...),
		agent.WithLogger(a.logger(cmd.ErrOrStderr())),
	}
	if m := a.v.GetString(keyPermissionMode); m != "" {
		mode, err := permission.ParseMode(m)
		if err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithPermissionMode(mode))
	}
	if url := a.v.GetString(keyServerURL); url != "" {
		opts = append(opts, agent.WithServerURL(url))
	}
	if model := a.v.GetString(keyModel); model != "" {
		opts = append(opts, agent.WithModel(model))
	}
	if provider := a.v.GetString(keyProvider); provider != "" {
		opts = append(opts, agent.WithProvider(provider))
	}
	if budget := a.v.GetFloat64(keyBudget); budget > 0 {
		opts = append(opts, agent.WithBudget(budget))
	}
	if paths := a.v.GetStringSlice(keyPlugin); len(paths) > 0 {
		plugins := make([]agent.Plugin, len(paths))
		for i, path := range paths {
			plugins[i] = agent.Plugin{Type: agent.PluginLocal, Path: path}
		}
		opts = append(opts, agent.WithPlugins(plugins...))
	}
	return opts, nil
}

// Execute runs the command line with ctx and args.
func Execute(ctx context.Context, args []string) error {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}
