package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/armatrix/opencode-agent-sdk-go/backend"
)

func (a *app) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <prompt...>",
		Short: "Run a single prompt and print the answer",
		Long: `run sends one prompt and prints the final text. A prompt of "-" is read
from stdin. --backend claude calls the Anthropic API directly and needs
ANTHROPIC_API_KEY.`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.run,
	}
	cmd.Flags().String(keyBackend, backend.NameOpenCode, "backend: opencode or claude")
	_ = a.v.BindPFlag(keyBackend, cmd.Flags().Lookup(keyBackend))
	return cmd
}

func (a *app) run(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")
	if prompt == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(b))
	}

	agentOpts, err := a.agentOptions(cmd)
	if err != nil {
		return err
	}
	logger := a.logger(cmd.ErrOrStderr())
	opts := []backend.Option{
		backend.WithLogger(logger),
		backend.WithAgentOptions(agentOpts...),
	}
	if url := a.v.GetString(keyServerURL); url != "" {
		opts = append(opts, backend.WithServerURL(url))
	}
	if model := a.model(); model != "" {
		opts = append(opts, backend.WithModel(model))
	}
	if budget := a.v.GetFloat64(keyBudget); budget > 0 {
		opts = append(opts, backend.WithBudget(budget))
	}

	res, err := backend.RunAgent(cmd.Context(), a.v.GetString(keyBackend), prompt, opts...)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Text)
	for _, d := range res.Denied {
		fmt.Fprintf(cmd.ErrOrStderr(), "denied %s: %s\n", d.Tool, d.Reason)
	}
	logger.Debug("run finished",
		"backend", res.Backend,
		"model", res.Model,
		"cost_usd", res.Cost.String(),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
	)
	return nil
}

// model joins --provider and --model unless the model already names
// its provider.
func (a *app) model() string {
	model := a.v.GetString(keyModel)
	provider := a.v.GetString(keyProvider)
	if model == "" || provider == "" || strings.Contains(model, "/") {
		return model
	}
	return provider + "/" + model
}
