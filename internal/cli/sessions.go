package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"ls"},
		Short:   "List stored sessions, newest first",
		Args:    cobra.NoArgs,
		RunE:    a.listSessions,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id...>",
		Short: "Delete stored session records",
		Long:  "rm deletes the local records only; the sessions stay on the OpenCode server.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  a.removeSessions,
	})
	return cmd
}

func (a *app) listSessions(cmd *cobra.Command, _ []string) error {
	store, err := a.sessionStore()
	if err != nil {
		return err
	}
	records, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no sessions in", store.Dir())
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tMODEL\tTURNS\tCOST\tUPDATED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t$%s\t%s\n",
			r.ID, r.Mode, r.Model, r.NumTurns, r.TotalCost.StringFixed(4), r.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func (a *app) removeSessions(cmd *cobra.Command, args []string) error {
	store, err := a.sessionStore()
	if err != nil {
		return err
	}
	for _, id := range args {
		if err := store.Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "deleted", id)
	}
	return nil
}
