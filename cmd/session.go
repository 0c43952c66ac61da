package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	statusadapter "github.com/bnema/accountctl/internal/adapters/render/status"
	"github.com/bnema/accountctl/internal/domain"
	"github.com/spf13/cobra"
)

func newSessionCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and prune cached browser sessions",
	}

	cmd.AddCommand(
		newSessionListCmd(app),
		newSessionCheckCmd(app),
		newSessionDeleteCmd(app),
		newSessionPurgeCmd(app),
	)

	return cmd
}

func newSessionListCmd(app *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			summaries, err := app.sessions.ListAll(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(summaries)
			}

			rendered, err := app.renderSessions(summaries, statusadapter.RenderOptions{Now: app.now()})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print sessions as JSON")

	return cmd
}

func newSessionCheckCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <account>",
		Short: "Report whether an account has a reusable session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.AccountID(strings.TrimSpace(args[0]))

			state := "invalid"
			if app.sessions.IsValid(cmd.Context(), id) {
				state = "valid"
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, state)
			return nil
		},
	}
}

func newSessionDeleteCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <account>",
		Short: "Delete the cached session of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.AccountID(strings.TrimSpace(args[0]))
			if err := app.sessions.Delete(cmd.Context(), id); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted session of %s\n", id)
			return nil
		},
	}
}

func newSessionPurgeCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired and unreadable sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			purged, err := app.sessions.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Purged %d sessions\n", purged)
			return nil
		},
	}
}
