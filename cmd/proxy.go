package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/spf13/cobra"
)

var errBindingViolations = errors.New("proxy bindings violate the one proxy per account rule")

func newProxyCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Manage account to proxy bindings",
	}

	cmd.AddCommand(
		newProxyAssignCmd(app),
		newProxyReassignCmd(app),
		newProxyReleaseCmd(app),
		newProxyShowCmd(app),
		newProxyStatsCmd(app),
		newProxyValidateCmd(app),
	)

	return cmd
}

func newProxyAssignCmd(app *app) *cobra.Command {
	var index int

	cmd := &cobra.Command{
		Use:   "assign <account>",
		Short: "Bind an account to a proxy (lowest free one unless --index is set)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var requested *int
			if cmd.Flags().Changed("index") {
				requested = &index
			}

			id := domain.AccountID(strings.TrimSpace(args[0]))
			record, err := app.proxies.Assign(cmd.Context(), id, requested)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Assigned %s to %s\n", record.Endpoint(), id)
			return nil
		},
	}

	cmd.Flags().IntVar(&index, "index", 0, "Zero-based proxy index")

	return cmd
}

func newProxyReassignCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reassign <account> <index>",
		Short: "Move an account to the proxy at index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil {
				return fmt.Errorf("%w: %q", domain.ErrInvalidProxyIndex, args[1])
			}

			id := domain.AccountID(strings.TrimSpace(args[0]))
			record, err := app.proxies.Reassign(cmd.Context(), id, index)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reassigned %s to %s\n", id, record.Endpoint())
			return nil
		},
	}
}

func newProxyReleaseCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "release <account>",
		Short: "Drop the proxy binding of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.AccountID(strings.TrimSpace(args[0]))
			if err := app.proxies.Release(cmd.Context(), id); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Released proxy of %s\n", id)
			return nil
		},
	}
}

func newProxyShowCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <account>",
		Short: "Show the proxy bound to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.AccountID(strings.TrimSpace(args[0]))
			record, err := app.proxies.Lookup(cmd.Context(), id)
			if err != nil {
				return err
			}
			if record == nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: no proxy\n", id)
				return nil
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (auth: %s)\n", id, record.Endpoint(), yesNo(record.HasAuth()))
			return nil
		},
	}
}

func newProxyStatsCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show proxy pool usage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := app.proxies.Stats(cmd.Context())
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "total: %d\n", stats.Total)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "assigned: %d\n", stats.Assigned)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "available: %d\n", stats.Available)
			return nil
		},
	}
}

func newProxyValidateCmd(app *app) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that no proxy is shared and every binding is in the pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := app.proxies.Validate(cmd.Context(), repair)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "checked: %d\n", report.Checked)
			if report.OK() {
				_, _ = fmt.Fprintln(out, "bindings: ok")
				return nil
			}

			for _, violation := range report.Violations {
				line := fmt.Sprintf("%s\t%s\t%s", violation.AccountID, violation.Issue, violation.Proxy)
				if violation.KeptBy != "" {
					line += "\tkept by " + string(violation.KeptBy)
				}
				_, _ = fmt.Fprintln(out, line)
			}

			if report.Repaired {
				_, _ = fmt.Fprintf(out, "repaired: dropped %d bindings\n", len(report.Violations))
				return nil
			}

			return fmt.Errorf("%w: %d found, rerun with --repair", errBindingViolations, len(report.Violations))
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Drop offending bindings")

	return cmd
}
