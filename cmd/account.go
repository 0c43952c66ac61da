package cmd

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/bnema/accountctl/internal/application"
	"github.com/bnema/accountctl/internal/domain"
	"github.com/spf13/cobra"
)

func newAccountCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	cmd.AddCommand(
		newAccountSetCmd(app),
		newAccountRemoveCmd(app),
		newAccountListCmd(app),
	)

	return cmd
}

func newAccountSetCmd(app *app) *cobra.Command {
	var accountID string
	var name string
	var login string
	var password string
	var seed string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create an account or update its credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolvedAccountID, err := resolveAccountID(cmd.Context(), app, accountID)
			if err != nil {
				return err
			}

			err = app.accounts.SetCredential(cmd.Context(), application.SetCredentialCommand{
				ID:               resolvedAccountID,
				Name:             name,
				Login:            login,
				Secret:           password,
				SecondFactorSeed: seed,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved account %s\n", resolvedAccountID)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "0", "Account ID (0 or empty auto-assigns next: 1,2,...)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&login, "login", "", "Login identifier (defaults to the account ID)")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.Flags().StringVar(&seed, "totp-seed", "", "Base32 TOTP seed for the second factor")

	return cmd
}

func newAccountRemoveCmd(app *app) *cobra.Command {
	var credentialsOnly bool

	cmd := &cobra.Command{
		Use:   "remove <account>",
		Short: "Remove an account with its secrets, session and proxy binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.AccountID(strings.TrimSpace(args[0]))

			if credentialsOnly {
				if err := app.accounts.RemoveCredential(cmd.Context(), id); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed credentials of account %s\n", id)
				return nil
			}

			if err := app.accounts.RemoveAccount(cmd.Context(), id); err != nil {
				return err
			}
			if err := app.sessions.Delete(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete cached session: %w", err)
			}
			if err := app.proxies.Release(cmd.Context(), id); err != nil && !errors.Is(err, domain.ErrProxyNotAssigned) {
				return fmt.Errorf("release proxy: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed account %s\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&credentialsOnly, "credentials-only", false, "Only delete the stored password and TOTP seed")

	return cmd
}

func newAccountListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			statuses, err := app.accounts.List(cmd.Context())
			if err != nil {
				return err
			}

			if len(statuses) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No accounts configured.")
				return nil
			}

			for _, status := range statuses {
				proxy := "-"
				record, err := app.proxies.Lookup(cmd.Context(), status.Account.ID)
				if err != nil {
					return err
				}
				if record != nil {
					proxy = record.Endpoint()
				}

				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tpassword=%s\t2fa=%s\tproxy=%s\n",
					status.Account.ID,
					sanitizeForTerminal(status.Account.Name),
					yesNo(status.HasPassword),
					yesNo(status.HasSecondFactor),
					proxy,
				)
			}

			return nil
		},
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func sanitizeForTerminal(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
}
