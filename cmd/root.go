package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "accountctl",
		Short:         "accountctl: run browser workloads across many accounts",
		Long:          "accountctl stores account credentials, binds each account to a dedicated proxy, caches sealed browser sessions and runs warmup, message and check jobs across batches of accounts.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return app.Close()
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newAccountCmd(app),
		newProxyCmd(app),
		newSessionCmd(app),
		newJobCmd(app),
	)

	return rootCmd
}
