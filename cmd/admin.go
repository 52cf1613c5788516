package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return app.Migrate(cmd.Context()) //nolint:wrapcheck // Migrate names its failures
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <public_key>",
		Short: "Queue a full contractor pull for a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.Sync(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("sync %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sync queued for %s\n", args[0])
			return nil
		},
	}
}
