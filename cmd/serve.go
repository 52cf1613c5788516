package cmd

import (
	"github.com/spf13/cobra"
)

func newWebCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "web",
		Short: "Serve the HTTP API",
		Long: `Serves webhooks, the public widget endpoints, health checks, and metrics.
With the memory queue backend the job worker runs in the same process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return app.RunWeb(cmd.Context()) //nolint:wrapcheck // RunWeb names its failures
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume background jobs",
		Long: `Connects to Postgres, retrying on failure, then consumes the normal and low
priority job queues until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return app.RunWorker(cmd.Context()) //nolint:wrapcheck // RunWorker names its failures
		},
	}
}
