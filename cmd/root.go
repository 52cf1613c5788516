// Package cmd defines the contractor-socket CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/contractor-socket/internal/config"
	"github.com/JakeFAU/contractor-socket/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands drive. Tests swap in a fake.
type App interface {
	RunWeb(ctx context.Context) error
	RunWorker(ctx context.Context) error
	Migrate(ctx context.Context) error
	Sync(ctx context.Context, publicKey string) error
	Close()
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err //nolint:wrapcheck // Build names its failures
	}
	return app, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "socket",
		Short: "Public contractor directory and enquiry service for tenant websites.",
		Long: `socket serves a tenant's contractors, appointments, and enquiry form to
embedded website widgets, keeps them in step with the upstream platform via
signed webhooks, and runs the background jobs that fetch photos and forward
enquiries.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables use the SOCKET_ prefix)")

	cmd.AddCommand(newWebCmd(), newWorkerCmd(), newMigrateCmd(), newSyncCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
		os.Exit(1)
	}
}
