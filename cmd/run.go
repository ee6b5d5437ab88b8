package cmd

import (
	"context"
	"fmt"

	"bastion/bootstrap"

	"github.com/spf13/cobra"
)

// newRunCmd creates the 'run' subcommand
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start all enabled modules in the foreground",
		Long: `Start the firewall, integrity monitor, honeypot, threat-intel, resource
monitor and auto-update loops. Runs until interrupted (SIGINT or SIGTERM).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireConfig(); err != nil {
				return err
			}

			cfg, err := bootstrap.InitConfig(configFile)
			if err != nil {
				return err
			}

			logger, sugar, err := bootstrap.InitLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			store, err := bootstrap.InitStore(cfg, sugar)
			if err != nil {
				return err
			}

			app, err := bootstrap.NewApp(cfg, store, sugar, bootstrap.WithVersion(Version))
			if err != nil {
				_ = store.Close()
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					sugar.Warnw("Failed to close event store", "error", err)
				}
			}()

			return app.RunUntilSignal(context.Background())
		},
	}
}
