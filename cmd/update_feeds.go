package cmd

import (
	"context"
	"fmt"
	"time"

	"bastion/bootstrap"
	"bastion/threat"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newUpdateFeedsCmd creates the 'update-feeds' subcommand
func newUpdateFeedsCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "update-feeds",
		Short: "Fetch every configured threat-intel feed once",
		Long:  "Download the configured feeds, upsert each indicator and print how many were ingested.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireConfig(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			cfg, err := bootstrap.InitConfig(configFile)
			if err != nil {
				return err
			}

			sugar := zap.NewNop().Sugar()
			if !quiet {
				cfg.Logging.Level = "warn"
				_, sugar, err = bootstrap.InitLogger(cfg)
				if err != nil {
					return fmt.Errorf("failed to initialize logger: %w", err)
				}
			}

			store, err := bootstrap.InitStore(cfg, sugar)
			if err != nil {
				return err
			}
			defer store.Close()

			engine := threat.NewEngine(store, threat.Config{
				URLs:           cfg.Modules.ThreatIntel.URLs,
				UpdateInterval: cfg.FeedInterval(),
				RequestTimeout: cfg.FeedTimeout(),
				RetryMax:       cfg.Modules.ThreatIntel.RetryMax,
			}, sugar)

			var s *spinner.Spinner
			if !quiet {
				infoColor.Fprintf(cmd.OutOrStdout(), "Updating %d feeds...\n", len(cfg.Modules.ThreatIntel.URLs))
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = " Fetching indicators..."
				s.Start()
			}

			n, err := engine.UpdateOnce(ctx)

			if s != nil {
				s.Stop()
			}
			if err != nil {
				return fmt.Errorf("feed update failed: %w", err)
			}

			successColor.Fprintf(cmd.OutOrStdout(), "Ingested %d indicators\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}
