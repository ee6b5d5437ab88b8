package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"bastion/bootstrap"
	"bastion/core"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// statusReport is what 'status' prints in every output format
type statusReport struct {
	Counts core.StatusCounts  `json:"counts" yaml:"counts"`
	Recent        []core.SystemEvent `json:"recent_events,omitempty" yaml:"recent_events,omitempty"`
	RecentAttacks []core.AttackEvent `json:"recent_attacks,omitempty" yaml:"recent_attacks,omitempty"`
}

// newStatusCmd creates the 'status' subcommand
func newStatusCmd() *cobra.Command {
	var (
		output string
		recent int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print event store counters",
		Long:  "Print total threat indicators, total attack events and CRITICAL system events.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireConfig(); err != nil {
				return err
			}
			switch output {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("invalid --output %q: must be table, json or yaml", output)
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			cfg, err := bootstrap.InitConfig(configFile)
			if err != nil {
				return err
			}
			store, err := bootstrap.InitStore(cfg, zap.NewNop().Sugar())
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := loadStatus(ctx, store, recent)
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), output, report)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	cmd.Flags().IntVar(&recent, "recent", 0, "Also show the N most recent system and attack events")
	return cmd
}

type statusSource interface {
	Counts(ctx context.Context) (core.StatusCounts, error)
	RecentSystemEvents(ctx context.Context, limit int) ([]core.SystemEvent, error)
	RecentAttackEvents(ctx context.Context, limit int) ([]core.AttackEvent, error)
}

func loadStatus(ctx context.Context, store statusSource, recent int) (statusReport, error) {
	counts, err := store.Counts(ctx)
	if err != nil {
		return statusReport{}, fmt.Errorf("failed to read counters: %w", err)
	}
	report := statusReport{Counts: counts}
	if recent > 0 {
		report.Recent, err = store.RecentSystemEvents(ctx, recent)
		if err != nil {
			return statusReport{}, fmt.Errorf("failed to read recent events: %w", err)
		}
		report.RecentAttacks, err = store.RecentAttackEvents(ctx, recent)
		if err != nil {
			return statusReport{}, fmt.Errorf("failed to read recent attacks: %w", err)
		}
	}
	return report, nil
}

func writeStatus(w io.Writer, format string, report statusReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		renderStatusTable(w, report)
		return nil
	}
}
