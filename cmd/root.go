// Package cmd provides the bastion command-line interface.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X bastion/cmd.Version=..."
var Version = "dev"

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	configFile string
	noColor    bool
)

const defaultTimeout = 5 * time.Minute

// NewRootCmd creates the bastion root command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bastion",
		Short: "Host security telemetry and active defense",
		Long: `bastion records host security events into a local SQLite store.

It baselines critical files and alerts on drift, runs deception listeners,
ingests threat-intel feeds into a packet-filter chain and watches processes,
connections and resource usage.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file path (required)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newUpdateFeedsCmd())
	rootCmd.AddCommand(newStatusCmd())

	return rootCmd
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func requireConfig() error {
	if configFile == "" {
		return fmt.Errorf("--config is required")
	}
	return nil
}
