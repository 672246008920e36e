// Package cmd defines and implements the CLI commands for the harvester
// executable.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Archive crawler that backfills historical release downloads.",
		Long: `harvester walks the configured distribution archive mirrors,
discovers historical release versions and their install media, and upserts
them into the catalog database without creating duplicates.`,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the configuration file")
	cmd.AddCommand(newHarvestCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
