// Package cmd wires the CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sportsfeed",
		Short: "Sports-data document ingestion pipeline.",
		Long: `sportsfeed crawls a third-party sports-data API, detects document
changes by normalized content hash, republishes changes as events, and
materializes the documents into canonical entities.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is environment-only)")
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
