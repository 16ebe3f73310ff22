package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatvault",
		Short:         "Incremental monthly archives of Discord servers and direct messages",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringP("config", "c", envOr("CHATVAULT_CONFIG", "config.json"), "Path to the configuration file (JSON or YAML)")
	root.PersistentFlags().String("log-level", envOr("CHATVAULT_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", envOr("CHATVAULT_LOG_FORMAT", "text"), "Log format: text or json")

	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(decryptCmd())
	root.AddCommand(fetchCmd())
	return root
}
