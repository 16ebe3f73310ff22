package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/chatvault/internal/exporter"
)

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file without exporting anything",
		Args:  cobra.NoArgs,
		RunE:  runValidate,
	}
	cmd.Flags().Bool("check-exporter", false, "Also verify the exporter binary can be found")
	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	logger := loggerFor(cmd)
	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return err
	}

	if check, _ := cmd.Flags().GetBool("check-exporter"); check {
		if err := exporter.NewCommand(cfg.Exporter, logger).Check(); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration valid: %d enabled sources, %d tokens.\n", len(cfg.Sources), cfg.TokenCount)
	for _, s := range cfg.Sources {
		throttle := "none"
		if s.ThrottleHours > 0 {
			throttle = formatHours(s.ThrottleHours)
		}
		fmt.Fprintf(out, "  %-24s %-6s from %s  throttle %s  token %s\n", s.Name, s.Kind, s.StartMonth, throttle, s.TokenName)
	}
	return nil
}
