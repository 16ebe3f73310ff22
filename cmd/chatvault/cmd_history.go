package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/chatvault/internal/model"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent export attempts",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().String("source", "", "Only show attempts for this source name or ID")
	cmd.Flags().IntP("limit", "n", 20, "Number of attempts to show")
	cmd.Flags().Int64("id", 0, "Show a single attempt by ID")
	cmd.Flags().Bool("json", false, "Output machine-readable JSON")
	cmd.AddCommand(historyPruneCmd())
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	logger := loggerFor(cmd)
	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return err
	}
	runs, closeHistory, err := openHistory(cfg.HistoryDB)
	defer closeHistory()
	if err != nil {
		return err
	}

	source, _ := cmd.Flags().GetString("source")
	limit, _ := cmd.Flags().GetInt("limit")
	id, _ := cmd.Flags().GetInt64("id")
	asJSON, _ := cmd.Flags().GetBool("json")

	var list []model.ExportRun
	if id != 0 {
		r, err := runs.GetByID(id)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("export attempt %d not found", id)
		}
		list = []model.ExportRun{*r}
	} else {
		sourceID := source
		if s, ok := findSource(cfg.Sources, source); ok {
			sourceID = s.ID
		}
		if limit <= 0 {
			limit = 20
		}
		list, err = runs.List(sourceID, limit)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		if list == nil {
			list = []model.ExportRun{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No export attempts recorded.")
		return nil
	}
	for _, r := range list {
		took := "-"
		if r.FinishedAt != nil {
			took = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(out, "%-6d %-20s %-24s %s  %-9s exit=%-3d %s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.SourceName, r.Month, r.Status, r.ExitCode, took)
		if r.ErrorMessage != "" {
			fmt.Fprintf(out, "       %s\n", firstLine(r.ErrorMessage))
		}
	}
	return nil
}

func historyPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete export attempts older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := loggerFor(cmd)
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			cfg, err := loadConfig(cmd, logger)
			if err != nil {
				return err
			}
			runs, closeHistory, err := openHistory(cfg.HistoryDB)
			defer closeHistory()
			if err != nil {
				return err
			}
			n, err := runs.DeleteOlderThan(time.Now().UTC().Add(-olderThan))
			if err != nil {
				return err
			}
			logger.Info("export history pruned", "deleted", n, "older_than", olderThan.String())
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d export attempts.\n", n)
			return nil
		},
	}
	cmd.Flags().Duration("older-than", 90*24*time.Hour, "Age threshold, e.g. 720h")
	return cmd
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
