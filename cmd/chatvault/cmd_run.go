package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dukerupert/chatvault/internal/exporter"
	"github.com/dukerupert/chatvault/internal/ledger"
	"github.com/dukerupert/chatvault/internal/offsite"
	"github.com/dukerupert/chatvault/internal/scheduler"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Back up every pending month of every enabled source",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}
	cmd.Flags().Bool("dry-run", false, "Log the exporter commands without running them (also DRY_RUN=true)")
	cmd.Flags().Bool("clean-incomplete", false, "Remove leftovers of interrupted exports before retrying a month")
	cmd.Flags().String("exports-dir", "", "Override the exports directory")
	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	logger := loggerFor(cmd)
	started := time.Now()
	logger.Info("backup process started", "time", started.Format(time.RFC3339))

	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return err
	}

	exportsDir, _ := cmd.Flags().GetString("exports-dir")
	overrideExportsDir(cfg, exportsDir)
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	dryRun = dryRun || envTrue("DRY_RUN")
	cleanIncomplete, _ := cmd.Flags().GetBool("clean-incomplete")

	if dryRun {
		logger.Warn("dry run enabled, no exports will be performed")
	}

	if err := os.MkdirAll(cfg.ExportsDir, 0o755); err != nil {
		return fmt.Errorf("create exports dir: %w", err)
	}

	led, err := ledger.Open(cfg.LedgerPath, logger)
	if err != nil {
		return err
	}

	cfg.Exporter.DryRun = dryRun
	invoker := exporter.NewCommand(cfg.Exporter, logger)
	if err := invoker.Check(); err != nil {
		return err
	}

	// A nil interface, not a typed nil pointer, disables history.
	var history scheduler.History
	runs, closeHistory, err := openHistory(cfg.HistoryDB)
	defer closeHistory()
	if err != nil {
		logger.Warn("export history unavailable, continuing without it", "path", cfg.HistoryDB, "error", err)
	} else {
		history = runs
	}

	var off scheduler.Offsite
	if uploader := offsite.New(cfg.Offsite, logger); uploader.Enabled() {
		off = uploader
		logger.Info("offsite copy enabled", "bucket", cfg.Offsite.S3.Bucket, "encrypted", cfg.Offsite.Passphrase != "")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	sched := scheduler.New(scheduler.Config{
		ExportsDir:      cfg.ExportsDir,
		RunID:           runID,
		CleanIncomplete: cleanIncomplete,
	}, led, invoker, history, off, logger)

	sched.Run(ctx, cfg.Sources)

	if runs != nil {
		if counts, err := runs.CountByStatus(runID); err != nil {
			logger.Warn("failed to count export attempts", "error", err)
		} else {
			logger.Info("export attempts recorded", "run_id", runID, "counts", counts)
		}
	}

	finished := time.Now()
	logger.Info("backup process finished",
		"time", finished.Format(time.RFC3339),
		"duration", finished.Sub(started).Round(time.Second).String(),
	)
	return nil
}
