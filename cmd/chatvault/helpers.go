package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/chatvault/internal/config"
	"github.com/dukerupert/chatvault/internal/database"
	"github.com/dukerupert/chatvault/internal/logging"
	"github.com/dukerupert/chatvault/internal/model"
	"github.com/dukerupert/chatvault/internal/store"
)

// loggerFor builds the process logger from the persistent flags.
func loggerFor(cmd *cobra.Command) *slog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	return logging.SetupTo(cmd.ErrOrStderr(), level, format)
}

// loadConfig reads the file named by --config.
func loadConfig(cmd *cobra.Command, logger *slog.Logger) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = "config.json"
	}
	return config.Load(path, time.Now(), logger)
}

// overrideExportsDir moves the exports root and every path derived from it.
func overrideExportsDir(cfg *config.Config, dir string) {
	if dir == "" || dir == cfg.ExportsDir {
		return
	}
	if cfg.HistoryDB == filepath.Join(cfg.ExportsDir, "history.db") {
		cfg.HistoryDB = filepath.Join(dir, "history.db")
	}
	cfg.ExportsDir = dir
	cfg.LedgerPath = filepath.Join(dir, "metadata.json")
}

// openHistory opens the history database. The returned close func is never nil.
func openHistory(path string) (*store.ExportRunStore, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, func() {}, fmt.Errorf("create history dir: %w", err)
	}
	db, err := database.Open(path)
	if err != nil {
		return nil, func() {}, err
	}
	return store.NewExportRunStore(db), func() { db.Close() }, nil
}

// findSource looks a configured source up by display name or ID.
func findSource(sources []model.Source, nameOrID string) (model.Source, bool) {
	for _, s := range sources {
		if s.Name == nameOrID || s.ID == nameOrID {
			return s, true
		}
	}
	return model.Source{}, false
}

// envTrue reports whether the environment variable holds a true boolean.
func envTrue(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', 1, 64) + "h"
}
