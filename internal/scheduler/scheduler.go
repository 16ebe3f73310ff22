// Package scheduler decides, for each configured source, which months still
// need archiving and drives the exporter through them one at a time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/chatvault/internal/exporter"
	"github.com/dukerupert/chatvault/internal/model"
	"github.com/dukerupert/chatvault/internal/month"
	"github.com/dukerupert/chatvault/internal/reconcile"
)

// Ledger is the durable completion state the scheduler reads and updates.
type Ledger interface {
	Completed(sourceID string) []month.Month
	MarkCompleted(sourceID string, m month.Month) error
	LastAttempt(sourceID string) (time.Time, bool)
	SetLastAttempt(sourceID string, at time.Time) error
}

// History records every month attempt for later inspection.
type History interface {
	Create(runID, sourceID, sourceName, month string) (*model.ExportRun, error)
	Finish(id int64, status model.ExportStatus, exitCode int, errorMsg string) error
}

// Offsite copies a completed month elsewhere.
type Offsite interface {
	Enabled() bool
	Upload(ctx context.Context, src model.Source, m month.Month, dir string) (string, error)
}

// Config holds scheduler configuration.
type Config struct {
	ExportsDir string
	RunID      string
	// CleanIncomplete removes leftovers of an interrupted export before
	// retrying the month. Off by default: the exporter overwrites in place.
	CleanIncomplete bool
}

// SourceResult is the outcome of processing one source.
type SourceResult struct {
	SourceID  string
	Name      string
	Skipped   bool
	Pending   int
	Completed int
	Failed    int
	Recovered int
}

// Summary aggregates a whole run. MonthsCompleted counts months the exporter
// produced in this run; months found already finished on disk (completion
// marker present) are counted in MonthsRecovered instead. Both kinds count as
// backed up for the source's attempt clock.
type Summary struct {
	SourcesTotal     int
	SourcesProcessed int
	SourcesSkipped   int
	MonthsCompleted  int
	MonthsFailed     int
	MonthsRecovered  int
	Sources          []SourceResult
}

// Scheduler runs incremental monthly exports.
type Scheduler struct {
	cfg     Config
	ledger  Ledger
	invoker exporter.Invoker
	history History
	offsite Offsite
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a scheduler. history and offsite may be nil.
func New(cfg Config, ledger Ledger, invoker exporter.Invoker, history History, offsite Offsite, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:     cfg,
		ledger:  ledger,
		invoker: invoker,
		history: history,
		offsite: offsite,
		logger:  logger,
		now:     time.Now,
	}
}

// Run processes sources strictly in order. It stops starting new work once
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, sources []model.Source) Summary {
	sum := Summary{SourcesTotal: len(sources)}
	s.logger.Info("starting backup", "sources", len(sources))

	for _, src := range sources {
		if ctx.Err() != nil {
			s.logger.Warn("backup cancelled, remaining sources not processed", "error", ctx.Err())
			break
		}

		res := s.RunSource(ctx, src)
		sum.Sources = append(sum.Sources, res)
		if res.Skipped {
			sum.SourcesSkipped++
			continue
		}
		sum.SourcesProcessed++
		sum.MonthsCompleted += res.Completed
		sum.MonthsFailed += res.Failed
		sum.MonthsRecovered += res.Recovered
	}

	s.logger.Info("backup summary",
		"sources_processed", fmt.Sprintf("%d/%d", sum.SourcesProcessed, sum.SourcesTotal),
		"sources_throttled", sum.SourcesSkipped,
		"months_backed_up", sum.MonthsCompleted,
		"months_failed", sum.MonthsFailed,
		"months_recovered", sum.MonthsRecovered,
	)
	return sum
}

// RunSource takes one source through throttle check, enumeration and the
// per-month export loop.
func (s *Scheduler) RunSource(ctx context.Context, src model.Source) SourceResult {
	res := SourceResult{SourceID: src.ID, Name: src.Name}
	log := s.logger.With("source", src.Name, "source_id", src.ID)
	log.Info("processing source")

	if last, ok := s.ledger.LastAttempt(src.ID); ok && src.ThrottleHours > 0 {
		hours := s.now().Sub(last).Hours()
		log.Info("last backup attempt", "hours_ago", fmt.Sprintf("%.2f", hours))
		if hours < src.ThrottleHours {
			log.Warn("skipping source, throttled", "hours_ago", fmt.Sprintf("%.2f", hours), "throttle_hours", src.ThrottleHours)
			res.Skipped = true
			return res
		}
	}

	started := s.now().UTC()
	current := month.Of(started)
	pending := month.Pending(src.StartMonth, current, s.ledger.Completed(src.ID))
	res.Pending = len(pending)

	if len(pending) == 0 {
		log.Info("all months already backed up", "current_month", current.String())
		return res
	}
	log.Info("found months to back up", "count", len(pending), "first", pending[0].String(), "last", pending[len(pending)-1].String())

	for i, m := range pending {
		if ctx.Err() != nil {
			log.Warn("backup cancelled", "remaining_months", len(pending)-i)
			break
		}
		log.Info("processing month", "month", m.String(), "progress", fmt.Sprintf("%d/%d", i+1, len(pending)))

		switch s.exportMonth(ctx, src, m, log.With("month", m.String())) {
		case outcomeCompleted:
			res.Completed++
		case outcomeRecovered:
			res.Recovered++
		default:
			res.Failed++
		}
	}

	if res.Failed > 0 {
		log.Warn("some months failed to back up", "failed", res.Failed)
	}

	if res.Completed > 0 || res.Recovered > 0 {
		if err := s.ledger.SetLastAttempt(src.ID, started); err != nil {
			log.Error("failed to save last attempt", "error", err)
		}
		log.Info("source backed up", "months", res.Completed, "recovered", res.Recovered)
	}
	return res
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeCompleted
	outcomeRecovered
)

func (s *Scheduler) exportMonth(ctx context.Context, src model.Source, m month.Month, log *slog.Logger) outcome {
	dir := reconcile.Dir(s.cfg.ExportsDir, src.Name, m)

	state, err := reconcile.Inspect(dir)
	if err != nil {
		log.Error("failed to inspect month directory", "dir", dir, "error", err)
		s.record(src, m, model.ExportStatusFailed, -1, err.Error())
		return outcomeFailed
	}

	switch state {
	case reconcile.StateComplete:
		log.Info("month already completed, found marker, skipping", "dir", dir)
		if err := s.ledger.MarkCompleted(src.ID, m); err != nil {
			log.Error("failed to save ledger", "error", err)
		}
		s.record(src, m, model.ExportStatusRecovered, 0, "")
		return outcomeRecovered
	case reconcile.StateIncomplete:
		log.Warn("directory exists without completion marker, re-running month", "dir", dir)
		if s.cfg.CleanIncomplete {
			if err := reconcile.Clean(dir); err != nil {
				log.Error("failed to clean incomplete month", "dir", dir, "error", err)
				s.record(src, m, model.ExportStatusFailed, -1, err.Error())
				return outcomeFailed
			}
		}
	}

	if err := reconcile.Prepare(dir); err != nil {
		log.Error("failed to create month directory", "dir", dir, "error", err)
		s.record(src, m, model.ExportStatusFailed, -1, err.Error())
		return outcomeFailed
	}

	start, end := m.Boundaries()
	recordID := s.begin(src, m)
	result, err := s.invoker.Invoke(ctx, exporter.Request{
		Source:    src,
		Month:     m,
		Start:     start,
		End:       end,
		OutputDir: dir,
		MediaDir:  reconcile.MediaDir(s.cfg.ExportsDir, src.Name),
	})
	if err != nil {
		log.Error("export failed", "error", err)
		s.finish(recordID, model.ExportStatusFailed, result.ExitCode, err.Error())
		return outcomeFailed
	}
	if !result.Success {
		log.Error("export failed", "exit_code", result.ExitCode, "diagnostics", result.Diagnostics)
		s.finish(recordID, model.ExportStatusFailed, result.ExitCode, result.Diagnostics)
		return outcomeFailed
	}

	if err := s.ledger.MarkCompleted(src.ID, m); err != nil {
		log.Error("failed to save ledger", "error", err)
	}
	if err := reconcile.WriteMarker(dir, s.now()); err != nil {
		log.Warn("failed to write completion marker", "dir", dir, "error", err)
	}
	if s.offsite != nil && s.offsite.Enabled() {
		if _, err := s.offsite.Upload(ctx, src, m, dir); err != nil {
			log.Warn("offsite copy failed", "error", err)
		}
	}

	s.finish(recordID, model.ExportStatusCompleted, result.ExitCode, "")
	log.Info("month exported")
	return outcomeCompleted
}

// begin opens a history record and returns its ID, or 0 when history is
// unavailable.
func (s *Scheduler) begin(src model.Source, m month.Month) int64 {
	if s.history == nil {
		return 0
	}
	run, err := s.history.Create(s.cfg.RunID, src.ID, src.Name, m.String())
	if err != nil {
		s.logger.Warn("failed to record export start", "source", src.Name, "month", m.String(), "error", err)
		return 0
	}
	return run.ID
}

func (s *Scheduler) finish(id int64, status model.ExportStatus, exitCode int, msg string) {
	if s.history == nil || id == 0 {
		return
	}
	if err := s.history.Finish(id, status, exitCode, msg); err != nil {
		s.logger.Warn("failed to record export result", "id", id, "error", err)
	}
}

func (s *Scheduler) record(src model.Source, m month.Month, status model.ExportStatus, exitCode int, msg string) {
	s.finish(s.begin(src, m), status, exitCode, msg)
}
