package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/chatvault/internal/model"
)

type ExportRunStore struct {
	db *sql.DB
}

func NewExportRunStore(db *sql.DB) *ExportRunStore {
	return &ExportRunStore{db: db}
}

const exportRunColumns = `id, run_id, source_id, source_name, month, status, exit_code, error_message, started_at, finished_at`

func (s *ExportRunStore) Create(runID, sourceID, sourceName, month string) (*model.ExportRun, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO export_runs (run_id, source_id, source_name, month, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, sourceID, sourceName, month, model.ExportStatusRunning, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create export run: %w", err)
	}
	id, _ := result.LastInsertId()
	return &model.ExportRun{
		ID:         id,
		RunID:      runID,
		SourceID:   sourceID,
		SourceName: sourceName,
		Month:      month,
		Status:     model.ExportStatusRunning,
		StartedAt:  now,
	}, nil
}

// Finish records the final status of an export run.
func (s *ExportRunStore) Finish(id int64, status model.ExportStatus, exitCode int, errorMsg string) error {
	var errPtr *string
	if errorMsg != "" {
		errPtr = &errorMsg
	}
	_, err := s.db.Exec(
		`UPDATE export_runs SET status = ?, exit_code = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		status, exitCode, errPtr, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finish export run: %w", err)
	}
	return nil
}

func (s *ExportRunStore) GetByID(id int64) (*model.ExportRun, error) {
	row := s.db.QueryRow(`SELECT `+exportRunColumns+` FROM export_runs WHERE id = ?`, id)
	r, err := scanExportRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get export run %d: %w", id, err)
	}
	return r, nil
}

// List returns the most recent runs, newest first. An empty sourceID lists all sources.
func (s *ExportRunStore) List(sourceID string, limit int) ([]model.ExportRun, error) {
	query := `SELECT ` + exportRunColumns + ` FROM export_runs`
	var args []any
	if sourceID != "" {
		query += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list export runs: %w", err)
	}
	defer rows.Close()

	var runs []model.ExportRun
	for rows.Next() {
		r, err := scanExportRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan export run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// CountByStatus counts the runs of one process run grouped by status.
func (s *ExportRunStore) CountByStatus(runID string) (map[model.ExportStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM export_runs WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, fmt.Errorf("count export runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.ExportStatus]int)
	for rows.Next() {
		var status model.ExportStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan export run count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteOlderThan removes runs started before the given time and returns how many were removed.
func (s *ExportRunStore) DeleteOlderThan(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM export_runs WHERE started_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("delete old export runs: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExportRun(row rowScanner) (*model.ExportRun, error) {
	var r model.ExportRun
	var errMsg sql.NullString
	var finishedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.RunID, &r.SourceID, &r.SourceName, &r.Month, &r.Status, &r.ExitCode, &errMsg, &r.StartedAt, &finishedAt); err != nil {
		return nil, err
	}
	r.ErrorMessage = errMsg.String
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	return &r, nil
}
