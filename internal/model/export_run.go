package model

import "time"

type ExportStatus string

const (
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusCompleted ExportStatus = "completed"
	ExportStatusFailed    ExportStatus = "failed"
	ExportStatusRecovered ExportStatus = "recovered"
)

// ExportRun is one attempt to export a single month of a source.
type ExportRun struct {
	ID           int64        `json:"id"`
	RunID        string       `json:"run_id"`
	SourceID     string       `json:"source_id"`
	SourceName   string       `json:"source_name"`
	Month        string       `json:"month"`
	Status       ExportStatus `json:"status"`
	ExitCode     int          `json:"exit_code"`
	ErrorMessage string       `json:"error_message,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}
