// Package exporter runs the external chat export tool for one source and one
// monthly window at a time.
package exporter

import (
	"context"
	"time"

	"github.com/dukerupert/chatvault/internal/model"
	"github.com/dukerupert/chatvault/internal/month"
)

// Request describes a single export window.
type Request struct {
	Source    model.Source
	Month     month.Month
	Start     time.Time
	End       time.Time
	OutputDir string
	MediaDir  string
}

// Result is the outcome of an export.
type Result struct {
	Success     bool
	ExitCode    int
	Diagnostics string
}

// Invoker performs an export. It must tolerate a non-empty OutputDir left by
// an earlier interrupted attempt. A non-nil error means the export could not
// be run at all; a failed run is reported through Result.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}
