// Package reconcile inspects a month's output directory to decide whether it
// still needs exporting. The completion marker is the only proof of success.
package reconcile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dukerupert/chatvault/internal/month"
)

// MarkerName is written into a month directory after a successful export.
const MarkerName = ".complete"

// State classifies a month directory.
type State int

const (
	StateFresh      State = iota // absent or empty
	StateIncomplete              // has content but no marker
	StateComplete                // marker present
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateIncomplete:
		return "incomplete"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SourceDir is the root of everything archived for a source.
func SourceDir(root, name string) string {
	return filepath.Join(root, name)
}

// Dir returns <root>/<name>/<YYYY>/<MM> for month m.
func Dir(root, name string, m month.Month) string {
	return filepath.Join(SourceDir(root, name), fmt.Sprintf("%04d", m.Year), fmt.Sprintf("%02d", int(m.Month)))
}

// MediaDir is the media directory shared by all months of a source.
func MediaDir(root, name string) string {
	return filepath.Join(SourceDir(root, name), "_media")
}

// MarkerPath returns the marker location inside dir.
func MarkerPath(dir string) string {
	return filepath.Join(dir, MarkerName)
}

// Inspect reports the state of dir.
func Inspect(dir string) (State, error) {
	if _, err := os.Stat(MarkerPath(dir)); err == nil {
		return StateComplete, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return StateFresh, fmt.Errorf("stat marker: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StateFresh, nil
		}
		return StateFresh, fmt.Errorf("read month dir: %w", err)
	}
	if len(entries) == 0 {
		return StateFresh, nil
	}
	return StateIncomplete, nil
}

// Prepare creates dir if needed.
func Prepare(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create month dir: %w", err)
	}
	return nil
}

// Clean removes everything inside dir, leaving dir itself in place.
func Clean(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read month dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// WriteMarker records a successful export of dir at the given time.
func WriteMarker(dir string, at time.Time) error {
	content := fmt.Sprintf("Completed: %s\n", at.UTC().Format(time.RFC3339))
	if err := os.WriteFile(MarkerPath(dir), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write completion marker: %w", err)
	}
	return nil
}
