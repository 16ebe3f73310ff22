// Package ledger persists which months have been archived for each source and
// when each source was last attempted.
//
// The backing file is shared: every mutation re-reads it, replaces only the
// two keys owned by the ledger and writes it back, so unrelated top-level keys
// added by other tools survive.
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dukerupert/chatvault/internal/month"
)

const (
	completedKey    = "completedMonthlyBackups"
	lastAttemptsKey = "lastBackupAttempts"
)

// Ledger is the durable record of completed months and last attempts.
type Ledger struct {
	mu           sync.Mutex
	path         string
	completed    map[string][]string // source ID -> sorted YYYY-MM strings
	lastAttempts map[string]time.Time
	logger       *slog.Logger
}

// Open loads the ledger stored at path. A missing file yields an empty ledger,
// as does a file that cannot be parsed (a warning is logged). Other read
// errors are returned.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		path:         path,
		completed:    make(map[string][]string),
		lastAttempts: make(map[string]time.Time),
		logger:       logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("ledger not found, starting fresh", "path", path)
			return l, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var doc struct {
		Completed    map[string][]string  `json:"completedMonthlyBackups"`
		LastAttempts map[string]time.Time `json:"lastBackupAttempts"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn("ledger corrupted, starting fresh", "path", path, "error", err)
		return l, nil
	}

	total := 0
	for id, months := range doc.Completed {
		l.completed[id] = normalize(months)
		total += len(l.completed[id])
	}
	for id, ts := range doc.LastAttempts {
		l.lastAttempts[id] = ts.UTC()
	}

	logger.Info("ledger loaded", "path", path, "sources", len(l.completed), "completed_months", total)
	return l, nil
}

func normalize(months []string) []string {
	out := slices.Clone(months)
	slices.Sort(out)
	return slices.Compact(out)
}

// Path returns the backing file location.
func (l *Ledger) Path() string {
	return l.path
}

// Completed returns the completed months recorded for sourceID in ascending
// order. Entries that are not valid months are skipped.
func (l *Ledger) Completed(sourceID string) []month.Month {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []month.Month
	for _, s := range l.completed[sourceID] {
		m, err := month.Parse(s)
		if err != nil {
			l.logger.Warn("ignoring malformed ledger entry", "source", sourceID, "entry", s)
			continue
		}
		out = append(out, m)
	}
	return out
}

// IsCompleted reports whether m is recorded as completed for sourceID.
func (l *Ledger) IsCompleted(sourceID string, m month.Month) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, found := slices.BinarySearch(l.completed[sourceID], m.String())
	return found
}

// MarkCompleted records m as completed for sourceID and persists the ledger.
// The in-memory state is updated even when persisting fails.
func (l *Ledger) MarkCompleted(sourceID string, m month.Month) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	months := l.completed[sourceID]
	key := m.String()
	if i, found := slices.BinarySearch(months, key); !found {
		l.completed[sourceID] = slices.Insert(months, i, key)
	}
	return l.persist()
}

// LastAttempt returns the last recorded attempt for sourceID, if any.
func (l *Ledger) LastAttempt(sourceID string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts, ok := l.lastAttempts[sourceID]
	return ts, ok
}

// SetLastAttempt overwrites the last attempt for sourceID and persists the ledger.
func (l *Ledger) SetLastAttempt(sourceID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastAttempts[sourceID] = at.UTC()
	return l.persist()
}

// persist must be called with l.mu held.
func (l *Ledger) persist() error {
	doc := make(map[string]json.RawMessage)

	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &doc); err != nil {
			l.logger.Error("ledger corrupted on disk, rewriting", "path", l.path, "error", err)
			doc = make(map[string]json.RawMessage)
		}
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("read ledger: %w", err)
	}

	completed, err := json.Marshal(l.completed)
	if err != nil {
		return fmt.Errorf("marshal completed months: %w", err)
	}
	attempts, err := json.Marshal(l.lastAttempts)
	if err != nil {
		return fmt.Errorf("marshal last attempts: %w", err)
	}
	doc[completedKey] = completed
	doc[lastAttemptsKey] = attempts

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace ledger: %w", err)
	}

	l.logger.Debug("ledger saved", "path", l.path)
	return nil
}
