package store

import (
	"testing"
	"time"

	"github.com/dukerupert/chatvault/internal/database"
	"github.com/dukerupert/chatvault/internal/model"
)

func setupExportRunTestDB(t *testing.T) *ExportRunStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewExportRunStore(db)
}

func TestExportRunCreate(t *testing.T) {
	s := setupExportRunTestDB(t)

	r, err := s.Create("run-1", "123456789012345678", "My Server", "2024-01")
	if err != nil {
		t.Fatalf("create export run: %v", err)
	}
	if r.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if r.Status != model.ExportStatusRunning {
		t.Errorf("status = %q, want %q", r.Status, model.ExportStatusRunning)
	}

	got, err := s.GetByID(r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.Month != "2024-01" || got.SourceName != "My Server" || got.RunID != "run-1" {
		t.Errorf("got %+v", got)
	}
	if got.FinishedAt != nil {
		t.Error("expected no finished_at for running export")
	}
}

func TestExportRunFinish(t *testing.T) {
	s := setupExportRunTestDB(t)
	r, _ := s.Create("run-1", "123", "guild", "2024-02")

	if err := s.Finish(r.ID, model.ExportStatusFailed, 3, "token invalid"); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, _ := s.GetByID(r.ID)
	if got.Status != model.ExportStatusFailed {
		t.Errorf("status = %q, want %q", got.Status, model.ExportStatusFailed)
	}
	if got.ExitCode != 3 {
		t.Errorf("exit_code = %d, want 3", got.ExitCode)
	}
	if got.ErrorMessage != "token invalid" {
		t.Errorf("error_message = %q", got.ErrorMessage)
	}
	if got.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}

	if err := s.Finish(r.ID, model.ExportStatusCompleted, 0, ""); err != nil {
		t.Fatalf("finish again: %v", err)
	}
	got, _ = s.GetByID(r.ID)
	if got.ErrorMessage != "" {
		t.Errorf("error_message = %q, want empty", got.ErrorMessage)
	}
}

func TestExportRunGetByID_NotFound(t *testing.T) {
	s := setupExportRunTestDB(t)
	got, err := s.GetByID(999)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestExportRunList(t *testing.T) {
	s := setupExportRunTestDB(t)
	s.Create("run-1", "aaa", "A", "2024-01")
	s.Create("run-1", "aaa", "A", "2024-02")
	s.Create("run-1", "bbb", "B", "2024-01")

	all, err := s.List("", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	// Newest first.
	if all[0].SourceID != "bbb" {
		t.Errorf("first = %q, want bbb", all[0].SourceID)
	}

	onlyA, err := s.List("aaa", 10)
	if err != nil {
		t.Fatalf("list by source: %v", err)
	}
	if len(onlyA) != 2 {
		t.Errorf("len = %d, want 2", len(onlyA))
	}

	limited, _ := s.List("", 1)
	if len(limited) != 1 {
		t.Errorf("len = %d, want 1", len(limited))
	}
}

func TestExportRunCountByStatus(t *testing.T) {
	s := setupExportRunTestDB(t)
	a, _ := s.Create("run-1", "aaa", "A", "2024-01")
	b, _ := s.Create("run-1", "aaa", "A", "2024-02")
	c, _ := s.Create("run-1", "aaa", "A", "2024-03")
	s.Create("run-2", "aaa", "A", "2024-04")

	s.Finish(a.ID, model.ExportStatusCompleted, 0, "")
	s.Finish(b.ID, model.ExportStatusFailed, 1, "boom")
	s.Finish(c.ID, model.ExportStatusCompleted, 0, "")

	counts, err := s.CountByStatus("run-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[model.ExportStatusCompleted] != 2 {
		t.Errorf("completed = %d, want 2", counts[model.ExportStatusCompleted])
	}
	if counts[model.ExportStatusFailed] != 1 {
		t.Errorf("failed = %d, want 1", counts[model.ExportStatusFailed])
	}
	if counts[model.ExportStatusRunning] != 0 {
		t.Errorf("running = %d, want 0", counts[model.ExportStatusRunning])
	}
}

func TestExportRunDeleteOlderThan(t *testing.T) {
	s := setupExportRunTestDB(t)
	s.Create("run-1", "aaa", "A", "2024-01")
	s.Create("run-1", "aaa", "A", "2024-02")

	n, err := s.DeleteOlderThan(time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted %d recent runs, want 0", n)
	}

	n, err = s.DeleteOlderThan(time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
}
