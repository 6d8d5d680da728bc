package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rescale/modelbench/internal/models"
)

func TestHistoryLoadMissingFile(t *testing.T) {
	hm, err := NewHistoryManager(filepath.Join(t.TempDir(), "nested", "history.csv"))
	if err != nil {
		t.Fatalf("NewHistoryManager failed: %v", err)
	}
	records, err := hm.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestHistoryRecordAndReplace(t *testing.T) {
	hm, err := NewHistoryManager(filepath.Join(t.TempDir(), "history.csv"))
	if err != nil {
		t.Fatalf("NewHistoryManager failed: %v", err)
	}

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := models.JobRecord{
		ID:           "job-1",
		ModelName:    "carbon",
		Status:       models.StatusError,
		WorkspaceDir: "/tmp/ws, with comma",
		StartedAt:    start,
		FinishedAt:   start.Add(time.Minute),
		ErrorMessage: "canceled",
	}
	if err := hm.Record(r); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	r.Status = models.StatusSuccess
	r.ErrorMessage = ""
	if err := hm.Record(r); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	records, err := hm.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.Status != models.StatusSuccess {
		t.Errorf("Status = %s, want success", got.Status)
	}
	if got.WorkspaceDir != r.WorkspaceDir {
		t.Errorf("WorkspaceDir = %q, want %q", got.WorkspaceDir, r.WorkspaceDir)
	}
	if !got.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, start)
	}

	if _, err := os.Stat(hm.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file should not remain after save")
	}
}

func TestHistoryLimit(t *testing.T) {
	hm, err := NewHistoryManager(filepath.Join(t.TempDir(), "history.csv"))
	if err != nil {
		t.Fatalf("NewHistoryManager failed: %v", err)
	}
	hm.max = 3

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		rec := models.JobRecord{ID: id, Status: models.StatusSuccess, FinishedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := hm.Record(rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	recent, err := hm.Recent(0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recent))
	}
	if recent[0].ID != "e" || recent[2].ID != "c" {
		t.Errorf("unexpected order: %s, %s, %s", recent[0].ID, recent[1].ID, recent[2].ID)
	}

	two, _ := hm.Recent(2)
	if len(two) != 2 {
		t.Errorf("Recent(2) returned %d records", len(two))
	}

	if _, err := hm.Get("a"); err == nil {
		t.Error("expected trimmed record to be gone")
	}
	if rec, err := hm.Get("d"); err != nil || rec.ID != "d" {
		t.Errorf("Get(d) = %v, %v", rec, err)
	}
}

func TestHistorySkipsShortRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	content := "JobID,ModelName,Status,WorkspaceDir,LogFile,StartedAt,FinishedAt,ErrorMessage\n" +
		"short,row\n" +
		"job-2,carbon,success,/ws,/ws/log.txt,,,\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	hm, err := NewHistoryManager(path)
	if err != nil {
		t.Fatal(err)
	}
	records, err := hm.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "job-2" {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestRecordFromJob(t *testing.T) {
	j := models.Job{
		ID:             "job-3",
		ModelRunName:   "carbon",
		Status:         models.StatusError,
		FinalTraceback: "Traceback (most recent call last):\n  File \"x\"\nValueError: bad\n",
	}
	r := RecordFromJob(j)
	if r.ErrorMessage != "ValueError: bad" {
		t.Errorf("ErrorMessage = %q", r.ErrorMessage)
	}
	if r.ModelName != "carbon" {
		t.Errorf("ModelName = %q", r.ModelName)
	}

	j.Status = models.StatusSuccess
	if RecordFromJob(j).ErrorMessage != "" {
		t.Error("successful jobs should carry no error message")
	}
}
