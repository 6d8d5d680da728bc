// Package state keeps the history of finished model runs.
// History is stored as a CSV file in the workbench config directory so it
// can be opened in a spreadsheet.
package state

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rescale/modelbench/internal/constants"
	"github.com/rescale/modelbench/internal/models"
)

var historyHeader = []string{
	"JobID", "ModelName", "Status", "WorkspaceDir", "LogFile", "StartedAt", "FinishedAt", "ErrorMessage",
}

// HistoryManager reads and writes the job history file.
type HistoryManager struct {
	mu   sync.Mutex
	path string
	max  int
}

// NewHistoryManager creates a history manager backed by path, creating its
// directory if needed.
func NewHistoryManager(path string) (*HistoryManager, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &HistoryManager{path: absPath, max: constants.MaxHistoryRecords}, nil
}

// Path returns the full path to the history file.
func (hm *HistoryManager) Path() string {
	return hm.path
}

// Load returns all records in file order.
func (hm *HistoryManager) Load() ([]models.JobRecord, error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.load()
}

func (hm *HistoryManager) load() ([]models.JobRecord, error) {
	file, err := os.Open(hm.path)
	if os.IsNotExist(err) {
		return []models.JobRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	startIdx := 0
	if len(rows) > 0 && len(rows[0]) > 0 && rows[0][0] == historyHeader[0] {
		startIdx = 1
	}

	records := make([]models.JobRecord, 0, len(rows)-startIdx)
	for _, row := range rows[startIdx:] {
		if len(row) < len(historyHeader) {
			continue // written by an older version or truncated
		}
		started, _ := time.Parse(time.RFC3339, row[5])
		finished, _ := time.Parse(time.RFC3339, row[6])
		records = append(records, models.JobRecord{
			ID:           row[0],
			ModelName:    row[1],
			Status:       models.JobStatus(row[2]),
			WorkspaceDir: row[3],
			LogFile:      row[4],
			StartedAt:    started,
			FinishedAt:   finished,
			ErrorMessage: row[7],
		})
	}
	return records, nil
}

// Save replaces the history file with records.
func (hm *HistoryManager) Save(records []models.JobRecord) error {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.save(records)
}

func (hm *HistoryManager) save(records []models.JobRecord) error {
	tmp := hm.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create history file: %w", err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(historyHeader); err != nil {
		file.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.ID,
			r.ModelName,
			string(r.Status),
			r.WorkspaceDir,
			r.LogFile,
			formatTime(r.StartedAt),
			formatTime(r.FinishedAt),
			r.ErrorMessage,
		}
		if err := writer.Write(row); err != nil {
			file.Close()
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush history file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close history file: %w", err)
	}
	return os.Rename(tmp, hm.path)
}

// Record adds r or replaces the record with the same ID. The oldest
// records are dropped beyond the history limit.
func (hm *HistoryManager) Record(r models.JobRecord) error {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	records, err := hm.load()
	if err != nil {
		return err
	}

	found := false
	for i := range records {
		if records[i].ID == r.ID {
			records[i] = r
			found = true
			break
		}
	}
	if !found {
		records = append(records, r)
	}
	if over := len(records) - hm.max; over > 0 {
		records = records[over:]
	}
	return hm.save(records)
}

// Recent returns up to n records, newest first. n <= 0 returns all.
func (hm *HistoryManager) Recent(n int) ([]models.JobRecord, error) {
	records, err := hm.Load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].FinishedAt.After(records[j].FinishedAt)
	})
	if n > 0 && len(records) > n {
		records = records[:n]
	}
	return records, nil
}

// Get returns the record with the given job ID.
func (hm *HistoryManager) Get(id string) (*models.JobRecord, error) {
	records, err := hm.Load()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("job not found: %s", id)
}

// RecordFromJob converts a finished job into a history record.
func RecordFromJob(j models.Job) models.JobRecord {
	r := models.JobRecord{
		ID:           j.ID,
		ModelName:    j.ModelRunName,
		Status:       j.Status,
		WorkspaceDir: j.WorkspaceDir,
		LogFile:      j.LogFile,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
	}
	if j.Status == models.StatusError {
		r.ErrorMessage = lastLine(j.FinalTraceback)
	}
	return r
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func lastLine(s string) string {
	end := len(s)
	for end > 0 && (s[end-1] == '\n' || s[end-1] == '\r' || s[end-1] == ' ') {
		end--
	}
	for i := end - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return s[i+1 : end]
		}
	}
	return s[:end]
}
