package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewSettings(t *testing.T) {
	cfg := NewSettings()

	if cfg.Workbench.NWorkers != -1 {
		t.Errorf("Expected NWorkers=-1, got %d", cfg.Workbench.NWorkers)
	}
	if cfg.Workbench.LoggingLevel != "INFO" {
		t.Errorf("Expected LoggingLevel=INFO, got %s", cfg.Workbench.LoggingLevel)
	}
	if cfg.Debounce() != 200*time.Millisecond {
		t.Errorf("Expected 200ms debounce, got %v", cfg.Debounce())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestSettingsLoadSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modelbench.conf")

	cfg := NewSettings()
	cfg.Workbench.NWorkers = 4
	cfg.Workbench.LoggingLevel = "DEBUG"
	cfg.Workbench.DebounceMS = 0
	cfg.Server.URL = "http://127.0.0.1:56789"
	cfg.Runner.Executable = "/opt/invest/bin/invest"
	cfg.Notifications.Enabled = false
	cfg.Storage.S3Region = "us-west-2"

	if err := SaveSettings(cfg, path); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temporary file should not remain after save")
	}

	loaded, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("Round trip mismatch:\n got  %+v\n want %+v", *loaded, *cfg)
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	cfg, err := LoadSettings(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil {
		t.Fatalf("Missing file should yield defaults, got %v", err)
	}
	if *cfg != *NewSettings() {
		t.Errorf("Expected defaults, got %+v", *cfg)
	}
}

func TestLoadSettings_EnvOverrides(t *testing.T) {
	t.Setenv("MODELBENCH_N_WORKERS", "8")
	t.Setenv("MODELBENCH_LOGGING_LEVEL", "warning")
	t.Setenv("MODELBENCH_SERVER_URL", "http://validator.local:8080")

	cfg, err := LoadSettings(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if cfg.Workbench.NWorkers != 8 {
		t.Errorf("Expected NWorkers=8, got %d", cfg.Workbench.NWorkers)
	}
	if cfg.Workbench.LoggingLevel != "WARNING" {
		t.Errorf("Expected WARNING, got %s", cfg.Workbench.LoggingLevel)
	}
	if cfg.Server.URL != "http://validator.local:8080" {
		t.Errorf("Unexpected server url %s", cfg.Server.URL)
	}
	// Unset variables keep defaults
	if cfg.Runner.Executable != "invest" {
		t.Errorf("Expected default executable, got %s", cfg.Runner.Executable)
	}
}

func TestLoadSettings_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modelbench.conf")
	content := "[workbench]\nn_workers = -5\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadSettings(path)
	if !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("Expected ErrInvalidSettings, got %v", err)
	}
	if !strings.Contains(err.Error(), "NWorkers") {
		t.Errorf("Error should name the field: %v", err)
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"threaded workers", func(s *Settings) { s.Workbench.NWorkers = 0 }, false},
		{"workers below -1", func(s *Settings) { s.Workbench.NWorkers = -2 }, true},
		{"bad log level", func(s *Settings) { s.Workbench.LoggingLevel = "LOUD" }, true},
		{"negative debounce", func(s *Settings) { s.Workbench.DebounceMS = -1 }, true},
		{"bad server url", func(s *Settings) { s.Server.URL = "not a url" }, true},
		{"empty executable", func(s *Settings) { s.Runner.Executable = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewSettings()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettingsSet(t *testing.T) {
	cfg := NewSettings()

	if err := cfg.Set("workbench.n_workers", "3"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if cfg.Workbench.NWorkers != 3 {
		t.Errorf("Expected 3, got %d", cfg.Workbench.NWorkers)
	}

	if err := cfg.Set("workbench.n_workers", "-9"); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("Expected ErrInvalidSettings, got %v", err)
	}
	if cfg.Workbench.NWorkers != 3 {
		t.Error("Failed Set must not change settings")
	}

	if err := cfg.Set("notifications.enabled", "maybe"); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("Expected ErrInvalidSettings for bad bool, got %v", err)
	}
	if err := cfg.Set("workbench.colour", "red"); !errors.Is(err, ErrUnknownSetting) {
		t.Errorf("Expected ErrUnknownSetting, got %v", err)
	}
}

func TestPaths(t *testing.T) {
	if filepath.Base(HistoryPath()) != "job_history.csv" {
		t.Errorf("Unexpected history path %s", HistoryPath())
	}
	if !strings.HasPrefix(LogDirectory(), ConfigDirectory()) {
		t.Errorf("Log directory %s should live under %s", LogDirectory(), ConfigDirectory())
	}
}
