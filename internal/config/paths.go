package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/rescale/modelbench/internal/constants"
)

// ConfigDirectory returns the per-user modelbench directory.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\modelbench
//   - Unix: ~/.config/modelbench
func ConfigDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "modelbench")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, "modelbench")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "modelbench")
		}
		return filepath.Join(homeDir, ".config", "modelbench")
	}
	return filepath.Join(configDir, "modelbench")
}

// LogDirectory returns the directory for the rotating application log.
func LogDirectory() string {
	return filepath.Join(ConfigDirectory(), "logs")
}

// HistoryPath returns the job history CSV location.
func HistoryPath() string {
	return filepath.Join(ConfigDirectory(), constants.HistoryFileName)
}
