// Package notify provides cross-platform desktop notifications for finished model runs.
// It uses github.com/gen2brain/beeep for cross-platform notification support.
package notify

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/rescale/modelbench/internal/constants"
	"github.com/rescale/modelbench/internal/logging"
	"github.com/rescale/modelbench/internal/models"
)

// Notifier handles desktop notifications.
type Notifier struct {
	logger *logging.Logger
	cfg    Config
	mu     sync.RWMutex

	// replaced in tests
	send  func(title, message string) error
	alert func(title, message string) error
}

// Config holds notification configuration.
type Config struct {
	// Enabled determines if notifications are sent.
	Enabled bool

	// ShowRunComplete shows notifications for successful runs.
	ShowRunComplete bool

	// ShowRunFailed shows notifications for failed runs.
	ShowRunFailed bool

	// ShowCanceled shows notifications for runs the user canceled.
	ShowCanceled bool
}

// DefaultConfig returns the default notification configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		ShowRunComplete: true,
		ShowRunFailed:   true,
		ShowCanceled:    false, // the user already knows
	}
}

// NewNotifier creates a new notifier with the given configuration.
func NewNotifier(cfg *Config, logger *logging.Logger) *Notifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &Notifier{
		logger: logger,
		cfg:    *cfg,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		alert: func(title, message string) error {
			return beeep.Alert(title, message, "")
		},
	}
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg.Enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	if n == nil {
		return false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg.Enabled
}

func (n *Notifier) config() Config {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg
}

// RunComplete sends a notification for a successful run.
func (n *Notifier) RunComplete(modelName, workspace string) {
	if !n.IsEnabled() || !n.config().ShowRunComplete {
		return
	}

	title := "Model Run Complete"
	message := fmt.Sprintf("%s finished.", truncate(modelName, 40))
	if workspace != "" {
		message += "\nResults in:\n" + shortenPath(workspace)
	}

	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Str("model", modelName).Msg("Failed to send run complete notification")
	}
}

// RunFailed sends a notification for a failed run.
func (n *Notifier) RunFailed(modelName, errorMsg string) {
	if !n.IsEnabled() || !n.config().ShowRunFailed {
		return
	}

	title := "Model Run Failed"
	message := fmt.Sprintf("%s failed:\n%s", truncate(modelName, 40), truncate(errorMsg, 100))

	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Str("model", modelName).Msg("Failed to send run failed notification")
	}
}

// JobFinished notifies about a job that reached a terminal status. Other
// statuses are ignored.
func (n *Notifier) JobFinished(j models.Job) {
	if !n.IsEnabled() {
		return
	}
	name := j.ModelHumanName
	if name == "" {
		name = j.ModelRunName
	}
	switch j.Status {
	case models.StatusSuccess:
		n.RunComplete(name, j.WorkspaceDir)
	case models.StatusError:
		if j.FinalTraceback == constants.CanceledTraceback && !n.config().ShowCanceled {
			return
		}
		n.RunFailed(name, lastLine(j.FinalTraceback))
	}
}

// Alert sends an alert notification (error level).
// This is for critical issues that require user attention.
func (n *Notifier) Alert(message string) {
	if !n.IsEnabled() {
		return
	}

	title := "Model Workbench Alert"

	if err := n.alert(title, message); err != nil {
		// Fall back to regular notify
		if err := n.send(title, message); err != nil {
			n.logger.Error().Err(err).Str("message", message).Msg("Failed to send alert notification")
		}
	}
}

// ParseNotifyConfig parses notification settings from an INI section.
// Expected keys: enabled, show_run_complete, show_run_failed, show_canceled
func ParseNotifyConfig(settings map[string]string) *Config {
	cfg := DefaultConfig()

	if v, ok := settings["enabled"]; ok {
		cfg.Enabled = strings.ToLower(v) == "true"
	}
	if v, ok := settings["show_run_complete"]; ok {
		cfg.ShowRunComplete = strings.ToLower(v) == "true"
	}
	if v, ok := settings["show_run_failed"]; ok {
		cfg.ShowRunFailed = strings.ToLower(v) == "true"
	}
	if v, ok := settings["show_canceled"]; ok {
		cfg.ShowCanceled = strings.ToLower(v) == "true"
	}

	return cfg
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortenPath abbreviates a long path for display in notifications.
func shortenPath(path string) string {
	const maxLen = 60

	if len(path) <= maxLen {
		return path
	}

	// Try to show drive/root + ... + last 2 path components
	_, file := filepath.Split(path)
	parentDir := filepath.Base(filepath.Dir(path))
	short := filepath.Join("...", parentDir, file)

	vol := filepath.VolumeName(path)
	if vol != "" && len(vol)+len(short)+1 <= maxLen {
		short = vol + string(filepath.Separator) + short
	}

	if len(short) > maxLen {
		return "..." + path[len(path)-(maxLen-3):]
	}

	return short
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
