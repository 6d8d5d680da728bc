package notify

import (
	"errors"
	"testing"

	"github.com/rescale/modelbench/internal/models"
)

type sent struct {
	title   string
	message string
}

func recordingNotifier(cfg *Config) (*Notifier, *[]sent) {
	n := NewNotifier(cfg, nil)
	var out []sent
	n.send = func(title, message string) error {
		out = append(out, sent{title, message})
		return nil
	}
	n.alert = func(title, message string) error {
		return errors.New("alerts unsupported")
	}
	return n, &out
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Enabled {
		t.Error("Expected Enabled to be true by default")
	}
	if !cfg.ShowRunComplete {
		t.Error("Expected ShowRunComplete to be true by default")
	}
	if !cfg.ShowRunFailed {
		t.Error("Expected ShowRunFailed to be true by default")
	}
	if cfg.ShowCanceled {
		t.Error("Expected ShowCanceled to be false by default")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10c", 10, "exactly10c"},
		{"this is a long string", 10, "this is..."},
		{"", 10, ""},
		{"abcd", 3, "..."},
	}

	for _, tt := range tests {
		result := truncate(tt.input, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
		}
	}
}

func TestShortenPath(t *testing.T) {
	long := "/a/very/long/path/that/exceeds/the/maximum/length/for/notification/display/workspace"
	if result := shortenPath(long); len(result) >= len(long) {
		t.Errorf("shortenPath(%q) was not shortened: %q", long, result)
	}
	if result := shortenPath("/short/path"); result != "/short/path" {
		t.Errorf("short path changed: %q", result)
	}
}

func TestJobFinished(t *testing.T) {
	tests := []struct {
		name      string
		job       models.Job
		wantTitle string
	}{
		{
			name:      "success",
			job:       models.Job{ModelHumanName: "Carbon", Status: models.StatusSuccess, WorkspaceDir: "/ws"},
			wantTitle: "Model Run Complete",
		},
		{
			name:      "failure",
			job:       models.Job{ModelRunName: "carbon", Status: models.StatusError, FinalTraceback: "Traceback\nValueError: bad"},
			wantTitle: "Model Run Failed",
		},
		{
			name: "canceled is quiet by default",
			job:  models.Job{ModelRunName: "carbon", Status: models.StatusError, FinalTraceback: "canceled"},
		},
		{
			name: "running is ignored",
			job:  models.Job{ModelRunName: "carbon", Status: models.StatusRunning},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, out := recordingNotifier(nil)
			n.JobFinished(tt.job)

			if tt.wantTitle == "" {
				if len(*out) != 0 {
					t.Errorf("expected no notification, got %+v", *out)
				}
				return
			}
			if len(*out) != 1 {
				t.Fatalf("expected 1 notification, got %d", len(*out))
			}
			if (*out)[0].title != tt.wantTitle {
				t.Errorf("title = %q, want %q", (*out)[0].title, tt.wantTitle)
			}
		})
	}
}

func TestRunFailedMessageUsesLastTracebackLine(t *testing.T) {
	n, out := recordingNotifier(nil)
	n.JobFinished(models.Job{ModelRunName: "carbon", Status: models.StatusError, FinalTraceback: "line one\nKeyError: 'lulc'\n"})

	want := "carbon failed:\nKeyError: 'lulc'"
	if len(*out) != 1 || (*out)[0].message != want {
		t.Errorf("unexpected notifications: %+v", *out)
	}
}

func TestSetEnabled(t *testing.T) {
	n := NewNotifier(nil, nil)

	if !n.IsEnabled() {
		t.Error("Expected initially enabled")
	}
	n.SetEnabled(false)
	if n.IsEnabled() {
		t.Error("Expected disabled after SetEnabled(false)")
	}
	n.SetEnabled(true)
	if !n.IsEnabled() {
		t.Error("Expected enabled after SetEnabled(true)")
	}

	var nilNotifier *Notifier
	if nilNotifier.IsEnabled() {
		t.Error("nil notifier should report disabled")
	}
}

func TestParseNotifyConfig(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]string
		expected *Config
	}{
		{
			name:     "empty settings use defaults",
			settings: map[string]string{},
			expected: DefaultConfig(),
		},
		{
			name: "all disabled",
			settings: map[string]string{
				"enabled":           "false",
				"show_run_complete": "false",
				"show_run_failed":   "false",
				"show_canceled":     "false",
			},
			expected: &Config{},
		},
		{
			name: "case insensitive",
			settings: map[string]string{
				"show_canceled": "TRUE",
			},
			expected: &Config{
				Enabled:         true,
				ShowRunComplete: true,
				ShowRunFailed:   true,
				ShowCanceled:    true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseNotifyConfig(tt.settings)
			if *result != *tt.expected {
				t.Errorf("got %+v, want %+v", *result, *tt.expected)
			}
		})
	}
}

func TestNotifierDisabled_NoSend(t *testing.T) {
	n, out := recordingNotifier(&Config{Enabled: false})

	n.RunComplete("Carbon", "/ws")
	n.RunFailed("Carbon", "boom")
	n.Alert("test alert")

	if len(*out) != 0 {
		t.Errorf("disabled notifier sent %d notifications", len(*out))
	}
}

func TestAlertFallsBackToNotify(t *testing.T) {
	n, out := recordingNotifier(nil)
	n.Alert("history file unreadable")

	if len(*out) != 1 || (*out)[0].title != "Model Workbench Alert" {
		t.Errorf("unexpected notifications: %+v", *out)
	}
}
