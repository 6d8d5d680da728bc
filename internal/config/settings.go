// Package config provides configuration management for modelbench.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/ini.v1"

	"github.com/rescale/modelbench/internal/constants"
)

// Settings represents the workbench settings file.
//
// INI format:
//
//	[workbench]
//	n_workers = -1
//	logging_level = INFO
//	taskgraph_logging_level = ERROR
//	language = en
//	debounce_ms = 200
//
//	[server]
//	url = http://127.0.0.1:56789
//	proxy_mode = system
//	proxy_url =
//	no_proxy = localhost,127.0.0.1
//
//	[runner]
//	executable = invest
//
//	[notifications]
//	enabled = true
//
//	[storage]
//	s3_region = us-west-2
//	azure_account_url = https://acct.blob.core.windows.net/
type Settings struct {
	Workbench     WorkbenchSettings
	Server        ServerSettings
	Runner        RunnerSettings
	Notifications NotificationSettings
	Storage       StorageSettings
}

// WorkbenchSettings contains model execution and UI settings.
type WorkbenchSettings struct {
	// NWorkers is passed to every run as the synthesized n_workers argument.
	// -1 runs synchronously, 0 uses threads in the model process,
	// 1 or more starts that many worker processes.
	NWorkers int `ini:"n_workers" validate:"min=-1"`

	LoggingLevel          string `ini:"logging_level" validate:"oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	TaskgraphLoggingLevel string `ini:"taskgraph_logging_level" validate:"oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	Language              string `ini:"language" validate:"required,min=2,max=8"`

	// DebounceMS delays validation after the last edit. 0 disables it.
	DebounceMS int `ini:"debounce_ms" validate:"min=0,max=10000"`
}

// ServerSettings locates the HTTP spec/validation server.
type ServerSettings struct {
	URL string `ini:"url" validate:"omitempty,url"`

	// ProxyMode is no-proxy, system (HTTP_PROXY and friends) or basic
	// (ProxyURL, which may carry user:password).
	ProxyMode string `ini:"proxy_mode" validate:"oneof=no-proxy system basic"`
	ProxyURL  string `ini:"proxy_url" validate:"omitempty,url"`
	NoProxy   string `ini:"no_proxy"`
}

// RunnerSettings configures the local model executable.
type RunnerSettings struct {
	Executable string `ini:"executable" validate:"required"`
}

// NotificationSettings toggles desktop notifications on job completion.
type NotificationSettings struct {
	Enabled bool `ini:"enabled"`
}

// StorageSettings configures remote datastack storage.
type StorageSettings struct {
	S3Region        string `ini:"s3_region"`
	AzureAccountURL string `ini:"azure_account_url" validate:"omitempty,url"`
}

// envOverrides lists the MODELBENCH_* environment variables. Unset variables
// leave the file value untouched.
type envOverrides struct {
	NWorkers        *int    `envconfig:"N_WORKERS"`
	LoggingLevel    *string `envconfig:"LOGGING_LEVEL"`
	Language        *string `envconfig:"LANGUAGE"`
	DebounceMS      *int    `envconfig:"DEBOUNCE_MS"`
	ServerURL       *string `envconfig:"SERVER_URL"`
	ProxyMode       *string `envconfig:"PROXY_MODE"`
	ProxyURL        *string `envconfig:"PROXY_URL"`
	NoProxy         *string `envconfig:"NO_PROXY"`
	Executable      *string `envconfig:"EXECUTABLE"`
	Notifications   *bool   `envconfig:"NOTIFICATIONS"`
	S3Region        *string `envconfig:"S3_REGION"`
	AzureAccountURL *string `envconfig:"AZURE_ACCOUNT_URL"`
}

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "MODELBENCH"

// Settings errors
var (
	ErrInvalidSettings = errors.New("invalid settings")
	ErrUnknownSetting  = errors.New("unknown setting")
)

var settingsValidator = validator.New()

// NewSettings creates Settings with default values.
func NewSettings() *Settings {
	return &Settings{
		Workbench: WorkbenchSettings{
			NWorkers:              constants.DefaultNWorkers,
			LoggingLevel:          "INFO",
			TaskgraphLoggingLevel: "ERROR",
			Language:              "en",
			DebounceMS:            int(constants.ValidationDebounce / time.Millisecond),
		},
		Server: ServerSettings{
			ProxyMode: "system",
		},
		Runner: RunnerSettings{
			Executable: "invest",
		},
		Notifications: NotificationSettings{
			Enabled: true,
		},
	}
}

// DefaultSettingsPath returns the default settings file location.
func DefaultSettingsPath() string {
	return filepath.Join(ConfigDirectory(), constants.SettingsFileName)
}

// LoadSettings loads settings from path (default location when empty), then
// applies MODELBENCH_* overrides and validates the result. A missing file
// yields defaults.
func LoadSettings(path string) (*Settings, error) {
	cfg := NewSettings()

	if path == "" {
		path = DefaultSettingsPath()
	}

	if _, err := os.Stat(path); err == nil {
		iniFile, err := ini.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
		}
		cfg.readINI(iniFile)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat settings: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Settings) readINI(f *ini.File) {
	wb := f.Section("workbench")
	cfg.Workbench.NWorkers = wb.Key("n_workers").MustInt(cfg.Workbench.NWorkers)
	cfg.Workbench.LoggingLevel = wb.Key("logging_level").MustString(cfg.Workbench.LoggingLevel)
	cfg.Workbench.TaskgraphLoggingLevel = wb.Key("taskgraph_logging_level").MustString(cfg.Workbench.TaskgraphLoggingLevel)
	cfg.Workbench.Language = wb.Key("language").MustString(cfg.Workbench.Language)
	cfg.Workbench.DebounceMS = wb.Key("debounce_ms").MustInt(cfg.Workbench.DebounceMS)

	server := f.Section("server")
	cfg.Server.URL = server.Key("url").MustString(cfg.Server.URL)
	cfg.Server.ProxyMode = server.Key("proxy_mode").MustString(cfg.Server.ProxyMode)
	cfg.Server.ProxyURL = server.Key("proxy_url").MustString(cfg.Server.ProxyURL)
	cfg.Server.NoProxy = server.Key("no_proxy").MustString(cfg.Server.NoProxy)
	cfg.Runner.Executable = f.Section("runner").Key("executable").MustString(cfg.Runner.Executable)
	cfg.Notifications.Enabled = f.Section("notifications").Key("enabled").MustBool(cfg.Notifications.Enabled)

	storage := f.Section("storage")
	cfg.Storage.S3Region = storage.Key("s3_region").MustString(cfg.Storage.S3Region)
	cfg.Storage.AzureAccountURL = storage.Key("azure_account_url").MustString(cfg.Storage.AzureAccountURL)
}

func (cfg *Settings) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read %s_* environment: %w", EnvPrefix, err)
	}
	if env.NWorkers != nil {
		cfg.Workbench.NWorkers = *env.NWorkers
	}
	if env.LoggingLevel != nil {
		cfg.Workbench.LoggingLevel = strings.ToUpper(*env.LoggingLevel)
	}
	if env.Language != nil {
		cfg.Workbench.Language = *env.Language
	}
	if env.DebounceMS != nil {
		cfg.Workbench.DebounceMS = *env.DebounceMS
	}
	if env.ServerURL != nil {
		cfg.Server.URL = *env.ServerURL
	}
	if env.ProxyMode != nil {
		cfg.Server.ProxyMode = strings.ToLower(*env.ProxyMode)
	}
	if env.ProxyURL != nil {
		cfg.Server.ProxyURL = *env.ProxyURL
	}
	if env.NoProxy != nil {
		cfg.Server.NoProxy = *env.NoProxy
	}
	if env.Executable != nil {
		cfg.Runner.Executable = *env.Executable
	}
	if env.Notifications != nil {
		cfg.Notifications.Enabled = *env.Notifications
	}
	if env.S3Region != nil {
		cfg.Storage.S3Region = *env.S3Region
	}
	if env.AzureAccountURL != nil {
		cfg.Storage.AzureAccountURL = *env.AzureAccountURL
	}
	return nil
}

// Validate checks field constraints. The returned error wraps
// ErrInvalidSettings and names every failing field.
func (cfg *Settings) Validate() error {
	err := settingsValidator.Struct(cfg)
	if err == nil {
		if cfg.Server.ProxyMode == "basic" && cfg.Server.ProxyURL == "" {
			return fmt.Errorf("%w: Settings.Server.ProxyURL is required when proxy_mode is basic", ErrInvalidSettings)
		}
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(msgs, "; "))
}

// Debounce returns the configured validation debounce delay.
func (cfg *Settings) Debounce() time.Duration {
	return time.Duration(cfg.Workbench.DebounceMS) * time.Millisecond
}

// SaveSettings writes settings to path (default location when empty) using
// a temporary file and rename.
func SaveSettings(cfg *Settings, path string) error {
	if path == "" {
		path = DefaultSettingsPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	for _, kv := range cfg.Entries() {
		section, key, _ := strings.Cut(kv[0], ".")
		iniFile.Section(section).Key(key).SetValue(kv[1])
	}

	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set settings permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Entries returns every setting as a "section.key", value pair in file order.
func (cfg *Settings) Entries() [][2]string {
	return [][2]string{
		{"workbench.n_workers", strconv.Itoa(cfg.Workbench.NWorkers)},
		{"workbench.logging_level", cfg.Workbench.LoggingLevel},
		{"workbench.taskgraph_logging_level", cfg.Workbench.TaskgraphLoggingLevel},
		{"workbench.language", cfg.Workbench.Language},
		{"workbench.debounce_ms", strconv.Itoa(cfg.Workbench.DebounceMS)},
		{"server.url", cfg.Server.URL},
		{"server.proxy_mode", cfg.Server.ProxyMode},
		{"server.proxy_url", cfg.Server.ProxyURL},
		{"server.no_proxy", cfg.Server.NoProxy},
		{"runner.executable", cfg.Runner.Executable},
		{"notifications.enabled", strconv.FormatBool(cfg.Notifications.Enabled)},
		{"storage.s3_region", cfg.Storage.S3Region},
		{"storage.azure_account_url", cfg.Storage.AzureAccountURL},
	}
}

// Set updates one setting addressed as "section.key" and re-validates.
// On error the settings are left unchanged.
func (cfg *Settings) Set(name, value string) error {
	next := *cfg
	var err error
	switch name {
	case "workbench.n_workers":
		next.Workbench.NWorkers, err = strconv.Atoi(value)
	case "workbench.logging_level":
		next.Workbench.LoggingLevel = strings.ToUpper(value)
	case "workbench.taskgraph_logging_level":
		next.Workbench.TaskgraphLoggingLevel = strings.ToUpper(value)
	case "workbench.language":
		next.Workbench.Language = value
	case "workbench.debounce_ms":
		next.Workbench.DebounceMS, err = strconv.Atoi(value)
	case "server.url":
		next.Server.URL = value
	case "server.proxy_mode":
		next.Server.ProxyMode = strings.ToLower(value)
	case "server.proxy_url":
		next.Server.ProxyURL = value
	case "server.no_proxy":
		next.Server.NoProxy = value
	case "runner.executable":
		next.Runner.Executable = value
	case "notifications.enabled":
		next.Notifications.Enabled, err = strconv.ParseBool(value)
	case "storage.s3_region":
		next.Storage.S3Region = value
	case "storage.azure_account_url":
		next.Storage.AzureAccountURL = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSetting, name)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSettings, name, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*cfg = next
	return nil
}
