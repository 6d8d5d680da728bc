package constants

import (
	"time"
)

// Validation scheduling
const (
	// ValidationDebounce - delay between the last argument edit and the
	// validation request it triggers (200ms). Zero disables debouncing.
	ValidationDebounce = 200 * time.Millisecond

	// ValidationRequestTimeout - per-request timeout used by the HTTP
	// validator client. The coordinator itself imposes no timeout.
	ValidationRequestTimeout = 30 * time.Second
)

// Worker configuration
const (
	// DefaultNWorkers - synchronous execution in the model process
	DefaultNWorkers = -1

	// MinNWorkers - smallest accepted n_workers value
	MinNWorkers = -1

	// NWorkersKey - argument key synthesized by the serializer
	NWorkersKey = "n_workers"

	// WorkspaceKey - argument naming the run's output directory
	WorkspaceKey = "workspace_dir"
)

// Retry configuration
const (
	// MaxRetries - maximum number of retries for transient HTTP errors
	MaxRetries = 5

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	RetryMaxDelay = 15 * time.Second
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// Job output
const (
	// JobLogBufferLines - number of log lines kept in memory per job
	JobLogBufferLines = 2000

	// CanceledTraceback - traceback recorded when a running job is canceled
	CanceledTraceback = "canceled"

	// RunnerShutdownGrace - time the exec runner waits after SIGINT before killing
	RunnerShutdownGrace = 5 * time.Second

	// MinWorkspaceFreeBytes - free space required on the workspace filesystem to launch
	MinWorkspaceFreeBytes = 100 * 1024 * 1024
)

// Files
const (
	// ParameterSetExtension - default extension for saved parameter sets
	ParameterSetExtension = ".json"

	// ScriptExtension - default extension for rendered invocation scripts
	ScriptExtension = ".py"

	// HistoryFileName - CSV file holding finished job history
	HistoryFileName = "job_history.csv"

	// SettingsFileName - INI file holding workbench settings
	SettingsFileName = "modelbench.conf"

	// LogFileName - rotating application log
	LogFileName = "modelbench.log"
)

// History
const (
	// MaxHistoryRecords - finished runs kept in the history file
	MaxHistoryRecords = 500
)

// HTTP transport
const (
	// HTTPDialTimeout - TCP connect timeout
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - TCP keep-alive interval
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPIdleConnTimeout - how long idle pooled connections are kept
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - TLS handshake timeout
	HTTPTLSHandshakeTimeout = 30 * time.Second

	// HTTPExpectContinueTimeout - wait for 100-continue
	HTTPExpectContinueTimeout = 1 * time.Second
)
