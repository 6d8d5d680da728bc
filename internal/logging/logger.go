// Package logging provides structured logging for the CLI and for embedding
// frontends.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/rescale/modelbench/internal/events"
)

var nop = zerolog.Nop()

// Logger wraps zerolog with mode-specific behavior.
type Logger struct {
	zlog     zerolog.Logger
	mode     string // "cli" or "embedded"
	eventBus *events.EventBus
	output   io.Writer // current console writer, without the file sink
}

// NewLogger creates a new logger for the specified mode.
func NewLogger(mode string, eventBus *events.EventBus) *Logger {
	var out *os.File
	if mode == "cli" {
		// CLI mode: stdout for logs, stderr is reserved for the run spinner
		out = os.Stdout
	} else {
		out = os.Stderr
	}

	l := &Logger{
		mode:     mode,
		eventBus: eventBus,
	}
	l.SetOutput(consoleWriter(out, !isTerminal(out)))
	return l
}

// NewDefaultCLILogger creates a default CLI logger.
func NewDefaultCLILogger() *Logger {
	return NewLogger("cli", nil)
}

// NewWriterLogger creates a logger writing plain JSON lines to w. Used by
// tests that assert on log output.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{
		zlog:   zerolog.New(w).With().Timestamp().Logger(),
		mode:   "embedded",
		output: w,
	}
}

func consoleWriter(w io.Writer, noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
		NoColor:    noColor,
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func (l *Logger) z() *zerolog.Logger {
	if l == nil {
		return &nop
	}
	return &l.zlog
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.z().Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.z().Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.z().Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.z().Warn()
}

// With creates a child logger context.
func (l *Logger) With() zerolog.Context {
	return l.z().With()
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		return nil
	}
	child := *l
	child.zlog = l.zlog.With().Str("component", component).Logger()
	return &child
}

// SetOutput changes the output writer for the logger. When file logging is
// enabled the rotating file keeps receiving every record.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	if fw := currentFileWriter(); fw != nil {
		w = zerolog.MultiLevelWriter(w, fw)
	}
	l.zlog = zerolog.New(w).With().Timestamp().Logger()
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	if l == nil {
		return io.Discard
	}
	return l.output
}

// Debugf logs a debug message with printf-style formatting.
// This is only shown when debug/verbose mode is enabled.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.z().Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.z().Info().Msgf(format, args...)
}

// Errorf logs an error message with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.z().Error().Msgf(format, args...)
}

// Warnf logs a warning message with printf-style formatting and mirrors it
// onto the event bus so frontends can show it.
func (l *Logger) Warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.z().Warn().Msg(msg)
	if l != nil && l.eventBus != nil {
		l.eventBus.PublishLog(events.WarnLevel, strings.TrimSpace(msg), "", nil)
	}
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// ParseLevel maps a settings value such as "INFO" or "debug" to a zerolog
// level. Unknown names fall back to info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel
	case "warning", "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "critical", "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(consoleWriter(os.Stderr, !isTerminal(os.Stderr)))
}
