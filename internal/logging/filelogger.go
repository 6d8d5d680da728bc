package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rescale/modelbench/internal/constants"
)

var (
	// fileLogger is the rotating file sink shared by every Logger
	fileLogger   *lumberjack.Logger
	fileLoggerMu sync.RWMutex
)

// EnableFileLogging starts writing every subsequently configured Logger to a
// rotating file under dir. Loggers created before the call must re-apply
// their output with SetOutput to pick up the file sink.
func EnableFileLogging(dir string) (string, error) {
	fileLoggerMu.Lock()
	defer fileLoggerMu.Unlock()

	if fileLogger != nil {
		return fileLogger.Filename, nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	fileLogger = &lumberjack.Logger{
		Filename:   filepath.Join(dir, constants.LogFileName),
		MaxSize:    10, // MB per file
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	return fileLogger.Filename, nil
}

// LogFilePath returns the rotating log path, or "" when file logging is off.
func LogFilePath() string {
	fileLoggerMu.RLock()
	defer fileLoggerMu.RUnlock()

	if fileLogger != nil {
		return fileLogger.Filename
	}
	return ""
}

// CloseFileLogging flushes and closes the rotating file (call on shutdown).
func CloseFileLogging() error {
	fileLoggerMu.Lock()
	defer fileLoggerMu.Unlock()

	if fileLogger == nil {
		return nil
	}
	err := fileLogger.Close()
	fileLogger = nil
	return err
}

func currentFileWriter() io.Writer {
	fileLoggerMu.RLock()
	defer fileLoggerMu.RUnlock()

	if fileLogger == nil {
		return nil
	}
	return fileLogger
}
