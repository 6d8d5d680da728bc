package job

import (
	"fmt"
	"strings"

	"github.com/rescale/modelbench/internal/models"
)

// InvalidTransitionError is returned when an operation is not allowed in
// the job's current state. The job is left unchanged.
type InvalidTransitionError struct {
	Op     string
	From   models.JobStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s while job is %s", e.Op, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// JobExecutionError describes a run that ended in the error state.
type JobExecutionError struct {
	JobID     string
	Module    string
	Traceback string
	LogFile   string
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("%s run %s failed: %s", e.Module, e.JobID, e.Summary())
}

// Summary returns the last non-empty traceback line, which for most
// runners names the exception.
func (e *JobExecutionError) Summary() string {
	lines := strings.Split(strings.TrimSpace(e.Traceback), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return "no traceback reported"
}
