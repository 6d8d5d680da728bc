package job

import "github.com/rescale/modelbench/internal/models"

// CanRun reports whether a run may be launched: the latest validation must
// be clean and no run may be in progress.
func CanRun(overallValid bool, status models.JobStatus) bool {
	if !overallValid {
		return false
	}
	switch status {
	case models.StatusIdle, models.StatusSuccess, models.StatusError:
		return true
	}
	return false
}

// Validity supplies the validation side of the run gate. ValidRevision
// returns the argument revision behind the visible outcome and whether that
// outcome is clean, read together.
type Validity interface {
	ValidRevision() (revision uint64, valid bool)
}

// ValidityFunc adapts a function to Validity. It always reports revision 0.
type ValidityFunc func() bool

// ValidRevision calls f.
func (f ValidityFunc) ValidRevision() (uint64, bool) { return 0, f() }
