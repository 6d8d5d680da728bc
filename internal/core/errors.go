package core

import (
	"errors"
	"strings"

	"github.com/rescale/modelbench/internal/argstore"
	"github.com/rescale/modelbench/internal/datastack"
	"github.com/rescale/modelbench/internal/job"
	"github.com/rescale/modelbench/internal/validation"
)

// UserMessage turns err into one human-readable line. The typed error stays
// available to callers through errors.As.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		transition  *job.InvalidTransitionError
		execution   *job.JobExecutionError
		malformed   *datastack.MalformedDatastackError
		unavailable *validation.ValidationUnavailableError
		unknownKey  *argstore.UnknownArgumentKeyWarning
	)
	switch {
	case errors.Is(err, ErrNoSession):
		return "Open a model first."
	case errors.Is(err, ErrRunActive):
		return "Wait for the current run to finish or cancel it first."
	case errors.As(err, &transition):
		return capitalize(transition.Error()) + "."
	case errors.As(err, &execution):
		return "The model run failed: " + execution.Summary()
	case errors.As(err, &malformed):
		return "The file is not a valid parameter set: " + strings.TrimPrefix(malformed.Error(), "malformed datastack: ")
	case errors.As(err, &unavailable):
		cause := unavailable.Error()
		if unavailable.Err != nil {
			cause = unavailable.Err.Error()
		}
		return "Validation is unavailable right now: " + firstLine(cause)
	case errors.As(err, &unknownKey):
		return capitalize(unknownKey.Error()) + "."
	case errors.Is(err, ErrModelMismatch):
		return capitalize(firstLine(err.Error())) + "."
	case errors.Is(err, argstore.ErrUnknownKey):
		return capitalize(firstLine(err.Error())) + "."
	}
	return capitalize(firstLine(err.Error()))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
