package models

import "time"

// JobStatus is the lifecycle state of one model execution.
type JobStatus string

const (
	StatusIdle    JobStatus = "idle"
	StatusRunning JobStatus = "running"
	StatusSuccess JobStatus = "success"
	StatusError   JobStatus = "error"
)

// String returns the string representation of the status.
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal returns true for the states a run ends in.
func (s JobStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

// ValidJobTransitions defines the allowed job status transitions.
var ValidJobTransitions = map[JobStatus][]JobStatus{
	StatusIdle:    {StatusRunning},
	StatusRunning: {StatusSuccess, StatusError},
	StatusSuccess: {StatusRunning},
	StatusError:   {StatusRunning},
}

// CanTransitionTo returns true if moving from s to next is allowed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range ValidJobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Job is one configured model invocation and its latest run.
type Job struct {
	ID             string
	ModelRunName   string // module name
	ModelHumanName string
	ArgsValues     ArgumentSet
	Status         JobStatus
	LogFile        string
	FinalTraceback string
	WorkspaceDir   string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// JobRecord is a finished run as persisted in the history file.
type JobRecord struct {
	ID           string
	ModelName    string
	Status       JobStatus
	WorkspaceDir string
	LogFile      string
	StartedAt    time.Time
	FinishedAt   time.Time
	ErrorMessage string
}
