// Package job tracks the lifecycle of model runs.
//
// States are idle, running, success and error. Only the Machine changes
// them: Launch enters running when the run gate allows it, and a single
// terminal report or Cancel leaves it.
package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/modelbench/internal/constants"
	"github.com/rescale/modelbench/internal/events"
	"github.com/rescale/modelbench/internal/logging"
	"github.com/rescale/modelbench/internal/models"
)

// Request is what a Runner needs to start one model execution.
type Request struct {
	JobID        string
	ModuleName   string
	ModelName    string
	Args         models.ArgumentSet
	Revision     uint64 // argument revision Args was read at
	Workers      int
	WorkspaceDir string
}

// Update is one message from a running model. A non-empty Status must be
// success or error and ends the run.
type Update struct {
	Status    models.JobStatus
	LogLine   string
	LogFile   string
	Traceback string
}

// Runner starts model executions. The returned channel is closed by the
// runner once the execution is over.
type Runner interface {
	Launch(ctx context.Context, req Request) (<-chan Update, error)
}

// ErrNoResult is the traceback cause when a runner closes its stream
// without a terminal update.
var ErrNoResult = errors.New("runner exited without reporting a result")

// Machine owns the state of one job.
type Machine struct {
	runner   Runner
	eventBus *events.EventBus
	logger   *logging.Logger

	mu        sync.Mutex
	job       models.Job
	run       uint64 // increments per launch, stale stream updates are dropped
	cancel    context.CancelFunc
	done      chan struct{}
	logLines  []string
	lastErr   error
	listeners []func(models.Job)
}

// NewMachine creates an idle job for one model.
func NewMachine(moduleName, modelName string, runner Runner, eventBus *events.EventBus, logger *logging.Logger) *Machine {
	done := make(chan struct{})
	close(done)
	return &Machine{
		runner:   runner,
		eventBus: eventBus,
		logger:   logger.Named("job"),
		job: models.Job{
			ModelRunName:   moduleName,
			ModelHumanName: modelName,
			Status:         models.StatusIdle,
		},
		done: done,
	}
}

// OnChange registers fn to run after every status change with a copy of
// the job. fn runs outside the machine's lock.
func (m *Machine) OnChange(fn func(models.Job)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Status returns the current status.
func (m *Machine) Status() models.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job.Status
}

// Job returns a copy of the job.
func (m *Machine) Job() models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked()
}

// Done returns a channel closed when the current run ends. Before the first
// launch it is already closed.
func (m *Machine) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Logs returns the buffered output lines of the current or last run.
func (m *Machine) Logs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.logLines...)
}

// Err returns the JobExecutionError of the last run, or nil.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Launch moves the job to running and starts req through the runner. The
// run gate is evaluated against validity at this instant, and the validated
// revision must be req.Revision; otherwise Launch returns an
// InvalidTransitionError and nothing changes. Module and job ID of req are
// filled in by the machine.
func (m *Machine) Launch(ctx context.Context, validity Validity, req Request) (string, error) {
	revision, valid := validity.ValidRevision()

	m.mu.Lock()
	from := m.job.Status
	if !CanRun(valid, from) || !from.CanTransitionTo(models.StatusRunning) {
		m.mu.Unlock()
		reason := "arguments are not valid"
		if from == models.StatusRunning {
			reason = "a run is already in progress"
		}
		return "", &InvalidTransitionError{Op: "launch", From: from, Reason: reason}
	}
	if revision != req.Revision {
		m.mu.Unlock()
		m.logger.Debug().Uint64("validated", revision).Uint64("requested", req.Revision).Msg("refusing launch of unvalidated arguments")
		return "", &InvalidTransitionError{Op: "launch", From: from, Reason: "arguments changed since they were validated"}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.run++
	token := m.run
	m.cancel = cancel
	m.done = make(chan struct{})
	m.logLines = nil
	m.lastErr = nil
	m.job.ID = uuid.NewString()
	m.job.ArgsValues = req.Args.Clone()
	m.job.WorkspaceDir = req.WorkspaceDir
	m.job.Status = models.StatusRunning
	m.job.LogFile = ""
	m.job.FinalTraceback = ""
	m.job.StartedAt = time.Now()
	m.job.FinishedAt = time.Time{}

	req.JobID = m.job.ID
	req.ModuleName = m.job.ModelRunName
	req.ModelName = m.job.ModelHumanName
	req.Args = m.job.ArgsValues.Clone()
	snapshot := m.copyLocked()
	listeners := m.listenersLocked()
	m.mu.Unlock()

	m.logger.Info().Str("job_id", snapshot.ID).Str("module", snapshot.ModelRunName).Msg("launching model")
	m.eventBus.PublishJobState(snapshot.ID, snapshot.ModelRunName, string(from), string(models.StatusRunning), "", "")
	notify(listeners, snapshot)

	updates, err := m.runner.Launch(runCtx, req)
	if err != nil {
		m.finish(token, models.StatusError, "failed to start model: "+err.Error())
		return snapshot.ID, nil
	}
	go m.consume(token, updates)
	return snapshot.ID, nil
}

func (m *Machine) consume(token uint64, updates <-chan Update) {
	for u := range updates {
		if u.LogFile != "" {
			m.apply(token, func() { m.job.LogFile = u.LogFile })
		}
		if u.LogLine != "" {
			m.apply(token, func() { m.appendLineLocked(u.LogLine) })
		}
		if u.Traceback != "" && u.Status == "" {
			m.apply(token, func() { m.job.FinalTraceback = u.Traceback })
		}
		if u.Status != "" {
			m.finish(token, u.Status, u.Traceback)
		}
	}
	// no-op when the run already ended
	m.finish(token, models.StatusError, ErrNoResult.Error())
}

// apply runs fn under the lock if token still names a running launch.
func (m *Machine) apply(token uint64, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token != m.run || m.job.Status != models.StatusRunning {
		return
	}
	fn()
}

// AppendLog records an output line of the running job.
func (m *Machine) AppendLog(line string) error {
	return m.whileRunning("append log", func() { m.appendLineLocked(line) })
}

// SetTraceback records a traceback without ending the run.
func (m *Machine) SetTraceback(tb string) error {
	return m.whileRunning("set traceback", func() { m.job.FinalTraceback = tb })
}

// SetLogfile records where the running model writes its log.
func (m *Machine) SetLogfile(path string) error {
	return m.whileRunning("set logfile", func() { m.job.LogFile = path })
}

func (m *Machine) whileRunning(op string, fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job.Status != models.StatusRunning {
		return &InvalidTransitionError{Op: op, From: m.job.Status}
	}
	fn()
	return nil
}

func (m *Machine) appendLineLocked(line string) {
	m.logLines = append(m.logLines, line)
	if over := len(m.logLines) - constants.JobLogBufferLines; over > 0 {
		m.logLines = append([]string(nil), m.logLines[over:]...)
	}
	m.eventBus.PublishJobLog(m.job.ID, line)
}

// Finish ends the running job with success or error. An error status
// records a JobExecutionError carrying traceback.
func (m *Machine) Finish(status models.JobStatus, traceback string) error {
	if !status.IsTerminal() {
		return &InvalidTransitionError{Op: "finish with status " + string(status), From: m.Status()}
	}
	m.mu.Lock()
	from := m.job.Status
	token := m.run
	m.mu.Unlock()
	if from != models.StatusRunning {
		return &InvalidTransitionError{Op: "finish", From: from}
	}
	if !m.finish(token, status, traceback) {
		return &InvalidTransitionError{Op: "finish", From: m.Status()}
	}
	return nil
}

// Cancel stops the running job. It ends in error with a "canceled"
// traceback and the runner's context is canceled.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	from := m.job.Status
	token := m.run
	m.mu.Unlock()
	if from != models.StatusRunning {
		return &InvalidTransitionError{Op: "cancel", From: from}
	}
	if !m.finish(token, models.StatusError, constants.CanceledTraceback) {
		return &InvalidTransitionError{Op: "cancel", From: m.Status()}
	}
	return nil
}

// finish performs the single terminal transition of run token. It reports
// false when that run is no longer running.
func (m *Machine) finish(token uint64, status models.JobStatus, traceback string) bool {
	if !status.IsTerminal() {
		status = models.StatusError
	}

	m.mu.Lock()
	if token != m.run || !m.job.Status.CanTransitionTo(status) {
		m.mu.Unlock()
		return false
	}
	if traceback != "" {
		m.job.FinalTraceback = traceback
	}
	m.job.Status = status
	m.job.FinishedAt = time.Now()
	if status == models.StatusError {
		m.lastErr = &JobExecutionError{
			JobID:     m.job.ID,
			Module:    m.job.ModelRunName,
			Traceback: m.job.FinalTraceback,
			LogFile:   m.job.LogFile,
		}
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	close(m.done)
	snapshot := m.copyLocked()
	listeners := m.listenersLocked()
	m.mu.Unlock()

	ev := m.logger.Info()
	if status == models.StatusError {
		ev = m.logger.Warn().Str("traceback", snapshot.FinalTraceback)
	}
	ev.Str("job_id", snapshot.ID).Str("status", string(status)).Msg("model run finished")
	m.eventBus.PublishJobState(snapshot.ID, snapshot.ModelRunName, string(models.StatusRunning), string(status),
		snapshot.LogFile, snapshot.FinalTraceback)
	notify(listeners, snapshot)
	return true
}

func (m *Machine) copyLocked() models.Job {
	j := m.job
	j.ArgsValues = m.job.ArgsValues.Clone()
	return j
}

func (m *Machine) listenersLocked() []func(models.Job) {
	return append([]func(models.Job){}, m.listeners...)
}

func notify(listeners []func(models.Job), j models.Job) {
	for _, fn := range listeners {
		fn(j)
	}
}
