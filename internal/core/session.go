package core

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rescale/modelbench/internal/argstore"
	"github.com/rescale/modelbench/internal/constants"
	"github.com/rescale/modelbench/internal/datastack"
	"github.com/rescale/modelbench/internal/events"
	"github.com/rescale/modelbench/internal/job"
	"github.com/rescale/modelbench/internal/logging"
	"github.com/rescale/modelbench/internal/models"
	"github.com/rescale/modelbench/internal/state"
	"github.com/rescale/modelbench/internal/validation"
)

// Session is one open model: its argument values, their validation and
// the lifecycle of its runs.
type Session struct {
	cfg      Config
	spec     models.ModelSpec
	eventBus *events.EventBus
	logger   *logging.Logger

	store   *argstore.Store
	coord   *validation.Coordinator
	machine *job.Machine

	mu      sync.Mutex
	workers int
	gate    bool
	gateSet bool
}

func newSession(e *Engine, spec models.ModelSpec) *Session {
	logger := e.cfg.Logger.Named("session")
	validator := e.cfg.Validator
	if validator == nil {
		validator = validation.NewSpecValidator(spec)
	}

	s := &Session{
		cfg:      e.cfg,
		spec:     spec,
		eventBus: e.eventBus,
		logger:   logger,
		workers:  e.cfg.Workers,
	}
	s.store = argstore.New(spec, e.eventBus, logger)
	s.coord = validation.NewCoordinator(spec.ModuleName, validator,
		validation.WithDebounce(e.cfg.Debounce),
		validation.WithLogger(logger),
		validation.WithEventBus(e.eventBus),
	)
	s.machine = job.NewMachine(spec.ModuleName, spec.ModelName, e.cfg.Runner, e.eventBus, logger)

	s.coord.OnChange(s.publishGate)
	s.machine.OnChange(s.jobChanged)
	return s
}

// Spec returns the model spec the session was opened with.
func (s *Session) Spec() models.ModelSpec {
	return s.spec
}

// Snapshot returns the current argument values.
func (s *Session) Snapshot() argstore.Snapshot {
	return s.store.Snapshot()
}

// SetValue updates one argument and schedules validation when it changed.
func (s *Session) SetValue(key, value string) (bool, error) {
	changed, err := s.store.SetValue(key, value)
	if err != nil || !changed {
		return changed, err
	}
	s.coord.Schedule(s.store.Snapshot())
	return true, nil
}

// Revalidate schedules validation of the current values.
func (s *Session) Revalidate() uint64 {
	return s.coord.Schedule(s.store.Snapshot())
}

// IsValid reports whether key has no visible validation error.
func (s *Session) IsValid(key string) bool { return s.coord.IsValid(key) }

// ErrorsFor returns the visible validation messages of key.
func (s *Session) ErrorsFor(key string) []string { return s.coord.ErrorsFor(key) }

// Outcome returns the visible validation outcome.
func (s *Session) Outcome() []models.ValidationError { return s.coord.Outcome() }

// OverallValid reports whether the latest values validated cleanly.
func (s *Session) OverallValid() bool { return s.coord.OverallValid() }

// ValidationErr returns the *validation.ValidationUnavailableError of the
// latest request, if the validator failed.
func (s *Session) ValidationErr() error { return s.coord.LastError() }

// WaitValidation blocks until the latest scheduled validation settled.
func (s *Session) WaitValidation(ctx context.Context) error { return s.coord.Wait(ctx) }

// CanRun evaluates the run gate for the current state.
func (s *Session) CanRun() bool {
	return job.CanRun(s.coord.OverallValid(), s.machine.Status())
}

// Workers returns the n_workers value used for saves and runs.
func (s *Session) Workers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workers
}

// SetWorkers changes the n_workers value used for saves and runs.
func (s *Session) SetWorkers(n int) error {
	if n < constants.MinNWorkers {
		return fmt.Errorf("n_workers must be %d or greater, got %d", constants.MinNWorkers, n)
	}
	s.mu.Lock()
	s.workers = n
	s.mu.Unlock()
	return nil
}

// Save writes the current values as a parameter set. An empty path is a
// canceled dialog and returns saved=false without touching persistence.
func (s *Session) Save(ctx context.Context, path string) (bool, error) {
	saved, err := datastack.SaveParameterSet(ctx, s.cfg.Persistence, path, s.store.Snapshot().Values(), s.spec, datastack.Options{
		Workers:       s.Workers(),
		RelativePaths: s.cfg.RelativePaths && !isRemote(path),
	})
	if err != nil {
		s.publishError("save", err)
	}
	return saved, err
}

// SaveScript writes the current values as a standalone script.
func (s *Session) SaveScript(ctx context.Context, path string) (bool, error) {
	saved, err := datastack.SaveScript(ctx, s.cfg.Persistence, path, s.store.Snapshot().Values(), s.spec, s.Workers())
	if err != nil {
		s.publishError("save script", err)
	}
	return saved, err
}

// Load reads a parameter set for this model into the store. ok is false
// for an empty path.
func (s *Session) Load(ctx context.Context, path string) (res argstore.LoadResult, ok bool, err error) {
	ds, ok, err := datastack.LoadFromFile(ctx, s.cfg.Persistence, path)
	if err == nil && ok {
		res, err = s.Apply(ds, path)
		ok = err == nil
	}
	if err != nil {
		s.publishError("load", err)
	}
	return res, ok, err
}

// LoadLogfile recovers the arguments of a previous run from its logfile.
func (s *Session) LoadLogfile(ctx context.Context, path string) (res argstore.LoadResult, ok bool, err error) {
	ds, ok, err := datastack.LoadFromLogfile(ctx, s.cfg.Persistence, path)
	if err == nil && ok {
		res, err = s.Apply(ds, path)
		ok = err == nil
	}
	if err != nil {
		s.publishError("load logfile", err)
	}
	return res, ok, err
}

// Apply loads ds into the store and schedules validation. The synthesized
// n_workers key is not an argument and is dropped silently. Relative paths
// are resolved against the directory of source.
func (s *Session) Apply(ds models.Datastack, source string) (argstore.LoadResult, error) {
	if !sameModel(ds.ModuleName, s.spec.ModuleName) {
		return argstore.LoadResult{}, fmt.Errorf("%w: %s is for %s, open model is %s",
			ErrModelMismatch, source, ds.ModuleName, s.spec.ModuleName)
	}

	args := ds.Args
	if _, ok := args[constants.NWorkersKey]; ok && !s.spec.Has(constants.NWorkersKey) {
		args = args.Clone()
		delete(args, constants.NWorkersKey)
	}
	if ds.RelativePaths && source != "" && !isRemote(source) {
		resolved, err := datastack.ResolveRelative(args, s.spec, filepath.Dir(source))
		if err != nil {
			return argstore.LoadResult{}, fmt.Errorf("failed to resolve paths in %s: %w", source, err)
		}
		args = resolved
	}

	ds.Args = args
	res := s.store.Load(ds, source)
	s.Revalidate()
	return res, nil
}

// Run launches the model with the current values. It fails with a
// *job.InvalidTransitionError when the run gate is closed or the values
// changed after they were last validated.
func (s *Session) Run(ctx context.Context) (string, error) {
	snap := s.store.Snapshot()
	values := snap.Values()
	id, err := s.machine.Launch(ctx, s.coord, job.Request{
		Args:         values,
		Revision:     snap.Revision(),
		Workers:      s.Workers(),
		WorkspaceDir: values[constants.WorkspaceKey],
	})
	if err != nil {
		s.publishError("run", err)
	}
	return id, err
}

// Cancel stops the running job.
func (s *Session) Cancel() error {
	return s.machine.Cancel()
}

// Status returns the job status.
func (s *Session) Status() models.JobStatus { return s.machine.Status() }

// Job returns a copy of the current or last job.
func (s *Session) Job() models.Job { return s.machine.Job() }

// Done is closed when the current run finishes.
func (s *Session) Done() <-chan struct{} { return s.machine.Done() }

// Logs returns the buffered log lines of the current or last run.
func (s *Session) Logs() []string { return s.machine.Logs() }

// RunErr returns the *job.JobExecutionError of the last failed run.
func (s *Session) RunErr() error { return s.machine.Err() }

func (s *Session) close() {
	s.coord.Close()
}

// publishError reports a failed user action with its typed error.
func (s *Session) publishError(action string, err error) {
	s.logger.Warn().Err(err).Str("action", action).Msg("action failed")
	s.eventBus.PublishError(s.spec.ModuleName, action, err)
}

// publishGate emits a run gate event when CanRun changed.
func (s *Session) publishGate() {
	canRun := s.CanRun()
	s.mu.Lock()
	if s.gateSet && s.gate == canRun {
		s.mu.Unlock()
		return
	}
	s.gate, s.gateSet = canRun, true
	s.mu.Unlock()
	s.eventBus.PublishRunGate(s.spec.ModuleName, canRun)
}

func (s *Session) jobChanged(j models.Job) {
	s.publishGate()
	if !j.Status.IsTerminal() {
		return
	}
	if s.cfg.History != nil {
		if err := s.cfg.History.Record(state.RecordFromJob(j)); err != nil {
			s.logger.Warn().Err(err).Str("job", j.ID).Msg("failed to record job history")
		}
	}
	s.cfg.Notifier.JobFinished(j)
}

// sameModel compares module names. A bare name, as logfiles sometimes
// carry, matches the last component of a dotted one.
func sameModel(a, b string) bool {
	if a == b {
		return true
	}
	if strings.Contains(a, ".") && strings.Contains(b, ".") {
		return false
	}
	return lastComponent(a) == lastComponent(b)
}

func lastComponent(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

func isRemote(path string) bool {
	return strings.Contains(path, "://")
}
