// Package core ties the argument store, validation, serialization and job
// lifecycle of one model together behind a single session object.
//
// The engine holds at most one open session. All collaborators (spec
// source, validator, persistence, runner) are interfaces supplied by the
// caller; core never opens files or sockets itself.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rescale/modelbench/internal/argstore"
	"github.com/rescale/modelbench/internal/constants"
	"github.com/rescale/modelbench/internal/datastack"
	"github.com/rescale/modelbench/internal/events"
	"github.com/rescale/modelbench/internal/job"
	"github.com/rescale/modelbench/internal/logging"
	"github.com/rescale/modelbench/internal/models"
	"github.com/rescale/modelbench/internal/notify"
	"github.com/rescale/modelbench/internal/state"
	"github.com/rescale/modelbench/internal/validation"
)

// SpecProvider returns the argument spec of a model.
type SpecProvider interface {
	GetSpec(ctx context.Context, moduleName string) (models.ModelSpec, error)
}

// Engine errors
var (
	ErrNoSession     = errors.New("no model is open")
	ErrModelMismatch = errors.New("datastack belongs to a different model")
	ErrRunActive     = errors.New("a model run is in progress")
)

// Config wires an Engine to its collaborators. Specs, Persistence and
// Runner are required.
type Config struct {
	Specs       SpecProvider
	Persistence datastack.Persistence
	Runner      job.Runner

	// Validator checks argument sets. Nil validates locally against the
	// open model's spec.
	Validator validation.Validator

	// History and Notifier are told about every finished run when set.
	History  *state.HistoryManager
	Notifier *notify.Notifier

	EventBus *events.EventBus
	Logger   *logging.Logger

	// Workers is the n_workers value written into every payload.
	Workers int
	// Debounce delays validation after an edit. Zero validates at once.
	Debounce time.Duration
	// RelativePaths saves path arguments relative to the parameter set.
	RelativePaths bool
}

// Engine is the main orchestrator: it opens model sessions and owns the
// collaborators they share.
type Engine struct {
	cfg      Config
	eventBus *events.EventBus
	logger   *logging.Logger

	mu      sync.RWMutex
	session *Session
}

// NewEngine creates a new engine instance
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Specs == nil {
		return nil, fmt.Errorf("engine needs a spec provider")
	}
	if cfg.Persistence == nil {
		return nil, fmt.Errorf("engine needs a persistence backend")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("engine needs a model runner")
	}
	if cfg.Workers < constants.MinNWorkers {
		return nil, fmt.Errorf("n_workers must be %d or greater, got %d", constants.MinNWorkers, cfg.Workers)
	}

	bus := cfg.EventBus
	if bus == nil {
		bus = events.NewEventBus(constants.EventBusDefaultBuffer)
	}
	return &Engine{
		cfg:      cfg,
		eventBus: bus,
		logger:   cfg.Logger.Named("engine"),
	}, nil
}

// Events returns the bus every session publishes on.
func (e *Engine) Events() *events.EventBus {
	return e.eventBus
}

// Session returns the open session or ErrNoSession.
func (e *Engine) Session() (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return nil, ErrNoSession
	}
	return e.session, nil
}

// Open fetches the spec of moduleName, replaces the current session and
// schedules the first validation. A session with a running job is not
// replaced.
func (e *Engine) Open(ctx context.Context, moduleName string) (*Session, error) {
	spec, err := e.cfg.Specs.GetSpec(ctx, moduleName)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", moduleName, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		if e.session.Status() == models.StatusRunning {
			return nil, ErrRunActive
		}
		e.session.close()
	}

	s := newSession(e, spec)
	e.session = s
	e.logger.Info().Str("module", spec.ModuleName).Int("args", len(spec.Args)).Msg("model opened")
	s.Revalidate()
	return s, nil
}

// OpenDatastack reads a parameter set, opens the model it names unless that
// model is already open, and loads its arguments. An empty path is a
// canceled dialog: nothing is read and the current session is returned with
// ok false.
func (e *Engine) OpenDatastack(ctx context.Context, path string) (s *Session, res argstore.LoadResult, ok bool, err error) {
	ds, ok, err := datastack.LoadFromFile(ctx, e.cfg.Persistence, path)
	if err != nil || !ok {
		s, _ = e.Session()
		if err != nil {
			e.eventBus.PublishError("", "load", err)
		}
		return s, argstore.LoadResult{}, false, err
	}

	s, _ = e.Session()
	if s == nil || s.Spec().ModuleName != ds.ModuleName {
		if s, err = e.Open(ctx, ds.ModuleName); err != nil {
			e.eventBus.PublishError(ds.ModuleName, "load", err)
			return nil, argstore.LoadResult{}, false, err
		}
	}
	res, err = s.Apply(ds, path)
	if err != nil {
		s.publishError("load", err)
		return s, argstore.LoadResult{}, false, err
	}
	return s, res, true, nil
}

// Close closes the open session. A running job is canceled.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return
	}
	if e.session.Status() == models.StatusRunning {
		_ = e.session.Cancel()
	}
	e.session.close()
	e.session = nil
}
