// Package validation schedules argument validation and tracks the latest
// visible outcome.
//
// Every scheduled snapshot gets a strictly increasing sequence number. Only a
// response carrying the highest issued number may change what callers see;
// anything older is discarded when it arrives, however late. In-flight
// validator calls are never aborted.
package validation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/modelbench/internal/argstore"
	"github.com/rescale/modelbench/internal/constants"
	"github.com/rescale/modelbench/internal/events"
	"github.com/rescale/modelbench/internal/logging"
	"github.com/rescale/modelbench/internal/models"
)

// Validator checks a full set of argument values for one model.
type Validator interface {
	Validate(ctx context.Context, moduleName string, args map[string]string) ([]models.ValidationError, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, moduleName string, args map[string]string) ([]models.ValidationError, error)

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, moduleName string, args map[string]string) ([]models.ValidationError, error) {
	return f(ctx, moduleName, args)
}

// ValidationUnavailableError reports that the validator failed for the
// latest snapshot. The previously visible outcome is kept.
type ValidationUnavailableError struct {
	Module string
	Seq    uint64
	Err    error
}

func (e *ValidationUnavailableError) Error() string {
	return fmt.Sprintf("validation unavailable for %s (request %d): %v", e.Module, e.Seq, e.Err)
}

func (e *ValidationUnavailableError) Unwrap() error {
	return e.Err
}

// Timer is the subset of *time.Timer the coordinator needs.
type Timer interface {
	Stop() bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDebounce sets the delay between Schedule and the validator call.
// Zero or negative calls the validator immediately.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) { c.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l.Named("validation") }
}

// WithEventBus publishes outcome changes to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(c *Coordinator) { c.eventBus = bus }
}

// WithAfterFunc replaces time.AfterFunc, letting tests fire debounced
// requests by hand.
func WithAfterFunc(fn func(time.Duration, func()) Timer) Option {
	return func(c *Coordinator) { c.afterFunc = fn }
}

// WithContext sets the parent context passed to validator calls.
func WithContext(ctx context.Context) Option {
	return func(c *Coordinator) { c.parent = ctx }
}

// Coordinator turns argument snapshots into validation requests and keeps
// the outcome of the most recent one.
type Coordinator struct {
	moduleName string
	validator  Validator
	debounce   time.Duration
	afterFunc  func(time.Duration, func()) Timer
	logger     *logging.Logger
	eventBus   *events.EventBus
	parent     context.Context

	ctx    context.Context
	cancel context.CancelFunc

	issued atomic.Uint64 // highest sequence number handed out

	mu           sync.Mutex
	closed       bool
	timer        Timer
	lastRevision uint64
	scheduled    bool
	applied      uint64 // sequence of the visible outcome, 0 before any
	appliedRev   uint64 // store revision the visible outcome was computed for
	settled      uint64 // highest sequence that got any response
	outcome      []models.ValidationError
	byKey        map[string][]string
	lastErr      error
	settleCh     chan struct{}
	listeners    []func()
}

// NewCoordinator creates a coordinator for one model session.
func NewCoordinator(moduleName string, validator Validator, opts ...Option) *Coordinator {
	c := &Coordinator{
		moduleName: moduleName,
		validator:  validator,
		debounce:   constants.ValidationDebounce,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		parent:   context.Background(),
		byKey:    map[string][]string{},
		settleCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(c.parent)
	return c
}

// OnChange registers fn to run after every change of validity: a new
// schedule, an applied outcome or a validator failure. fn runs outside the
// coordinator's lock and should read current state through the accessors.
func (c *Coordinator) OnChange(fn func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Schedule issues a validation request for snap and returns its sequence
// number. Snapshots older than one already scheduled are ignored and 0 is
// returned. A pending debounced request is superseded.
func (c *Coordinator) Schedule(snap argstore.Snapshot) uint64 {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	if c.scheduled && snap.Revision() < c.lastRevision {
		c.mu.Unlock()
		c.logger.Debug().Uint64("revision", snap.Revision()).Msg("ignoring snapshot older than last scheduled")
		return 0
	}
	c.scheduled = true
	c.lastRevision = snap.Revision()

	seq := c.issued.Add(1)
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	args := snap.Values()
	if c.debounce > 0 {
		c.timer = c.afterFunc(c.debounce, func() { c.request(seq, args) })
	}
	listeners := c.listenersLocked()
	c.mu.Unlock()

	c.logger.Debug().Uint64("seq", seq).Uint64("revision", snap.Revision()).Msg("validation scheduled")
	if c.debounce <= 0 {
		go c.request(seq, args)
	}
	notify(listeners)
	return seq
}

// request calls the validator unless seq was superseded while debouncing.
func (c *Coordinator) request(seq uint64, args map[string]string) {
	if seq != c.issued.Load() {
		return
	}
	outcome, err := c.validator.Validate(c.ctx, c.moduleName, args)
	c.Deliver(seq, outcome, err)
}

// Deliver applies a validator response. It is accepted only when seq is the
// highest issued sequence and newer than the visible outcome; any other
// response is discarded. A non-nil err keeps the visible outcome, records a
// ValidationUnavailableError and still counts as a response. Deliver
// reports whether the response was accepted.
func (c *Coordinator) Deliver(seq uint64, outcome []models.ValidationError, err error) bool {
	c.mu.Lock()
	if c.closed || seq != c.issued.Load() || seq <= c.applied || (seq <= c.settled && err != nil) {
		c.mu.Unlock()
		c.logger.Debug().Uint64("seq", seq).Msg("discarding stale validation response")
		return false
	}

	c.settled = seq
	if err != nil {
		unavailable := &ValidationUnavailableError{Module: c.moduleName, Seq: seq, Err: err}
		c.lastErr = unavailable
		c.signalLocked()
		listeners := c.listenersLocked()
		c.mu.Unlock()

		c.logger.Warn().Err(err).Uint64("seq", seq).Msg("validator unavailable")
		c.eventBus.PublishValidationUnavailable(c.moduleName, seq, unavailable)
		notify(listeners)
		return true
	}

	c.applied = seq
	c.appliedRev = c.lastRevision
	c.lastErr = nil
	c.outcome = cloneOutcome(outcome)
	c.byKey = indexOutcome(c.outcome)
	overall := len(c.outcome) == 0
	errs := cloneIndex(c.byKey)
	c.signalLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()

	c.logger.Debug().Uint64("seq", seq).Int("errors", len(outcome)).Msg("validation applied")
	c.eventBus.PublishValidation(c.moduleName, seq, errs, overall)
	notify(listeners)
	return true
}

// IsValid reports whether key is free of errors in the visible outcome.
func (c *Coordinator) IsValid(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, bad := c.byKey[key]
	return !bad
}

// ErrorsFor returns the visible messages attributed to key.
func (c *Coordinator) ErrorsFor(key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.byKey[key]
	if len(msgs) == 0 {
		return nil
	}
	return append([]string(nil), msgs...)
}

// OverallValid is true only when a successful response for the latest
// issued snapshot has been applied and it reported no errors.
func (c *Coordinator) OverallValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overallValidLocked()
}

func (c *Coordinator) overallValidLocked() bool {
	return c.applied != 0 && c.applied == c.issued.Load() && len(c.outcome) == 0
}

// ValidRevision returns the store revision of the snapshot behind the
// visible outcome together with OverallValid, read under one lock.
func (c *Coordinator) ValidRevision() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appliedRev, c.overallValidLocked()
}

// Outcome returns a copy of the visible outcome.
func (c *Coordinator) Outcome() []models.ValidationError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneOutcome(c.outcome)
}

// LastError returns the ValidationUnavailableError for the latest request,
// or nil.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Pending reports whether the latest issued request is still unanswered.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settled != c.issued.Load()
}

// Seq returns the highest issued sequence number.
func (c *Coordinator) Seq() uint64 {
	return c.issued.Load()
}

// Wait blocks until the latest issued request got a response, the
// coordinator is closed, or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closed || c.settled == c.issued.Load() {
			c.mu.Unlock()
			return nil
		}
		ch := c.settleCh
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops any pending debounce and cancels the context handed to
// in-flight validator calls. Later responses are discarded.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.cancel()
	c.signalLocked()
}

func (c *Coordinator) signalLocked() {
	close(c.settleCh)
	c.settleCh = make(chan struct{})
}

func (c *Coordinator) listenersLocked() []func() {
	return append([]func(){}, c.listeners...)
}

func notify(listeners []func()) {
	for _, fn := range listeners {
		fn()
	}
}

func cloneOutcome(in []models.ValidationError) []models.ValidationError {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.ValidationError, len(in))
	for i, ve := range in {
		out[i] = models.ValidationError{
			AffectedKeys: append([]string(nil), ve.AffectedKeys...),
			Message:      ve.Message,
		}
	}
	return out
}

func indexOutcome(outcome []models.ValidationError) map[string][]string {
	idx := map[string][]string{}
	for _, ve := range outcome {
		for _, key := range ve.AffectedKeys {
			idx[key] = append(idx[key], ve.Message)
		}
	}
	return idx
}

func cloneIndex(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, msgs := range in {
		out[k] = append([]string(nil), msgs...)
	}
	return out
}
