// Package events provides the in-process event bus that carries argument,
// validation and job lifecycle changes from the core to any frontend.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/modelbench/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventLog   EventType = "log"
	EventError EventType = "error"

	// Argument store
	EventArgumentChanged EventType = "argument_changed"
	EventDatastackLoaded EventType = "datastack_loaded"

	// Validation coordinator
	EventValidationChanged     EventType = "validation_changed"
	EventValidationUnavailable EventType = "validation_unavailable"

	// Run gate, re-derived whenever validation or job state changes
	EventRunGateChanged EventType = "run_gate_changed"

	// Job state machine
	EventJobStateChange EventType = "job_state_change"
	EventJobLog         EventType = "job_log"
)

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func newBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level   LogLevel
	Message string
	Module  string
	Error   error
}

// ErrorEvent represents a failed save/load/run action. Error keeps the typed
// error so frontends can branch on its kind.
type ErrorEvent struct {
	BaseEvent
	Module string
	Action string // "save", "load", "run", "validate"
	Error  error
}

// ArgumentChangedEvent is published once per accepted store edit.
type ArgumentChangedEvent struct {
	BaseEvent
	Module   string
	Key      string
	Value    string
	Revision uint64
}

// DatastackLoadedEvent is published after a datastack was applied to a store.
type DatastackLoadedEvent struct {
	BaseEvent
	Module      string
	Source      string
	Applied     []string
	DroppedKeys []string
	Revision    uint64
}

// ValidationChangedEvent carries the newly visible validation outcome.
type ValidationChangedEvent struct {
	BaseEvent
	Module       string
	Seq          uint64
	Errors       map[string][]string // key -> messages
	OverallValid bool
}

// ValidationUnavailableEvent reports a failed validator call. The visible
// outcome is not changed by it.
type ValidationUnavailableEvent struct {
	BaseEvent
	Module string
	Seq    uint64
	Error  error
}

// RunGateChangedEvent is published when the derived run permission flips.
type RunGateChangedEvent struct {
	BaseEvent
	Module string
	CanRun bool
}

// JobStateChangeEvent represents job state transitions
type JobStateChangeEvent struct {
	BaseEvent
	JobID          string
	Module         string
	OldStatus      string
	NewStatus      string
	LogFile        string
	FinalTraceback string
}

// JobLogEvent carries one line of model output.
type JobLogEvent struct {
	BaseEvent
	JobID string
	Line  string
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. A nil bus is
// a valid no-op so components can run without a frontend attached.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// Unsubscribe removes a subscription channel from a specific event type
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message, module string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: newBase(EventLog),
		Level:     level,
		Message:   message,
		Module:    module,
		Error:     err,
	})
}

// PublishError reports a failed user action.
func (eb *EventBus) PublishError(module, action string, err error) {
	eb.Publish(&ErrorEvent{
		BaseEvent: newBase(EventError),
		Module:    module,
		Action:    action,
		Error:     err,
	})
}

// PublishArgumentChanged reports one accepted argument edit.
func (eb *EventBus) PublishArgumentChanged(module, key, value string, revision uint64) {
	eb.Publish(&ArgumentChangedEvent{
		BaseEvent: newBase(EventArgumentChanged),
		Module:    module,
		Key:       key,
		Value:     value,
		Revision:  revision,
	})
}

// PublishRunGate reports the current run permission.
func (eb *EventBus) PublishRunGate(module string, canRun bool) {
	eb.Publish(&RunGateChangedEvent{
		BaseEvent: newBase(EventRunGateChanged),
		Module:    module,
		CanRun:    canRun,
	})
}

// PublishJobState is a convenience method for publishing job state change events
func (eb *EventBus) PublishJobState(jobID, module, oldStatus, newStatus, logFile, traceback string) {
	eb.Publish(&JobStateChangeEvent{
		BaseEvent:      newBase(EventJobStateChange),
		JobID:          jobID,
		Module:         module,
		OldStatus:      oldStatus,
		NewStatus:      newStatus,
		LogFile:        logFile,
		FinalTraceback: traceback,
	})
}

// PublishJobLog forwards one line of model output.
func (eb *EventBus) PublishJobLog(jobID, line string) {
	eb.Publish(&JobLogEvent{
		BaseEvent: newBase(EventJobLog),
		JobID:     jobID,
		Line:      line,
	})
}

// PublishDatastackLoaded reports a datastack applied to an argument store.
func (eb *EventBus) PublishDatastackLoaded(module, source string, applied, dropped []string, revision uint64) {
	eb.Publish(&DatastackLoadedEvent{
		BaseEvent:   newBase(EventDatastackLoaded),
		Module:      module,
		Source:      source,
		Applied:     applied,
		DroppedKeys: dropped,
		Revision:    revision,
	})
}

// PublishValidation reports a newly applied validation outcome.
func (eb *EventBus) PublishValidation(module string, seq uint64, errs map[string][]string, overallValid bool) {
	eb.Publish(&ValidationChangedEvent{
		BaseEvent:    newBase(EventValidationChanged),
		Module:       module,
		Seq:          seq,
		Errors:       errs,
		OverallValid: overallValid,
	})
}

// PublishValidationUnavailable reports a failed validator call.
func (eb *EventBus) PublishValidationUnavailable(module string, seq uint64, err error) {
	eb.Publish(&ValidationUnavailableEvent{
		BaseEvent: newBase(EventValidationUnavailable),
		Module:    module,
		Seq:       seq,
		Error:     err,
	})
}
