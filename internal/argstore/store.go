// Package argstore holds the current argument values of one configured job.
//
// The Store is the single writer of argument values. Every accepted edit
// replaces an immutable Snapshot, so readers never observe a mix of two
// edits.
package argstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rescale/modelbench/internal/events"
	"github.com/rescale/modelbench/internal/logging"
	"github.com/rescale/modelbench/internal/models"
)

// ErrUnknownKey is returned by SetValue for keys the model does not declare.
var ErrUnknownKey = errors.New("unknown argument key")

// UnknownArgumentKeyWarning reports a datastack key that was dropped on load
// because the current model does not declare it.
type UnknownArgumentKeyWarning struct {
	Module string
	Key    string
}

func (w *UnknownArgumentKeyWarning) Error() string {
	return fmt.Sprintf("argument %q is not used by %s and was ignored", w.Key, w.Module)
}

// Snapshot is an immutable view of every argument value at one revision.
type Snapshot struct {
	revision uint64
	values   models.ArgumentSet
}

// Revision increases by one for every accepted edit or load.
func (s Snapshot) Revision() uint64 { return s.revision }

// Values returns a fresh copy of the argument values.
func (s Snapshot) Values() models.ArgumentSet { return s.values.Clone() }

// Get returns the value for key.
func (s Snapshot) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Len returns the number of arguments.
func (s Snapshot) Len() int { return len(s.values) }

// LoadResult describes what Load applied.
type LoadResult struct {
	Applied  []string
	Warnings []*UnknownArgumentKeyWarning
	Revision uint64
}

// DroppedKeys lists the keys named by Warnings.
func (r LoadResult) DroppedKeys() []string {
	keys := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		keys = append(keys, w.Key)
	}
	return keys
}

// Store holds the argument values of one job.
type Store struct {
	mu       sync.RWMutex
	spec     models.ModelSpec
	current  Snapshot
	eventBus *events.EventBus
	logger   *logging.Logger
}

// New seeds a store with every key declared by spec. Values start as the
// declared default or the empty string.
func New(spec models.ModelSpec, eventBus *events.EventBus, logger *logging.Logger) *Store {
	values := make(models.ArgumentSet, len(spec.Args))
	for key, arg := range spec.Args {
		values[key] = arg.Default
	}
	return &Store{
		spec:     spec,
		current:  Snapshot{values: values},
		eventBus: eventBus,
		logger:   logger.Named("argstore"),
	}
}

// Spec returns the model spec the store was created for.
func (s *Store) Spec() models.ModelSpec {
	return s.spec
}

// Snapshot returns the current immutable snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetValue updates exactly one key. Repeating the current value is a no-op
// and reports changed=false.
func (s *Store) SetValue(key, value string) (changed bool, err error) {
	if !s.spec.Has(key) {
		return false, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	s.mu.Lock()
	if s.current.values[key] == value {
		s.mu.Unlock()
		return false, nil
	}
	next := s.current.values.Clone()
	next[key] = value
	s.current = Snapshot{revision: s.current.revision + 1, values: next}
	rev := s.current.revision
	s.mu.Unlock()

	s.logger.Debug().Str("key", key).Uint64("revision", rev).Msg("argument changed")
	s.eventBus.PublishArgumentChanged(s.spec.ModuleName, key, value, rev)
	return true, nil
}

// Load overwrites the keys present in both ds and the model spec. Keys the
// spec does not declare are dropped and reported; keys absent from ds keep
// their value. The whole load produces a single new snapshot.
func (s *Store) Load(ds models.Datastack, source string) LoadResult {
	var result LoadResult

	incoming := make([]string, 0, len(ds.Args))
	for key := range ds.Args {
		incoming = append(incoming, key)
	}
	sort.Strings(incoming)

	s.mu.Lock()
	next := s.current.values.Clone()
	for _, key := range incoming {
		if !s.spec.Has(key) {
			result.Warnings = append(result.Warnings, &UnknownArgumentKeyWarning{Module: s.spec.ModuleName, Key: key})
			continue
		}
		next[key] = ds.Args[key]
		result.Applied = append(result.Applied, key)
	}
	s.current = Snapshot{revision: s.current.revision + 1, values: next}
	result.Revision = s.current.revision
	s.mu.Unlock()

	s.Verify()

	if len(result.Warnings) > 0 {
		s.logger.Warnf("Ignored %d unknown argument(s) from %s: %s",
			len(result.Warnings), source, strings.Join(result.DroppedKeys(), ", "))
	}
	s.eventBus.PublishDatastackLoaded(s.spec.ModuleName, source, result.Applied, result.DroppedKeys(), result.Revision)
	return result
}

// Verify panics when the current values do not cover exactly the declared
// keys. The store never produces such a state.
func (s *Store) Verify() {
	snap := s.Snapshot()
	if snap.Len() != len(s.spec.Args) {
		panic(fmt.Sprintf("argstore: %s holds %d values for %d declared arguments",
			s.spec.ModuleName, snap.Len(), len(s.spec.Args)))
	}
	for key := range s.spec.Args {
		if _, ok := snap.values[key]; !ok {
			panic(fmt.Sprintf("argstore: %s is missing declared argument %q", s.spec.ModuleName, key))
		}
	}
}
