package reconcile

import (
	"sync"
	"time"

	"brightdock/internal/dispatch"
)

// DeviceState is the bridge's record of one device: what was last
// applied and how the device has been behaving. The store owns the
// mutable state; everyone else gets copies.
type DeviceState struct {
	ID                  string
	LastApplied         int // meaningless until Applied is true
	Applied             bool
	LastSuccessAt       time.Time
	LastError           string
	ConsecutiveFailures int
}

// Store holds DeviceState for every bound device. It is the single
// sink for command outcomes, which keeps the invariant that
// LastApplied only moves on a successful apply.
type Store struct {
	mu     sync.RWMutex
	states map[string]*DeviceState
	order  []string
}

// NewStore initializes state for the given device IDs.
func NewStore(ids []string) *Store {
	s := &Store{
		states: make(map[string]*DeviceState, len(ids)),
		order:  append([]string(nil), ids...),
	}
	for _, id := range ids {
		s.states[id] = &DeviceState{ID: id}
	}
	return s
}

// Record folds a command outcome into the device's state. Superseded
// outcomes change nothing; the superseding command reports its own.
func (s *Store) Record(outcome dispatch.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[outcome.Command.Device]
	if !ok {
		return
	}

	switch outcome.Kind {
	case dispatch.KindApplied:
		state.LastApplied = outcome.Command.Value
		state.Applied = true
		state.LastSuccessAt = outcome.AppliedAt
		state.LastError = ""
		state.ConsecutiveFailures = 0
	case dispatch.KindFailed:
		if outcome.Err != nil {
			state.LastError = outcome.Err.Error()
		}
		state.ConsecutiveFailures++
	case dispatch.KindSuperseded:
		// Intentionally nothing.
	}
}

// LastApplied returns the device's last applied value. The second
// return is false until the first successful apply.
func (s *Store) LastApplied(id string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[id]
	if !ok || !state.Applied {
		return 0, false
	}
	return state.LastApplied, true
}

// Get returns a copy of one device's state.
func (s *Store) Get(id string) (DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[id]
	if !ok {
		return DeviceState{}, false
	}
	return *state, true
}

// Snapshot returns copies of all device states in binding order.
func (s *Store) Snapshot() []DeviceState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DeviceState, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.states[id])
	}
	return out
}

// AnyFailing reports whether some device has consecutive failures.
func (s *Store) AnyFailing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.states {
		if state.ConsecutiveFailures > 0 {
			return true
		}
	}
	return false
}
