package reconcile

import (
	"sync"
	"time"
)

// Health tracks process-wide poll health. Fetch failures land here
// and nowhere else; they never touch device state.
type Health struct {
	mu                  sync.RWMutex
	lastPollTime        time.Time
	lastFetchError      string
	consecutiveFailures int
}

// HealthSnapshot is a read-only copy for the status surface.
type HealthSnapshot struct {
	LastPollTime        time.Time
	LastFetchError      string
	ConsecutiveFailures int
}

// NewHealth creates an empty health record.
func NewHealth() *Health { return &Health{} }

// RecordPollSuccess marks a completed fetch.
func (h *Health) RecordPollSuccess(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPollTime = now
	h.lastFetchError = ""
	h.consecutiveFailures = 0
}

// RecordFetchFailure counts a failed fetch.
func (h *Health) RecordFetchFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastFetchError = err.Error()
	h.consecutiveFailures++
}

// Snapshot returns a copy of the current health.
func (h *Health) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthSnapshot{
		LastPollTime:        h.lastPollTime,
		LastFetchError:      h.lastFetchError,
		ConsecutiveFailures: h.consecutiveFailures,
	}
}

// Degraded reports whether the last fetch failed.
func (h *Health) Degraded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.consecutiveFailures > 0
}
