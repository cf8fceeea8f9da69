// Package clock provides a small time abstraction so poll ticks and
// retry backoff can be driven manually in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of time operations the bridge depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed.
	After(d time.Duration) <-chan time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration
}

// Real implements Clock with the standard time package.
type Real struct{}

// NewReal returns a Clock backed by real time.
func NewReal() *Real { return &Real{} }

func (*Real) Now() time.Time                         { return time.Now() }
func (*Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (*Real) Since(t time.Time) time.Duration        { return time.Since(t) }

// Mock is a Clock whose time only moves when Advance is called.
type Mock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*mockWaiter
}

type mockWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewMock creates a Mock clock starting at start.
func NewMock(start time.Time) *Mock {
	return &Mock{current: start}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Mock) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- m.current
		return ch
	}
	m.waiters = append(m.waiters, &mockWaiter{deadline: m.current.Add(d), ch: ch})
	return ch
}

func (m *Mock) Since(t time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Sub(t)
}

// Advance moves the mock clock forward and fires every waiter whose
// deadline has been reached.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.current = m.current.Add(d)
	now := m.current

	var due []*mockWaiter
	remaining := m.waiters[:0]
	for _, w := range m.waiters {
		if w.deadline.After(now) {
			remaining = append(remaining, w)
		} else {
			due = append(due, w)
		}
	}
	m.waiters = remaining
	m.mu.Unlock()

	for _, w := range due {
		w.ch <- now
	}
}

// Waiters reports how many After calls are currently blocked. Tests
// use it to know a goroutine has reached its backoff sleep before
// advancing time.
func (m *Mock) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
