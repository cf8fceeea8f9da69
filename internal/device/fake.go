package device

import (
	"context"
	"sync"
	"time"
)

// FakeTransport is an in-memory Transport for tests. It records every
// write in order and supports scripted failures and artificial
// latency per node.
type FakeTransport struct {
	mu       sync.Mutex
	values   map[string]map[byte]uint16
	failures map[string]*scriptedFailure
	latency  map[string]time.Duration
	writes   []FakeWrite
}

// FakeWrite records one SetVCP call.
type FakeWrite struct {
	Node  string
	Code  byte
	Value uint16
}

type scriptedFailure struct {
	err       error
	remaining int // -1 means forever
}

// NewFakeTransport creates an empty fake.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		values:   make(map[string]map[byte]uint16),
		failures: make(map[string]*scriptedFailure),
		latency:  make(map[string]time.Duration),
	}
}

// Seed sets the current value of a feature without recording a write.
func (f *FakeTransport) Seed(node, feature string, value int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code := featureCodes[feature]
	if f.values[node] == nil {
		f.values[node] = make(map[byte]uint16)
	}
	f.values[node][code] = uint16(value)
}

// FailNext makes the next times operations on node fail with err.
func (f *FakeTransport) FailNext(node string, err error, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[node] = &scriptedFailure{err: err, remaining: times}
}

// FailAlways makes every operation on node fail with err until the
// script is cleared with FailNext(node, nil, 0).
func (f *FakeTransport) FailAlways(node string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[node] = &scriptedFailure{err: err, remaining: -1}
}

// SetLatency adds a fixed delay to every operation on node.
func (f *FakeTransport) SetLatency(node string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency[node] = d
}

func (f *FakeTransport) takeFailure(node string) error {
	s, ok := f.failures[node]
	if !ok || s.err == nil {
		return nil
	}
	if s.remaining == 0 {
		return nil
	}
	if s.remaining > 0 {
		s.remaining--
	}
	return s.err
}

func (f *FakeTransport) sleep(ctx context.Context, node string) error {
	f.mu.Lock()
	d := f.latency[node]
	f.mu.Unlock()
	if d == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (f *FakeTransport) SetVCP(ctx context.Context, node string, code byte, value uint16) error {
	if err := f.sleep(ctx, node); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes = append(f.writes, FakeWrite{Node: node, Code: code, Value: value})
	if err := f.takeFailure(node); err != nil {
		return err
	}

	if f.values[node] == nil {
		f.values[node] = make(map[byte]uint16)
	}
	f.values[node][code] = value
	return nil
}

func (f *FakeTransport) GetVCP(ctx context.Context, node string, code byte) (uint16, error) {
	if err := f.sleep(ctx, node); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeFailure(node); err != nil {
		return 0, err
	}
	return f.values[node][code], nil
}

// Current returns the stored value for a node feature.
func (f *FakeTransport) Current(node, feature string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vals, ok := f.values[node]
	if !ok {
		return 0, false
	}
	v, ok := vals[featureCodes[feature]]
	return int(v), ok
}

// Writes returns all recorded writes in order.
func (f *FakeTransport) Writes() []FakeWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeWrite(nil), f.writes...)
}

// WriteCount returns how many writes hit a node, including failed
// attempts.
func (f *FakeTransport) WriteCount(node string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.writes {
		if w.Node == node {
			n++
		}
	}
	return n
}
