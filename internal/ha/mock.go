package ha

import (
	"context"
	"sync"
)

// MockClient implements Fetcher and Reporter for testing.
type MockClient struct {
	mu         sync.Mutex
	states     DesiredState
	fetchErr   error
	fetchCalls int
	posted     []PostedState
}

// PostedState records one PostState call.
type PostedState struct {
	EntityID string
	Value    int
}

// NewMockClient creates a mock with an empty desired state.
func NewMockClient() *MockClient {
	return &MockClient{states: make(DesiredState)}
}

// SetState sets the value the next fetch returns for an entity.
func (m *MockClient) SetState(entityID string, value int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[entityID] = value
}

// RemoveState drops an entity from the desired state.
func (m *MockClient) RemoveState(entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, entityID)
}

// FailFetches makes subsequent fetches return err (nil to restore).
func (m *MockClient) FailFetches(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

func (m *MockClient) FetchStates(ctx context.Context) (DesiredState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetchCalls++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}

	snapshot := make(DesiredState, len(m.states))
	for k, v := range m.states {
		snapshot[k] = v
	}
	return snapshot, nil
}

func (m *MockClient) PostState(ctx context.Context, entityID string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posted = append(m.posted, PostedState{EntityID: entityID, Value: value})
	return nil
}

// FetchCalls reports how many fetches have happened.
func (m *MockClient) FetchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls
}

// Posted returns a copy of all recorded PostState calls.
func (m *MockClient) Posted() []PostedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PostedState(nil), m.posted...)
}
