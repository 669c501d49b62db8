package gateway

import (
	"context"
	"sync"
	"time"
)

// MockBackend is a scripted Backend for tests. Each call consumes the next
// step; once the script is exhausted the last step repeats.
type MockBackend struct {
	mu sync.Mutex

	BackendName string
	Steps       []MockStep
	Delay       time.Duration

	calls    int
	requests []Request
}

// MockStep is one scripted reply.
type MockStep struct {
	Envelope Envelope
	Err      error
}

// NewMockBackend creates a mock that always answers with content.
func NewMockBackend(name, content string) *MockBackend {
	return &MockBackend{
		BackendName: name,
		Steps:       []MockStep{{Envelope: Envelope{Kind: EnvelopeChoices, Content: content}}},
	}
}

// Name implements Backend.
func (m *MockBackend) Name() string { return m.BackendName }

// Do implements Backend.
func (m *MockBackend) Do(ctx context.Context, req Request) (Envelope, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.requests = append(m.requests, req)
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}

	if len(m.Steps) == 0 {
		return Envelope{}, nil
	}
	if idx >= len(m.Steps) {
		idx = len(m.Steps) - 1
	}
	step := m.Steps[idx]
	return step.Envelope, step.Err
}

// Calls returns how many times Do was invoked.
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request received.
func (m *MockBackend) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}
