package mqtt

import (
	"fmt"
	"sync"
)

// MockSender is a simple in-memory sender used in tests.
type MockSender struct {
	mu         sync.Mutex
	Sent       map[string][]any
	Broadcasts []any
	FailFor    map[string]bool
}

// NewMockSender creates a new MockSender.
func NewMockSender() *MockSender {
	return &MockSender{
		Sent:    make(map[string][]any),
		FailFor: make(map[string]bool),
	}
}

// Send records the message or returns an error if configured to fail.
func (m *MockSender) Send(broker string, message any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFor[broker] {
		return fmt.Errorf("publish failed")
	}
	m.Sent[broker] = append(m.Sent[broker], message)
	return nil
}

// Broadcast records the message.
func (m *MockSender) Broadcast(message any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Broadcasts = append(m.Broadcasts, message)
	return nil
}

// SentTo returns a copy of the messages sent to one broker.
func (m *MockSender) SentTo(broker string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, len(m.Sent[broker]))
	copy(out, m.Sent[broker])
	return out
}

// BroadcastCount returns the number of broadcast messages.
func (m *MockSender) BroadcastCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Broadcasts)
}
