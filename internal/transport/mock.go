package transport

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// ErrMockFailure is returned by MockTransport for simulated failures.
var ErrMockFailure = errors.New("mock sending failed")

// MockTransport accepts every message and fails a configurable fraction of them.
type MockTransport struct {
	mu          sync.Mutex
	failureRate float64
	rand        func() float64
	sent        []Message
}

func NewMockTransport(failureRate float64) *MockTransport {
	return &MockTransport{failureRate: failureRate, rand: rand.Float64}
}

func (m *MockTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validate(msg); err != nil {
		return "", err
	}
	if m.failureRate > 0 && m.rand() < m.failureRate {
		return "", ErrMockFailure
	}

	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return "mock-" + uuid.NewString(), nil
}

// Sent returns a copy of the accepted messages.
func (m *MockTransport) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
