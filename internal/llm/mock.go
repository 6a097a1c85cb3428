package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted Client for tests. Responder decides the output of
// each call; calls are recorded in order.
type MockClient struct {
	Responder func(ctx context.Context, messages []Message) (string, error)
	ModelName string

	mu    sync.Mutex
	calls [][]Message
}

// NewMockClient returns a MockClient using fn as its responder.
func NewMockClient(fn func(ctx context.Context, messages []Message) (string, error)) *MockClient {
	return &MockClient{Responder: fn, ModelName: "mock-llm"}
}

// Generate implements Client.
func (m *MockClient) Generate(ctx context.Context, messages []Message) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Responder == nil {
		return "", nil
	}
	return m.Responder(ctx, messages)
}

// Model implements Client.
func (m *MockClient) Model() string { return m.ModelName }

// Calls returns the number of Generate calls so far.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Prompts returns the last user message of every call.
func (m *MockClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = LastUserMessage(c)
	}
	return out
}
