package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider provides a scripted mock implementation for testing and
// development. Responses are consumed in the order they were queued; an
// exhausted script returns an error so tests fail loudly on extra calls.
type MockProvider struct {
	mu        sync.Mutex
	available bool
	script    []scriptEntry
	prompts   []string
}

type scriptEntry struct {
	response string
	err      error
}

// NewMockProvider creates a new mock LLM provider
func NewMockProvider() *MockProvider {
	return &MockProvider{available: true}
}

// IsAvailable returns whether the mock provider is available
func (m *MockProvider) IsAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// SetAvailable controls whether the mock provider is available (for testing)
func (m *MockProvider) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
}

// QueueResponse appends one successful completion to the script.
func (m *MockProvider) QueueResponse(response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptEntry{response: response})
}

// QueueError appends one failing completion to the script.
func (m *MockProvider) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptEntry{err: err})
}

// Prompts returns every prompt seen so far, in call order.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// Complete pops the next scripted response.
func (m *MockProvider) Complete(ctx context.Context, prompt string, options CompletionOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.available {
		return "", fmt.Errorf("mock provider is not available")
	}
	m.prompts = append(m.prompts, prompt)

	if len(m.script) == 0 {
		return "", fmt.Errorf("mock provider script exhausted after %d calls", len(m.prompts))
	}
	entry := m.script[0]
	m.script = m.script[1:]
	if entry.err != nil {
		return "", entry.err
	}
	return entry.response, nil
}
