package nli

import (
	"context"
	"sync"

	"memcore/internal/domain"
	"memcore/internal/repository"
)

// MockClassifier is a scripted NLI classifier for tests.
type MockClassifier struct {
	mu        sync.Mutex
	responses [][]domain.NLILabel
	errors    []error
	calls     []MockCall
	// DefaultLabel is used when the script is exhausted. Zero value
	// means Unrelated.
	DefaultLabel domain.NLILabel
}

// MockCall records one CompareOneToMany invocation.
type MockCall struct {
	Source  string
	Targets []string
}

var _ repository.NLIClassifier = (*MockClassifier)(nil)

// NewMockClassifier creates an empty mock. With no queued responses it
// labels everything with DefaultLabel.
func NewMockClassifier() *MockClassifier {
	return &MockClassifier{DefaultLabel: domain.NLIUnrelated}
}

// QueueResponse appends one scripted response. A nil error with nil
// labels means "label everything DefaultLabel".
func (m *MockClassifier) QueueResponse(labels []domain.NLILabel, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, labels)
	m.errors = append(m.errors, err)
}

// Calls returns the recorded invocations.
func (m *MockClassifier) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockClassifier) CompareOneToMany(ctx context.Context, source string, targets []string) ([]domain.NLILabel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{Source: source, Targets: append([]string(nil), targets...)})

	if len(targets) == 0 {
		return []domain.NLILabel{}, nil
	}

	var scripted []domain.NLILabel
	var err error
	if len(m.responses) > 0 {
		scripted = m.responses[0]
		err = m.errors[0]
		m.responses = m.responses[1:]
		m.errors = m.errors[1:]
	}

	labels := make([]domain.NLILabel, len(targets))
	for i := range labels {
		if i < len(scripted) {
			labels[i] = scripted[i]
		} else if m.DefaultLabel != "" {
			labels[i] = m.DefaultLabel
		} else {
			labels[i] = domain.NLIUnrelated
		}
	}
	return labels, err
}
