package pipeline

import (
	"context"
	"sync"

	"github.com/jdmontoya/invoiceflow/internal/model"
)

// MockOCR is a test implementation of the OCRClient interface.
type MockOCR struct {
	Text string
	Err  error
	// Block, when set, makes the call wait for ctx cancellation so
	// timeout handling can be exercised.
	Block bool
}

// ExtractText returns the configured text or error.
func (m *MockOCR) ExtractText(ctx context.Context, _ string) (string, error) {
	if m.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Text, nil
}

// MockExtractor is a test implementation of the FieldExtractor interface.
type MockExtractor struct {
	Fields model.ExtractedFields
	Err    error
	Block  bool
}

// ExtractFields returns the configured fields or error.
func (m *MockExtractor) ExtractFields(ctx context.Context, _ string) (model.ExtractedFields, error) {
	if m.Block {
		<-ctx.Done()
		return model.ExtractedFields{}, ctx.Err()
	}
	if m.Err != nil {
		return model.ExtractedFields{}, m.Err
	}
	return m.Fields, nil
}

// MockMatcher records matching invocations.
type MockMatcher struct {
	Decision model.MatchDecision
	Err      error

	mu    sync.Mutex
	calls []string
}

// Run returns the configured decision.
func (m *MockMatcher) Run(_ context.Context, invoice model.Invoice) (model.MatchDecision, error) {
	m.mu.Lock()
	m.calls = append(m.calls, invoice.ID)
	m.mu.Unlock()
	if m.Err != nil {
		return model.MatchDecision{}, m.Err
	}
	return m.Decision, nil
}

// CallCount reports how many matching runs happened.
func (m *MockMatcher) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockPublisher records progress events instead of delivering them.
type MockPublisher struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

// SendProgress records the event.
func (m *MockPublisher) SendProgress(_ string, event model.ProgressEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// SendTaskComplete is a no-op for pipeline tests.
func (m *MockPublisher) SendTaskComplete(string, string, bool, string, map[string]any) {}

// SendTaskCancelled is a no-op for pipeline tests.
func (m *MockPublisher) SendTaskCancelled(string, string, string) {}

// SendTaskTimeout is a no-op for pipeline tests.
func (m *MockPublisher) SendTaskTimeout(string, string, string) {}

// Events returns the recorded progress events in emission order.
func (m *MockPublisher) Events() []model.ProgressEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ProgressEvent(nil), m.events...)
}
