package match

import (
	"context"
	"sync"

	"github.com/jdmontoya/invoiceflow/internal/service"
)

// MockScorer is a test implementation of the MatchScorer interface.
// Scores are keyed by project id; unknown projects score zero. Setting
// Err (or a per-project error) makes the call fail, which exercises the
// fallback path.
type MockScorer struct {
	Scores  map[string]float64
	Reasons map[string]string
	Errs    map[string]error
	Err     error

	mu    sync.Mutex
	calls []string
}

// NewMockScorer creates a mock scorer with no configured scores.
func NewMockScorer() *MockScorer {
	return &MockScorer{
		Scores:  make(map[string]float64),
		Reasons: make(map[string]string),
		Errs:    make(map[string]error),
	}
}

// Score returns the configured score for the request's project.
func (m *MockScorer) Score(_ context.Context, req service.ScoreRequest) (service.ScoreResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req.Project.ID)
	m.mu.Unlock()

	if m.Err != nil {
		return service.ScoreResponse{}, m.Err
	}
	if err, ok := m.Errs[req.Project.ID]; ok {
		return service.ScoreResponse{}, err
	}

	return service.ScoreResponse{
		MatchScore:        m.Scores[req.Project.ID],
		MatchReason:       m.Reasons[req.Project.ID],
		OverallConfidence: m.Scores[req.Project.ID] / 100,
	}, nil
}

// Calls returns the project ids scored so far, in call order.
func (m *MockScorer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
