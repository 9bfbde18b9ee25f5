package importer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jdmontoya/invoiceflow/internal/common"
	"github.com/jdmontoya/invoiceflow/internal/model"
)

// ActiveRun is one registry entry: a supervised run and its cancel hook.
type ActiveRun struct {
	RunID     string
	UserID    string
	Status    model.ImportRunStatus
	Stats     model.ImportStats
	StartedAt time.Time

	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      bool
}

// Cancelled reports whether the run was cancelled by a user.
func (a *ActiveRun) Cancelled() bool { return a.cancelled.Load() }

// Registry enforces one active run per import configuration. It is
// explicit owned state, created at startup and passed to the supervisor;
// entries linger briefly after completion so late progress reads still
// resolve, then a timer evicts them.
type Registry struct {
	mu    sync.Mutex
	runs  map[string]*ActiveRun
	grace time.Duration
}

// NewRegistry creates a registry with the given post-completion grace
// window.
func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		runs:  make(map[string]*ActiveRun),
		grace: grace,
	}
}

// Acquire registers a run for a configuration. It fails with
// ErrRunActive while another run for the same configuration is in
// flight; a finished run still inside its grace window does not block.
func (r *Registry) Acquire(configID, runID, userID string, cancel context.CancelFunc) (*ActiveRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.runs[configID]; ok && !existing.done {
		return nil, common.ErrRunActive
	}

	active := &ActiveRun{
		RunID:     runID,
		UserID:    userID,
		Status:    model.RunRunning,
		StartedAt: time.Now(),
		cancel:    cancel,
	}
	r.runs[configID] = active
	return active, nil
}

// Get returns the registry entry for a configuration, if any.
func (r *Registry) Get(configID string) (*ActiveRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, ok := r.runs[configID]
	return active, ok
}

// UpdateStats refreshes the live counters for a configuration's run.
func (r *Registry) UpdateStats(configID string, stats model.ImportStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if active, ok := r.runs[configID]; ok {
		active.Stats = stats
	}
}

// Cancel flags a configuration's run cancelled and fires its context
// cancellation. The entry is evicted immediately; actual process
// termination follows from the context. A run that already finished
// (still readable inside its grace window) cannot be cancelled.
func (r *Registry) Cancel(configID string) bool {
	r.mu.Lock()
	active, ok := r.runs[configID]
	if !ok || active.done {
		r.mu.Unlock()
		return false
	}
	active.cancelled.Store(true)
	active.done = true
	delete(r.runs, configID)
	r.mu.Unlock()

	if active.cancel != nil {
		active.cancel()
	}
	return true
}

// Release marks a run finished with its terminal status. The entry
// stays readable for the grace window, then is removed.
func (r *Registry) Release(configID string, status model.ImportRunStatus) {
	r.mu.Lock()
	active, ok := r.runs[configID]
	if !ok {
		r.mu.Unlock()
		return
	}
	active.done = true
	active.Status = status
	r.mu.Unlock()

	time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if current, ok := r.runs[configID]; ok && current == active {
			delete(r.runs, configID)
		}
	})
}

// ActiveCount reports how many in-flight runs the registry holds.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, active := range r.runs {
		if !active.done {
			count++
		}
	}
	return count
}
