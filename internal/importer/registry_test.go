package importer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdmontoya/invoiceflow/internal/common"
	"github.com/jdmontoya/invoiceflow/internal/model"
)

func TestRegistryExclusivity(t *testing.T) {
	registry := NewRegistry(20 * time.Millisecond)

	first, err := registry.Acquire("cfg-1", "run-1", "u1", nil)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Second run for the same configuration is refused while active.
	_, err = registry.Acquire("cfg-1", "run-2", "u1", nil)
	assert.ErrorIs(t, err, common.ErrRunActive)

	// A different configuration runs concurrently.
	_, err = registry.Acquire("cfg-2", "run-3", "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, registry.ActiveCount())

	// After release the configuration is free again (once the grace
	// window clears the entry, and even before: done entries don't block).
	registry.Release("cfg-1", model.RunCompleted)
	_, err = registry.Acquire("cfg-1", "run-4", "u1", nil)
	require.NoError(t, err)
}

func TestRegistryGraceWindow(t *testing.T) {
	registry := NewRegistry(30 * time.Millisecond)

	_, err := registry.Acquire("cfg-1", "run-1", "u1", nil)
	require.NoError(t, err)
	registry.Release("cfg-1", model.RunCompleted)

	// Still readable inside the grace window.
	active, ok := registry.Get("cfg-1")
	require.True(t, ok)
	assert.Equal(t, model.RunCompleted, active.Status)

	assert.Eventually(t, func() bool {
		_, ok := registry.Get("cfg-1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestRegistryCancel(t *testing.T) {
	registry := NewRegistry(time.Minute)

	cancelled := false
	active, err := registry.Acquire("cfg-1", "run-1", "u1", func() { cancelled = true })
	require.NoError(t, err)

	require.True(t, registry.Cancel("cfg-1"))
	assert.True(t, cancelled)
	assert.True(t, active.Cancelled())

	// Cancellation evicts immediately, no grace window.
	_, ok := registry.Get("cfg-1")
	assert.False(t, ok)

	assert.False(t, registry.Cancel("cfg-1"))
}

func TestRegistryCancelRefusesFinishedRun(t *testing.T) {
	registry := NewRegistry(time.Minute)

	cancelled := false
	active, err := registry.Acquire("cfg-1", "run-1", "u1", func() { cancelled = true })
	require.NoError(t, err)
	registry.Release("cfg-1", model.RunCompleted)

	// Inside the grace window the entry is still readable, but a
	// finished run is no longer cancellable.
	require.False(t, registry.Cancel("cfg-1"))
	assert.False(t, cancelled)
	assert.False(t, active.Cancelled())

	current, ok := registry.Get("cfg-1")
	require.True(t, ok)
	assert.Equal(t, model.RunCompleted, current.Status)
}

func TestRegistryReacquireAfterGraceDoesNotEvictNewRun(t *testing.T) {
	registry := NewRegistry(20 * time.Millisecond)

	_, err := registry.Acquire("cfg-1", "run-1", "u1", nil)
	require.NoError(t, err)
	registry.Release("cfg-1", model.RunCompleted)

	// Reacquire before the grace timer fires; the timer must only
	// remove the entry it armed for, not the new run.
	second, err := registry.Acquire("cfg-1", "run-2", "u1", nil)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	current, ok := registry.Get("cfg-1")
	require.True(t, ok)
	assert.Equal(t, second.RunID, current.RunID)
}
