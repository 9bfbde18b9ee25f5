package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdmontoya/invoiceflow/internal/model"
)

// fakeConn records written payloads and can be configured to fail.
type fakeConn struct {
	mu       sync.Mutex
	written  [][]byte
	writeErr error
	closed   bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	buf := append([]byte(nil), data...)
	c.written = append(c.written, buf)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func sampleEvent() model.ProgressEvent {
	return model.ProgressEvent{
		TaskID:     "invoice-1",
		Step:       2,
		TotalSteps: 4,
		Status:     "processing",
		Message:    "Running OCR",
		Timestamp:  time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

func TestSendProgressNoSubscribers(t *testing.T) {
	hub := NewHub()
	// Publishing to a user nobody is watching must be a silent no-op.
	hub.SendProgress("ghost", sampleEvent())
	assert.Zero(t, hub.SubscriberCount("ghost"))
}

func TestSendProgressDeliversIdenticalPayloadToAll(t *testing.T) {
	hub := NewHub()
	first := &fakeConn{}
	second := &fakeConn{}
	hub.Subscribe("u1", first)
	hub.Subscribe("u1", second)

	hub.SendProgress("u1", sampleEvent())

	firstMsgs := first.messages()
	secondMsgs := second.messages()
	require.Len(t, firstMsgs, 1)
	require.Len(t, secondMsgs, 1)
	assert.Equal(t, firstMsgs[0], secondMsgs[0])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(firstMsgs[0], &decoded))
	assert.Equal(t, "progress", decoded["type"])
	assert.Equal(t, "invoice-1", decoded["taskId"])
	assert.Equal(t, float64(2), decoded["step"])
	assert.Equal(t, "2025-03-14T09:26:53Z", decoded["timestamp"])
}

func TestSendProgressFailingSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := NewHub()
	broken := &fakeConn{writeErr: errors.New("write on closed connection")}
	healthy := &fakeConn{}
	hub.Subscribe("u1", broken)
	hub.Subscribe("u1", healthy)

	hub.SendProgress("u1", sampleEvent())

	require.Len(t, healthy.messages(), 1)
}

func TestSendProgressOnlyTargetUser(t *testing.T) {
	hub := NewHub()
	mine := &fakeConn{}
	other := &fakeConn{}
	hub.Subscribe("u1", mine)
	hub.Subscribe("u2", other)

	hub.SendProgress("u1", sampleEvent())

	assert.Len(t, mine.messages(), 1)
	assert.Empty(t, other.messages())
}

func TestUnsubscribeRemovesEmptyUserEntry(t *testing.T) {
	hub := NewHub()
	conn := &fakeConn{}
	sub := hub.Subscribe("u1", conn)
	require.Equal(t, 1, hub.SubscriberCount("u1"))

	hub.Unsubscribe(sub)
	assert.Zero(t, hub.SubscriberCount("u1"))

	// Unsubscribing twice is harmless.
	hub.Unsubscribe(sub)

	hub.SendProgress("u1", sampleEvent())
	assert.Empty(t, conn.messages())
}

func TestTaskNotifications(t *testing.T) {
	hub := NewHub()
	conn := &fakeConn{}
	hub.Subscribe("u1", conn)

	hub.SendTaskComplete("u1", "run-1", true, "done", map[string]any{"imported": 3})
	hub.SendTaskCancelled("u1", "run-2", "Import cancelled by user")
	hub.SendTaskTimeout("u1", "run-3", "30m0s")

	msgs := conn.messages()
	require.Len(t, msgs, 3)

	var complete map[string]any
	require.NoError(t, json.Unmarshal(msgs[0], &complete))
	assert.Equal(t, "task_complete", complete["type"])
	assert.Equal(t, true, complete["success"])

	var cancelled map[string]any
	require.NoError(t, json.Unmarshal(msgs[1], &cancelled))
	assert.Equal(t, "task_cancelled", cancelled["type"])
	assert.Equal(t, "Import cancelled by user", cancelled["reason"])

	var timeout map[string]any
	require.NoError(t, json.Unmarshal(msgs[2], &timeout))
	assert.Equal(t, "task_timeout", timeout["type"])
	assert.Equal(t, "30m0s", timeout["duration"])
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := &fakeConn{}
			sub := hub.Subscribe("u1", conn)
			hub.SendProgress("u1", sampleEvent())
			hub.Unsubscribe(sub)
		}()
	}

	wg.Wait()
	assert.Zero(t, hub.SubscriberCount("u1"))
}
