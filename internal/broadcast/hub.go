// Package broadcast implements the per-user progress pub/sub hub.
//
// Delivery is best effort: events to users with no live subscribers are
// dropped, and a broken subscriber never blocks delivery to the rest.
// Clients that need reliability are expected to poll.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jdmontoya/invoiceflow/internal/model"
)

// Conn is the subset of *websocket.Conn the hub needs. Tests substitute
// in-memory implementations.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Subscriber struct {
	conn Conn
	mu   sync.Mutex
}

func (s *Subscriber) write(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub owns the user → subscribers registry. One Hub serves the whole
// process; it is created at startup and shared by the pipeline and the
// import supervisor.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string][]*Subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string][]*Subscriber)}
}

// Subscribe registers a connection for a user and returns the
// Subscriber handle used to unsubscribe later.
func (h *Hub) Subscribe(userID string, conn Conn) *Subscriber {
	sub := &Subscriber{conn: conn}

	h.mu.Lock()
	h.subscribers[userID] = append(h.subscribers[userID], sub)
	count := len(h.subscribers[userID])
	h.mu.Unlock()

	slog.Debug("subscriber added", "user_id", userID, "connections", count)
	return sub
}

// Unsubscribe removes a connection from whichever user holds it. Safe to
// call for connections that were never registered.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, subs := range h.subscribers {
		for i, candidate := range subs {
			if candidate == sub {
				h.subscribers[userID] = append(subs[:i:i], subs[i+1:]...)
				if len(h.subscribers[userID]) == 0 {
					delete(h.subscribers, userID)
				}
				return
			}
		}
	}
}

// SubscriberCount reports the live connections for a user.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}

// SendProgress delivers a progress event to every live subscriber of a
// user. Events for users with no subscribers are silently dropped.
func (h *Hub) SendProgress(userID string, event model.ProgressEvent) {
	h.send(userID, progressMessage{Type: typeProgress, ProgressEvent: event})
}

// SendTaskComplete delivers a one-shot completion notification.
func (h *Hub) SendTaskComplete(userID, taskID string, success bool, message string, result map[string]any) {
	h.send(userID, taskCompleteMessage{
		Type:    typeTaskComplete,
		TaskID:  taskID,
		Success: success,
		Message: message,
		Result:  result,
	})
}

// SendTaskCancelled delivers a one-shot cancellation notification.
func (h *Hub) SendTaskCancelled(userID, taskID, reason string) {
	h.send(userID, taskCancelledMessage{Type: typeTaskCancelled, TaskID: taskID, Reason: reason})
}

// SendTaskTimeout delivers a one-shot timeout notification.
func (h *Hub) SendTaskTimeout(userID, taskID string, duration string) {
	h.send(userID, taskTimeoutMessage{Type: typeTaskTimeout, TaskID: taskID, Duration: duration})
}

// send serializes the message once and writes it to every subscriber.
// Write failures are logged and skipped so one dead connection cannot
// starve the others.
func (h *Hub) send(userID string, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		slog.Error("failed to marshal broadcast message", "user_id", userID, "error", err)
		return
	}

	// Copy the slice under the read lock so removal during broadcast
	// cannot corrupt the iteration.
	h.mu.RLock()
	subs := append([]*Subscriber(nil), h.subscribers[userID]...)
	h.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	for _, sub := range subs {
		if err := sub.write(payload); err != nil {
			slog.Warn("failed to write to subscriber", "user_id", userID, "error", err)
		}
	}
}
