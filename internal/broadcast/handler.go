package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI layer fronts this endpoint; origin policy is enforced there.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler upgrades HTTP requests to WebSocket connections and runs the
// subscribe protocol against a Hub.
type Handler struct {
	hub *Hub
}

// NewHandler creates a WebSocket handler bound to a hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP implements the progress WebSocket endpoint.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	go h.serve(conn)
}

// lockedConn serializes writes: hub broadcasts and protocol replies
// share one connection, and gorilla forbids concurrent writers.
type lockedConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *lockedConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

func (c *lockedConn) Close() error {
	return c.conn.Close()
}

// serve runs one connection's read loop until it closes or errors.
func (h *Handler) serve(raw *websocket.Conn) {
	conn := &lockedConn{conn: raw}
	defer func() { _ = conn.Close() }()

	writeJSON(conn, connectedMessage{Type: typeConnected})

	var sub *Subscriber
	var subUserID string
	defer func() {
		if sub != nil {
			h.hub.Unsubscribe(sub)
		}
	}()

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "error", err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil || strings.TrimSpace(msg.Type) == "" {
			// Malformed input is answered and otherwise ignored; it must
			// never take the connection (or the hub) down.
			writeJSON(conn, errorMessage{Type: typeError, Message: "invalid message"})
			continue
		}

		switch msg.Type {
		case typeSubscribe:
			userID := strings.TrimSpace(msg.UserID)
			if userID == "" {
				writeJSON(conn, errorMessage{Type: typeError, Message: "subscribe requires userId"})
				continue
			}
			// Re-subscribing as another user moves the connection; the
			// ack must always name the user who will receive events.
			if sub != nil && userID != subUserID {
				h.hub.Unsubscribe(sub)
				sub = nil
			}
			if sub == nil {
				sub = h.hub.Subscribe(userID, conn)
				subUserID = userID
			}
			writeJSON(conn, subscribedMessage{Type: typeSubscribed, UserID: userID})
		default:
			writeJSON(conn, errorMessage{Type: typeError, Message: "unknown message type"})
		}
	}
}

func writeJSON(conn Conn, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		slog.Debug("websocket write failed", "error", err)
	}
}
