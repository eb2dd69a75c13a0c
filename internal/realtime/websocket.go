package realtime

import (
	"sync"

	"github.com/gofiber/websocket/v2"
)

// WebSocketConn wraps websocket.Conn so hub.go does not import websocket.
// Writes are serialized; gofiber connections allow only one writer.
type WebSocketConn struct {
	Conn *websocket.Conn
	mu   sync.Mutex
}

func NewWebSocketConn(c *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{Conn: c}
}

func (w *WebSocketConn) WriteText(msg []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteMessage(websocket.TextMessage, msg)
}

// WritePump copies queued messages to the socket until the queue closes or a write fails.
func (w *WebSocketConn) WritePump(send <-chan []byte) {
	for msg := range send {
		if err := w.WriteText(msg); err != nil {
			return
		}
	}
}
