package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// transport adapts a gorilla WebSocket connection to portal.Transport.
// Writes are serialized with a mutex; gorilla connections support one
// concurrent writer only.
type transport struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func newTransport(ws *websocket.Conn, writeTimeout time.Duration) *transport {
	return &transport{ws: ws, writeTimeout: writeTimeout}
}

// WriteLine sends one logical text message as a single WebSocket text frame.
func (t *transport) WriteLine(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeTimeout > 0 {
		_ = t.ws.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.ws.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close closes the underlying WebSocket connection.
func (t *transport) Close() error {
	return t.ws.Close()
}

// RemoteAddr returns the remote network address of the client.
func (t *transport) RemoteAddr() string {
	return t.ws.RemoteAddr().String()
}
