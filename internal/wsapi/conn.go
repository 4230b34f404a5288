package wsapi

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout bounds every outbound frame, data and control alike.
	// A peer that cannot drain a frame within this window is treated as
	// dead by the caller.
	writeTimeout = 10 * time.Second

	// pongWait is how long a connection may stay silent before its read
	// loop gives up. Pongs and inbound frames both refresh it.
	pongWait = 60 * time.Second

	// maxMessageSize caps inbound frames; clients only send keepalives.
	maxMessageSize = 1024
)

// Conn adapts a gorilla websocket connection to registry.Conn. Writes
// are serialized under a mutex since broadcasts arrive from many
// pipeline goroutines at once.
type Conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send writes one text frame with a bounded deadline.
func (c *Conn) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a control frame with a bounded deadline. The probe fails
// fast on a torn-down socket, which is what the registry sweep keys off.
func (c *Conn) Ping(_ context.Context) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// Close tears the underlying socket down.
func (c *Conn) Close() error {
	return c.ws.Close()
}
