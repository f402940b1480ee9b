package hub

import (
	"sync"

	"github.com/gorilla/websocket"

	"RelayIM/logger"
)

// Client is one authenticated connection. Identity is (UserID, ConnID); a
// user with several devices holds several Clients. The hub owns a Client
// for its whole lifetime and drops it on disconnect, never persisting it.
type Client struct {
	ConnID string
	UserID string

	ws   *websocket.Conn // nil for in-process clients in tests
	send chan []byte     // encoded events, consumed by one writer goroutine

	closeOnce sync.Once
	closed    chan struct{}
}

func NewClient(connID, userID string, ws *websocket.Conn, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Client{
		ConnID: connID,
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, queueSize),
		closed: make(chan struct{}),
	}
}

// enqueue hands an encoded event to the writer. A slow client whose queue
// is full loses the event rather than stalling the fan-out; history
// recovery picks it back up after reconnect.
func (c *Client) enqueue(raw []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- raw:
		return true
	default:
		logger.Warnf("[Hub] send queue full, drop event conn=%s user=%s", c.ConnID, c.UserID)
		return false
	}
}

// SendEvent encodes and queues one event for this connection only.
func (c *Client) SendEvent(e Event) {
	raw, err := e.Encode()
	if err != nil {
		logger.Errorf("[Hub] encode event conn=%s: %v", c.ConnID, err)
		return
	}
	c.enqueue(raw)
}

// Close releases the writer. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Done resolves when the connection is torn down.
func (c *Client) Done() <-chan struct{} { return c.closed }
