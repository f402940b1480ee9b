package client

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	pkgerr "github.com/pkg/errors"

	"RelayIM/service/hub"
)

// Conn is one live hub connection. Events() closes when the transport
// drops; Err() then reports the cause, nil for a caller-initiated stop.
type Conn interface {
	Send(ctx context.Context, f hub.Frame) error
	Events() <-chan hub.Event
	Err() error
	Close() error
}

// Transport dials the relay. The bearer credential travels out-of-band as
// connection metadata; a rejected credential fails the dial outright.
type Transport interface {
	Dial(ctx context.Context, accessToken string) (Conn, error)
}

// WSTransport is the gorilla/websocket transport against the relay's /chat
// route.
type WSTransport struct {
	URL              string // ws://host:port/chat
	HandshakeTimeout time.Duration
}

func (t *WSTransport) Dial(ctx context.Context, accessToken string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.HandshakeTimeout}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	hdr := http.Header{}
	if accessToken != "" {
		hdr.Set("Authorization", "Bearer "+accessToken)
	}
	ws, _, err := dialer.DialContext(ctx, t.URL, hdr)
	if err != nil {
		return nil, pkgerr.Wrap(err, "dial relay")
	}
	c := &wsConn{ws: ws, events: make(chan hub.Event, 64)}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	events  chan hub.Event
	stopped atomic.Bool

	errMu sync.Mutex
	err   error
}

func (c *wsConn) Send(ctx context.Context, f hub.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	} else {
		_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	}
	return c.ws.WriteJSON(f)
}

func (c *wsConn) Events() <-chan hub.Event { return c.events }

func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsConn) Close() error {
	c.stopped.Store(true)
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *wsConn) readLoop() {
	defer close(c.events)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			// A read error after our own Close is a normal stop, not a
			// transport failure.
			if !c.stopped.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.errMu.Lock()
				c.err = err
				c.errMu.Unlock()
			}
			return
		}
		ev, derr := hub.DecodeEvent(raw)
		if derr != nil {
			continue
		}
		c.events <- ev
	}
}
