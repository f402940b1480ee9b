package client

import (
	"context"
	"sync"
	"time"

	"RelayIM/logger"
	"RelayIM/service/hub"
	"RelayIM/tools/errs"
)

// Status of the session machine. Long-lived, no terminal state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusReconnecting:
		return "Reconnecting"
	default:
		return "Disconnected"
	}
}

// Credentials is the access/refresh pair the session runs on.
type Credentials struct {
	Access  string
	Refresh string
}

// CredentialStore keeps the pair across reconnects (secure storage on a
// device, memory in tests).
type CredentialStore interface {
	Load() (Credentials, error)
	Store(Credentials) error
}

// Refresher exchanges a refresh token for a fresh pair. This is the
// RefreshCredential collaborator on the auth service.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (access, refresh string, err error)
}

// SessionConfig wires the machine. Schedule defaults to ReconnectSchedule;
// Sleep is injectable for tests.
type SessionConfig struct {
	Transport Transport
	Creds     CredentialStore
	Refresher Refresher
	Schedule  []time.Duration
	Sleep     func(d time.Duration)
}

// Session drives the connect/disconnect/reconnect lifecycle:
//
//	Disconnected --connect--> Connecting --success--> Connected
//	Connecting --failure--> Disconnected (no automatic retry)
//	Connected --abnormal close--> Reconnecting --schedule--> Connected
//	Reconnecting --exhausted--> Disconnected, then at most one
//	  refresh-credential recovery attempt
//	any --logout--> Disconnected (intentional: foreground won't reconnect)
type Session struct {
	conf SessionConfig

	mu          sync.Mutex
	status      Status
	intentional bool // most recent disconnect was caller-intentional
	conn        Conn
	gen         int // connection generation, guards stale watchers
	bus         *Bus
}

func NewSession(conf SessionConfig) *Session {
	if len(conf.Schedule) == 0 {
		conf.Schedule = ReconnectSchedule
	}
	if conf.Sleep == nil {
		conf.Sleep = time.Sleep
	}
	return &Session{conf: conf, bus: NewBus()}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// On subscribes to a server event type; the returned function unsubscribes.
func (s *Session) On(t hub.EventType, h func(hub.Event)) func() {
	s.mu.Lock()
	bus := s.bus
	s.mu.Unlock()
	return bus.Subscribe(t, h)
}

// Connect performs one connection attempt. A failed attempt leaves the
// session Disconnected with no retry scheduled; retry is driven externally
// by a foreground event or an explicit user action.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusConnected || s.status == StatusConnecting {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusConnecting
	s.intentional = false
	if s.bus.isClosed() {
		s.bus = NewBus()
	}
	s.mu.Unlock()

	creds, err := s.conf.Creds.Load()
	if err != nil {
		s.toDisconnected()
		return err
	}
	conn, err := s.conf.Transport.Dial(ctx, creds.Access)
	if err != nil {
		s.toDisconnected()
		return err
	}
	s.adopt(ctx, conn)
	return nil
}

// Logout closes the connection intentionally and tears the bus down. A
// later foreground event will not auto-reconnect.
func (s *Session) Logout(_ context.Context) error {
	s.mu.Lock()
	s.intentional = true
	s.status = StatusDisconnected
	conn := s.conn
	s.conn = nil
	s.gen++ // orphan the watcher
	bus := s.bus
	s.mu.Unlock()

	bus.Close()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Foreground is the app-activation hook: a live session gets a liveness
// ping, a session that lost its connection through no fault of the caller
// gets exactly one connect attempt.
func (s *Session) Foreground(ctx context.Context) error {
	s.mu.Lock()
	status, intentional := s.status, s.intentional
	s.mu.Unlock()

	switch {
	case status == StatusConnected:
		return s.SetOnline(ctx)
	case status == StatusDisconnected && !intentional:
		return s.Connect(ctx)
	default:
		return nil
	}
}

// ---- hub operations ----

func (s *Session) SendMessage(ctx context.Context, conversationID string, payload []byte, clientMessageID, contentType string) error {
	return s.send(ctx, hub.Frame{
		Op:              hub.OpSendMessage,
		ConversationID:  conversationID,
		Payload:         payload,
		ClientMessageID: clientMessageID,
		ContentType:     contentType,
	})
}

func (s *Session) MarkRead(ctx context.Context, conversationID string, messageIDs ...string) error {
	return s.send(ctx, hub.Frame{
		Op:             hub.OpMarkRead,
		ConversationID: conversationID,
		MessageIDs:     messageIDs,
	})
}

func (s *Session) StartTyping(ctx context.Context, conversationID string) error {
	return s.send(ctx, hub.Frame{Op: hub.OpStartTyping, ConversationID: conversationID})
}

func (s *Session) StopTyping(ctx context.Context, conversationID string) error {
	return s.send(ctx, hub.Frame{Op: hub.OpStopTyping, ConversationID: conversationID})
}

func (s *Session) SetOnline(ctx context.Context) error {
	return s.send(ctx, hub.Frame{Op: hub.OpSetOnline})
}

func (s *Session) send(ctx context.Context, f hub.Frame) error {
	s.mu.Lock()
	conn, status := s.conn, s.status
	s.mu.Unlock()
	if status != StatusConnected || conn == nil {
		return errs.ErrTransport.WithDetail("hub not connected")
	}
	return conn.Send(ctx, f)
}

// ---- lifecycle internals ----

// adopt installs a freshly dialed connection, flips to Connected, emits the
// liveness signal, and starts the watcher.
func (s *Session) adopt(ctx context.Context, conn Conn) {
	s.mu.Lock()
	s.conn = conn
	s.status = StatusConnected
	s.gen++
	gen := s.gen
	bus := s.bus
	s.mu.Unlock()

	if err := conn.Send(ctx, hub.Frame{Op: hub.OpSetOnline}); err != nil {
		logger.Warnf("[Session] liveness signal failed: %v", err)
	}
	go s.watch(conn, gen, bus)
}

// watch pumps server events into the bus until the transport drops, then
// routes the close: intentional stops end Disconnected, abnormal closes
// enter the Reconnecting path.
func (s *Session) watch(conn Conn, gen int, bus *Bus) {
	for e := range conn.Events() {
		bus.Publish(e)
	}
	cause := conn.Err()

	s.mu.Lock()
	if s.gen != gen {
		// A newer connection took over while we drained.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	if s.intentional || cause == nil {
		s.status = StatusDisconnected
		s.mu.Unlock()
		return
	}
	s.status = StatusReconnecting
	s.mu.Unlock()

	logger.Infof("[Session] transport lost: %v, reconnecting", cause)
	s.reconnect(gen)
}

// reconnect walks the backoff schedule. Success re-enters Connected (and
// re-emits SetOnline via adopt); exhaustion drops to Disconnected followed
// by at most one credential-refresh recovery.
func (s *Session) reconnect(gen int) {
	ctx := context.Background()
	for _, delay := range s.conf.Schedule {
		s.conf.Sleep(delay)

		s.mu.Lock()
		stale := s.gen != gen || s.status != StatusReconnecting
		s.mu.Unlock()
		if stale {
			return
		}

		creds, err := s.conf.Creds.Load()
		if err != nil {
			continue
		}
		conn, err := s.conf.Transport.Dial(ctx, creds.Access)
		if err != nil {
			continue
		}
		s.adopt(ctx, conn)
		return
	}

	s.mu.Lock()
	if s.gen != gen || s.status != StatusReconnecting {
		s.mu.Unlock()
		return
	}
	s.status = StatusDisconnected
	s.mu.Unlock()

	s.recoverOnce(ctx)
}

// recoverOnce refreshes the credential and, only if that succeeds, makes
// one more connect attempt. A failed refresh is terminal for this cycle:
// the session stays Disconnected until a foreground event or the user acts.
func (s *Session) recoverOnce(ctx context.Context) {
	if s.conf.Refresher == nil {
		return
	}
	creds, err := s.conf.Creds.Load()
	if err != nil || creds.Refresh == "" {
		return
	}
	access, refresh, err := s.conf.Refresher.Refresh(ctx, creds.Refresh)
	if err != nil {
		logger.Infof("[Session] credential refresh failed, staying disconnected: %v", err)
		return
	}
	if err := s.conf.Creds.Store(Credentials{Access: access, Refresh: refresh}); err != nil {
		logger.Warnf("[Session] credential store failed: %v", err)
		return
	}
	if err := s.Connect(ctx); err != nil {
		logger.Infof("[Session] recovery connect failed: %v", err)
	}
}

func (s *Session) toDisconnected() {
	s.mu.Lock()
	s.status = StatusDisconnected
	s.mu.Unlock()
}
