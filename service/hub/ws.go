package hub

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"RelayIM/logger"
	"RelayIM/tools/errs"
	"RelayIM/tools/ids"
	"RelayIM/tools/security"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSConfig tunes the transport; zero values fall back to defaults.
type WSConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int64
}

func (c *WSConfig) norm() {
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 75 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 1 << 20
	}
}

// WSServer authenticates the handshake and runs the per-connection worker
// pair: one reader applying operations in arrival order, one writer
// draining the send queue.
type WSServer struct {
	hub  *Hub
	jwt  security.Options
	conf WSConfig
}

func NewWSServer(h *Hub, jwt security.Options, conf WSConfig) *WSServer {
	conf.norm()
	return &WSServer{hub: h, jwt: jwt, conf: conf}
}

// HandleWS upgrades /chat. The bearer credential is checked before the
// upgrade: an expired token fails the whole connect attempt instead of
// leaving a half-open connection.
func (s *WSServer) HandleWS(c *gin.Context) {
	token := bearerToken(c)
	userID, err := security.Verify(s.jwt, token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrCredentialExpired)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[WS] upgrade failed user=%s: %v", userID, err)
		return
	}

	client := NewClient(ids.GenerateString(), userID, ws, s.hub.conf.SendQueueSize)
	ctx := c.Request.Context()

	if err := s.hub.Connect(ctx, client); err != nil {
		logger.Errorf("[WS] connect failed user=%s: %v", userID, err)
		_ = ws.Close()
		return
	}

	go s.writePump(client, ws)
	s.readLoop(ctx, client, ws)
}

// readLoop is the connection's worker: frames are handled one at a time, so
// two operations from the same connection never interleave.
func (s *WSServer) readLoop(ctx context.Context, client *Client, ws *websocket.Conn) {
	defer func() {
		s.hub.Disconnect(context.Background(), client, errs.ErrTransport)
		_ = ws.Close()
	}()

	ws.SetReadLimit(s.conf.MaxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.conf.PongTimeout))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed conn=%s", client.ConnID)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout conn=%s", client.ConnID)
			} else {
				logger.Infof("[WS] read err conn=%s: %v", client.ConnID, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseFrame(data)
		if perr != nil {
			client.SendEvent(NewError(errs.CodeValidation, "malformed frame"))
			continue
		}
		s.dispatch(ctx, client, frame)
	}
}

// dispatch applies one operation. Failures turn into an Error event for
// this caller only; other connections and in-flight operations are
// untouched.
func (s *WSServer) dispatch(ctx context.Context, client *Client, f *Frame) {
	if err := f.Validate(); err != nil {
		s.replyErr(client, err)
		return
	}
	var err error
	switch f.Op {
	case OpSendMessage:
		err = s.hub.SendMessage(ctx, client, f.ConversationID, f.Payload, f.ClientMessageID, f.ContentType)
	case OpMarkRead:
		err = s.hub.MarkRead(ctx, client, f.ConversationID, f.ReadIDs()...)
	case OpStartTyping:
		err = s.hub.Typing(ctx, client, f.ConversationID, true)
	case OpStopTyping:
		err = s.hub.Typing(ctx, client, f.ConversationID, false)
	case OpSetOnline:
		err = s.hub.SetOnline(ctx, client)
	}
	if err != nil {
		s.replyErr(client, err)
	}
}

func (s *WSServer) replyErr(client *Client, err error) {
	code := errs.Code(err)
	msg := "operation failed"
	switch code {
	case errs.CodeAuthorization:
		msg = "you are not a member of this conversation"
	case errs.CodeValidation:
		msg = err.Error()
	case errs.CodePersistence:
		msg = "message could not be stored"
	case 0:
		code = errs.CodePersistence
	}
	client.SendEvent(NewError(code, msg))
}

func (s *WSServer) writePump(client *Client, ws *websocket.Conn) {
	ticker := time.NewTicker(s.conf.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case raw := <-client.send:
			_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				logger.Infof("[WS] write err conn=%s: %v", client.ConnID, err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.Done():
			return
		}
	}
}

// bearerToken pulls the credential from the Authorization header or, for
// browser websocket clients that cannot set headers, the access_token query
// parameter.
func bearerToken(c *gin.Context) string {
	if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	return strings.TrimSpace(c.Query("access_token"))
}
