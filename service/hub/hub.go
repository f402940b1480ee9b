package hub

import (
	"context"
	"sync"
	"time"

	"RelayIM/logger"
	"RelayIM/service/backplane"
	"RelayIM/service/receipt"
	"RelayIM/service/storage"
	"RelayIM/tools/errs"
)

// Config for one hub instance.
type Config struct {
	NodeID         string
	SendQueueSize  int
	PersistTimeout time.Duration // bound on the gateway write inside SendMessage
	Clock          func() time.Time
}

func (c *Config) norm() {
	if c.NodeID == "" {
		c.NodeID = "relay-1"
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// PushSink receives the post-persist side channel. Publish failures never
// fail the send.
type PushSink interface {
	MessageCreated(m storage.Message) error
}

// Hub is the single authority turning inbound operations into persisted
// state changes and outbound fan-out. One lightweight worker per connection
// drives it; operations from one connection arrive in order, operations
// from different connections run concurrently.
type Hub struct {
	conf     Config
	dir      storage.Directory
	gw       storage.Gateway
	presence storage.PresenceStore
	receipts *receipt.Tracker
	groups   *GroupTable
	bp       backplane.Backplane
	push     PushSink

	mu     sync.RWMutex
	byConn map[string]*Client
	byUser map[string]map[string]*Client
}

func New(conf Config, dir storage.Directory, gw storage.Gateway, presence storage.PresenceStore, receipts *receipt.Tracker, bp backplane.Backplane) *Hub {
	conf.norm()
	if bp == nil {
		bp = backplane.NewNoop()
	}
	return &Hub{
		conf:     conf,
		dir:      dir,
		gw:       gw,
		presence: presence,
		receipts: receipts,
		groups:   NewGroupTable(),
		bp:       bp,
		byConn:   make(map[string]*Client),
		byUser:   make(map[string]map[string]*Client),
	}
}

// SetPushSink wires the optional post-persist event stream.
func (h *Hub) SetPushSink(p PushSink) { h.push = p }

// Groups exposes the subscriber table to the transport layer.
func (h *Hub) Groups() *GroupTable { return h.groups }

// Run subscribes the hub to the backplane. Blocks only on setup.
func (h *Hub) Run(ctx context.Context) error {
	return h.bp.Start(ctx, h.handleEnvelope)
}

// Connect resolves the user's conversation groups, subscribes the
// connection to each, then announces "online" to the other members. No
// persisted state changes yet.
func (h *Hub) Connect(ctx context.Context, c *Client) error {
	convs, err := h.dir.GroupsFor(ctx, c.UserID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.byConn[c.ConnID] = c
	m := h.byUser[c.UserID]
	if m == nil {
		m = make(map[string]*Client)
		h.byUser[c.UserID] = m
	}
	m[c.ConnID] = c
	h.mu.Unlock()

	for _, conv := range convs {
		h.groups.Join(conv, c)
	}

	h.announcePresence(ctx, c.UserID, StatusOnline, h.conf.Clock(), convs)
	logger.Infof("[Hub] connected user=%s conn=%s groups=%d", c.UserID, c.ConnID, len(convs))
	return nil
}

// Disconnect tears the connection down: lastSeen write, "offline" to the
// other members once the user's final connection is gone, then unsubscribe.
// cause is informational; recovery is the client state machine's job.
func (h *Hub) Disconnect(ctx context.Context, c *Client, cause error) {
	now := h.conf.Clock()

	h.mu.Lock()
	delete(h.byConn, c.ConnID)
	last := false
	if m := h.byUser[c.UserID]; m != nil {
		delete(m, c.ConnID)
		if len(m) == 0 {
			delete(h.byUser, c.UserID)
			last = true
		}
	}
	h.mu.Unlock()

	if h.presence != nil {
		if err := h.presence.TouchLastSeen(ctx, c.UserID, now); err != nil {
			logger.Warnf("[Hub] last seen write failed user=%s: %v", c.UserID, err)
		}
	}

	convs := h.groups.LeaveAll(c.ConnID)
	if last {
		h.announcePresence(ctx, c.UserID, StatusOffline, now, convs)
	}
	c.Close()
	logger.Infof("[Hub] disconnected user=%s conn=%s cause=%v", c.UserID, c.ConnID, cause)
}

// SendMessage persists first, then fans out. Every subscribed connection of
// the group gets ReceiveMessage except the sending connection itself, which
// gets MessageDelivered carrying the caller's clientMessageId instead. A
// persistence failure aborts the whole fan-out.
func (h *Hub) SendMessage(ctx context.Context, c *Client, conversationID string, payload []byte, clientMessageID, contentType string) error {
	if len(payload) == 0 {
		return errs.ErrValidation.WithDetail("empty payload")
	}
	ok, err := h.dir.IsMember(ctx, conversationID, c.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotAMember
	}

	pctx, cancel := context.WithTimeout(ctx, h.conf.PersistTimeout)
	msg, err := h.gw.PersistMessage(pctx, conversationID, c.UserID, payload, contentType)
	cancel()
	if err != nil {
		if errs.Code(err) == errs.CodePersistence {
			return err
		}
		return errs.ErrPersistence.WithDetail(err.Error())
	}

	// Seed Pending receipts for everyone but the sender so "read by K of N"
	// has the right denominator from the start.
	if h.receipts != nil {
		if members, merr := h.dir.Members(ctx, conversationID); merr == nil {
			h.receipts.Track(msg.ID, c.UserID, members)
		} else {
			logger.Warnf("[Hub] member list for receipts failed conv=%s: %v", conversationID, merr)
		}
	}

	ev := NewReceiveMessage(ReceiveMessage{
		ConversationID:  conversationID,
		Payload:         msg.Payload,
		SenderID:        c.UserID,
		Timestamp:       msg.CreatedAt.UnixMilli(),
		ServerMessageID: msg.ID,
		ClientMessageID: clientMessageID,
	})
	raw, err := ev.Encode()
	if err != nil {
		return err
	}
	h.deliverLocal(conversationID, raw, c.ConnID, "")
	h.publish(ctx, conversationID, raw, "")

	c.SendEvent(NewMessageDelivered(MessageDelivered{
		ConversationID:  conversationID,
		MessageID:       msg.ID,
		ClientMessageID: clientMessageID,
	}))

	if h.push != nil {
		if perr := h.push.MessageCreated(msg); perr != nil {
			logger.Warnf("[Hub] push event failed msg=%s: %v", msg.ID, perr)
		}
	}
	return nil
}

// MarkRead upserts receipts for the given messages and notifies the other
// members. It does not check that the messages belong to the conversation;
// the receipt upsert is the durable truth and the broadcast is a
// best-effort live notice.
func (h *Hub) MarkRead(ctx context.Context, c *Client, conversationID string, messageIDs ...string) error {
	ok, err := h.dir.IsMember(ctx, conversationID, c.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotAMember
	}

	var firstErr error
	for _, id := range messageIDs {
		if h.receipts != nil {
			if rerr := h.receipts.MarkRead(ctx, id, c.UserID); rerr != nil && firstErr == nil {
				firstErr = rerr
			}
		}
		ev := NewMessageRead(MessageRead{
			ConversationID: conversationID,
			MessageID:      id,
			ReadBy:         c.UserID,
		})
		raw, eerr := ev.Encode()
		if eerr != nil {
			continue
		}
		h.deliverLocal(conversationID, raw, "", c.UserID)
		h.publish(ctx, conversationID, raw, c.UserID)
	}
	return firstErr
}

// Typing flips the ephemeral typing flag for the other members. Nothing is
// persisted and the caller never hears their own typing.
func (h *Hub) Typing(ctx context.Context, c *Client, conversationID string, isTyping bool) error {
	ok, err := h.dir.IsMember(ctx, conversationID, c.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotAMember
	}
	ev := NewTypingUpdate(TypingUpdate{
		ConversationID: conversationID,
		UserID:         c.UserID,
		IsTyping:       isTyping,
	})
	raw, err := ev.Encode()
	if err != nil {
		return err
	}
	h.deliverLocal(conversationID, raw, "", c.UserID)
	h.publish(ctx, conversationID, raw, c.UserID)
	return nil
}

// SetOnline is the lightweight liveness ping for a client returning to the
// foreground without having disconnected.
func (h *Hub) SetOnline(ctx context.Context, c *Client) error {
	convs := h.groups.Conversations(c.ConnID)
	h.announcePresence(ctx, c.UserID, StatusOnline, h.conf.Clock(), convs)
	return nil
}

// handleEnvelope applies a cross-instance fan-out to local subscribers.
// Envelopes we published ourselves were already delivered locally.
func (h *Hub) handleEnvelope(env backplane.Envelope) {
	if env.Origin == h.conf.NodeID {
		return
	}
	h.deliverLocal(env.ConversationID, env.Event, "", env.ExcludeUser)
}

// deliverLocal writes one encoded event to every subscribed connection of
// the group, skipping exceptConn and every connection of exceptUser.
func (h *Hub) deliverLocal(conversationID string, raw []byte, exceptConn, exceptUser string) {
	for _, m := range h.groups.Members(conversationID) {
		if exceptConn != "" && m.ConnID == exceptConn {
			continue
		}
		if exceptUser != "" && m.UserID == exceptUser {
			continue
		}
		m.enqueue(raw)
	}
}

func (h *Hub) publish(ctx context.Context, conversationID string, raw []byte, excludeUser string) {
	err := h.bp.Publish(ctx, backplane.Envelope{
		Origin:         h.conf.NodeID,
		ConversationID: conversationID,
		ExcludeUser:    excludeUser,
		Event:          raw,
	})
	if err != nil {
		logger.Warnf("[Hub] backplane publish failed conv=%s: %v", conversationID, err)
	}
}
