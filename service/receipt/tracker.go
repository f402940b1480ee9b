package receipt

import (
	"context"
	"sync"
	"time"
)

// State of one (message, recipient) pair.
type State int

const (
	StatePending State = iota
	StateDelivered
	StateRead
)

func (s State) String() string {
	switch s {
	case StateDelivered:
		return "Delivered"
	case StateRead:
		return "Read"
	default:
		return "Pending"
	}
}

// Sink is where receipt changes are durably written. storage.Gateway
// satisfies it.
type Sink interface {
	UpsertReceipt(ctx context.Context, messageID, userID string, deliveredAt, readAt *time.Time) error
}

type entry struct {
	deliveredAt *time.Time
	readAt      *time.Time
}

type msgState struct {
	senderID   string
	recipients map[string]*entry // sender excluded
}

// Tracker keeps per-(message, recipient) delivered/read state. Timestamps
// are set-once: repeated marks are no-ops and nothing ever moves backward.
// Read implies delivered; marking read backfills delivered_at when it was
// never independently observed, which is the common case since clients only
// report reads.
type Tracker struct {
	mu    sync.Mutex
	byMsg map[string]*msgState
	sink  Sink
	clock func() time.Time
}

// NewTracker builds a tracker writing through to sink. A nil sink keeps
// state in memory only.
func NewTracker(sink Sink) *Tracker {
	return &Tracker{
		byMsg: make(map[string]*msgState),
		sink:  sink,
		clock: time.Now,
	}
}

// SetClock injects a clock for tests.
func (t *Tracker) SetClock(clock func() time.Time) { t.clock = clock }

// Track seeds Pending receipts for every recipient of a freshly persisted
// message. The sender never gets a receipt against their own message.
func (t *Tracker) Track(messageID, senderID string, recipients []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ms := t.byMsg[messageID]
	if ms == nil {
		ms = &msgState{senderID: senderID, recipients: make(map[string]*entry)}
		t.byMsg[messageID] = ms
	}
	for _, r := range recipients {
		if r == senderID {
			continue
		}
		if ms.recipients[r] == nil {
			ms.recipients[r] = &entry{}
		}
	}
}

// MarkDelivered records delivery. Idempotent once set.
func (t *Tracker) MarkDelivered(ctx context.Context, messageID, userID string) error {
	t.mu.Lock()
	e := t.entryLocked(messageID, userID)
	changed := false
	if e.deliveredAt == nil {
		now := t.clock().UTC()
		e.deliveredAt = &now
		changed = true
	}
	deliveredAt := e.deliveredAt
	t.mu.Unlock()

	if !changed || t.sink == nil {
		return nil
	}
	return t.sink.UpsertReceipt(ctx, messageID, userID, deliveredAt, nil)
}

// MarkRead records the read and backfills delivered_at when still unset.
// An existing delivered_at is never touched.
func (t *Tracker) MarkRead(ctx context.Context, messageID, userID string) error {
	t.mu.Lock()
	e := t.entryLocked(messageID, userID)
	changed := false
	now := t.clock().UTC()
	if e.readAt == nil {
		e.readAt = &now
		changed = true
	}
	if e.deliveredAt == nil {
		e.deliveredAt = &now
	}
	deliveredAt, readAt := e.deliveredAt, e.readAt
	t.mu.Unlock()

	if !changed || t.sink == nil {
		return nil
	}
	return t.sink.UpsertReceipt(ctx, messageID, userID, deliveredAt, readAt)
}

// StateOf reports the pair's state and timestamps.
func (t *Tracker) StateOf(messageID, userID string) (State, *time.Time, *time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ms := t.byMsg[messageID]
	if ms == nil {
		return StatePending, nil, nil
	}
	e := ms.recipients[userID]
	if e == nil {
		return StatePending, nil, nil
	}
	switch {
	case e.readAt != nil:
		return StateRead, e.deliveredAt, e.readAt
	case e.deliveredAt != nil:
		return StateDelivered, e.deliveredAt, nil
	default:
		return StatePending, nil, nil
	}
}

// ReadBy answers the "read by K of N" aggregate: recipients with a non-null
// read_at over total distinct recipients, sender excluded.
func (t *Tracker) ReadBy(messageID string) (read, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ms := t.byMsg[messageID]
	if ms == nil {
		return 0, 0
	}
	for _, e := range ms.recipients {
		total++
		if e.readAt != nil {
			read++
		}
	}
	return read, total
}

// Forget drops in-memory state for a message. Durable receipts stay in the
// sink.
func (t *Tracker) Forget(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byMsg, messageID)
}

// entryLocked lazily creates state. MarkRead on a message the tracker never
// saw is legal; the receipt upsert is the durable truth and the tracker
// trusts the caller's own bookkeeping.
func (t *Tracker) entryLocked(messageID, userID string) *entry {
	ms := t.byMsg[messageID]
	if ms == nil {
		ms = &msgState{recipients: make(map[string]*entry)}
		t.byMsg[messageID] = ms
	}
	e := ms.recipients[userID]
	if e == nil {
		e = &entry{}
		ms.recipients[userID] = e
	}
	return e
}
