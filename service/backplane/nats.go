package backplane

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	pkgerr "github.com/pkg/errors"

	"RelayIM/logger"
)

// Nats relays envelopes over a core NATS subject. Same at-least-once
// contract as the redis backplane; pick one via config.
type Nats struct {
	nc      *nats.Conn
	subject string

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewNats(nc *nats.Conn, subject string) *Nats {
	if subject == "" {
		subject = "im.backplane"
	}
	return &Nats{nc: nc, subject: subject}
}

func (b *Nats) Publish(_ context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return pkgerr.Wrap(err, "marshal envelope")
	}
	if err := b.nc.Publish(b.subject, raw); err != nil {
		return pkgerr.Wrap(err, "publish envelope")
	}
	return nil
}

func (b *Nats) Start(_ context.Context, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return pkgerr.New("backplane already started")
	}
	sub, err := b.nc.Subscribe(b.subject, func(m *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			logger.Warnf("[Backplane] drop undecodable envelope: %v", err)
			return
		}
		h(env)
	})
	if err != nil {
		return pkgerr.Wrap(err, "subscribe backplane")
	}
	b.sub = sub
	return nil
}

func (b *Nats) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	return err
}
