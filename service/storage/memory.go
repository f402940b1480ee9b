package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"RelayIM/tools/errs"
	"RelayIM/tools/ids"
)

// MemoryStore is the in-process implementation of every collaborator
// interface. It backs single-node dev runs and the test suites.
type MemoryStore struct {
	mu       sync.RWMutex
	members  map[string]map[string]bool // conversation -> user -> member
	messages map[string][]Message       // conversation -> messages in persist order
	receipts map[string]map[string]*memReceipt
	lastSeen map[string]time.Time
	refresh  map[string]string // refresh token -> user
	Clock    func() time.Time

	// FailPersist makes the next PersistMessage fail, for gateway-outage
	// tests.
	FailPersist bool
}

type memReceipt struct {
	deliveredAt *time.Time
	readAt      *time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members:  make(map[string]map[string]bool),
		messages: make(map[string][]Message),
		receipts: make(map[string]map[string]*memReceipt),
		lastSeen: make(map[string]time.Time),
		refresh:  make(map[string]string),
		Clock:    time.Now,
	}
}

// AddMember registers user as a member of the conversation.
func (s *MemoryStore) AddMember(conversationID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.members[conversationID]
	if m == nil {
		m = make(map[string]bool)
		s.members[conversationID] = m
	}
	m[userID] = true
}

// RemoveMember drops user from the conversation; the next per-call check
// sees the change even if the user is still connected.
func (s *MemoryStore) RemoveMember(conversationID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.members[conversationID]; m != nil {
		delete(m, userID)
	}
}

func (s *MemoryStore) GroupsFor(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for conv, m := range s.members {
		if m[userID] {
			out = append(out, conv)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) IsMember(_ context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[conversationID][userID], nil
}

func (s *MemoryStore) Members(_ context.Context, conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for user, member := range s.members[conversationID] {
		if member {
			out = append(out, user)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) PersistMessage(_ context.Context, conversationID, senderID string, payload []byte, contentType string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPersist {
		return Message{}, errs.ErrPersistence.WithDetail("gateway unavailable")
	}
	msg := Message{
		ID:             ids.GenerateString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Payload:        append([]byte(nil), payload...),
		ContentType:    contentType,
		CreatedAt:      s.Clock().UTC(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return msg, nil
}

// MessageCount reports how many messages a conversation holds.
func (s *MemoryStore) MessageCount(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[conversationID])
}

func (s *MemoryStore) UpsertReceipt(_ context.Context, messageID, userID string, deliveredAt, readAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser := s.receipts[messageID]
	if byUser == nil {
		byUser = make(map[string]*memReceipt)
		s.receipts[messageID] = byUser
	}
	r := byUser[userID]
	if r == nil {
		r = &memReceipt{}
		byUser[userID] = r
	}
	// Set-if-unset only; timestamps never move.
	if deliveredAt != nil && r.deliveredAt == nil {
		t := deliveredAt.UTC()
		r.deliveredAt = &t
	}
	if readAt != nil && r.readAt == nil {
		t := readAt.UTC()
		r.readAt = &t
	}
	return nil
}

// Receipt returns the stored timestamps for a (message, recipient) pair.
func (s *MemoryStore) Receipt(messageID, userID string) (deliveredAt, readAt *time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.receipts[messageID][userID]
	if r == nil {
		return nil, nil, false
	}
	return r.deliveredAt, r.readAt, true
}

func (s *MemoryStore) RecentMessages(_ context.Context, conversationID, beforeID string, limit int64) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[conversationID]
	var out []Message
	for i := len(all) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		if beforeID != "" && all[i].ID >= beforeID {
			continue
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemoryStore) TouchLastSeen(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[userID] = at.UTC()
	return nil
}

func (s *MemoryStore) LastSeen(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.lastSeen[userID]
	return at, ok, nil
}

func (s *MemoryStore) Issue(_ context.Context, userID string, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := "rt-" + ids.GenerateString()
	s.refresh[token] = userID
	return token, nil
}

func (s *MemoryStore) Rotate(_ context.Context, refreshToken string, _ time.Duration) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.refresh[refreshToken]
	if !ok {
		return "", "", errs.ErrCredentialExpired.WithDetail("refresh token unknown")
	}
	delete(s.refresh, refreshToken)
	next := "rt-" + ids.GenerateString()
	s.refresh[next] = userID
	return userID, next, nil
}

func (s *MemoryStore) Revoke(_ context.Context, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refresh, refreshToken)
	return nil
}
