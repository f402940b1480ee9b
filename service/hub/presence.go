package hub

import (
	"context"
	"time"
)

// Presence policy: online/offline transitions go to the *other* members of
// every conversation the user belongs to. A user never receives their own
// presence change, on any of their connections.

func (h *Hub) announcePresence(ctx context.Context, userID, status string, at time.Time, conversations []string) {
	if len(conversations) == 0 {
		return
	}
	ev := NewPresenceChanged(PresenceChanged{
		UserID:   userID,
		Status:   status,
		LastSeen: at.UnixMilli(),
	})
	raw, err := ev.Encode()
	if err != nil {
		return
	}
	// A connection subscribed to several of the user's groups would hear
	// the same transition once per group; dedupe by connection.
	seen := make(map[string]bool)
	for _, conv := range conversations {
		for _, m := range h.groups.Members(conv) {
			if m.UserID == userID || seen[m.ConnID] {
				continue
			}
			seen[m.ConnID] = true
			m.enqueue(raw)
		}
		h.publish(ctx, conv, raw, userID)
	}
}
