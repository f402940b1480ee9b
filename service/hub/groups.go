package hub

import "sync"

// GroupTable is the per-conversation subscriber arena: conversation id ->
// connection handles, with the reverse index for teardown. Join, leave and
// snapshot are safe to call concurrently from any connection's worker.
type GroupTable struct {
	mu     sync.RWMutex
	byConv map[string]map[string]*Client // conversation -> connID -> client
	byConn map[string]map[string]bool    // connID -> conversations
}

func NewGroupTable() *GroupTable {
	return &GroupTable{
		byConv: make(map[string]map[string]*Client),
		byConn: make(map[string]map[string]bool),
	}
}

func (g *GroupTable) Join(conversationID string, c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.byConv[conversationID]
	if m == nil {
		m = make(map[string]*Client)
		g.byConv[conversationID] = m
	}
	m[c.ConnID] = c

	convs := g.byConn[c.ConnID]
	if convs == nil {
		convs = make(map[string]bool)
		g.byConn[c.ConnID] = convs
	}
	convs[conversationID] = true
}

func (g *GroupTable) Leave(conversationID, connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaveLocked(conversationID, connID)
}

// LeaveAll removes the connection from every group and reports which ones.
func (g *GroupTable) LeaveAll(connID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for conv := range g.byConn[connID] {
		out = append(out, conv)
		g.leaveLocked(conv, connID)
	}
	return out
}

func (g *GroupTable) leaveLocked(conversationID, connID string) {
	if m := g.byConv[conversationID]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(g.byConv, conversationID)
		}
	}
	if convs := g.byConn[connID]; convs != nil {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(g.byConn, connID)
		}
	}
}

// Members snapshots the group's connections. The snapshot is taken under
// the read lock; delivery happens outside it.
func (g *GroupTable) Members(conversationID string) []*Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m := g.byConv[conversationID]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// Conversations lists the groups one connection is subscribed to.
func (g *GroupTable) Conversations(connID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	convs := g.byConn[connID]
	if len(convs) == 0 {
		return nil
	}
	out := make([]string, 0, len(convs))
	for conv := range convs {
		out = append(out, conv)
	}
	return out
}
