package hub

import (
	"fmt"
	"sync"
	"testing"
)

func TestGroupTableJoinLeave(t *testing.T) {
	g := NewGroupTable()
	a := NewClient("conn-a", "alice", nil, 1)
	b := NewClient("conn-b", "bob", nil, 1)

	g.Join("c1", a)
	g.Join("c1", b)
	g.Join("c2", a)

	if n := len(g.Members("c1")); n != 2 {
		t.Fatalf("c1 members = %d, want 2", n)
	}
	if convs := g.Conversations("conn-a"); len(convs) != 2 {
		t.Fatalf("conn-a conversations = %v", convs)
	}

	g.Leave("c1", "conn-a")
	if n := len(g.Members("c1")); n != 1 {
		t.Fatalf("c1 members after leave = %d, want 1", n)
	}
	if convs := g.Conversations("conn-a"); len(convs) != 1 || convs[0] != "c2" {
		t.Fatalf("conn-a conversations after leave = %v", convs)
	}
}

func TestGroupTableLeaveAll(t *testing.T) {
	g := NewGroupTable()
	a := NewClient("conn-a", "alice", nil, 1)
	g.Join("c1", a)
	g.Join("c2", a)
	g.Join("c3", a)

	convs := g.LeaveAll("conn-a")
	if len(convs) != 3 {
		t.Fatalf("LeaveAll = %v, want 3 conversations", convs)
	}
	for _, conv := range convs {
		if n := len(g.Members(conv)); n != 0 {
			t.Fatalf("%s still has %d members", conv, n)
		}
	}
	if convs := g.Conversations("conn-a"); convs != nil {
		t.Fatalf("conn-a still subscribed to %v", convs)
	}
}

func TestGroupTableRejoinIdempotent(t *testing.T) {
	g := NewGroupTable()
	a := NewClient("conn-a", "alice", nil, 1)
	g.Join("c1", a)
	g.Join("c1", a)
	if n := len(g.Members("c1")); n != 1 {
		t.Fatalf("members = %d, want 1", n)
	}
}

func TestGroupTableConcurrent(t *testing.T) {
	g := NewGroupTable()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewClient(fmt.Sprintf("conn-%d", i), "user", nil, 1)
			for j := 0; j < 100; j++ {
				g.Join("c1", c)
				g.Members("c1")
				g.LeaveAll(c.ConnID)
			}
		}(i)
	}
	wg.Wait()
	if n := len(g.Members("c1")); n != 0 {
		t.Fatalf("members = %d, want 0", n)
	}
}
