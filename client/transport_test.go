package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"RelayIM/service/hub"
	"RelayIM/service/receipt"
	"RelayIM/service/storage"
	"RelayIM/tools/security"
)

func newRelay(t *testing.T, store *storage.MemoryStore) (*WSTransport, security.Options, *hub.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtOpts := security.DefaultOptions([]byte("transport-test-secret"))
	h := hub.New(hub.Config{NodeID: "node-test"}, store, store, store, receipt.NewTracker(store), nil)
	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ws := hub.NewWSServer(h, jwtOpts, hub.WSConfig{})

	r := gin.New()
	r.GET("/chat", ws.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	tp := &WSTransport{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat"}
	return tp, jwtOpts, h
}

// waitJoined waits for the server side of a fresh dial to finish the group
// join; the dial returns on upgrade, slightly earlier.
func waitJoined(t *testing.T, h *hub.Hub, conversationID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.Groups().Members(conversationID)) >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("%s never reached %d subscribers", conversationID, n)
}

func mintToken(t *testing.T, jwtOpts security.Options, userID string) string {
	t.Helper()
	token, _, err := security.Generate(jwtOpts, userID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return token
}

func TestWSTransportRejectedCredentialFailsDial(t *testing.T) {
	tp, _, _ := newRelay(t, storage.NewMemoryStore())
	if _, err := tp.Dial(context.Background(), "bad-token"); err == nil {
		t.Fatal("dial with bad token succeeded")
	}
}

func TestWSTransportSendAndReceive(t *testing.T) {
	store := storage.NewMemoryStore()
	store.AddMember("c1", "alice")
	store.AddMember("c1", "bob")
	tp, jwtOpts, h := newRelay(t, store)

	bobConn, err := tp.Dial(context.Background(), mintToken(t, jwtOpts, "bob"))
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bobConn.Close()
	waitJoined(t, h, "c1", 1)
	aliceConn, err := tp.Dial(context.Background(), mintToken(t, jwtOpts, "alice"))
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer aliceConn.Close()
	waitJoined(t, h, "c1", 2)

	err = aliceConn.Send(context.Background(), hub.Frame{
		Op:              hub.OpSendMessage,
		ConversationID:  "c1",
		Payload:         []byte("hello"),
		ClientMessageID: "x1",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Bob sees alice's presence first, then the message.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-bobConn.Events():
			if ev.Type != hub.EventReceiveMessage {
				continue
			}
			if ev.ReceiveMessage.SenderID != "alice" || string(ev.ReceiveMessage.Payload) != "hello" {
				t.Fatalf("ReceiveMessage = %+v", ev.ReceiveMessage)
			}
			return
		case <-deadline:
			t.Fatal("message never arrived")
		}
	}
}

func TestWSTransportCloseIsNotAFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	store.AddMember("c1", "alice")
	tp, jwtOpts, _ := newRelay(t, store)

	conn, err := tp.Dial(context.Background(), mintToken(t, jwtOpts, "alice"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The events channel drains and closes; the cause stays nil so the
	// session machine treats this as intentional.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-conn.Events():
			if !ok {
				if cause := conn.Err(); cause != nil {
					t.Fatalf("Err = %v after own close, want nil", cause)
				}
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed")
		}
	}
}
