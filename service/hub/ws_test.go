package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"RelayIM/service/receipt"
	"RelayIM/service/storage"
	"RelayIM/tools/security"
)

func newWSTestServer(t *testing.T, store *storage.MemoryStore) (*httptest.Server, security.Options, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := New(Config{NodeID: "node-test"}, store, store, store, receipt.NewTracker(store), nil)
	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	jwtOpts := security.DefaultOptions([]byte("ws-test-secret"))
	ws := NewWSServer(h, jwtOpts, WSConfig{})

	r := gin.New()
	r.GET("/chat", ws.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, jwtOpts, h
}

// waitJoined blocks until n connections are subscribed to the conversation.
// The dial returns on upgrade, slightly before the server finishes the group
// join, so tests that fan out right after dialing must wait for this.
func waitJoined(t *testing.T, h *Hub, conversationID string, n int) {
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

func dialWS(t *testing.T, srv *httptest.Server, jwtOpts security.Options, userID string) *websocket.Conn {
	t.Helper()
	token, _, err := security.Generate(jwtOpts, userID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat"
	hdr := http.Header{"Authorization": []string{"Bearer " + token}}
	ws, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readUntil reads frames until one of the wanted type arrives; connect-time
// presence traffic is interleaved with the events under test.
func readUntil(t *testing.T, ws *websocket.Conn, want EventType) Event {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", want, err)
		}
		ev, derr := DecodeEvent(raw)
		if derr != nil {
			t.Fatalf("decode: %v", derr)
		}
		if ev.Type == want {
			return ev
		}
	}
}

func TestWSRejectsInvalidToken(t *testing.T) {
	srv, _, _ := newWSTestServer(t, storage.NewMemoryStore())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{
		"Authorization": []string{"Bearer not-a-token"},
	})
	if err == nil {
		t.Fatal("dial with bad token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %+v, want 401", resp)
	}

	// No credential at all fails the same way.
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %+v, want 401", resp)
	}
}

func TestWSSendMessageEndToEnd(t *testing.T) {
	store := storage.NewMemoryStore()
	store.AddMember("c1", "alice")
	store.AddMember("c1", "bob")
	srv, jwtOpts, h := newWSTestServer(t, store)

	bob := dialWS(t, srv, jwtOpts, "bob")
	waitJoined(t, h, "c1", 1)
	alice := dialWS(t, srv, jwtOpts, "alice")
	waitJoined(t, h, "c1", 2)

	// Bob sees alice come online before anything else happens.
	ev := readUntil(t, bob, EventPresenceChanged)
	if ev.PresenceChanged.UserID != "alice" || ev.PresenceChanged.Status != StatusOnline {
		t.Fatalf("presence = %+v", ev.PresenceChanged)
	}

	err := alice.WriteJSON(Frame{
		Op:              OpSendMessage,
		ConversationID:  "c1",
		Payload:         []byte("hello"),
		ClientMessageID: "x1",
	})
	if err != nil {
		t.Fatalf("write frame: %v", err)
	}

	got := readUntil(t, bob, EventReceiveMessage)
	rm := got.ReceiveMessage
	if rm.SenderID != "alice" || string(rm.Payload) != "hello" || rm.ClientMessageID != "x1" {
		t.Fatalf("ReceiveMessage = %+v", rm)
	}

	ack := readUntil(t, alice, EventMessageDelivered)
	if ack.MessageDelivered.ClientMessageID != "x1" || ack.MessageDelivered.MessageID != rm.ServerMessageID {
		t.Fatalf("MessageDelivered = %+v", ack.MessageDelivered)
	}

	if n := store.MessageCount("c1"); n != 1 {
		t.Fatalf("persisted %d messages, want 1", n)
	}
}

func TestWSErrorGoesToCallerOnly(t *testing.T) {
	store := storage.NewMemoryStore()
	store.AddMember("c1", "bob")
	srv, jwtOpts, h := newWSTestServer(t, store)

	bob := dialWS(t, srv, jwtOpts, "bob")
	waitJoined(t, h, "c1", 1)
	mallory := dialWS(t, srv, jwtOpts, "mallory")

	err := mallory.WriteJSON(Frame{
		Op:             OpSendMessage,
		ConversationID: "c1",
		Payload:        []byte("spam"),
	})
	if err != nil {
		t.Fatalf("write frame: %v", err)
	}

	ev := readUntil(t, mallory, EventError)
	if ev.Error.Code == 0 || ev.Error.Message == "" {
		t.Fatalf("error event = %+v", ev.Error)
	}
	if n := store.MessageCount("c1"); n != 0 {
		t.Fatalf("persisted %d messages, want 0", n)
	}

	// Bob's stream stays silent; the read deadline expiring is the pass.
	_ = bob.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, raw, err := bob.ReadMessage(); err == nil {
		t.Fatalf("bob got unexpected frame: %s", raw)
	}
}

func TestWSMalformedFrame(t *testing.T) {
	store := storage.NewMemoryStore()
	store.AddMember("c1", "alice")
	srv, jwtOpts, _ := newWSTestServer(t, store)

	alice := dialWS(t, srv, jwtOpts, "alice")
	if err := alice.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The connection survives the bad frame and the caller gets an Error
	// event instead of a teardown.
	ev := readUntil(t, alice, EventError)
	if ev.Error.Message == "" {
		t.Fatalf("error event = %+v", ev.Error)
	}
	if err := alice.WriteJSON(Frame{Op: OpSetOnline}); err != nil {
		t.Fatalf("write after bad frame: %v", err)
	}
}
