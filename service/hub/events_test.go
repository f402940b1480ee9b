package hub

import "testing"

func TestDecodeEventRoundTrip(t *testing.T) {
	raw, err := NewReceiveMessage(ReceiveMessage{
		ConversationID:  "c1",
		Payload:         []byte("hello"),
		SenderID:        "alice",
		Timestamp:       1700000000000,
		ServerMessageID: "m1",
		ClientMessageID: "x1",
	}).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	ev, err := DecodeEvent(raw)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Type != EventReceiveMessage || ev.ReceiveMessage == nil {
		t.Fatalf("event = %+v", ev)
	}
	if ev.ReceiveMessage.ClientMessageID != "x1" || string(ev.ReceiveMessage.Payload) != "hello" {
		t.Fatalf("payload = %+v", ev.ReceiveMessage)
	}
}

func TestDecodeEventRejectsUnknownType(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"type":"SelfDestruct"}`)); err == nil {
		t.Fatal("unknown type accepted")
	}
}

func TestDecodeEventRejectsMismatchedPayload(t *testing.T) {
	// Tag says one thing, body carries another: the closed union refuses it.
	raw := []byte(`{"type":"MessageRead","typingUpdate":{"conversationId":"c1"}}`)
	if _, err := DecodeEvent(raw); err == nil {
		t.Fatal("mismatched payload accepted")
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte("not json")); err == nil {
		t.Fatal("garbage accepted")
	}
}
