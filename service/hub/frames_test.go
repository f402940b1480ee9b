package hub

import (
	"testing"

	"RelayIM/tools/errs"
)

func TestValidateSendMessage(t *testing.T) {
	f := &Frame{Op: OpSendMessage, ConversationID: "c1", Payload: []byte("hi")}
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if f.ContentType != "Text" {
		t.Fatalf("ContentType = %q, want default Text", f.ContentType)
	}

	bad := []*Frame{
		{Op: OpSendMessage, Payload: []byte("hi")},                                           // no conversation
		{Op: OpSendMessage, ConversationID: "c1"},                                            // empty payload
		{Op: OpSendMessage, ConversationID: "c1", Payload: []byte("x"), ContentType: "Exe"},  // unknown hint
		{Op: Op("Shout"), ConversationID: "c1"},                                              // unknown op
		{Op: OpMarkRead, ConversationID: "c1"},                                               // no message ids
		{Op: OpStartTyping},                                                                  // no conversation
	}
	for i, f := range bad {
		if err := f.Validate(); errs.Code(err) != errs.CodeValidation {
			t.Fatalf("bad[%d] err = %v, want validation failure", i, err)
		}
	}
}

func TestValidateContentTypes(t *testing.T) {
	for _, ct := range []string{"Text", "Image", "File", "Audio", "Video", "Poll"} {
		f := &Frame{Op: OpSendMessage, ConversationID: "c1", Payload: []byte("x"), ContentType: ct}
		if err := f.Validate(); err != nil {
			t.Fatalf("content type %s rejected: %v", ct, err)
		}
	}
}

func TestReadIDs(t *testing.T) {
	f := &Frame{Op: OpMarkRead, ConversationID: "c1", MessageID: "m1"}
	if ids := f.ReadIDs(); len(ids) != 1 || ids[0] != "m1" {
		t.Fatalf("ReadIDs = %v", ids)
	}
	// The batch form wins when both are set.
	f = &Frame{Op: OpMarkRead, ConversationID: "c1", MessageID: "m1", MessageIDs: []string{"m2", "m3"}}
	if ids := f.ReadIDs(); len(ids) != 2 || ids[0] != "m2" {
		t.Fatalf("ReadIDs = %v", ids)
	}
}

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"op":"SendMessage","conversationId":"c1","payload":"aGk=","clientMessageId":"x1"}`))
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.Op != OpSendMessage || string(f.Payload) != "hi" || f.ClientMessageID != "x1" {
		t.Fatalf("frame = %+v", f)
	}
	if _, err := ParseFrame([]byte("{")); err == nil {
		t.Fatal("truncated frame accepted")
	}
}
