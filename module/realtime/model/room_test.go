package model

import "testing"

func TestParseRoomKey(t *testing.T) {
	k, err := ParseRoomKey("gear-list:g1")
	if err != nil {
		t.Fatalf("ParseRoomKey: %v", err)
	}
	if k.Kind() != RoomGearList || k.ID() != "g1" {
		t.Fatalf("kind=%s id=%s", k.Kind(), k.ID())
	}
	for _, bad := range []string{"", "conversation", "conversation:", "team:1"} {
		if _, err := ParseRoomKey(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	if ConversationRoom("c1") != "conversation:c1" {
		t.Fatalf("ConversationRoom=%s", ConversationRoom("c1"))
	}
}

func TestEnvelopeRoundTripKeepsRawPayload(t *testing.T) {
	b, err := EncodeEnvelope(EvMessageSent, MessageSentEvent{TempID: "t1", Message: &Message{ID: "m1"}})
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	env, err := DecodeEnvelope(b)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Event != EvMessageSent {
		t.Fatalf("event=%s", env.Event)
	}
	var got MessageSentEvent
	if err := Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.TempID != "t1" || got.Message.ID != "m1" {
		t.Fatalf("got %+v", got)
	}

	// pre-encoded payloads pass through untouched
	b, _ = EncodeEnvelope(EvMessageNew, []byte(`{"message":{"id":"m2"}}`))
	env, _ = DecodeEnvelope(b)
	if string(env.Data) != `{"message":{"id":"m2"}}` {
		t.Fatalf("data=%s", env.Data)
	}
}
