package ws

import (
	"testing"

	"github.com/liveline/presence-engine/internal/lifecycle"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	original := &MessageTyping{ConversationID: "conv-1", Typing: true}

	data, err := Serialize(original)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	msg, err := Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}

	typed, ok := msg.(*MessageTyping)
	if !ok {
		t.Fatalf("expected *MessageTyping, got %T", msg)
	}
	if typed.ConversationID != "conv-1" || !typed.Typing {
		t.Errorf("round trip lost fields: %+v", typed)
	}
}

func TestDeserializeUnknownType(t *testing.T) {
	if _, err := Deserialize([]byte(`{"type":"teleport","payload":{}}`)); err == nil {
		t.Error("expected error for unknown message type")
	}
}

func TestDeserializeMalformed(t *testing.T) {
	if _, err := Deserialize([]byte(`{{{`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestTypeRegistryCoversAllMessages(t *testing.T) {
	registry := GetTypeRegistry()
	for _, msgType := range []string{"visibility", "typing", "join_conversation", "leave_conversation", "ping", "pong"} {
		if _, ok := registry[msgType]; !ok {
			t.Errorf("message type %q not registered", msgType)
		}
	}
}

func TestVisibilityDrivesLifecycle(t *testing.T) {
	relay := lifecycle.NewRelay()

	var events []string
	relay.Attach(lifecycle.Listener{
		OnSuspend: func() { events = append(events, "suspend") },
		OnResume:  func() { events = append(events, "resume") },
	})

	ctx := &MessageContext{Relay: relay}

	hidden := &MessageVisibility{State: "hidden"}
	if err := hidden.Process(ctx); err != nil {
		t.Fatalf("hidden: %v", err)
	}
	visible := &MessageVisibility{State: "visible"}
	if err := visible.Process(ctx); err != nil {
		t.Fatalf("visible: %v", err)
	}

	bogus := &MessageVisibility{State: "sideways"}
	if err := bogus.Process(ctx); err == nil {
		t.Error("expected error for unknown visibility state")
	}

	want := []string{"suspend", "resume"}
	if len(events) != 2 || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("lifecycle events = %v, want %v", events, want)
	}
}
