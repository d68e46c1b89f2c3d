package events

import "testing"

func TestBusDispatchOrder(t *testing.T) {
	bus := NewBus(nil)

	var calls []string
	bus.Subscribe(EventJoin, func(ev Event) {
		calls = append(calls, "first")
	})
	bus.Subscribe(EventJoin, func(ev Event) {
		calls = append(calls, "second")
	})
	bus.Subscribe(EventPart, func(ev Event) {
		calls = append(calls, "part")
	})

	bus.Fire(EventJoin, "srv", map[string]interface{}{"nickname": "x"})

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("expected [first second], got %v", calls)
	}
}

func TestBusCarriesProperties(t *testing.T) {
	bus := NewBus(nil)

	var got Event
	bus.Subscribe(EventChatMessage, func(ev Event) { got = ev })
	bus.Fire(EventChatMessage, "duel1", map[string]interface{}{"message": "hello"})

	if got.Type != EventChatMessage {
		t.Errorf("expected EventChatMessage, got %v", got.Type)
	}
	if got.Server != "duel1" {
		t.Errorf("expected server duel1, got %q", got.Server)
	}
	if got.Data["message"] != "hello" {
		t.Errorf("expected message hello, got %v", got.Data["message"])
	}
}

func TestEventTypeString(t *testing.T) {
	if EventGameEnded.String() != "game_ended" {
		t.Errorf("unexpected string: %s", EventGameEnded.String())
	}
	if EventType(999).String() != "unknown" {
		t.Errorf("expected unknown for out-of-range type")
	}
}
