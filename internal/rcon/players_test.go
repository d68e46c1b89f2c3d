package rcon

import "testing"

func TestAddReusedStableFreesOldSlot(t *testing.T) {
	r := NewRoster()
	r.Add(&Player{Nickname: []byte("grunt"), Slot: 1, Stable: 18, IP: "127.0.0.1"})

	// Same stable index rejoining on a different slot supersedes the old
	// entry; the old slot must not keep resolving to it.
	r.Add(&Player{Nickname: []byte("grunt"), Slot: 4, Stable: 18, IP: "127.0.0.1"})

	if _, ok := r.BySlot(1); ok {
		t.Error("stale slot mapping survived a stable-index reuse")
	}
	p, ok := r.BySlot(4)
	if !ok || p.Stable != 18 {
		t.Fatalf("BySlot(4) = %v, %v", p, ok)
	}
	if r.Len() != 1 {
		t.Errorf("roster length = %d, want 1", r.Len())
	}

	// A different player claiming slot 4 takes the mapping over without
	// touching the first player's identity entry.
	r.Add(&Player{Nickname: []byte("ace"), Slot: 4, Stable: 19, IP: "127.0.0.2"})
	p, ok = r.BySlot(4)
	if !ok || p.Stable != 19 {
		t.Fatalf("BySlot(4) after takeover = %v, %v", p, ok)
	}
	if _, ok := r.Get(18); !ok {
		t.Error("superseded slot must not evict the identity entry")
	}
}
