package rcon

import (
	"testing"

	"xonbot/internal/events"
)

func TestCvarEcho(t *testing.T) {
	s, _ := newTestSession(t)
	s.cmdParser.feed([]byte("\"log_dest_udp\" is \"192.0.2.1:26010\" [\"\"]\n"))

	s.mu.Lock()
	got := s.cvars["log_dest_udp"]
	s.mu.Unlock()
	if got != "192.0.2.1:26010" {
		t.Errorf("cvar value = %q", got)
	}
}

func TestStatusSummary(t *testing.T) {
	s, _ := newTestSession(t)
	s.cmdParser.feed([]byte("host:     My Duel Server\n" +
		"map:      stormkeep\n" +
		"players:  2 active (16 max)\n"))

	if v, _ := s.StatusValue("host"); v != "My Duel Server" {
		t.Errorf("host = %q", v)
	}
	if v, _ := s.StatusValue("map"); v != "stormkeep" {
		t.Errorf("map = %q", v)
	}
	s.roster.mu.RLock()
	active, maxSlots := s.roster.Active, s.roster.MaxSlots
	s.roster.mu.RUnlock()
	if active != 2 || maxSlots != 16 {
		t.Errorf("active/max = %d/%d, want 2/16", active, maxSlots)
	}
	if s.lastStatus.IsZero() {
		t.Error("status stamp not updated")
	}
}

func TestDuelPairLifecycle(t *testing.T) {
	s, rec := newTestSession(t)

	// One active player plus a spectator: no pair yet.
	s.cmdParser.feed([]byte("#1   5  48 0:03:40 grunt\n"))
	s.cmdParser.feed([]byte("#3   -666  12 0:01:02 lurker\n"))
	if _, ok := s.CurrentDuelPair(); ok {
		t.Fatal("pair must not form below two active players")
	}

	// Second active player arrives: pair forms.
	s.cmdParser.feed([]byte("#2   8  30 0:02:10 ace\n"))
	pair, ok := s.CurrentDuelPair()
	if !ok {
		t.Fatal("expected a formed pair")
	}
	if pair.Nicknames != [2]string{"grunt", "ace"} {
		t.Errorf("pair = %v", pair.Nicknames)
	}
	formed := rec.byType(events.EventDuelPairFormed)
	if len(formed) != 1 {
		t.Fatalf("got %d pair-formed events, want 1", len(formed))
	}
	if formed[0].data["player1"] != "grunt" || formed[0].data["player2"] != "ace" {
		t.Errorf("pair-formed data = %v", formed[0].data)
	}

	// A pair member drops to spectator: the duel ends prematurely.
	s.cmdParser.feed([]byte("#2   -666  30 0:05:00 ace\n"))
	if _, ok := s.CurrentDuelPair(); ok {
		t.Fatal("pair must end when a member goes spectator")
	}
	ended := rec.byType(events.EventDuelEndedPrematurely)
	if len(ended) != 1 {
		t.Fatalf("got %d pair-ended events, want 1", len(ended))
	}

	// A different second player activates: a fresh pair forms.
	s.cmdParser.feed([]byte("#3   0  12 0:06:00 lurker\n"))
	pair, ok = s.CurrentDuelPair()
	if !ok {
		t.Fatal("expected a new pair")
	}
	if pair.Nicknames != [2]string{"grunt", "lurker"} {
		t.Errorf("new pair = %v", pair.Nicknames)
	}
	if got := len(rec.byType(events.EventDuelPairFormed)); got != 2 {
		t.Errorf("got %d pair-formed events, want 2", got)
	}
}

func TestDuelPairSwapInOnePass(t *testing.T) {
	s, rec := newTestSession(t)
	s.cmdParser.feed([]byte("#1   5  48 0:03:40 grunt\n#2   8  30 0:02:10 ace\n"))
	if _, ok := s.CurrentDuelPair(); !ok {
		t.Fatal("expected a formed pair")
	}

	// Slot 2 leaves and slot 4 activates between polls: the old pair ends
	// and a replacement pair forms.
	s.cmdParser.feed([]byte("#2   -666  30 0:04:00 ace\n"))
	s.cmdParser.feed([]byte("#4   3  20 0:00:30 challenger\n"))

	pair, ok := s.CurrentDuelPair()
	if !ok {
		t.Fatal("expected a replacement pair")
	}
	if pair.Nicknames != [2]string{"grunt", "challenger"} {
		t.Errorf("pair = %v", pair.Nicknames)
	}
	if got := len(rec.byType(events.EventDuelEndedPrematurely)); got != 1 {
		t.Errorf("got %d pair-ended events, want 1", got)
	}
	if got := len(rec.byType(events.EventDuelPairFormed)); got != 2 {
		t.Errorf("got %d pair-formed events, want 2", got)
	}
}

func TestDuelPairEndsOnDisconnect(t *testing.T) {
	s, rec := newTestSession(t)
	s.logParser.feed([]byte(":join:1:18:127.0.0.1:grunt\n:join:2:19:127.0.0.2:ace\n"))
	s.cmdParser.feed([]byte("#1   5  48 0:03:40 grunt\n#2   8  30 0:02:10 ace\n"))
	if _, ok := s.CurrentDuelPair(); !ok {
		t.Fatal("expected a formed pair")
	}

	// A disconnect never shows up as a spectator row; the part record alone
	// must dissolve the pair.
	s.logParser.feed([]byte(":part:19\n"))
	if _, ok := s.CurrentDuelPair(); ok {
		t.Fatal("pair must end when a member disconnects")
	}
	if got := len(rec.byType(events.EventDuelEndedPrematurely)); got != 1 {
		t.Errorf("got %d pair-ended events, want 1", got)
	}

	// A follow-up poll showing only the remaining player changes nothing.
	s.cmdParser.feed([]byte("#1   5  48 0:04:10 grunt\n"))
	if got := len(rec.byType(events.EventDuelEndedPrematurely)); got != 1 {
		t.Errorf("got %d pair-ended events after poll, want 1", got)
	}

	// Trailing records for the departed slot still resolve a nickname.
	s.logParser.feed([]byte(":recordset:2:1:12.34\n"))
	records := rec.byType(events.EventRecordSet)
	if len(records) != 1 {
		t.Fatalf("got %d recordset events, want 1", len(records))
	}
	if records[0].data["nickname"] != "ace" {
		t.Errorf("recordset nickname = %v, want ace", records[0].data["nickname"])
	}
}

func TestStatusPlayerActive(t *testing.T) {
	if (StatusPlayer{Frags: -666}).Active() {
		t.Error("spectator placeholder must not be active")
	}
	if !(StatusPlayer{Frags: 0}).Active() {
		t.Error("zero frags is an active player")
	}
	if !(StatusPlayer{Frags: -2}).Active() {
		t.Error("negative frags is still an active player")
	}
}
