package rcon

import (
	"io"
	"log/slog"
	"testing"

	"xonbot/internal/events"
)

type firedEvent struct {
	t    events.EventType
	data map[string]interface{}
}

// recorder captures fired events in order.
type recorder struct {
	fired []firedEvent
}

func (r *recorder) Fire(t events.EventType, server string, data map[string]interface{}) {
	r.fired = append(r.fired, firedEvent{t: t, data: data})
}

func (r *recorder) byType(t events.EventType) []firedEvent {
	var out []firedEvent
	for _, f := range r.fired {
		if f.t == t {
			out = append(out, f)
		}
	}
	return out
}

func newTestSession(t *testing.T) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSession(Options{Name: "test", Address: "127.0.0.1:26000"}, rec, logger)
	return s, rec
}

func TestSplitJoinAddress(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		addr     string
		nickname string
	}{
		{"Bot", "bot:[BOT]Eureka", "bot", "[BOT]Eureka"},
		{"IPv4", "203.0.113.7:grunt", "203.0.113.7", "grunt"},
		{
			"IPv6 with colons in nickname",
			"2501:cd:3000:b820:1d08:5cf2:72c1:dec6:Vasya: Pupkin",
			"2501:cd:3000:b820:1d08:5cf2:72c1:dec6",
			"Vasya: Pupkin",
		},
		{"Fallback split", "localhost:someone", "localhost", "someone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, nickname := splitJoinAddress([]byte(tt.in))
			if addr != tt.addr {
				t.Errorf("addr = %q, want %q", addr, tt.addr)
			}
			if string(nickname) != tt.nickname {
				t.Errorf("nickname = %q, want %q", nickname, tt.nickname)
			}
		})
	}
}

func TestJoinIPv6NicknameWithColons(t *testing.T) {
	s, rec := newTestSession(t)
	s.logParser.feed([]byte(":join:4:2:2501:cd:3000:b820:1d08:5cf2:72c1:dec6:Vasya: Pupkin\n"))

	joins := rec.byType(events.EventJoin)
	if len(joins) != 1 {
		t.Fatalf("got %d join events, want 1", len(joins))
	}
	d := joins[0].data
	if d["slot"] != 4 || d["stable"] != 2 {
		t.Errorf("slot/stable = %v/%v, want 4/2", d["slot"], d["stable"])
	}
	if d["ip"] != "2501:cd:3000:b820:1d08:5cf2:72c1:dec6" {
		t.Errorf("ip = %v, want the bare IPv6 literal", d["ip"])
	}
	if d["nickname"] != "Vasya: Pupkin" {
		t.Errorf("nickname = %v, want %q", d["nickname"], "Vasya: Pupkin")
	}
	p, ok := s.roster.Get(2)
	if !ok || p.Slot != 4 || string(p.Nickname) != "Vasya: Pupkin" {
		t.Fatalf("roster entry = %+v, ok=%v", p, ok)
	}
}

func TestJoinPartLifecycle(t *testing.T) {
	s, rec := newTestSession(t)

	s.logParser.feed([]byte(":join:1:17:203.0.113.7:^1gr^7unt\n"))
	joins := rec.byType(events.EventJoin)
	if len(joins) != 1 {
		t.Fatalf("got %d join events, want 1", len(joins))
	}
	d := joins[0].data
	if d["nickname"] != "^1gr^7unt" || d["slot"] != 1 || d["stable"] != 17 || d["count"] != 1 {
		t.Errorf("join data = %v", d)
	}
	p, ok := s.roster.Get(17)
	if !ok || p.IP != "203.0.113.7" {
		t.Fatalf("roster entry = %+v, ok=%v", p, ok)
	}

	// Bot joins update the roster but stay silent.
	s.logParser.feed([]byte(":join:2:18:bot:[BOT]Eureka\n"))
	if got := len(rec.byType(events.EventJoin)); got != 1 {
		t.Errorf("bot join must not fire, got %d joins", got)
	}
	if s.roster.Len() != 2 {
		t.Errorf("roster len = %d, want 2", s.roster.Len())
	}

	s.logParser.feed([]byte(":part:17\n"))
	parts := rec.byType(events.EventPart)
	if len(parts) != 1 {
		t.Fatalf("got %d part events, want 1", len(parts))
	}
	if parts[0].data["nickname"] != "^1gr^7unt" || parts[0].data["count"] != 1 {
		t.Errorf("part data = %v", parts[0].data)
	}

	// Unknown stable index is ignored.
	s.logParser.feed([]byte(":part:99\n"))
	if got := len(rec.byType(events.EventPart)); got != 1 {
		t.Errorf("unknown part fired, got %d parts", got)
	}
}

func TestNameChange(t *testing.T) {
	s, rec := newTestSession(t)
	s.logParser.feed([]byte(":join:1:17:203.0.113.7:oldname\n"))
	s.logParser.feed([]byte(":name:17:newname\n"))

	changes := rec.byType(events.EventNameChange)
	if len(changes) != 1 {
		t.Fatalf("got %d name changes, want 1", len(changes))
	}
	d := changes[0].data
	if d["old_nickname"] != "oldname" || d["nickname"] != "newname" {
		t.Errorf("name change data = %v", d)
	}
	p, _ := s.roster.Get(17)
	if string(p.Nickname) != "newname" {
		t.Errorf("roster nickname = %q", p.Nickname)
	}
}

func TestChatVerbatim(t *testing.T) {
	s, rec := newTestSession(t)
	s.logParser.feed([]byte("\x01^7grunt^7: hello :world:\n"))
	msgs := rec.byType(events.EventChatMessage)
	if len(msgs) != 1 {
		t.Fatalf("got %d chat events, want 1", len(msgs))
	}
	if msgs[0].data["message"] != "^7grunt^7: hello :world:" {
		t.Errorf("message = %q", msgs[0].data["message"])
	}
}

func TestGameStartResetsState(t *testing.T) {
	s, rec := newTestSession(t)
	s.logParser.feed([]byte(":join:1:17:bot:[BOT]Eureka\n"))
	s.logParser.feed([]byte(":vote:vcall:17:gotomap warfare\n"))

	s.logParser.feed([]byte(":gamestart:duel_stormkeep:0.landmark\n"))

	started := rec.byType(events.EventGameStarted)
	if len(started) != 1 {
		t.Fatalf("got %d gamestart events, want 1", len(started))
	}
	if started[0].data["gametype"] != "duel" || started[0].data["map"] != "stormkeep" {
		t.Errorf("gamestart data = %v", started[0].data)
	}
	if s.CurrentMap() != "stormkeep" || s.CurrentGametype() != "duel" {
		t.Errorf("current = %s/%s", s.CurrentGametype(), s.CurrentMap())
	}
	if s.roster.Len() != 0 {
		t.Errorf("bots must be cleared on game start, roster len = %d", s.roster.Len())
	}
	s.mu.Lock()
	vote := s.activeVote
	s.mu.Unlock()
	if vote != nil {
		t.Error("active vote must be cleared on game start")
	}
}

const scoresBlock = ":scores:duel_stormkeep:600\n" +
	":labels:player:score!!,kills,deaths\n" +
	":player:15,20,5:17:5:grunt\n" +
	":player:25,30,2:18:14:ace\n" +
	":end\n"

func TestScoresBlock(t *testing.T) {
	s, rec := newTestSession(t)
	s.logParser.feed([]byte(":join:1:17:203.0.113.7:grunt\n"))
	s.logParser.feed([]byte(":join:2:18:203.0.113.8:ace\n"))
	s.logParser.feed([]byte(scoresBlock))

	ended := rec.byType(events.EventGameEnded)
	if len(ended) != 1 {
		t.Fatalf("got %d game-end events, want 1", len(ended))
	}
	d := ended[0].data
	if d["map"] != "stormkeep" || d["gametype"] != "duel" || d["duration"] != 600 {
		t.Errorf("game end data = %v", d)
	}
	players := d["players"].([]map[string]interface{})
	if len(players) != 2 {
		t.Fatalf("got %d player rows, want 2", len(players))
	}
	// Sorted descending by the flagged column.
	if players[0]["nickname"] != "ace" || players[0]["score"] != 25 {
		t.Errorf("first row = %v", players[0])
	}
	if players[1]["nickname"] != "grunt" || players[1]["kills"] != 20 {
		t.Errorf("second row = %v", players[1])
	}
}

// A roster entry missing from a score block is a zombie: its part record was
// lost, so the score block evicts it with a synthetic part event.
func TestScoresEvictZombies(t *testing.T) {
	s, rec := newTestSession(t)
	s.logParser.feed([]byte(":join:1:17:203.0.113.7:grunt\n"))
	s.logParser.feed([]byte(":join:2:18:203.0.113.8:ace\n"))
	s.logParser.feed([]byte(":join:3:19:203.0.113.9:ghost\n"))

	s.logParser.feed([]byte(scoresBlock))

	parts := rec.byType(events.EventPart)
	if len(parts) != 1 {
		t.Fatalf("got %d part events, want 1", len(parts))
	}
	d := parts[0].data
	if d["nickname"] != "ghost" || d["zombie"] != true {
		t.Errorf("zombie part data = %v", d)
	}
	if s.roster.Len() != 2 {
		t.Errorf("roster len = %d, want 2", s.roster.Len())
	}
}

func TestVoteLifecycle(t *testing.T) {
	s, rec := newTestSession(t)
	s.logParser.feed([]byte(":join:1:17:203.0.113.7:grunt\n"))

	s.logParser.feed([]byte(":vote:vcall:17:gotomap warfare\n"))
	called := rec.byType(events.EventVoteCalled)
	if len(called) != 1 {
		t.Fatalf("got %d vote calls, want 1", len(called))
	}
	d := called[0].data
	if d["map"] != "warfare" || d["caller"] != "grunt" || d["command"] != "gotomap warfare" {
		t.Errorf("vote call data = %v", d)
	}

	s.logParser.feed([]byte(":vote:vyes:1:0:0:0\n"))
	accepted := rec.byType(events.EventVoteAccepted)
	if len(accepted) != 1 {
		t.Fatalf("got %d accepts, want 1", len(accepted))
	}
	if accepted[0].data["map"] != "warfare" {
		t.Errorf("accepted data = %v", accepted[0].data)
	}

	// Vote context is consumed; a later vno refers to no known vote.
	s.logParser.feed([]byte(":vote:vno:0:1:0:0\n"))
	rejected := rec.byType(events.EventVoteRejected)
	if len(rejected) != 1 {
		t.Fatalf("got %d rejects, want 1", len(rejected))
	}
	if _, ok := rejected[0].data["command"]; ok {
		t.Errorf("stale vote context leaked: %v", rejected[0].data)
	}
}

func TestRecordSet(t *testing.T) {
	s, rec := newTestSession(t)
	s.logParser.feed([]byte(":join:4:17:203.0.113.7:speedrunner\n"))
	s.logParser.feed([]byte(":recordset:4:1:12.345\n"))

	records := rec.byType(events.EventRecordSet)
	if len(records) != 1 {
		t.Fatalf("got %d record events, want 1", len(records))
	}
	d := records[0].data
	if d["nickname"] != "speedrunner" || d["position"] != 1 || d["result"] != 12.345 {
		t.Errorf("record data = %v", d)
	}
}
