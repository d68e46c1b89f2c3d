package commands

import (
	"errors"
	"strings"
	"testing"
	"time"

	"xonbot/internal/cointoss"
	"xonbot/internal/rcon"
)

type fakeServer struct {
	pair    rcon.DuelPair
	hasPair bool
	roster  *rcon.Roster
	maps    []string
}

func (f *fakeServer) CurrentDuelPair() (rcon.DuelPair, bool) { return f.pair, f.hasPair }
func (f *fakeServer) Roster() *rcon.Roster                   { return f.roster }
func (f *fakeServer) MapList() []string                      { return f.maps }
func (f *fakeServer) CurrentMap() string                     { return "" }

type fakeConsole struct{ said []string }

func (f *fakeConsole) Say(m string)         { f.said = append(f.said, m) }
func (f *fakeConsole) SayLines(ls []string) { f.said = append(f.said, ls...) }
func (f *fakeConsole) Send(string)          {}

func newGameFixture(t *testing.T, flip func() bool) (*Container, *cointoss.Cointosser, *fakeServer, *[]string) {
	t.Helper()
	steps, err := cointoss.ParseSteps([]string{"P1", "P2", "P1"})
	if err != nil {
		t.Fatal(err)
	}
	toss := cointoss.New(&fakeConsole{}, nil, "test", []string{"aggressor", "stormkeep", "warfare"}, steps, "", nil)
	server := &fakeServer{
		pair:    rcon.DuelPair{Nicknames: [2]string{"^1alice", "bob"}, Slots: [2]int{1, 2}},
		hasPair: true,
		roster:  rcon.NewRoster(),
		maps:    []string{"aggressor", "stormkeep", "warfare", "xoylent"},
	}
	tree := NewGameTree(GameDeps{Toss: toss, Server: server, Flip: flip})

	var replies []string
	return tree, toss, server, &replies
}

func dispatch(t *testing.T, tree *Container, replies *[]string, caller, line string) error {
	t.Helper()
	ctx := &Context{
		Caller: cointoss.Player{Nickname: caller},
		Reply:  func(lines []string) { *replies = append(*replies, lines...) },
	}
	return tree.Dispatch(ctx, strings.Fields(line))
}

func TestCointossCommand(t *testing.T) {
	tree, toss, _, replies := newGameFixture(t, func() bool { return true }) // always heads

	if err := dispatch(t, tree, replies, "^1alice", "cointoss heads"); err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if toss.State() != cointoss.StateChoosing {
		t.Fatalf("state = %v, want CHOOSING", toss.State())
	}
	// alice guessed heads on a heads flip, so alice drafts first.
	players := toss.Players()
	if players[0].Nickname != "^1alice" || players[1].Nickname != "bob" {
		t.Errorf("players = %v", players)
	}
	joined := strings.Join(*replies, "\n")
	if !strings.Contains(joined, "heads") {
		t.Errorf("flip outcome missing from reply: %q", joined)
	}
}

func TestCointossLoserDraftsSecond(t *testing.T) {
	tree, toss, _, replies := newGameFixture(t, func() bool { return false }) // always tails

	if err := dispatch(t, tree, replies, "^1alice", "cointoss heads"); err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if toss.Players()[0].Nickname != "bob" {
		t.Errorf("wrong guess must hand the first step to the opponent, players = %v", toss.Players())
	}
}

func TestCointossOutsiderRejected(t *testing.T) {
	tree, _, _, replies := newGameFixture(t, func() bool { return true })

	err := dispatch(t, tree, replies, "carol", "cointoss heads")
	var draftErr *cointoss.Error
	if !errors.As(err, &draftErr) {
		t.Fatalf("expected *cointoss.Error, got %v", err)
	}
}

func TestNoDuelPair(t *testing.T) {
	tree, _, server, replies := newGameFixture(t, func() bool { return true })
	server.hasPair = false

	if err := dispatch(t, tree, replies, "^1alice", "cointoss heads"); err == nil {
		t.Fatal("expected an error without a duel pair")
	}
}

func TestPickFlow(t *testing.T) {
	tree, toss, _, replies := newGameFixture(t, func() bool { return true })
	if err := dispatch(t, tree, replies, "^1alice", "cointoss heads"); err != nil {
		t.Fatal(err)
	}

	if err := dispatch(t, tree, replies, "^1alice", "pick storm"); err != nil {
		t.Fatalf("pick error: %v", err)
	}
	if err := dispatch(t, tree, replies, "bob", "pick warf"); err != nil {
		t.Fatalf("pick error: %v", err)
	}
	// Third map auto-drafts; the choice completes.
	if toss.State() != cointoss.StateChoiceComplete {
		t.Fatalf("state = %v, want CHOICE_COMPLETE", toss.State())
	}

	err := dispatch(t, tree, replies, "bob", "pick")
	var draftErr *cointoss.Error
	if !errors.As(err, &draftErr) {
		t.Fatalf("missing argument must be a user error, got %v", err)
	}
}

func TestBetCommand(t *testing.T) {
	tree, toss, _, replies := newGameFixture(t, func() bool { return true })
	if err := dispatch(t, tree, replies, "^1alice", "cointoss heads"); err != nil {
		t.Fatal(err)
	}

	if err := dispatch(t, tree, replies, "carol", "bet 2"); err != nil {
		t.Fatalf("bet error: %v", err)
	}
	if err := dispatch(t, tree, replies, "carol", "bet three"); err == nil {
		t.Fatal("bad bet argument must error")
	}
	_ = toss
}

func TestWhoAndMaps(t *testing.T) {
	tree, _, server, replies := newGameFixture(t, nil)
	server.roster.Add(&rcon.Player{Nickname: []byte("^2gru^7nt"), Slot: 1, Stable: 10, IP: "203.0.113.7", JoinedAt: time.Now()})
	server.roster.Add(&rcon.Player{Nickname: []byte("[BOT]Eureka"), Slot: 2, Stable: 11, IP: "bot", JoinedAt: time.Now()})

	if err := dispatch(t, tree, replies, "carol", "who"); err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(*replies, "\n")
	if !strings.Contains(joined, "gru^7nt") || strings.Contains(joined, "Eureka") {
		t.Errorf("who reply = %q", joined)
	}

	*replies = nil
	if err := dispatch(t, tree, replies, "carol", "maps"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.Join(*replies, "\n"), "xoylent") {
		t.Errorf("maps reply = %q", *replies)
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	tree, _, _, replies := newGameFixture(t, nil)
	if err := dispatch(t, tree, replies, "carol", "frobnicate all the things"); err != nil {
		t.Fatalf("unknown command must be silent, got %v", err)
	}
	if len(*replies) != 0 {
		t.Errorf("unknown command replied: %v", *replies)
	}
}

func TestHelp(t *testing.T) {
	tree, _, _, replies := newGameFixture(t, nil)
	if err := dispatch(t, tree, replies, "carol", "help"); err != nil {
		t.Fatal(err)
	}
	if len(*replies) == 0 {
		t.Fatal("help must list commands")
	}
	joined := strings.Join(*replies, "\n")
	for _, want := range []string{"pick", "drop", "skip", "bet"} {
		if !strings.Contains(joined, want) {
			t.Errorf("help missing %q: %q", want, joined)
		}
	}
}

func TestExtractCommand(t *testing.T) {
	tests := []struct {
		name    string
		message string
		caller  string
		command string
		ok      bool
	}{
		{"Bang prefix", "^1alice^7: !pick stormkeep", "^1alice", "pick stormkeep", true},
		{"Nick colon", "bob^7: xonbot: status", "bob", "status", true},
		{"Nick comma", "bob^7: xonbot, who", "bob", "who", true},
		{"Plain chat", "bob^7: good game", "", "", false},
		{"Bare bang", "bob^7: !", "", "", false},
		{"No separator", "server restarting", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller, command, ok := ExtractCommand(tt.message, "xonbot")
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if caller != tt.caller || command != tt.command {
				t.Errorf("got (%q, %q), want (%q, %q)", caller, command, tt.caller, tt.command)
			}
		})
	}
}
