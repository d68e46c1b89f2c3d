// Package irc relays game server events into an IRC channel and channel
// chatter back into game chat.
package irc

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircevent"
	"github.com/ergochat/irc-go/ircmsg"

	"xonbot/internal/colors"
	"xonbot/internal/config"
	"xonbot/internal/events"
)

// GameChat is what the relay needs from a game server session.
type GameChat interface {
	Name() string
	Say(message string)
}

// Relay is the IRC side of the bridge: one connection, one channel, any
// number of game sessions feeding it events.
type Relay struct {
	conn   *ircevent.Connection
	cfg    config.IRCConfig
	logger *slog.Logger

	mu    sync.RWMutex
	ready bool
	games map[string]GameChat

	// OnCommand, when set, receives bot-directed channel lines
	// ("!status", "xonbot: who") for command dispatch. The reply function
	// writes back to the channel.
	OnCommand func(server, caller, line string, reply func(lines []string))
}

// NewRelay creates a relay; Connect brings it up.
func NewRelay(cfg config.IRCConfig, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{
		cfg:    cfg,
		logger: logger.With("component", "irc"),
		games:  make(map[string]GameChat),
	}

	user := cfg.User
	if user == "" {
		user = cfg.Nick
	}
	r.conn = &ircevent.Connection{
		Server:      cfg.Server,
		Nick:        cfg.Nick,
		User:        user,
		RealName:    "Xonotic match bot",
		Password:    cfg.Password,
		QuitMessage: "Shutting down",
		UseTLS:      cfg.UseTLS,
		TLSConfig:   &tls.Config{InsecureSkipVerify: false},
	}

	r.registerHandlers()
	return r
}

// AddGame registers one game session for IRC-to-game relaying.
func (r *Relay) AddGame(g GameChat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[g.Name()] = g
}

func (r *Relay) registerHandlers() {
	// Connected (end of MOTD)
	r.conn.AddCallback("376", r.onConnect)
	r.conn.AddCallback("422", r.onConnect) // MOTD missing is also "connected"

	r.conn.AddCallback("PRIVMSG", r.onPrivMsg)

	// Nick issues
	r.conn.AddCallback("433", r.onNickInUse) // ERR_NICKNAMEINUSE

	r.conn.AddCallback("CTCP_VERSION", r.onCtcpVersion)
}

// Connect initiates the IRC connection.
func (r *Relay) Connect() error {
	return r.conn.Connect()
}

// Loop runs the IRC event loop (blocking).
func (r *Relay) Loop() {
	r.conn.Loop()
}

// Quit disconnects from IRC.
func (r *Relay) Quit() {
	r.conn.Quit()
}

func (r *Relay) onConnect(e ircmsg.Message) {
	r.logger.Info("connected to irc", "server", r.cfg.Server)
	r.conn.Join(r.cfg.Channel)

	r.mu.Lock()
	r.ready = true
	r.mu.Unlock()
}

func (r *Relay) onNickInUse(e ircmsg.Message) {
	alternate := r.cfg.Nick + "_"
	r.logger.Warn("nick in use, switching to alternate", "alternate", alternate)
	r.conn.SetNick(alternate)

	// Schedule nick recovery
	go func() {
		time.Sleep(30 * time.Second)
		r.conn.SetNick(r.cfg.Nick)
	}()
}

func (r *Relay) onCtcpVersion(e ircmsg.Message) {
	r.conn.SendRaw(fmt.Sprintf("NOTICE %s :\x01VERSION xonbot\x01", e.Nick()))
}

func (r *Relay) onPrivMsg(e ircmsg.Message) {
	if len(e.Params) < 2 {
		return
	}
	target := e.Params[0]
	message := e.Params[1]
	nick := e.Nick()

	if !strings.EqualFold(target, r.cfg.Channel) {
		return
	}
	if strings.EqualFold(nick, r.conn.CurrentNick()) {
		return
	}

	// Bot-directed lines are commands, everything else is chat to relay.
	if command, ok := r.extractCommand(message); ok {
		if r.OnCommand != nil {
			reply := func(lines []string) {
				for _, line := range lines {
					r.Announce(string(colors.DpToIRC([]byte(line))))
				}
			}
			for name := range r.snapshotGames() {
				r.OnCommand(name, nick, command, reply)
			}
		}
		return
	}

	for _, g := range r.snapshotGames() {
		g.Say(fmt.Sprintf("[IRC] %s: %s", nick, message))
	}
}

func (r *Relay) extractCommand(message string) (string, bool) {
	if rest, ok := strings.CutPrefix(message, "!"); ok && rest != "" {
		return rest, true
	}
	nick := r.conn.CurrentNick()
	for _, sep := range []string{": ", ", "} {
		if rest, ok := strings.CutPrefix(message, nick+sep); ok {
			rest = strings.TrimSpace(rest)
			return rest, rest != ""
		}
	}
	return "", false
}

func (r *Relay) snapshotGames() map[string]GameChat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]GameChat, len(r.games))
	for name, g := range r.games {
		out[name] = g
	}
	return out
}

// Announce writes one line to the channel, if connected.
func (r *Relay) Announce(line string) {
	r.mu.RLock()
	ready := r.ready
	r.mu.RUnlock()
	if !ready {
		return
	}
	if err := r.conn.Privmsg(r.cfg.Channel, line); err != nil {
		r.logger.Warn("failed to send to channel", "error", err)
	}
}

// announcef renders one event line: optional [server] tag, then the dp-color
// converted text.
func (r *Relay) announcef(server, format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	r.mu.RLock()
	multi := len(r.games) > 1
	r.mu.RUnlock()
	if multi && server != "" {
		text = fmt.Sprintf("[%s] %s", server, text)
	}
	r.Announce(string(colors.DpToIRC([]byte(text))))
}

// Subscribe registers the relay's event renderers on the bus.
func (r *Relay) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.EventServerConnect, func(e events.Event) {
		r.announcef(e.Server, "* connected to %v", e.Data["host"])
	})
	bus.Subscribe(events.EventServerDisconnect, func(e events.Event) {
		r.announcef(e.Server, "* lost contact with the server")
	})
	bus.Subscribe(events.EventChatMessage, func(e events.Event) {
		r.announcef(e.Server, "%v", e.Data["message"])
	})
	bus.Subscribe(events.EventJoin, func(e events.Event) {
		r.announcef(e.Server, "* %v has joined (%v players)", e.Data["nickname"], e.Data["count"])
	})
	bus.Subscribe(events.EventPart, func(e events.Event) {
		suffix := ""
		if z, _ := e.Data["zombie"].(bool); z {
			suffix = " (timed out)"
		}
		r.announcef(e.Server, "* %v has left%s (%v players)", e.Data["nickname"], suffix, e.Data["count"])
	})
	bus.Subscribe(events.EventNameChange, func(e events.Event) {
		r.announcef(e.Server, "* %v is now known as %v", e.Data["old_nickname"], e.Data["nickname"])
	})
	bus.Subscribe(events.EventGameStarted, func(e events.Event) {
		r.announcef(e.Server, "* playing ^2%v^7 on ^5%v^7", e.Data["gametype"], e.Data["map"])
	})
	bus.Subscribe(events.EventGameEnded, func(e events.Event) {
		r.announcef(e.Server, "* game over: %s", summarizeScores(e.Data))
	})
	bus.Subscribe(events.EventVoteCalled, func(e events.Event) {
		r.announcef(e.Server, "* %v calls a vote: %v", e.Data["caller"], e.Data["command"])
	})
	bus.Subscribe(events.EventVoteAccepted, func(e events.Event) {
		r.announcef(e.Server, "* vote accepted")
	})
	bus.Subscribe(events.EventVoteRejected, func(e events.Event) {
		r.announcef(e.Server, "* vote rejected")
	})
	bus.Subscribe(events.EventVoteStopped, func(e events.Event) {
		r.announcef(e.Server, "* vote stopped by %v", e.Data["stopper"])
	})
	bus.Subscribe(events.EventRecordSet, func(e events.Event) {
		r.announcef(e.Server, "* %v sets a record: %v (place %v)",
			e.Data["nickname"], e.Data["result"], e.Data["position"])
	})
	bus.Subscribe(events.EventDuelPairFormed, func(e events.Event) {
		r.announcef(e.Server, "* duel: ^2%v^7 vs ^2%v^7", e.Data["player1"], e.Data["player2"])
	})
	bus.Subscribe(events.EventMatchComplete, func(e events.Event) {
		r.announcef(e.Server, "* match complete: ^2%v^7 %v - %v ^2%v^7",
			e.Data["player1"], e.Data["games1"], e.Data["games2"], e.Data["player2"])
	})
}

// summarizeScores renders a game-end event's sorted player rows as
// "nick score, nick score".
func summarizeScores(data map[string]interface{}) string {
	gametype, _ := data["gametype"].(string)
	mapName, _ := data["map"].(string)
	head := fmt.Sprintf("^2%s^7 on ^5%s^7", gametype, mapName)

	players, _ := data["players"].([]map[string]interface{})
	if len(players) == 0 {
		return head
	}
	parts := make([]string, 0, len(players))
	for _, row := range players {
		parts = append(parts, fmt.Sprintf("%v %v", row["nickname"], row["score"]))
	}
	return head + ": " + strings.Join(parts, ", ")
}
