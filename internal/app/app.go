// Package app wires the bot together: one rcon session and cointosser per
// configured game server, the shared event bus, the IRC relay, chat command
// dispatch and the map-pool file watcher.
package app

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"xonbot/internal/cointoss"
	"xonbot/internal/commands"
	"xonbot/internal/config"
	"xonbot/internal/events"
	"xonbot/internal/irc"
	"xonbot/internal/rcon"
)

// startPlayingDelay is the idle time between the draft completing and the
// first gotomap, giving players a moment to read the selection.
const startPlayingDelay = 10 * time.Second

// serverUnit bundles everything belonging to one game server.
type serverUnit struct {
	cfg     config.ServerConfig
	botNick string
	session *rcon.Session
	toss    *cointoss.Cointosser
	tree    *commands.Container

	// tossMu serializes cointosser access: the state machine is driven
	// from chat commands, game-end events and delayed goroutines.
	tossMu sync.Mutex
}

// App is the assembled bot.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	bus    *events.Bus
	relay  *irc.Relay
	units  map[string]*serverUnit
	pools  *poolWatcher
}

// New builds the app from configuration. Start brings it up.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		bus:    events.NewBus(logger),
		units:  make(map[string]*serverUnit),
	}

	for _, sc := range cfg.Servers {
		if !sc.Enabled {
			continue
		}
		unit, err := a.buildUnit(sc)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", sc.Name, err)
		}
		a.units[sc.Name] = unit
	}
	if len(a.units) == 0 {
		return nil, fmt.Errorf("no enabled servers in configuration")
	}

	if cfg.IRC.Enabled {
		a.relay = irc.NewRelay(cfg.IRC, logger)
		a.relay.Subscribe(a.bus)
		for _, unit := range a.units {
			a.relay.AddGame(unit.session)
		}
		a.relay.OnCommand = a.handleIRCCommand
	}

	a.subscribeGameHandlers()

	watcher, err := newPoolWatcher(a, logger)
	if err != nil {
		return nil, err
	}
	a.pools = watcher

	return a, nil
}

func (a *App) buildUnit(sc config.ServerConfig) (*serverUnit, error) {
	security, err := rcon.ParseSecurityMode(sc.RconSecurity)
	if err != nil {
		return nil, err
	}

	botNick := sc.BotNick
	if botNick == "" {
		botNick = "xonbot"
	}
	session := rcon.NewSession(rcon.Options{
		Name:      sc.Name,
		Address:   sc.Address,
		Password:  sc.RconPassword,
		Security:  security,
		LocalHost: sc.LocalHost,
		BotNick:   botNick,
		SayVia:    sc.SayVia,
		SayRate:   sc.SayRate,
	}, a.bus, a.logger)

	var (
		pool  []string
		steps []cointoss.Step
	)
	if len(sc.CointossSteps) > 0 {
		steps, err = cointoss.ParseSteps(sc.CointossSteps)
		if err != nil {
			return nil, err
		}
		pool, err = config.LoadMapPool(sc.MapPoolPath)
		if err != nil {
			return nil, err
		}
	}
	toss := cointoss.New(session, a.bus, sc.Name, pool, steps, sc.AuditPath, a.logger)

	unit := &serverUnit{cfg: sc, botNick: botNick, session: session, toss: toss}
	unit.tree = commands.NewGameTree(commands.GameDeps{
		Toss:   toss,
		Server: session,
		Flip:   nil,
	})
	return unit, nil
}

// Start launches every session, the IRC relay and the pool watcher.
func (a *App) Start() error {
	for _, unit := range a.units {
		unit.session.Start()
	}
	if a.relay != nil {
		if err := a.relay.Connect(); err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		go a.relay.Loop()
	}
	a.pools.start()
	a.logger.Info("bot started", "servers", len(a.units))
	return nil
}

// Stop tears everything down.
func (a *App) Stop() {
	a.pools.stop()
	if a.relay != nil {
		a.relay.Quit()
	}
	for _, unit := range a.units {
		unit.session.Stop()
	}
	a.logger.Info("bot stopped")
}

func (a *App) unit(server string) *serverUnit {
	return a.units[server]
}

// dispatch runs one command line for one server, routing draft-validation
// errors back to the issuing surface verbatim.
func (a *App) dispatch(unit *serverUnit, caller, line string, reply func(lines []string)) {
	ctx := &commands.Context{
		Caller: cointoss.Player{Nickname: caller},
		Reply:  reply,
	}
	unit.tossMu.Lock()
	err := unit.tree.Dispatch(ctx, strings.Fields(line))
	unit.tossMu.Unlock()
	if err == nil {
		return
	}
	if draftErr, ok := err.(*cointoss.Error); ok {
		reply([]string{draftErr.Message})
		return
	}
	a.logger.Error("command failed", "server", unit.cfg.Name, "command", line, "error", err)
}

func (a *App) handleIRCCommand(server, caller, line string, reply func(lines []string)) {
	unit := a.unit(server)
	if unit == nil {
		return
	}
	a.dispatch(unit, caller, line, reply)
}

// subscribeGameHandlers registers the handlers that drive each server's
// cointosser from the event stream.
func (a *App) subscribeGameHandlers() {
	a.bus.Subscribe(events.EventChatMessage, func(e events.Event) {
		unit := a.unit(e.Server)
		if unit == nil {
			return
		}
		message, _ := e.Data["message"].(string)
		caller, line, ok := commands.ExtractCommand(message, unit.botNick)
		if !ok {
			return
		}
		a.dispatch(unit, caller, line, unit.session.SayLines)
	})

	a.bus.Subscribe(events.EventDuelPairFormed, func(e events.Event) {
		unit := a.unit(e.Server)
		if unit == nil {
			return
		}
		unit.tossMu.Lock()
		pending := unit.toss.State() == cointoss.StatePending
		unit.tossMu.Unlock()
		if !pending {
			return
		}
		unit.session.SayLines([]string{
			fmt.Sprintf("^3Duel detected: ^2%v ^3vs ^2%v^7.", e.Data["player1"], e.Data["player2"]),
			"^3Call the toss with ^2cointoss heads^5|^2tails ^3to draft maps.",
		})
	})

	a.bus.Subscribe(events.EventCointossChoiceComplete, func(e events.Event) {
		unit := a.unit(e.Server)
		if unit == nil {
			return
		}
		go func() {
			time.Sleep(startPlayingDelay)
			unit.tossMu.Lock()
			defer unit.tossMu.Unlock()
			if err := unit.toss.StartPlaying(); err != nil {
				a.logger.Warn("could not start playing", "server", e.Server, "error", err)
			}
		}()
	})

	a.bus.Subscribe(events.EventGameStarted, func(e events.Event) {
		unit := a.unit(e.Server)
		if unit == nil {
			return
		}
		unit.tossMu.Lock()
		defer unit.tossMu.Unlock()
		// A round starting while no draft is running clears stale bets.
		if unit.toss.State() == cointoss.StatePending {
			unit.toss.Reset()
		}
	})

	a.bus.Subscribe(events.EventGameEnded, func(e events.Event) {
		unit := a.unit(e.Server)
		if unit == nil {
			return
		}
		mapName, _ := e.Data["map"].(string)
		scores := scoresFromEvent(e.Data)
		// MapEnded sleeps between announcements; keep it off the
		// receive path.
		go func() {
			unit.tossMu.Lock()
			defer unit.tossMu.Unlock()
			unit.toss.MapEnded(mapName, scores)
		}()
	})

	a.bus.Subscribe(events.EventMatchComplete, func(e events.Event) {
		unit := a.unit(e.Server)
		if unit == nil {
			return
		}
		// Fired from inside MapEnded while tossMu is held; reset once
		// that call unwinds.
		go func() {
			unit.tossMu.Lock()
			defer unit.tossMu.Unlock()
			unit.toss.Reset()
		}()
	})
}

// scoresFromEvent converts a game-end event's player rows into the
// cointosser's score report, skipping bots.
func scoresFromEvent(data map[string]interface{}) []cointoss.PlayerScore {
	rows, _ := data["players"].([]map[string]interface{})
	out := make([]cointoss.PlayerScore, 0, len(rows))
	for _, row := range rows {
		if isBot, _ := row["is_bot"].(bool); isBot {
			continue
		}
		nickname, _ := row["nickname"].(string)
		out = append(out, cointoss.PlayerScore{
			Player: cointoss.Player{Nickname: nickname},
			Frags:  intValue(row["score"]),
		})
	}
	return out
}

func intValue(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
