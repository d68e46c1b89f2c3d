package rcon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"xonbot/internal/events"
)

// Tunables for the connection-health state machine.
const (
	superviseInterval = 5 * time.Second
	statusStale       = 40 * time.Second
	logStale          = 60 * time.Second
	probeTimeout      = 2 * time.Second
	probeRetries      = 3
	cvarPollInterval  = 200 * time.Millisecond
	cvarPollRetries   = 15
	statusPollEvery   = 10 * time.Second
	readBufferSize    = 8192
	sayQueueDepth     = 64
)

// Options carries everything a Session needs from the configuration record.
type Options struct {
	// Name identifies the session in logs and events.
	Name string
	// Address is the game server's host:port.
	Address string
	// Password is the shared rcon secret.
	Password string
	// Security selects the packet signing mode.
	Security SecurityMode
	// LocalHost is the address the game server should stream its log to;
	// defaults to the log socket's own address when empty.
	LocalHost string
	// BotNick is the name the bot speaks under in game chat.
	BotNick string
	// SayVia is "ircmsg" (sv_cmd ircmsg relay) or "say".
	SayVia string
	// SayRate caps outbound chat lines per second.
	SayRate float64
}

// Session owns one game server connection: the command and log UDP sockets,
// the caches both channels write into, and the supervisory loop that declares
// the link dead and rebuilds it.
type Session struct {
	opts   Options
	bus    events.Firer
	logger *slog.Logger

	roster *Roster

	mu              sync.Mutex
	cmdConn         *net.UDPConn
	logConn         *net.UDPConn
	generation      int
	connected       bool
	cvars           map[string]string
	status          map[string]string
	statusPlayers   map[int]StatusPlayer
	departedPlayers map[int]StatusPlayer
	currentMap      string
	currentGametype string
	gameStartAt     time.Time
	activeVote      *Vote
	duelPair        *DuelPair
	lastStatus      time.Time
	lastLog         time.Time
	mapList         []string

	// The parsers have their own locks: their process callbacks take s.mu,
	// so feeding must never happen under it.
	cmdParseMu sync.Mutex
	cmdParser  *combined
	logParseMu sync.Mutex
	logParser  *combined

	challengeCh chan []byte

	sayCh      chan string
	sayLimiter *rate.Limiter

	clock func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession creates a session; Start brings it up.
func NewSession(opts Options, bus events.Firer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SayRate <= 0 {
		opts.SayRate = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:            opts,
		bus:             bus,
		logger:          logger.With("server", opts.Name),
		roster:          NewRoster(),
		cvars:           make(map[string]string),
		status:          make(map[string]string),
		statusPlayers:   make(map[int]StatusPlayer),
		departedPlayers: make(map[int]StatusPlayer),
		challengeCh:     make(chan []byte, 1),
		sayCh:           make(chan string, sayQueueDepth),
		sayLimiter:      rate.NewLimiter(rate.Limit(opts.SayRate), 2),
		clock:           time.Now,
		ctx:             ctx,
		cancel:          cancel,
	}
	s.cmdParser = s.newCmdParser()
	s.logParser = s.newLogParser()
	return s
}

// Name returns the session's configured name.
func (s *Session) Name() string { return s.opts.Name }

// Roster returns the live player roster.
func (s *Session) Roster() *Roster { return s.roster }

// CurrentMap returns the map the server reported on the last game start.
func (s *Session) CurrentMap() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentMap
}

// CurrentGametype returns the gametype from the last game start.
func (s *Session) CurrentGametype() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentGametype
}

// MapList returns the server's map list from the last refresh.
func (s *Session) MapList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.mapList...)
}

func (s *Session) fire(t events.EventType, data map[string]interface{}) {
	if s.bus != nil {
		s.bus.Fire(t, s.opts.Name, data)
	}
}

// Start launches the supervisory loop and the say worker.
func (s *Session) Start() {
	s.wg.Add(2)
	go s.superviseLoop()
	go s.sayLoop()
}

// Stop cancels the supervisory loop and closes both sockets.
func (s *Session) Stop() {
	s.cancel()
	s.teardown()
	s.wg.Wait()
}

// superviseLoop is the only long-lived task per session. It declares the
// connection dead when neither channel has produced anything recent, rebinds
// both sockets, and probes until the server answers again.
func (s *Session) superviseLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(superviseInterval)
	defer ticker.Stop()

	lastPoll := time.Time{}
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		connected := s.connected
		stale := s.clock().Sub(s.lastStatus) > statusStale || s.clock().Sub(s.lastLog) > logStale
		s.mu.Unlock()

		if connected && !stale {
			if s.clock().Sub(lastPoll) >= statusPollEvery {
				lastPoll = s.clock()
				s.Send("status 1")
			}
			continue
		}

		if connected {
			s.logger.Warn("server went silent, reconnecting")
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			s.fire(events.EventServerDisconnect, nil)
		}

		if err := s.reconnect(); err != nil {
			s.logger.Debug("reconnect attempt failed", "error", err)
			continue
		}
		lastPoll = s.clock()
	}
}

// reconnect tears both sockets down, rebinds them, and runs the status probe.
// On success it fires ServerConnect and repairs the log subscription.
func (s *Session) reconnect() error {
	s.teardown()
	if err := s.bindTransports(); err != nil {
		return err
	}

	if !s.probeStatus() {
		return fmt.Errorf("no status response from %s", s.opts.Address)
	}

	s.mu.Lock()
	s.connected = true
	s.lastLog = s.clock()
	host := s.status["host"]
	s.mu.Unlock()

	s.logger.Info("connected to server", "host", host)
	s.fire(events.EventServerConnect, map[string]interface{}{"host": host})

	s.repairLogSubscription()
	s.refreshMapList()
	return nil
}

// bindTransports dials both UDP "connections". There is no handshake: connect
// just binds a local ephemeral port and records the remote address.
func (s *Session) bindTransports() error {
	raddr, err := net.ResolveUDPAddr("udp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", s.opts.Address, err)
	}
	cmdConn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("binding command socket: %w", err)
	}
	logConn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		cmdConn.Close()
		return fmt.Errorf("binding log socket: %w", err)
	}

	s.mu.Lock()
	s.cmdConn = cmdConn
	s.logConn = logConn
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.cmdParseMu.Lock()
	s.cmdParser.reset()
	s.cmdParseMu.Unlock()
	s.logParseMu.Lock()
	s.logParser.reset()
	s.logParseMu.Unlock()

	s.wg.Add(2)
	go s.readLoop(cmdConn, gen, false)
	go s.readLoop(logConn, gen, true)
	return nil
}

func (s *Session) teardown() {
	s.mu.Lock()
	if s.cmdConn != nil {
		s.cmdConn.Close()
		s.cmdConn = nil
	}
	if s.logConn != nil {
		s.logConn.Close()
		s.logConn = nil
	}
	s.mu.Unlock()
}

// readLoop pumps one socket into its parser. Datagrams that do not carry the
// response envelope are dropped, except challenge replies on the command
// channel which feed the pending-challenge slot.
func (s *Session) readLoop(conn *net.UDPConn, gen int, isLog bool) {
	defer s.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return // socket closed by teardown
		}
		datagram := buf[:n]

		payload, ok := UnwrapResponse(datagram)
		if !ok {
			if !isLog {
				if challenge, ok := ParseChallenge(datagram); ok {
					select {
					case s.challengeCh <- challenge:
					default:
					}
				}
			}
			continue
		}

		s.mu.Lock()
		superseded := gen != s.generation
		if !superseded && isLog {
			s.lastLog = s.clock()
		}
		s.mu.Unlock()
		if superseded {
			return // a rebind replaced this socket
		}

		if isLog {
			s.logParseMu.Lock()
			s.logParser.feed(payload)
			s.logParseMu.Unlock()
		} else {
			s.cmdParseMu.Lock()
			s.cmdParser.feed(payload)
			s.cmdParseMu.Unlock()
		}
	}
}

// probeStatus sends "status 1" and waits for the status clock to move, with
// bounded retries.
func (s *Session) probeStatus() bool {
	for attempt := 0; attempt < probeRetries; attempt++ {
		s.mu.Lock()
		before := s.lastStatus
		s.mu.Unlock()

		s.Send("status 1")

		deadline := s.clock().Add(probeTimeout)
		for s.clock().Before(deadline) {
			select {
			case <-s.ctx.Done():
				return false
			case <-time.After(100 * time.Millisecond):
			}
			s.mu.Lock()
			moved := s.lastStatus.After(before)
			s.mu.Unlock()
			if moved {
				return true
			}
		}
	}
	return false
}

// Send serializes a console command and transmits it on the command channel,
// fire and forget. Responses, when any, come back asynchronously through the
// command parser.
func (s *Session) Send(command string) {
	s.transmit(command, false)
}

// sendViaLog transmits on the log channel so the server learns that socket's
// source address. Used only for the log subscription itself.
func (s *Session) sendViaLog(command string) {
	s.transmit(command, true)
}

func (s *Session) transmit(command string, viaLog bool) {
	s.mu.Lock()
	conn := s.cmdConn
	if viaLog {
		conn = s.logConn
	}
	s.mu.Unlock()
	if conn == nil {
		return
	}

	var packet []byte
	switch s.opts.Security {
	case SecurityPlain:
		packet = PlainPacket(s.opts.Password, command)
	case SecurityChallenge:
		challenge, ok := s.obtainChallenge(conn)
		if !ok {
			s.logger.Warn("no challenge response, dropping command", "command", command)
			return
		}
		packet = SecureChallengePacket(s.opts.Password, challenge, command)
	default:
		packet = SecureTimePacket(s.opts.Password, command, s.clock())
	}

	if _, err := conn.Write(packet); err != nil {
		s.logger.Debug("send failed", "command", command, "error", err)
	}
}

func (s *Session) obtainChallenge(conn *net.UDPConn) ([]byte, bool) {
	// Drain a stale token, then request a fresh one.
	select {
	case <-s.challengeCh:
	default:
	}
	if _, err := conn.Write(ChallengeRequestPacket()); err != nil {
		return nil, false
	}
	select {
	case challenge := <-s.challengeCh:
		return challenge, true
	case <-time.After(probeTimeout):
		return nil, false
	case <-s.ctx.Done():
		return nil, false
	}
}

// QueryCvar requests a cvar and polls the write-through cache until the echo
// lands or the retry budget runs out. Correlation is structural: the cache
// key is the cvar name itself.
func (s *Session) QueryCvar(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	delete(s.cvars, name)
	s.mu.Unlock()

	s.Send(name)

	for attempt := 0; attempt < cvarPollRetries; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-time.After(cvarPollInterval):
		}
		s.mu.Lock()
		value, ok := s.cvars[name]
		s.mu.Unlock()
		if ok {
			return value, nil
		}
	}
	return "", fmt.Errorf("no response for cvar %q", name)
}

// repairLogSubscription points the server's log_dest_udp list at our log
// socket. The list is server-side and append-only, so stale entries from
// previous runs of this bot (same host, different port) are garbage-collected
// first.
func (s *Session) repairLogSubscription() {
	s.mu.Lock()
	logConn := s.logConn
	s.mu.Unlock()
	if logConn == nil {
		return
	}
	local, ok := logConn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return
	}
	host := s.opts.LocalHost
	if host == "" {
		host = local.IP.String()
	}
	ours := fmt.Sprintf("%s:%d", host, local.Port)

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	current, err := s.QueryCvar(ctx, "log_dest_udp")
	if err != nil {
		s.logger.Warn("could not read log_dest_udp", "error", err)
	}
	for _, entry := range strings.Fields(current) {
		if entry == ours {
			continue
		}
		if h, _, err := net.SplitHostPort(entry); err == nil && h == host {
			s.logger.Info("removing stale log destination", "entry", entry)
			s.Send("sv_cmd removefromlist log_dest_udp " + entry)
		}
	}

	// Subscribe from the log socket so NATed setups resolve to the right
	// source port, then enable the records we consume.
	s.sendViaLog("sv_cmd addtolist log_dest_udp " + ours)
	s.Send("sv_eventlog 1")
	s.Send("sv_logscores_bots 1")
	s.logger.Info("log subscription established", "destination", ours)
}

// refreshMapList re-reads the server's rotation.
func (s *Session) refreshMapList() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	value, err := s.QueryCvar(ctx, "g_maplist")
	if err != nil {
		s.logger.Warn("could not refresh map list", "error", err)
		return
	}
	s.mu.Lock()
	s.mapList = strings.Fields(value)
	s.mu.Unlock()
}

// Say queues one chat line for delivery through the configured say mode.
// Delivery is rate limited; when the queue is full the line is dropped
// rather than blocking the caller.
func (s *Session) Say(message string) {
	select {
	case s.sayCh <- message:
	default:
		s.logger.Warn("say queue full, dropping message")
	}
}

// SayLines queues several chat lines in order.
func (s *Session) SayLines(lines []string) {
	for _, line := range lines {
		s.Say(line)
	}
}

func (s *Session) sayLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case message := <-s.sayCh:
			if err := s.sayLimiter.Wait(s.ctx); err != nil {
				return
			}
			if s.opts.SayVia == "say" {
				s.Send(fmt.Sprintf("sv_adminnick \"%s\"", s.opts.BotNick))
				s.Send("say " + message)
				s.Send("sv_adminnick \"\"")
			} else {
				s.Send(fmt.Sprintf("sv_cmd ircmsg [BOT] %s^7: %s", s.opts.BotNick, message))
			}
		}
	}
}
