// Package cointoss implements the turn-based map draft played after a coin
// toss decides priority between two duelling players, and the map-by-map
// progression of the resulting match.
package cointoss

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"xonbot/internal/events"
)

// State is the draft phase.
type State int

const (
	StatePending State = iota
	StateChoosing
	StateChoiceComplete
	StatePlaying
	StateComplete
)

// Action is one kind of draft move.
type Action int

const (
	ActionPick Action = iota
	ActionDrop
	ActionSkip
)

// String returns the human-readable action name used in chat messages.
func (a Action) String() string {
	switch a {
	case ActionPick:
		return "Pick"
	case ActionDrop:
		return "Drop"
	default:
		return "Skip"
	}
}

// Error is a draft-validation failure. It carries a ready-to-show message and
// is always surfaced verbatim to the player who issued the offending command,
// never logged as a system error.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

func errorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Player identifies one drafter. Crypto fingerprints beat nicknames for
// identity when the server reports them.
type Player struct {
	Nickname   string
	CryptoIDFP string
}

func (p Player) is(other Player) bool {
	if p.CryptoIDFP != "" && other.CryptoIDFP != "" {
		return p.CryptoIDFP == other.CryptoIDFP
	}
	return p.Nickname == other.Nickname
}

// Step is one configured draft move: which player acts and how.
type Step struct {
	Action Action
	Player int // 1 or 2
}

var stepRe = regexp.MustCompile(`^([PpDdSs])([12])$`)

// ParseSteps converts config strings like "P1", "d2", "s1" into a step list.
// A Skip, if present, must be the first step. Errors here are fatal at
// construction time.
func ParseSteps(raw []string) ([]Step, error) {
	steps := make([]Step, 0, len(raw))
	for i, token := range raw {
		m := stepRe.FindStringSubmatch(token)
		if m == nil {
			return nil, fmt.Errorf("invalid cointoss step %q", token)
		}
		var action Action
		switch strings.ToUpper(m[1]) {
		case "P":
			action = ActionPick
		case "D":
			action = ActionDrop
		case "S":
			action = ActionSkip
		}
		if action == ActionSkip && i != 0 {
			return nil, fmt.Errorf("skip step %q only allowed first", token)
		}
		player := int(m[2][0] - '0')
		steps = append(steps, Step{Action: action, Player: player})
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty cointoss step list")
	}
	return steps, nil
}

// Console is what the cointosser needs from its rcon session.
type Console interface {
	Say(message string)
	SayLines(lines []string)
	Send(command string)
}

// skippedMap remembers who forfeited which map.
type skippedMap struct {
	name     string
	byPlayer int
}

// Cointosser runs one draft plus the match it produces. Methods are not safe
// for concurrent use; the owning session serializes access.
type Cointosser struct {
	console Console
	bus     events.Firer
	server  string
	logger  *slog.Logger
	pool    []string
	steps   []Step

	auditPath string
	// sleep is swapped out in tests so delays run synchronously.
	sleep func(time.Duration)

	state         State
	stepIndex     int
	availableMaps []string
	selectedMaps  []string
	skippedMaps   []skippedMap
	players       [2]Player
	mapIndex      int
	// scores holds one frag pair per finished map, player 1 first.
	scores [][2]int

	Bets *BetSession
}

// New creates a cointosser over a map pool and a parsed step list.
func New(console Console, bus events.Firer, server string, pool []string, steps []Step, auditPath string, logger *slog.Logger) *Cointosser {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := append([]string(nil), pool...)
	sort.Strings(sorted)
	c := &Cointosser{
		console:   console,
		bus:       bus,
		server:    server,
		logger:    logger,
		pool:      sorted,
		steps:     steps,
		auditPath: auditPath,
		sleep:     time.Sleep,
		Bets:      NewBetSession(),
	}
	c.Reset()
	return c
}

// State returns the current draft phase.
func (c *Cointosser) State() State { return c.state }

// Players returns the drafting pair.
func (c *Cointosser) Players() [2]Player { return c.players }

// SetPool replaces the configured map pool. Only takes effect on the next
// Reset; an in-flight draft keeps the pool it started with.
func (c *Cointosser) SetPool(pool []string) {
	sorted := append([]string(nil), pool...)
	sort.Strings(sorted)
	c.pool = sorted
	if c.state == StatePending {
		c.availableMaps = append([]string(nil), c.pool...)
	}
}

// Reset returns to PENDING with a fresh copy of the pool.
func (c *Cointosser) Reset() {
	c.state = StatePending
	c.stepIndex = 0
	c.availableMaps = append([]string(nil), c.pool...)
	c.selectedMaps = nil
	c.skippedMaps = nil
	c.players = [2]Player{}
	c.mapIndex = 0
	c.scores = nil
	c.Bets.Clear()
}

// Activate starts the draft. Player order matters: the step list's player
// numbers refer to this ordering, winner of the toss first.
func (c *Cointosser) Activate(winner, loser Player) error {
	if c.state != StatePending {
		return errorf("^3A cointoss is already in progress^7")
	}
	if len(c.steps) == 0 || len(c.availableMaps) == 0 {
		return errorf("^3No map draft is configured on this server^7")
	}
	c.players = [2]Player{winner, loser}
	c.state = StateChoosing
	c.audit("%s vs %s, cointoss won by %s", winner.Nickname, loser.Nickname, winner.Nickname)
	c.Bets.Open(winner.Nickname, loser.Nickname)
	return nil
}

// resolveMap expands a case-insensitive prefix to exactly one available map.
func (c *Cointosser) resolveMap(prefix string) (string, error) {
	var matches []string
	for _, m := range c.availableMaps {
		if strings.HasPrefix(strings.ToLower(m), strings.ToLower(prefix)) {
			matches = append(matches, m)
		}
	}
	switch len(matches) {
	case 0:
		return "", errorf("^3Map not found^7: ^1%s^7", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", errorf("^1Ambiguous map choice ^3%s^7. ^2Maps matching: ^3%s^7",
			prefix, strings.Join(matches, "^7, ^3"))
	}
}

// ValidateAction checks an attempted move against the current step without
// applying it. All violations are collected into one message.
func (c *Cointosser) ValidateAction(player Player, action Action, mapPrefix string) error {
	if c.state != StateChoosing {
		return errorf("^3Cointoss has not yet started^7")
	}
	step := c.steps[c.stepIndex]
	expected := c.players[step.Player-1]

	var problems []string
	if !player.is(expected) {
		problems = append(problems, fmt.Sprintf(
			"^3Expected action from player ^2%s^7, ^3not from ^2%s^7",
			expected.Nickname, player.Nickname))
	}
	if action != step.Action {
		problems = append(problems, fmt.Sprintf(
			"^3Expected ^2%s^7, ^3not ^2%s^7", step.Action, action))
	}
	if _, err := c.resolveMap(mapPrefix); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return &Error{Message: strings.Join(problems, " ")}
	}
	return nil
}

// DoAction applies one validated draft move and advances the step pointer,
// completing the draft when the step list is exhausted. When exactly one
// undrafted map remains and the final configured step is a Pick, that map is
// drafted automatically rather than forcing a degenerate last pick.
func (c *Cointosser) DoAction(player Player, action Action, mapPrefix string) error {
	if err := c.ValidateAction(player, action, mapPrefix); err != nil {
		return err
	}
	mapName, err := c.resolveMap(mapPrefix)
	if err != nil {
		return err
	}
	step := c.steps[c.stepIndex]

	switch action {
	case ActionPick:
		c.selectedMaps = append(c.selectedMaps, mapName)
		c.audit("%s picked %s", player.Nickname, mapName)
	case ActionDrop:
		c.audit("%s dropped %s", player.Nickname, mapName)
	case ActionSkip:
		c.selectedMaps = append(c.selectedMaps, mapName)
		c.skippedMaps = append(c.skippedMaps, skippedMap{name: mapName, byPlayer: step.Player})
		c.audit("%s skipped %s", player.Nickname, mapName)
	}
	c.removeAvailable(mapName)

	switch {
	case c.stepIndex == len(c.steps)-1:
		c.completeChoice()
	case len(c.availableMaps) == 1 && c.steps[len(c.steps)-1].Action == ActionPick:
		last := c.availableMaps[0]
		c.selectedMaps = append(c.selectedMaps, last)
		c.availableMaps = nil
		c.audit("%s drafted automatically", last)
		c.completeChoice()
	default:
		c.stepIndex++
	}
	return nil
}

func (c *Cointosser) removeAvailable(mapName string) {
	for i, m := range c.availableMaps {
		if m == mapName {
			c.availableMaps = append(c.availableMaps[:i], c.availableMaps[i+1:]...)
			return
		}
	}
}

func (c *Cointosser) completeChoice() {
	c.state = StateChoiceComplete
	c.audit("choice complete: %s", strings.Join(c.selectedMaps, ", "))
	if c.bus != nil {
		c.bus.Fire(events.EventCointossChoiceComplete, c.server, map[string]interface{}{
			"maps": append([]string(nil), c.selectedMaps...),
		})
	}
}

// StartPlaying transitions to PLAYING, awards the free wins earned by skip
// steps, and sends the server to the first contested map. The caller drives
// this once the post-draft idle delay has elapsed.
func (c *Cointosser) StartPlaying() error {
	if c.state != StateChoiceComplete {
		return errorf("^3The map choice is not complete yet^7")
	}
	c.state = StatePlaying
	c.mapIndex = 0
	c.Bets.CloseBetting()

	for _, sk := range c.skippedMaps {
		winner := 3 - sk.byPlayer // opponent of the skipper
		var pair [2]int
		pair[winner-1] = 1
		c.scores = append(c.scores, pair)
		c.mapIndex++
		c.console.Say(fmt.Sprintf("^2%s ^3is a free win for ^2%s^7 (map skipped by %s)",
			sk.name, c.players[winner-1].Nickname, c.players[sk.byPlayer-1].Nickname))
		c.audit("%s: free win for %s", sk.name, c.players[winner-1].Nickname)
	}

	c.gotoCurrentMap()
	return nil
}

func (c *Cointosser) gotoCurrentMap() {
	c.console.Send("gotomap " + c.selectedMaps[c.mapIndex])
}

// retryCurrentMap announces a problem with the reported result and replays
// the current map unchanged.
func (c *Cointosser) retryCurrentMap(problem string) {
	c.console.Say(problem)
	c.sleep(time.Second)
	c.console.SayLines(c.FormatStatus())
	c.sleep(3 * time.Second)
	c.gotoCurrentMap()
}

// PlayerScore is one player's frag count from a finished map.
type PlayerScore struct {
	Player Player
	Frags  int
}

// MapEnded consumes a finished map's result. Invalid results (wrong map,
// wrong players, a tie) leave all state unchanged and replay the map. A valid
// result either advances to the next map or completes the match once one
// player's wins exceed half the drafted maps or the maps run out.
func (c *Cointosser) MapEnded(mapName string, scores []PlayerScore) {
	if c.state != StatePlaying {
		return
	}
	expected := c.selectedMaps[c.mapIndex]
	if mapName != expected {
		c.retryCurrentMap(fmt.Sprintf("Expected map %s, got map %s", expected, mapName))
		return
	}
	if len(scores) != 2 {
		c.retryCurrentMap(fmt.Sprintf("Got scores with %d players, expected a duel!", len(scores)))
		return
	}
	for _, sc := range scores {
		if !sc.Player.is(c.players[0]) && !sc.Player.is(c.players[1]) {
			c.retryCurrentMap(fmt.Sprintf("Unexpected player %s, expected %s and %s! Restarting.",
				sc.Player.Nickname, c.players[0].Nickname, c.players[1].Nickname))
			return
		}
	}

	var pair [2]int
	if scores[0].Player.is(c.players[0]) {
		pair = [2]int{scores[0].Frags, scores[1].Frags}
	} else {
		pair = [2]int{scores[1].Frags, scores[0].Frags}
	}
	if pair[0] == pair[1] {
		c.retryCurrentMap("Scores are equal, expected a winner! Restarting.")
		return
	}

	c.scores = append(c.scores, pair)
	c.audit("%s: %s - %d, %s - %d", mapName,
		c.players[0].Nickname, pair[0], c.players[1].Nickname, pair[1])

	games, _ := c.TotalScore()
	maxGames := games[0]
	if games[1] > maxGames {
		maxGames = games[1]
	}
	if float64(maxGames) > float64(len(c.selectedMaps))/2 || c.mapIndex == len(c.selectedMaps)-1 {
		c.state = StateComplete
		c.audit("match completed")
		c.console.SayLines(c.FormatStatus())
		c.announceBets(games)
		if c.bus != nil {
			c.bus.Fire(events.EventMatchComplete, c.server, map[string]interface{}{
				"player1": c.players[0].Nickname,
				"player2": c.players[1].Nickname,
				"games1":  games[0],
				"games2":  games[1],
			})
		}
		return
	}

	c.mapIndex++
	c.console.SayLines(c.FormatStatus())
	c.console.Say(fmt.Sprintf("^2Switching to map ^5%s ^2in ^35 ^2seconds^7", c.selectedMaps[c.mapIndex]))
	c.audit("switching to map %s", c.selectedMaps[c.mapIndex])
	c.sleep(5 * time.Second)
	c.gotoCurrentMap()
}

func (c *Cointosser) announceBets(games [2]int) {
	winner := 1
	if games[1] > games[0] {
		winner = 2
	}
	for _, line := range c.Bets.Settle(winner) {
		c.console.Say(line)
	}
}

// TotalScore aggregates per-map frag pairs into games won and total frags.
func (c *Cointosser) TotalScore() (games [2]int, frags [2]int) {
	for _, pair := range c.scores {
		frags[0] += pair[0]
		frags[1] += pair[1]
		if pair[0] > pair[1] {
			games[0]++
		} else {
			games[1]++
		}
	}
	return games, frags
}

func (c *Cointosser) formatCurrentScore() string {
	games, frags := c.TotalScore()
	return fmt.Sprintf("^2Score: ^7%s - ^2%d ^5(%d frags)^7, %s - ^2%d ^5(%d frags)^7",
		c.players[0].Nickname, games[0], frags[0],
		c.players[1].Nickname, games[1], frags[1])
}

// FormatStatus renders the draft state as chat lines. Pure with respect to
// the cointosser; used for both in-game announcements and IRC replies.
func (c *Cointosser) FormatStatus() []string {
	switch c.state {
	case StatePending:
		return []string{"^3Cointoss is not activated^7. ^2/cointoss heads^5|^2tails ^3to start it."}
	case StateChoiceComplete:
		return []string{fmt.Sprintf("^2Cointoss complete. ^3Selected maps: ^5%s^7.",
			strings.Join(c.selectedMaps, "^7, ^5"))}
	case StatePlaying:
		lines := []string{c.formatCurrentScore()}
		var status strings.Builder
		if finished := c.selectedMaps[:c.mapIndex]; len(finished) > 0 {
			fmt.Fprintf(&status, "^3Finished maps: ^5%s^7.", strings.Join(finished, "^7, ^5"))
		}
		fmt.Fprintf(&status, " ^3Current map: ^2%s^7.", c.selectedMaps[c.mapIndex])
		if remaining := c.selectedMaps[c.mapIndex+1:]; len(remaining) > 0 {
			fmt.Fprintf(&status, " ^3Remaining: ^5%s^7.", strings.Join(remaining, "^7, ^5"))
		}
		return append(lines, status.String())
	case StateComplete:
		return []string{"^2Match finished!^7", c.formatCurrentScore()}
	default: // StateChoosing
		var lines []string
		if len(c.selectedMaps) > 0 {
			lines = append(lines, fmt.Sprintf("^3Selected maps: ^5%s^7.",
				strings.Join(c.selectedMaps, "^7, ^5")))
		}
		if len(c.availableMaps) > 0 {
			lines = append(lines, fmt.Sprintf("^3Available maps: ^2%s^7.",
				strings.Join(c.availableMaps, "^7, ^2")))
		}
		step := c.steps[c.stepIndex]
		expected := c.players[step.Player-1]
		switch step.Action {
		case ActionPick:
			lines = append(lines, fmt.Sprintf(
				"^7%s, ^3please ^2pick^3 a map using ^2/pick ^5<mapname>", expected.Nickname))
		case ActionDrop:
			lines = append(lines, fmt.Sprintf(
				"^7%s, ^3please ^1drop^3 a map using ^1/drop ^5<mapname>", expected.Nickname))
		default:
			lines = append(lines, fmt.Sprintf(
				"^7%s, ^3please ^1skip^3 a map using ^1/skip ^5<mapname>", expected.Nickname))
		}
		return lines
	}
}

// audit appends one line to the draft log file, when one is configured.
func (c *Cointosser) audit(format string, args ...interface{}) {
	if c.auditPath == "" {
		return
	}
	f, err := os.OpenFile(c.auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		c.logger.Warn("cannot open cointoss audit log", "path", c.auditPath, "error", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %s\n", time.Now().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, args...))
}
