package rcon

import (
	"regexp"
	"strconv"

	"xonbot/internal/events"
)

// spectatorFrags is the placeholder frag count the server reports for
// spectating or not-yet-active clients.
const spectatorFrags = -666

// StatusPlayer is one row of the "status 1" player table. It lives in a
// per-connection cache, separate from the roster. On part the row moves to a
// departed cache so trailing records can still be attributed without the
// player counting as active.
type StatusPlayer struct {
	Slot     int
	Frags    int
	Ping     int
	Time     string
	Nickname []byte
}

// Active reports whether the row shows a live participant rather than a
// spectator placeholder.
func (p StatusPlayer) Active() bool { return p.Frags != spectatorFrags }

var (
	cvarRe = regexp.MustCompile(`^"([^"]+)" is "([^"]*)"`)
	// host:/map:/timing:/players: summary lines of a status response.
	statusItemRe = regexp.MustCompile(`^(host|map|timing|players):\s+(.*)$`)
	// #<slot> <frags> <ping> <time> <nickname>
	statusPlayerRe = regexp.MustCompile(`^#(\d+)\s+(-?\d+)\s+(-?\d+)\s+([\d:]+)\s+(.*)$`)
	playersCountRe = regexp.MustCompile(`^(\d+) active \((\d+) max\)`)
)

// newCmdParser builds the combined parser for the command channel. Responses
// to "status 1" and cvar echoes are the only records it knows; everything
// else a command prints is dropped at debug level.
func (s *Session) newCmdParser() *combined {
	return newCombined(s.logger,
		&regexParser{re: cvarRe, process: s.processCvar, logger: s.logger},
		&regexParser{re: statusItemRe, process: s.processStatusItem, logger: s.logger},
		&regexParser{re: statusPlayerRe, process: s.processStatusPlayer, logger: s.logger},
	)
}

// processCvar writes a `"name" is "value"` echo through to the cvar cache.
// Pending QueryCvar calls poll the cache for exactly this key.
func (s *Session) processCvar(m [][]byte) error {
	s.mu.Lock()
	s.cvars[string(m[1])] = string(m[2])
	s.mu.Unlock()
	return nil
}

// processStatusItem stores one summary line and stamps the status clock; the
// supervisory loop treats a fresh stamp as proof of life.
func (s *Session) processStatusItem(m [][]byte) error {
	key, value := string(m[1]), string(m[2])
	s.mu.Lock()
	s.status[key] = value
	s.lastStatus = s.clock()
	s.mu.Unlock()

	if key == "players" {
		if c := playersCountRe.FindStringSubmatch(value); c != nil {
			active, _ := strconv.Atoi(c[1])
			maxSlots, _ := strconv.Atoi(c[2])
			s.roster.mu.Lock()
			s.roster.Active = active
			s.roster.MaxSlots = maxSlots
			s.roster.mu.Unlock()
		}
	}
	return nil
}

// processStatusPlayer updates the status cache from one player-table row and
// re-derives the active duel pair.
func (s *Session) processStatusPlayer(m [][]byte) error {
	slot, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return err
	}
	frags, _ := strconv.Atoi(string(m[2]))
	ping, _ := strconv.Atoi(string(m[3]))

	s.mu.Lock()
	s.statusPlayers[slot] = StatusPlayer{
		Slot:     slot,
		Frags:    frags,
		Ping:     ping,
		Time:     string(m[4]),
		Nickname: append([]byte(nil), m[5]...),
	}
	// A live row for this slot supersedes any departed resident.
	delete(s.departedPlayers, slot)
	s.mu.Unlock()

	s.recomputeDuelPair()
	return nil
}

// DuelPair is the two players currently recognized as competing 1v1.
type DuelPair struct {
	Nicknames [2]string
	Slots     [2]int
}

func (d *DuelPair) sameAs(slots []int) bool {
	if len(slots) != 2 {
		return false
	}
	return (slots[0] == d.Slots[0] && slots[1] == d.Slots[1]) ||
		(slots[0] == d.Slots[1] && slots[1] == d.Slots[0])
}

// recomputeDuelPair derives the active player set from the status cache.
// Growing from one-or-fewer to exactly two active players forms a pair;
// losing or swapping a member of a formed pair ends it prematurely, and a
// fresh pair may form in the same pass.
func (s *Session) recomputeDuelPair() {
	s.mu.Lock()
	var slots []int
	for slot, sp := range s.statusPlayers {
		if sp.Active() {
			slots = append(slots, slot)
		}
	}
	if len(slots) == 2 && slots[0] > slots[1] {
		slots[0], slots[1] = slots[1], slots[0]
	}

	var formed, ended *DuelPair
	switch {
	case s.duelPair == nil && len(slots) == 2:
		s.duelPair = &DuelPair{
			Nicknames: [2]string{
				string(s.statusPlayers[slots[0]].Nickname),
				string(s.statusPlayers[slots[1]].Nickname),
			},
			Slots: [2]int{slots[0], slots[1]},
		}
		formed = s.duelPair
	case s.duelPair != nil && !s.duelPair.sameAs(slots):
		ended = s.duelPair
		s.duelPair = nil
		if len(slots) == 2 {
			s.duelPair = &DuelPair{
				Nicknames: [2]string{
					string(s.statusPlayers[slots[0]].Nickname),
					string(s.statusPlayers[slots[1]].Nickname),
				},
				Slots: [2]int{slots[0], slots[1]},
			}
			formed = s.duelPair
		}
	}
	s.mu.Unlock()

	if ended != nil {
		s.fire(events.EventDuelEndedPrematurely, map[string]interface{}{
			"player1": ended.Nicknames[0],
			"player2": ended.Nicknames[1],
		})
	}
	if formed != nil {
		s.fire(events.EventDuelPairFormed, map[string]interface{}{
			"player1": formed.Nicknames[0],
			"player2": formed.Nicknames[1],
		})
	}
}

// CurrentDuelPair returns the active duel pair, if one is formed.
func (s *Session) CurrentDuelPair() (DuelPair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.duelPair == nil {
		return DuelPair{}, false
	}
	return *s.duelPair, true
}

// StatusValue reads one cached summary field (host, map, timing, players).
func (s *Session) StatusValue(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.status[key]
	return v, ok
}
