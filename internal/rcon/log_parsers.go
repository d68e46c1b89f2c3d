package rcon

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"xonbot/internal/events"
)

// Log-stream record keys. The server emits one record per line, colon
// delimited, except chat which is prefixed with a single 0x01 byte.
var (
	joinKey      = []byte(":join:")
	partKey      = []byte(":part:")
	nameKey      = []byte(":name:")
	chatKey      = []byte{0x01}
	teamKey      = []byte(":team:")
	scoresKey    = []byte(":scores:")
	scoresEnd    = []byte(":end")
	gameStartKey = []byte(":gamestart:")
	voteKey      = []byte(":vote:")
	recordSetKey = []byte(":recordset:")
)

var (
	ipv4Re = regexp.MustCompile(`^(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}):(.*)$`)
	ipv6Re = regexp.MustCompile(`^((?:[0-9a-fA-F]{1,4}:){2,}[0-9a-fA-F]{1,4}):(.*)$`)
)

// newLogParser builds the combined parser for the log channel. Declaration
// order is match priority.
func (s *Session) newLogParser() *combined {
	return newCombined(s.logger,
		&prefixParser{key: joinKey, process: s.processJoin, logger: s.logger},
		&prefixParser{key: partKey, process: s.processPart, logger: s.logger},
		&blockParser{key: scoresKey, terminator: scoresEnd, process: s.processScores, logger: s.logger},
		&prefixParser{key: gameStartKey, process: s.processGameStart, logger: s.logger},
		&prefixParser{key: nameKey, process: s.processNameChange, logger: s.logger},
		&prefixParser{key: voteKey, process: s.processVote, logger: s.logger},
		&prefixParser{key: recordSetKey, process: s.processRecordSet, logger: s.logger},
		&prefixParser{key: teamKey, process: func([]byte) error { return nil }, logger: s.logger},
		&prefixParser{key: chatKey, process: s.processChat, logger: s.logger},
	)
}

// splitJoinAddress classifies the address portion of a join record. The
// nickname may itself contain colons, so the address is matched first as the
// literal bot token, then as an IPv4 literal, then as an IPv6 literal, and
// only then split at the next colon.
func splitJoinAddress(rest []byte) (addr string, nickname []byte) {
	if bytes.HasPrefix(rest, []byte(botAddress+":")) {
		return botAddress, rest[len(botAddress)+1:]
	}
	if m := ipv4Re.FindSubmatch(rest); m != nil {
		return string(m[1]), m[2]
	}
	if m := ipv6Re.FindSubmatch(rest); m != nil {
		return string(m[1]), m[2]
	}
	parts := bytes.SplitN(rest, []byte{':'}, 2)
	if len(parts) == 2 {
		return string(parts[0]), parts[1]
	}
	return string(rest), nil
}

// processJoin handles ":join:<slot>:<stable>:<address>:<nickname>".
func (s *Session) processJoin(data []byte) error {
	fields := bytes.SplitN(data, []byte{':'}, 3)
	if len(fields) < 3 {
		return fmt.Errorf("join record with %d fields", len(fields))
	}
	slot, err := strconv.Atoi(string(fields[0]))
	if err != nil {
		return fmt.Errorf("bad slot index: %w", err)
	}
	stable, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return fmt.Errorf("bad stable index: %w", err)
	}
	addr, nickname := splitJoinAddress(fields[2])

	p := &Player{
		Nickname: append([]byte(nil), nickname...),
		Slot:     slot,
		Stable:   stable,
		IP:       addr,
		JoinedAt: time.Now(),
	}
	s.roster.Add(p)

	if p.IsBot() {
		return nil
	}
	s.fire(events.EventJoin, map[string]interface{}{
		"nickname": string(p.Nickname),
		"slot":     slot,
		"stable":   stable,
		"ip":       addr,
		"count":    s.roster.Len(),
	})
	return nil
}

// processPart handles ":part:<stable>".
func (s *Session) processPart(data []byte) error {
	stable, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil {
		return fmt.Errorf("bad stable index: %w", err)
	}
	p, ok := s.roster.Part(stable)
	if !ok {
		return nil
	}
	// The status row must stop counting as active or the duel pair would
	// survive a disconnect. The row moves to the departed cache so trailing
	// records can still be attributed.
	s.mu.Lock()
	if sp, cached := s.statusPlayers[p.Slot]; cached {
		s.departedPlayers[p.Slot] = sp
		delete(s.statusPlayers, p.Slot)
	}
	s.mu.Unlock()
	s.recomputeDuelPair()

	if p.IsBot() {
		return nil
	}
	s.fire(events.EventPart, map[string]interface{}{
		"nickname": string(p.Nickname),
		"stable":   stable,
		"count":    s.roster.Len(),
	})
	return nil
}

// processNameChange handles ":name:<stable>:<new nickname>".
func (s *Session) processNameChange(data []byte) error {
	fields := bytes.SplitN(data, []byte{':'}, 2)
	if len(fields) != 2 {
		return fmt.Errorf("name record with %d fields", len(fields))
	}
	stable, err := strconv.Atoi(string(fields[0]))
	if err != nil {
		return fmt.Errorf("bad stable index: %w", err)
	}
	p, old, ok := s.roster.Rename(stable, append([]byte(nil), fields[1]...))
	if !ok {
		return fmt.Errorf("name change for unknown stable index %d", stable)
	}
	s.fire(events.EventNameChange, map[string]interface{}{
		"stable":       stable,
		"old_nickname": string(old),
		"nickname":     string(p.Nickname),
	})
	return nil
}

// processChat fires the raw chat line verbatim, inline color codes included.
// Command detection (bot-nick prefix stripping) happens downstream.
func (s *Session) processChat(data []byte) error {
	s.fire(events.EventChatMessage, map[string]interface{}{
		"message": string(data),
	})
	return nil
}

// processGameStart handles ":gamestart:<gametype>_<mapname>:...".
func (s *Session) processGameStart(data []byte) error {
	head := data
	if i := bytes.IndexByte(data, ':'); i >= 0 {
		head = data[:i]
	}
	gametype, mapName, err := splitGametypeMap(string(head))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.currentGametype = gametype
	s.currentMap = mapName
	s.gameStartAt = time.Now()
	s.statusPlayers = make(map[int]StatusPlayer)
	s.departedPlayers = make(map[int]StatusPlayer)
	s.activeVote = nil
	s.duelPair = nil
	s.mu.Unlock()
	s.roster.ClearBots()

	s.fire(events.EventGameStarted, map[string]interface{}{
		"gametype": gametype,
		"map":      mapName,
	})
	return nil
}

func splitGametypeMap(s string) (gametype, mapName string, err error) {
	i := strings.Index(s, "_")
	if i < 0 {
		return "", "", fmt.Errorf("malformed gametype_map token %q", s)
	}
	return s[:i], s[i+1:], nil
}

// sortMarker suffixes a label to declare the primary sort column; the other
// marker characters annotate sort direction and are stripped from the stored
// column name.
const sortMarker = "!!"

var labelMarkers = strings.NewReplacer("!", "", "<", "", ">", "")

// scoreColumns parses a labels declaration, returning cleaned column names
// and the index of the primary sort column (-1 when none is flagged).
func scoreColumns(decl []byte) ([]string, int) {
	raw := strings.Split(string(decl), ",")
	cols := make([]string, len(raw))
	sortCol := -1
	for i, label := range raw {
		if strings.HasSuffix(label, sortMarker) {
			sortCol = i
		}
		cols[i] = labelMarkers.Replace(label)
	}
	return cols, sortCol
}

// scoreValue parses one cell: int, else float, else the raw string.
func scoreValue(cell string) interface{} {
	if n, err := strconv.Atoi(cell); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	return cell
}

// processScores handles the multi-line scoreboard block:
//
//	:scores:<gametype>_<map>:<duration seconds>
//	:labels:player:<col>,<col>!!,...
//	:player:<values>:<stable>:<team>:<nickname>
//	:labels:teamscores:<col>,...
//	:teamscores:<values>:<team>
//	:end
//
// Players sort descending by the flagged column (default "score"). After the
// GameEnded event fires, roster entries absent from the block are evicted as
// zombies with synthetic Part events.
func (s *Session) processScores(block [][]byte) error {
	if len(block) == 0 {
		return fmt.Errorf("empty scores block")
	}
	header := strings.SplitN(string(block[0]), ":", 2)
	gametype, mapName, err := splitGametypeMap(header[0])
	if err != nil {
		return err
	}
	duration := 0
	if len(header) == 2 {
		duration, _ = strconv.Atoi(header[1])
	}

	var (
		playerCols []string
		teamCols   []string
		sortBy     = "score"
		players    []map[string]interface{}
		teams      []map[string]interface{}
		present    = make(map[int]bool)
	)

	for _, line := range block[1:] {
		str := string(line)
		switch {
		case strings.HasPrefix(str, ":labels:player:"):
			cols, sortCol := scoreColumns(line[len(":labels:player:"):])
			playerCols = cols
			if sortCol >= 0 {
				sortBy = cols[sortCol]
			}
		case strings.HasPrefix(str, ":labels:teamscores:"):
			teamCols, _ = scoreColumns(line[len(":labels:teamscores:"):])
		case strings.HasPrefix(str, ":player:"):
			row, stable, err := s.scorePlayerRow(line[len(":player:"):], playerCols)
			if err != nil {
				s.logger.Warn("bad score row", "line", str, "error", err)
				continue
			}
			players = append(players, row)
			present[stable] = true
		case strings.HasPrefix(str, ":teamscores:"):
			row, err := scoreTeamRow(line[len(":teamscores:"):], teamCols)
			if err != nil {
				s.logger.Warn("bad teamscore row", "line", str, "error", err)
				continue
			}
			teams = append(teams, row)
		}
	}

	sortScoreRows(players, sortBy)

	s.fire(events.EventGameEnded, map[string]interface{}{
		"gametype":       gametype,
		"map":            mapName,
		"duration":       duration,
		"player_headers": playerCols,
		"team_headers":   teamCols,
		"players":        players,
		"teams":          teams,
	})

	for _, zombie := range s.roster.EvictAbsent(present) {
		if zombie.IsBot() {
			continue
		}
		s.fire(events.EventPart, map[string]interface{}{
			"nickname": string(zombie.Nickname),
			"stable":   zombie.Stable,
			"count":    s.roster.Len(),
			"zombie":   true,
		})
	}
	return nil
}

// scorePlayerRow parses "<v,v,...>:<stable>:<team>:<nickname>".
func (s *Session) scorePlayerRow(data []byte, cols []string) (map[string]interface{}, int, error) {
	fields := bytes.SplitN(data, []byte{':'}, 4)
	if len(fields) < 4 {
		return nil, 0, fmt.Errorf("player row with %d fields", len(fields))
	}
	stable, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return nil, 0, fmt.Errorf("bad stable index: %w", err)
	}
	team, _ := strconv.Atoi(string(fields[2]))
	nickname := fields[3]

	row := map[string]interface{}{
		"stable":   stable,
		"team":     team,
		"nickname": string(nickname),
	}
	for i, cell := range strings.Split(string(fields[0]), ",") {
		if i >= len(cols) {
			break
		}
		row[cols[i]] = scoreValue(cell)
	}
	if p, ok := s.roster.Get(stable); ok {
		row["is_bot"] = p.IsBot()
	}
	return row, stable, nil
}

// scoreTeamRow parses "<v,v,...>:<team>".
func scoreTeamRow(data []byte, cols []string) (map[string]interface{}, error) {
	fields := bytes.SplitN(data, []byte{':'}, 2)
	if len(fields) < 2 {
		return nil, fmt.Errorf("teamscore row with %d fields", len(fields))
	}
	team, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return nil, fmt.Errorf("bad team id: %w", err)
	}
	row := map[string]interface{}{"team": team}
	for i, cell := range strings.Split(string(fields[0]), ",") {
		if i >= len(cols) {
			break
		}
		row[cols[i]] = scoreValue(cell)
	}
	return row, nil
}

// sortScoreRows sorts descending by the named column, comparing numerically
// where both cells are numeric.
func sortScoreRows(rows []map[string]interface{}, col string) {
	numeric := func(v interface{}) (float64, bool) {
		switch n := v.(type) {
		case int:
			return float64(n), true
		case float64:
			return n, true
		}
		return 0, false
	}
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0; j-- {
			a, aok := numeric(rows[j][col])
			b, bok := numeric(rows[j-1][col])
			if aok && bok && a > b {
				rows[j], rows[j-1] = rows[j-1], rows[j]
			} else {
				break
			}
		}
	}
}

// Vote record subtypes, as emitted after the ":vote:" key.
var (
	voteCall = []byte("vcall:")
	voteYes  = []byte("vyes")
	voteNo   = []byte("vno")
	voteStop = []byte("vstop:")
)

// Vote is the single tracked active vote.
type Vote struct {
	Command string
	Map     string
	Caller  string
}

// processVote handles ":vote:vcall:<stable>:<command>", ":vote:vyes:",
// ":vote:vno:" and ":vote:vstop:<stable>".
func (s *Session) processVote(data []byte) error {
	switch {
	case bytes.HasPrefix(data, voteCall):
		fields := bytes.SplitN(data[len(voteCall):], []byte{':'}, 2)
		if len(fields) != 2 {
			return fmt.Errorf("vcall record with %d fields", len(fields))
		}
		stable, err := strconv.Atoi(string(fields[0]))
		if err != nil {
			return fmt.Errorf("bad stable index: %w", err)
		}
		command := string(fields[1])
		vote := &Vote{Command: command}
		if p, ok := s.roster.Get(stable); ok {
			vote.Caller = string(p.Nickname)
		}
		// A map vote carries its target so handlers can announce it.
		if rest, ok := strings.CutPrefix(command, "gotomap "); ok {
			vote.Map = strings.TrimSpace(rest)
		}
		s.mu.Lock()
		s.activeVote = vote
		s.mu.Unlock()
		s.fire(events.EventVoteCalled, map[string]interface{}{
			"command": vote.Command,
			"map":     vote.Map,
			"caller":  vote.Caller,
		})
	case bytes.HasPrefix(data, voteYes):
		s.finishVote(events.EventVoteAccepted, "")
	case bytes.HasPrefix(data, voteNo):
		s.finishVote(events.EventVoteRejected, "")
	case bytes.HasPrefix(data, voteStop):
		stopper := ""
		if stable, err := strconv.Atoi(string(bytes.TrimSpace(data[len(voteStop):]))); err == nil {
			if p, ok := s.roster.Get(stable); ok {
				stopper = string(p.Nickname)
			}
		}
		s.finishVote(events.EventVoteStopped, stopper)
	}
	return nil
}

func (s *Session) finishVote(outcome events.EventType, stopper string) {
	s.mu.Lock()
	vote := s.activeVote
	s.activeVote = nil
	s.mu.Unlock()
	data := map[string]interface{}{}
	if vote != nil {
		data["command"] = vote.Command
		data["map"] = vote.Map
		data["caller"] = vote.Caller
	}
	if stopper != "" {
		data["stopper"] = stopper
	}
	s.fire(outcome, data)
}

// processRecordSet handles ":recordset:<slot>:<position>:<result>". The
// acting player is resolved from the live roster, falling back to the
// per-connection status cache for players already gone by the time the
// record posts.
func (s *Session) processRecordSet(data []byte) error {
	fields := bytes.SplitN(data, []byte{':'}, 3)
	if len(fields) != 3 {
		return fmt.Errorf("recordset with %d fields", len(fields))
	}
	slot, err := strconv.Atoi(string(fields[0]))
	if err != nil {
		return fmt.Errorf("bad slot index: %w", err)
	}
	position, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return fmt.Errorf("bad position: %w", err)
	}
	result, err := strconv.ParseFloat(string(bytes.TrimSpace(fields[2])), 64)
	if err != nil {
		return fmt.Errorf("bad result: %w", err)
	}

	nickname := ""
	if p, ok := s.roster.BySlot(slot); ok {
		nickname = string(p.Nickname)
	} else {
		s.mu.Lock()
		if sp, ok := s.statusPlayers[slot]; ok {
			nickname = string(sp.Nickname)
		} else if sp, ok := s.departedPlayers[slot]; ok {
			nickname = string(sp.Nickname)
		}
		s.mu.Unlock()
	}
	if nickname == "" {
		return fmt.Errorf("recordset for unknown slot %d", slot)
	}

	s.fire(events.EventRecordSet, map[string]interface{}{
		"nickname": nickname,
		"position": position,
		"result":   result,
	})
	return nil
}
