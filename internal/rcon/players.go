package rcon

import (
	"sync"
	"time"
)

// botAddress is the address token the server logs for bot clients.
const botAddress = "bot"

// Player is one connected client as seen through the event log.
type Player struct {
	// Nickname is raw, color-coded bytes straight off the wire.
	Nickname []byte
	// Slot is the connection-slot number, reused across connects.
	Slot int
	// Stable identifies the player for the lifetime of one connection and
	// is the primary roster key.
	Stable int
	// IP is a literal address, or "bot" for bot clients.
	IP string
	// CryptoIDFP is the optional crypto fingerprint, when the server
	// reports one.
	CryptoIDFP string
	JoinedAt   time.Time
}

// IsBot reports whether this roster entry is a server-side bot.
func (p *Player) IsBot() bool { return p.IP == botAddress }

// Roster tracks the players currently on the server. Entries are keyed by
// stable index; the slot map is secondary and last-join-wins when two joins
// claim the same slot.
type Roster struct {
	mu       sync.RWMutex
	byStable map[int]*Player
	bySlot   map[int]*Player
	// MaxSlots and Active come from the periodic status probe, not the
	// event log.
	MaxSlots int
	Active   int
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{
		byStable: make(map[int]*Player),
		bySlot:   make(map[int]*Player),
	}
}

// Add registers a player. A new player claiming an occupied slot supersedes
// the previous slot mapping; the stable index always wins on identity.
func (r *Roster) Add(p *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byStable[p.Stable]; ok && old.Slot != p.Slot && r.bySlot[old.Slot] == old {
		delete(r.bySlot, old.Slot)
	}
	r.byStable[p.Stable] = p
	r.bySlot[p.Slot] = p
}

// Part removes the player with the given stable index and returns it.
func (r *Roster) Part(stable int) (*Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byStable[stable]
	if !ok {
		return nil, false
	}
	delete(r.byStable, stable)
	if r.bySlot[p.Slot] == p {
		delete(r.bySlot, p.Slot)
	}
	return p, true
}

// Rename updates a player's nickname in place, returning the old nickname.
func (r *Roster) Rename(stable int, nickname []byte) (*Player, []byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byStable[stable]
	if !ok {
		return nil, nil, false
	}
	old := p.Nickname
	p.Nickname = nickname
	return p, old, true
}

// Get looks a player up by stable index.
func (r *Roster) Get(stable int) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byStable[stable]
	return p, ok
}

// BySlot looks a player up by connection slot.
func (r *Roster) BySlot(slot int) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.bySlot[slot]
	return p, ok
}

// Players returns a snapshot of all roster entries.
func (r *Roster) Players() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Player, 0, len(r.byStable))
	for _, p := range r.byStable {
		out = append(out, p)
	}
	return out
}

// Len returns the number of tracked players.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byStable)
}

// ClearBots drops bot entries. The server rebuilds bots each round, so their
// roster entries are only noise across a game start.
func (r *Roster) ClearBots() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for stable, p := range r.byStable {
		if p.IsBot() {
			delete(r.byStable, stable)
			if r.bySlot[p.Slot] == p {
				delete(r.bySlot, p.Slot)
			}
		}
	}
}

// Clear drops every entry.
func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byStable = make(map[int]*Player)
	r.bySlot = make(map[int]*Player)
}

// EvictAbsent removes every entry whose stable index is not in present and
// returns the evicted players. This is the zombie-entry self-heal driven by
// score blocks: a part record the log stream dropped shows up as a roster
// entry missing from the next scoreboard.
func (r *Roster) EvictAbsent(present map[int]bool) []*Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []*Player
	for stable, p := range r.byStable {
		if present[stable] {
			continue
		}
		delete(r.byStable, stable)
		if r.bySlot[p.Slot] == p {
			delete(r.bySlot, p.Slot)
		}
		evicted = append(evicted, p)
	}
	return evicted
}
