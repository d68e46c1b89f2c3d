package cointoss

import (
	"fmt"
	"sort"
	"strings"
)

// BetSession lets spectators back one of the two drafters while the draft is
// open. Bets close when play starts and are announced when the match
// completes. Nothing is persisted and nothing of value changes hands; it is
// bragging rights only.
type BetSession struct {
	open      bool
	nicknames [2]string
	// bets maps a bettor's nickname to the player number they backed.
	bets map[string]int
}

// NewBetSession creates an empty, closed session.
func NewBetSession() *BetSession {
	return &BetSession{bets: make(map[string]int)}
}

// Open starts accepting bets on the named drafters.
func (b *BetSession) Open(player1, player2 string) {
	b.open = true
	b.nicknames = [2]string{player1, player2}
	b.bets = make(map[string]int)
}

// Place records one bet. Re-betting replaces the previous choice.
func (b *BetSession) Place(bettor string, choice int) error {
	if !b.open {
		return errorf("^3Betting is closed^7")
	}
	if choice != 1 && choice != 2 {
		return errorf("^3Bet on player ^21^3 or ^22^7")
	}
	b.bets[bettor] = choice
	return nil
}

// CloseBetting stops accepting bets; placed bets stay for settlement.
func (b *BetSession) CloseBetting() {
	b.open = false
}

// Clear drops everything; used when a new game starts mid-draft.
func (b *BetSession) Clear() {
	b.open = false
	b.nicknames = [2]string{}
	b.bets = make(map[string]int)
}

// Settle returns announcement lines for the given winning player number.
func (b *BetSession) Settle(winner int) []string {
	if len(b.bets) == 0 {
		return nil
	}
	var right, wrong []string
	for bettor, choice := range b.bets {
		if choice == winner {
			right = append(right, bettor)
		} else {
			wrong = append(wrong, bettor)
		}
	}
	sort.Strings(right)
	sort.Strings(wrong)

	lines := []string{fmt.Sprintf("^2Bets on %s^7: %d right, %d wrong.",
		b.nicknames[winner-1], len(right), len(wrong))}
	if len(right) > 0 {
		lines = append(lines, "^2Winners: ^7"+strings.Join(right, ", "))
	}
	return lines
}
