package commands

import (
	"fmt"
	"math/rand"
	"strings"

	"xonbot/internal/cointoss"
	"xonbot/internal/colors"
	"xonbot/internal/rcon"
)

// Server is the read-only view of a game server session the command handlers
// need. *rcon.Session satisfies it.
type Server interface {
	CurrentDuelPair() (rcon.DuelPair, bool)
	Roster() *rcon.Roster
	MapList() []string
	CurrentMap() string
}

// GameDeps are the collaborators of one server's command tree.
type GameDeps struct {
	Toss   *cointoss.Cointosser
	Server Server
	// Flip is the coin; injectable for tests. Nil means a fair rand flip.
	Flip func() bool
}

// NewGameTree builds the chat command tree for one game server.
func NewGameTree(deps GameDeps) *Container {
	if deps.Flip == nil {
		deps.Flip = func() bool { return rand.Intn(2) == 0 }
	}

	root := NewContainer("", "")

	toss := NewContainer("cointoss", "^2cointoss heads^5|^2tails ^3- flip for draft priority")
	toss.AddLeaf("heads", "^2cointoss heads", deps.flipHandler(true))
	toss.AddLeaf("tails", "^2cointoss tails", deps.flipHandler(false))
	root.Add(toss)

	root.AddLeaf("pick", "^2pick ^5<map> ^3- draft a map to play", deps.actionHandler(cointoss.ActionPick))
	root.AddLeaf("drop", "^1drop ^5<map> ^3- remove a map from the draft", deps.actionHandler(cointoss.ActionDrop))
	root.AddLeaf("skip", "^1skip ^5<map> ^3- forfeit a map to your opponent", deps.actionHandler(cointoss.ActionSkip))

	status := func(ctx *Context, args []string) error {
		ctx.Reply(deps.Toss.FormatStatus())
		return nil
	}
	root.AddLeaf("status", "^2status ^3- show the draft and match state", status)
	root.AddLeaf("score", "^2score ^3- alias for status", status)

	root.AddLeaf("who", "^2who ^3- list connected players", deps.whoHandler)
	root.AddLeaf("maps", "^2maps ^3- list the server map list", deps.mapsHandler)
	root.AddLeaf("bet", "^2bet ^51^5|^52 ^3- back a drafter before play starts", deps.betHandler)
	root.AddLeaf("help", "^2help ^3- this listing", func(ctx *Context, args []string) error {
		ctx.Reply(root.Help())
		return nil
	})

	return root
}

// flipHandler activates the draft from the current duel pair. The caller must
// be one of the duellists; the flip decides who drafts first.
func (d GameDeps) flipHandler(heads bool) HandlerFunc {
	return func(ctx *Context, args []string) error {
		pair, ok := d.Server.CurrentDuelPair()
		if !ok {
			return &cointoss.Error{Message: "^3No duel in progress^7; ^3need exactly two active players."}
		}
		caller := colors.StripString(ctx.Caller.Nickname)
		var me, opponent cointoss.Player
		switch caller {
		case colors.StripString(pair.Nicknames[0]):
			me = cointoss.Player{Nickname: pair.Nicknames[0]}
			opponent = cointoss.Player{Nickname: pair.Nicknames[1]}
		case colors.StripString(pair.Nicknames[1]):
			me = cointoss.Player{Nickname: pair.Nicknames[1]}
			opponent = cointoss.Player{Nickname: pair.Nicknames[0]}
		default:
			return &cointoss.Error{Message: "^3Only the duelling players can call the toss^7"}
		}

		landedHeads := d.Flip()
		won := landedHeads == heads
		winner, loser := me, opponent
		if !won {
			winner, loser = opponent, me
		}
		side := "tails"
		if landedHeads {
			side = "heads"
		}
		if err := d.Toss.Activate(winner, loser); err != nil {
			return err
		}
		ctx.Reply([]string{fmt.Sprintf("^3The coin lands ^2%s^7. ^2%s ^3drafts first.", side, winner.Nickname)})
		ctx.Reply(d.Toss.FormatStatus())
		return nil
	}
}

func (d GameDeps) actionHandler(action cointoss.Action) HandlerFunc {
	return func(ctx *Context, args []string) error {
		if len(args) != 1 {
			return &cointoss.Error{Message: fmt.Sprintf("^3Usage: ^2%s ^5<map>^7", strings.ToLower(action.String()))}
		}
		if err := d.Toss.DoAction(ctx.Caller, action, args[0]); err != nil {
			return err
		}
		ctx.Reply(d.Toss.FormatStatus())
		return nil
	}
}

func (d GameDeps) whoHandler(ctx *Context, args []string) error {
	players := d.Server.Roster().Players()
	if len(players) == 0 {
		ctx.Reply([]string{"^3Nobody is on the server."})
		return nil
	}
	names := make([]string, 0, len(players))
	for _, p := range players {
		if p.IsBot() {
			continue
		}
		names = append(names, string(p.Nickname)+"^7")
	}
	if len(names) == 0 {
		ctx.Reply([]string{"^3Only bots are on the server."})
		return nil
	}
	ctx.Reply([]string{fmt.Sprintf("^3Players (%d): ^7%s", len(names), strings.Join(names, ", "))})
	return nil
}

func (d GameDeps) mapsHandler(ctx *Context, args []string) error {
	maps := d.Server.MapList()
	if len(maps) == 0 {
		ctx.Reply([]string{"^3Map list not known yet."})
		return nil
	}
	ctx.Reply([]string{fmt.Sprintf("^3Maps (%d): ^5%s^7", len(maps), strings.Join(maps, ", "))})
	return nil
}

func (d GameDeps) betHandler(ctx *Context, args []string) error {
	if len(args) != 1 || (args[0] != "1" && args[0] != "2") {
		return &cointoss.Error{Message: "^3Usage: ^2bet ^51^3 or ^2bet ^52^7"}
	}
	choice := 1
	if args[0] == "2" {
		choice = 2
	}
	if err := d.Toss.Bets.Place(colors.StripString(ctx.Caller.Nickname), choice); err != nil {
		return err
	}
	players := d.Toss.Players()
	ctx.Reply([]string{fmt.Sprintf("^2%s ^3bets on ^2%s^7",
		colors.StripString(ctx.Caller.Nickname), players[choice-1].Nickname)})
	return nil
}

// chatSeparator splits "nick^7: message" chat records; the nickname side may
// itself contain color codes but never the literal separator.
const chatSeparator = "^7: "

// ExtractCommand splits a raw chat record into the caller's nickname and a
// bot-directed command line. Commands address the bot by nick ("xonbot: pick
// foo" or "xonbot, pick foo") or use the ! prefix ("!pick foo").
func ExtractCommand(message, botNick string) (caller, command string, ok bool) {
	i := strings.Index(message, chatSeparator)
	if i < 0 {
		return "", "", false
	}
	caller = message[:i]
	body := strings.TrimSpace(message[i+len(chatSeparator):])

	if rest, found := strings.CutPrefix(body, "!"); found {
		return caller, strings.TrimSpace(rest), rest != ""
	}
	for _, sep := range []string{": ", ", "} {
		if rest, found := strings.CutPrefix(body, botNick+sep); found {
			return caller, strings.TrimSpace(rest), strings.TrimSpace(rest) != ""
		}
	}
	return "", "", false
}
