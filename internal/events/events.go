// Package events defines the domain event types emitted by RCON sessions and
// the registry that routes them to handlers. Handlers are registered
// explicitly at startup; there is no discovery or reflection.
package events

import "time"

// EventType identifies a kind of domain event.
type EventType int

const (
	EventServerConnect EventType = iota
	EventServerDisconnect
	EventJoin
	EventPart
	EventNameChange
	EventChatMessage
	EventGameStarted
	EventGameEnded
	EventVoteCalled
	EventVoteAccepted
	EventVoteRejected
	EventVoteStopped
	EventRecordSet
	EventDuelPairFormed
	EventDuelEndedPrematurely
	EventCointossChoiceComplete
	EventMatchComplete
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventServerConnect:
		return "server_connect"
	case EventServerDisconnect:
		return "server_disconnect"
	case EventJoin:
		return "join"
	case EventPart:
		return "part"
	case EventNameChange:
		return "name_change"
	case EventChatMessage:
		return "chat_message"
	case EventGameStarted:
		return "game_started"
	case EventGameEnded:
		return "game_ended"
	case EventVoteCalled:
		return "vote_called"
	case EventVoteAccepted:
		return "vote_accepted"
	case EventVoteRejected:
		return "vote_rejected"
	case EventVoteStopped:
		return "vote_stopped"
	case EventRecordSet:
		return "record_set"
	case EventDuelPairFormed:
		return "duel_pair_formed"
	case EventDuelEndedPrematurely:
		return "duel_ended_prematurely"
	case EventCointossChoiceComplete:
		return "cointoss_choice_complete"
	case EventMatchComplete:
		return "match_complete"
	default:
		return "unknown"
	}
}

// Event is one domain event with its free-form property map.
type Event struct {
	Type      EventType
	Server    string // session name the event originated from
	Timestamp time.Time
	Data      map[string]interface{}
}

// Firer is the narrow interface components use to emit events.
type Firer interface {
	Fire(eventType EventType, server string, data map[string]interface{})
}
