package engine

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrStaleWrite = errors.New("entry already final")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrNotReady = errors.New("round not complete")
var ErrNotOwner = errors.New("only the owner can start the next round")
var ErrStateDesync = errors.New("round index out of sync")
var ErrInvalidEntry = errors.New("invalid entry")
var ErrOwnerCount = errors.New("game needs exactly one owner")
var ErrDuplicatePlayer = errors.New("duplicate player")
var ErrUnsupportedCommand = errors.New("unsupported command")

// MaxScore is the score of a perfect guess.
const MaxScore = 5000

type Phase string

const (
	PhaseAwaitingEntries Phase = "awaiting_entries"
	PhaseRoundComplete   Phase = "round_complete"
	PhaseAdvancing       Phase = "advancing"
	PhaseEnded           Phase = "ended"
)

type Coord struct {
	Lat float64
	Lng float64
}

type Player struct {
	ID      string
	Name    string
	Icon    string
	Score   int // cumulative over all rounds
	IsOwner bool
}

// Entry is one player's guess for one round. It stays pending until Position
// is set and is never mutated after that.
type Entry struct {
	Round     int
	PlayerID  string
	Position  *Coord
	Distance  float64 // meters
	Score     int
	StartedAt *time.Time
	EndedAt   *time.Time
}

func (e Entry) IsFinal() bool { return e.Position != nil }

func (e Entry) IsPerfect() bool { return e.IsFinal() && e.Score == MaxScore }

func (e Entry) Duration() (time.Duration, bool) {
	if e.StartedAt == nil || e.EndedAt == nil {
		return 0, false
	}
	return e.EndedAt.Sub(*e.StartedAt), true
}

func (e Entry) Validate() error {
	if e.Round < 1 {
		return fmt.Errorf("round %d: %w", e.Round, ErrInvalidEntry)
	}
	if e.PlayerID == "" {
		return fmt.Errorf("missing player: %w", ErrInvalidEntry)
	}
	if !e.IsFinal() {
		return nil
	}
	if e.Score < 0 || e.Score > MaxScore {
		return fmt.Errorf("score %d outside 0..%d: %w", e.Score, MaxScore, ErrInvalidEntry)
	}
	if e.Distance < 0 || math.IsNaN(e.Distance) || math.IsInf(e.Distance, 0) {
		return fmt.Errorf("distance %v: %w", e.Distance, ErrInvalidEntry)
	}
	return nil
}

type Round struct {
	Index    int
	Target   Coord
	Panorama string
}

type Game struct {
	Code        string
	TotalRounds int
	IsMulti     bool
	Ended       bool
}

type State struct {
	Game    Game
	Round   Round
	Phase   Phase
	Entries *EntryStore
	Roster  *Roster
}

type CommandType string

const (
	CmdRecordEntry CommandType = "RecordEntry"
	CmdAdvance     CommandType = "Advance"
	CmdStartRound  CommandType = "StartRound"
)

/*
	CmdRecordEntry -> EvtEntryRecorded -> EvtRoundCompleted -> EvtGameEnded
	CmdAdvance     -> EvtAdvanced (no event when the call is a repeat)
	CmdStartRound  -> EvtRoundStarted -> EvtRoundCompleted if entries were already in
*/

type Command struct {
	Type     CommandType
	PlayerID string
	Round    int // advance: the round the caller was looking at, 0 if unknown
	Entry    Entry
	Next     Round
}

type EventType string

const (
	EvtEntryRecorded  EventType = "EntryRecorded"
	EvtRoundCompleted EventType = "RoundCompleted"
	EvtGameEnded      EventType = "GameEnded"
	EvtAdvanced       EventType = "Advanced"
	EvtRoundStarted   EventType = "RoundStarted"
)

type Event struct {
	Type     EventType
	Round    int
	PlayerID string
	Score    int
}

type IntentKind string

const (
	IntentNone      IntentKind = "none"
	IntentBlocked   IntentKind = "blocked"
	IntentNextRound IntentKind = "next_round"
	IntentSummary   IntentKind = "summary"
)

// Intent is what the presentation layer should navigate to after an advance.
type Intent struct {
	Kind  IntentKind
	Round int // set for IntentNextRound
}

var noIntent = Intent{Kind: IntentNone}
var blocked = Intent{Kind: IntentBlocked}

func nextRound(index int) Intent { return Intent{Kind: IntentNextRound, Round: index} }

func summary() Intent { return Intent{Kind: IntentSummary} }

func Apply(s State, cmd Command) ([]Event, Intent, State, error) {
	switch cmd.Type {
	case CmdRecordEntry:
		events, newState, err := recordEntry(s, cmd.Entry)
		return events, noIntent, newState, err

	case CmdAdvance:
		return advance(s, cmd.PlayerID, cmd.Round)

	case CmdStartRound:
		events, newState, err := startRound(s, cmd.Next)
		return events, noIntent, newState, err

	default:
		return nil, noIntent, s, ErrUnsupportedCommand
	}
}

func recordEntry(s State, e Entry) ([]Event, State, error) {
	if _, ok := s.Roster.Player(e.PlayerID); !ok {
		return nil, s, fmt.Errorf("entry from %q: %w", e.PlayerID, ErrUnknownPlayer)
	}
	if err := e.Validate(); err != nil {
		return nil, s, err
	}

	if err := s.Entries.Record(e.Round, e.PlayerID, e); err != nil {
		if errors.Is(err, ErrStaleWrite) {
			// Re-delivery of an entry we already hold.
			return nil, s, nil
		}
		return nil, s, err
	}

	events := []Event{{Type: EvtEntryRecorded, Round: e.Round, PlayerID: e.PlayerID, Score: e.Score}}
	if e.IsFinal() {
		if err := s.Roster.ApplyRoundScore(e.PlayerID, e.Score); err != nil {
			return nil, s, err
		}
	}

	newState := s
	events = append(events, settle(&newState)...)
	return events, newState, nil
}

func advance(s State, playerID string, seen int) ([]Event, Intent, State, error) {
	p, ok := s.Roster.Player(playerID)
	if !ok {
		return nil, blocked, s, fmt.Errorf("advance by %q: %w", playerID, ErrUnknownPlayer)
	}

	// The caller is still looking at a round we already moved past.
	if seen > 0 && seen < s.Round.Index {
		return nil, nextRound(s.Round.Index), s, nil
	}

	switch s.Phase {
	case PhaseAdvancing:
		return nil, nextRound(s.Round.Index + 1), s, nil

	case PhaseEnded:
		return nil, summary(), s, nil

	case PhaseRoundComplete:
		newState := s
		events := []Event{{Type: EvtAdvanced, Round: s.Round.Index, PlayerID: playerID}}

		// Showing the summary mutates no round state, so anyone may trigger it.
		if s.Game.Ended {
			newState.Phase = PhaseEnded
			return events, summary(), newState, nil
		}
		if !p.IsOwner {
			return nil, blocked, s, ErrNotOwner
		}
		newState.Phase = PhaseAdvancing
		return events, nextRound(s.Round.Index + 1), newState, nil

	default:
		return nil, blocked, s, fmt.Errorf("round %d: %w", s.Round.Index, ErrNotReady)
	}
}

func startRound(s State, next Round) ([]Event, State, error) {
	if next.Index == s.Round.Index {
		return nil, s, nil
	}
	if next.Index != s.Round.Index+1 || next.Index > s.Game.TotalRounds {
		return nil, s, fmt.Errorf("round %d after %d of %d: %w", next.Index, s.Round.Index, s.Game.TotalRounds, ErrStateDesync)
	}

	newState := s
	newState.Round = next
	newState.Phase = PhaseAwaitingEntries
	events := []Event{{Type: EvtRoundStarted, Round: next.Index}}

	// Entries for the new round may have arrived before the round index did.
	events = append(events, settle(&newState)...)
	return events, newState, nil
}

// settle moves an awaiting round to complete once every player is final.
func settle(s *State) []Event {
	if s.Phase != PhaseAwaitingEntries || !IsRoundComplete(s.Entries, s.Roster, s.Round.Index) {
		return nil
	}

	s.Phase = PhaseRoundComplete
	events := []Event{{Type: EvtRoundCompleted, Round: s.Round.Index}}
	if s.Round.Index == s.Game.TotalRounds {
		s.Game.Ended = true
		events = append(events, Event{Type: EvtGameEnded, Round: s.Round.Index})
	}
	return events
}

// CanAdvance reports whether an advance by playerID would do something now.
// A session that is already advancing has nothing left to trigger.
func CanAdvance(s State, playerID string) bool {
	if s.Phase == PhaseAdvancing {
		return false
	}
	_, intent, _, err := Apply(s, Command{Type: CmdAdvance, PlayerID: playerID})
	return err == nil && intent.Kind != IntentBlocked
}
