package engine

import (
	"errors"
	"fmt"
)

// Snapshot is the authoritative game state used to rebuild a session.
type Snapshot struct {
	Game    Game
	Round   Round
	Players []Player
	Entries []Entry
}

func NewState(game Game, first Round, roster *Roster) State {
	s := State{
		Game:    game,
		Round:   first,
		Entries: NewEntryStore(),
		Roster:  roster,
	}
	s.Game.Ended = false
	s.Phase = DerivePhase(s)
	return s
}

// Restore rebuilds a State from a snapshot. Player scores are taken as-is;
// entries are not re-applied to them.
func Restore(snap Snapshot) (State, error) {
	roster, err := NewRoster(snap.Players...)
	if err != nil {
		return State{}, err
	}

	s := NewState(snap.Game, snap.Round, roster)
	for _, e := range snap.Entries {
		if _, ok := roster.Player(e.PlayerID); !ok {
			return State{}, fmt.Errorf("snapshot entry from %q: %w", e.PlayerID, ErrUnknownPlayer)
		}
		if err := s.Entries.Record(e.Round, e.PlayerID, e); err != nil && !errors.Is(err, ErrStaleWrite) {
			return State{}, err
		}
	}

	s.Phase = PhaseAwaitingEntries
	settle(&s)
	return s, nil
}

// Clone returns a State that shares nothing mutable with s.
func (s State) Clone() State {
	c := s
	if s.Entries != nil {
		c.Entries = s.Entries.Clone()
	}
	if s.Roster != nil {
		c.Roster = s.Roster.Clone()
	}
	return c
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// DerivePhase reports the phase a freshly loaded round is in. Advancing and
// Ended only come from an advance, never from the entries alone.
func DerivePhase(s State) Phase {
	if IsRoundComplete(s.Entries, s.Roster, s.Round.Index) {
		return PhaseRoundComplete
	}
	return PhaseAwaitingEntries
}
