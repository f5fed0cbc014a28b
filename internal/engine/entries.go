package engine

import (
	"cmp"
	"fmt"
	"slices"
)

type EntryKey struct {
	Round    int
	PlayerID string
}

type EntrySet map[EntryKey]Entry

// EntryStore holds every entry of a game keyed by round and player.
// Nothing is ever deleted.
type EntryStore struct {
	entries EntrySet
}

func NewEntryStore() *EntryStore {
	return &EntryStore{entries: make(EntrySet)}
}

// Record stores e under (round, playerID). A pending entry may be replaced;
// a final one may not.
func (es *EntryStore) Record(round int, playerID string, e Entry) error {
	key := EntryKey{Round: round, PlayerID: playerID}
	if cur, ok := es.entries[key]; ok && cur.IsFinal() {
		return fmt.Errorf("round %d player %q: %w", round, playerID, ErrStaleWrite)
	}
	e.Round, e.PlayerID = round, playerID
	es.entries[key] = e
	return nil
}

func (es *EntryStore) Get(round int, playerID string) (Entry, bool) {
	e, ok := es.entries[EntryKey{Round: round, PlayerID: playerID}]
	return e, ok
}

// EntriesFor returns the entries recorded so far for round, keyed by player.
func (es *EntryStore) EntriesFor(round int) map[string]Entry {
	out := make(map[string]Entry)
	for key, e := range es.entries {
		if key.Round == round {
			out[key.PlayerID] = e
		}
	}
	return out
}

func (es *EntryStore) All() EntrySet {
	out := make(EntrySet, len(es.entries))
	for key, e := range es.entries {
		out[key] = e
	}
	return out
}

func (es *EntryStore) Clone() *EntryStore {
	return &EntryStore{entries: es.All()}
}

func (es *EntryStore) Len() int { return len(es.entries) }

// Diff returns the entries of a full remote set that would change the store,
// ordered by round then player.
func (es *EntryStore) Diff(remote EntrySet) []Entry {
	var out []Entry
	for key, e := range remote {
		cur, ok := es.entries[key]
		if ok && (cur.IsFinal() || !e.IsFinal()) {
			continue
		}
		e.Round, e.PlayerID = key.Round, key.PlayerID
		out = append(out, e)
	}

	slices.SortFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(a.Round, b.Round); c != 0 {
			return c
		}
		return cmp.Compare(a.PlayerID, b.PlayerID)
	})
	return out
}
