package engine

import "slices"

// IsRoundComplete reports whether every player has a final entry for round.
// A game without players is never complete.
func IsRoundComplete(es *EntryStore, r *Roster, round int) bool {
	if r.Len() == 0 {
		return false
	}
	for _, p := range r.players {
		e, ok := es.Get(round, p.ID)
		if !ok || !e.IsFinal() {
			return false
		}
	}
	return true
}

// BestRoundScore is the highest score among final entries of round.
func BestRoundScore(es *EntryStore, round int) (int, bool) {
	best, found := 0, false
	for _, e := range es.EntriesFor(round) {
		if !e.IsFinal() {
			continue
		}
		if !found || e.Score > best {
			best, found = e.Score, true
		}
	}
	return best, found
}

// RoundLeaders returns every player sharing the best score of round, sorted by id.
func RoundLeaders(es *EntryStore, round int) []string {
	best, ok := BestRoundScore(es, round)
	if !ok {
		return nil
	}
	var ids []string
	for id, e := range es.EntriesFor(round) {
		if e.IsFinal() && e.Score == best {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func BestCumulativeScore(r *Roster) int {
	best := 0
	for _, p := range r.players {
		best = max(best, p.Score)
	}
	return best
}

// Leaders returns every player at the best cumulative score, in join order.
func Leaders(r *Roster) []string {
	if r.Len() == 0 {
		return nil
	}
	best := BestCumulativeScore(r)
	var ids []string
	for _, p := range r.players {
		if p.Score == best {
			ids = append(ids, p.ID)
		}
	}
	return ids
}
