package engine

import "slices"

type PlayerRow struct {
	Player    Player
	Entry     *Entry // nil while the player has no final entry
	BestRound bool
	Leading   bool
}

func (r PlayerRow) Pending() bool { return r.Entry == nil }

type RoundSummary struct {
	Game                Game
	Round               Round
	Phase               Phase
	Rows                []PlayerRow
	BestRoundScore      int
	HasBestRound        bool
	BestCumulativeScore int
	Complete            bool
	OwnerName           string
}

func Summarize(s State) RoundSummary {
	best, hasBest := BestRoundScore(s.Entries, s.Round.Index)
	roundLeaders := RoundLeaders(s.Entries, s.Round.Index)
	leaders := Leaders(s.Roster)

	sum := RoundSummary{
		Game:                s.Game,
		Round:               s.Round,
		Phase:               s.Phase,
		BestRoundScore:      best,
		HasBestRound:        hasBest,
		BestCumulativeScore: BestCumulativeScore(s.Roster),
		Complete:            IsRoundComplete(s.Entries, s.Roster, s.Round.Index),
		OwnerName:           s.Roster.Owner().Name,
	}

	for _, p := range s.Roster.AllPlayers() {
		row := PlayerRow{
			Player:  p,
			Leading: slices.Contains(leaders, p.ID),
		}
		if e, ok := s.Entries.Get(s.Round.Index, p.ID); ok && e.IsFinal() {
			row.Entry = &e
			row.BestRound = slices.Contains(roundLeaders, p.ID)
		}
		sum.Rows = append(sum.Rows, row)
	}
	return sum
}
