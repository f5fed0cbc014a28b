// Package types converts between engine values and the JSON messages in
// pkg/types.
package types

import (
	"github.com/DoyleJ11/guessr-backend/internal/engine"
	wire "github.com/DoyleJ11/guessr-backend/pkg/types"
)

const (
	MsgSubmitEntry   = "SubmitEntry"
	MsgAdvance       = "Advance"
	MsgRoundSummary  = "RoundSummary"
	MsgAdvanceResult = "AdvanceResult"
	MsgError         = "Error"
)

func Summary(s engine.RoundSummary) wire.RoundSummary {
	out := wire.RoundSummary{
		Code:                s.Game.Code,
		Round:               s.Round.Index,
		TotalRounds:         s.Game.TotalRounds,
		Target:              Coord(s.Round.Target),
		Panorama:            s.Round.Panorama,
		Phase:               string(s.Phase),
		Ended:               s.Game.Ended,
		Complete:            s.Complete,
		Rows:                make([]wire.PlayerRow, 0, len(s.Rows)),
		BestCumulativeScore: s.BestCumulativeScore,
		OwnerName:           s.OwnerName,
	}
	if s.HasBestRound {
		best := s.BestRoundScore
		out.BestRoundScore = &best
	}

	for _, row := range s.Rows {
		r := wire.PlayerRow{
			Player:    Player(row.Player),
			BestRound: row.BestRound,
			Leading:   row.Leading,
		}
		if row.Entry != nil {
			e := Entry(*row.Entry)
			r.Entry = &e
			r.Perfect = row.Entry.IsPerfect()
		}
		out.Rows = append(out.Rows, r)
	}
	return out
}

func Player(p engine.Player) wire.Player {
	return wire.Player{ID: p.ID, Name: p.Name, Icon: p.Icon, Score: p.Score, IsOwner: p.IsOwner}
}

func Coord(c engine.Coord) wire.Coord {
	return wire.Coord{Lat: c.Lat, Lng: c.Lng}
}

func Entry(e engine.Entry) wire.Entry {
	out := wire.Entry{
		Round:        e.Round,
		PlayerID:     e.PlayerID,
		Distance:     e.Distance,
		Score:        e.Score,
		StartedAt:    e.StartedAt,
		EndedAt:      e.EndedAt,
		DistanceText: engine.FormatDistance(e.Distance),
	}
	if e.Position != nil {
		c := Coord(*e.Position)
		out.Position = &c
		out.PositionText = engine.FormatCoord(*e.Position)
	}
	if d, ok := e.Duration(); ok {
		out.DurationText = engine.FormatDuration(d)
	}
	return out
}

// ToEntry is the inverse of Entry. Display fields are ignored.
func ToEntry(e wire.Entry) engine.Entry {
	out := engine.Entry{
		Round:     e.Round,
		PlayerID:  e.PlayerID,
		Distance:  e.Distance,
		Score:     e.Score,
		StartedAt: e.StartedAt,
		EndedAt:   e.EndedAt,
	}
	if e.Position != nil {
		out.Position = &engine.Coord{Lat: e.Position.Lat, Lng: e.Position.Lng}
	}
	return out
}

func Intent(i engine.Intent) wire.Intent {
	return wire.Intent{Kind: string(i.Kind), Round: i.Round}
}

func Rounds(in []wire.NewRound) []engine.Round {
	rounds := make([]engine.Round, len(in))
	for i, s := range in {
		rounds[i] = engine.Round{
			Index:    i + 1,
			Target:   engine.Coord{Lat: s.Target.Lat, Lng: s.Target.Lng},
			Panorama: s.Panorama,
		}
	}
	return rounds
}
