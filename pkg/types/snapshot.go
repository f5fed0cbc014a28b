package types

import "time"

// RoundSummary is what every client renders on the results screen.
type RoundSummary struct {
	Code                string      `json:"code"`
	Round               int         `json:"round"`
	TotalRounds         int         `json:"total_rounds"`
	Target              Coord       `json:"target"`
	Panorama            string      `json:"panorama,omitempty"`
	Phase               string      `json:"phase"` // "awaiting_entries" | "round_complete" | "advancing" | "ended"
	Ended               bool        `json:"ended"`
	Complete            bool        `json:"complete"`
	Rows                []PlayerRow `json:"rows"`
	BestRoundScore      *int        `json:"best_round_score,omitempty"` // nil until someone has a final entry
	BestCumulativeScore int         `json:"best_cumulative_score"`
	OwnerName           string      `json:"owner_name"`
}

type PlayerRow struct {
	Player    Player `json:"player"`
	Entry     *Entry `json:"entry,omitempty"` // nil while pending
	BestRound bool   `json:"best_round"`
	Leading   bool   `json:"leading"`
	Perfect   bool   `json:"perfect"`
}

type Player struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Icon    string `json:"icon,omitempty"`
	Score   int    `json:"score"`
	IsOwner bool   `json:"is_owner"`
}

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Entry struct {
	Round     int        `json:"round"`
	PlayerID  string     `json:"player_id"`
	Position  *Coord     `json:"position,omitempty"`
	Distance  float64    `json:"distance"`
	Score     int        `json:"score"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Display forms, filled by the server.
	DistanceText string `json:"distance_text,omitempty"`
	DurationText string `json:"duration_text,omitempty"`
	PositionText string `json:"position_text,omitempty"`
}

type Intent struct {
	Kind  string `json:"kind"` // "none" | "blocked" | "next_round" | "summary"
	Round int    `json:"round,omitempty"`
}
