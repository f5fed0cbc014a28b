package types

// HTTP

type NewRound struct {
	Target   Coord  `json:"target"`
	Panorama string `json:"panorama,omitempty"`
}

type CreateGameRequest struct {
	IsMulti bool       `json:"is_multi"`
	Rounds  []NewRound `json:"rounds"` // numbered from 1 in order
	Owner   NewPlayer  `json:"owner"`
}

type NewPlayer struct {
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

type CreateGameResponse struct {
	Code        string `json:"code"`
	TotalRounds int    `json:"total_rounds"`
	Owner       Player `json:"owner"`
}

type JoinResponse struct {
	Player Player `json:"player"`
}

type SubmitEntryResponse struct {
	Duplicate bool `json:"duplicate"` // the entry was already final, nothing changed
}

type AdvanceRequest struct {
	PlayerID string `json:"player_id"`
	Round    int    `json:"round"` // the round the caller is looking at
}

type AdvanceResponse struct {
	Intent Intent `json:"intent"`
}

type CanAdvanceResponse struct {
	CanAdvance bool `json:"can_advance"`
}

// Websocket

// Client -> Server
//   SubmitEntry: entry
//   Advance:     round
type ClientMessage struct {
	Type  string `json:"type"`
	Entry *Entry `json:"entry,omitempty"`
	Round int    `json:"round,omitempty"`
}

// Server -> Client
//   RoundSummary:  version, resync, summary
//   AdvanceResult: intent, error
//   Error:         error
type ServerMessage struct {
	Type    string        `json:"type"`
	Version int           `json:"version,omitempty"`
	Resync  bool          `json:"resync,omitempty"`
	Summary *RoundSummary `json:"summary,omitempty"`
	Intent  *Intent       `json:"intent,omitempty"`
	Error   string        `json:"error,omitempty"`
}
