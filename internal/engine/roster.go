package engine

import "fmt"

// Roster is the ordered set of players in a game. Order is join order.
type Roster struct {
	players []Player
	index   map[string]int
}

func NewRoster(players ...Player) (*Roster, error) {
	r := &Roster{index: make(map[string]int, len(players))}
	owners := 0
	for _, p := range players {
		if _, ok := r.index[p.ID]; ok {
			return nil, fmt.Errorf("player %q: %w", p.ID, ErrDuplicatePlayer)
		}
		if p.IsOwner {
			owners++
		}
		r.index[p.ID] = len(r.players)
		r.players = append(r.players, p)
	}
	if owners != 1 {
		return nil, fmt.Errorf("%d owners: %w", owners, ErrOwnerCount)
	}
	return r, nil
}

func (r *Roster) AllPlayers() []Player {
	out := make([]Player, len(r.players))
	copy(out, r.players)
	return out
}

func (r *Roster) Clone() *Roster {
	c := &Roster{players: r.AllPlayers(), index: make(map[string]int, len(r.index))}
	for id, i := range r.index {
		c.index[id] = i
	}
	return c
}

func (r *Roster) Player(id string) (Player, bool) {
	i, ok := r.index[id]
	if !ok {
		return Player{}, false
	}
	return r.players[i], true
}

func (r *Roster) Owner() Player {
	for _, p := range r.players {
		if p.IsOwner {
			return p
		}
	}
	return Player{}
}

func (r *Roster) Len() int { return len(r.players) }

// Join appends a late joiner. Ownership is fixed at creation.
func (r *Roster) Join(p Player) error {
	if p.IsOwner {
		return fmt.Errorf("join %q: %w", p.ID, ErrOwnerCount)
	}
	if _, ok := r.index[p.ID]; ok {
		return fmt.Errorf("join %q: %w", p.ID, ErrDuplicatePlayer)
	}
	r.index[p.ID] = len(r.players)
	r.players = append(r.players, p)
	return nil
}

func (r *Roster) ApplyRoundScore(id string, delta int) error {
	i, ok := r.index[id]
	if !ok {
		return fmt.Errorf("score for %q: %w", id, ErrUnknownPlayer)
	}
	if delta < 0 {
		return fmt.Errorf("negative score %d for %q: %w", delta, id, ErrInvalidEntry)
	}
	r.players[i].Score += delta
	return nil
}
