package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/DoyleJ11/guessr-backend/internal/engine"
)

type memGame struct {
	game    engine.Game
	rounds  []engine.Round
	players []engine.Player
	entries engine.EntrySet
	current int
}

// MemoryStore keeps games in process. Used when no database is configured
// and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	games map[string]*memGame
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{games: make(map[string]*memGame)}
}

func (m *MemoryStore) CreateGame(_ context.Context, g NewGame) (engine.Game, engine.Player, error) {
	if err := validateNewGame(g); err != nil {
		return engine.Game{}, engine.Player{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.games[g.Code]; ok {
		return engine.Game{}, engine.Player{}, fmt.Errorf("%q: %w", g.Code, ErrCodeTaken)
	}

	owner := g.Owner
	owner.ID = uuid.NewString()
	owner.IsOwner = true
	owner.Score = 0

	game := engine.Game{Code: g.Code, TotalRounds: len(g.Rounds), IsMulti: g.IsMulti}
	m.games[g.Code] = &memGame{
		game:    game,
		rounds:  append([]engine.Round(nil), g.Rounds...),
		players: []engine.Player{owner},
		entries: make(engine.EntrySet),
		current: 1,
	}
	return game, owner, nil
}

func (m *MemoryStore) JoinGame(_ context.Context, code string, p engine.Player) (engine.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.get(code)
	if err != nil {
		return engine.Player{}, err
	}
	if !g.game.IsMulti {
		return engine.Player{}, fmt.Errorf("%q is single player: %w", code, ErrInvalidGame)
	}

	p.ID = uuid.NewString()
	p.IsOwner = false
	p.Score = 0
	g.players = append(g.players, p)
	return p, nil
}

func (m *MemoryStore) SaveEntry(_ context.Context, code string, e engine.Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.get(code)
	if err != nil {
		return err
	}
	if e.Round > g.game.TotalRounds {
		return fmt.Errorf("round %d of %d: %w", e.Round, g.game.TotalRounds, engine.ErrInvalidEntry)
	}
	if e.Round > g.current {
		return fmt.Errorf("round %d not started, current is %d: %w", e.Round, g.current, engine.ErrStateDesync)
	}

	i := -1
	for j, p := range g.players {
		if p.ID == e.PlayerID {
			i = j
			break
		}
	}
	if i < 0 {
		return fmt.Errorf("player %q: %w", e.PlayerID, engine.ErrUnknownPlayer)
	}

	key := engine.EntryKey{Round: e.Round, PlayerID: e.PlayerID}
	if _, ok := g.entries[key]; ok {
		return fmt.Errorf("round %d player %q: %w", e.Round, e.PlayerID, engine.ErrStaleWrite)
	}
	g.entries[key] = e
	g.players[i].Score += e.Score
	return nil
}

func (m *MemoryStore) Entries(_ context.Context, code string) (engine.EntrySet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, err := m.get(code)
	if err != nil {
		return nil, err
	}
	out := make(engine.EntrySet, len(g.entries))
	for k, e := range g.entries {
		out[k] = e
	}
	return out, nil
}

func (m *MemoryStore) Round(_ context.Context, code string, index int) (engine.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, err := m.get(code)
	if err != nil {
		return engine.Round{}, err
	}
	if index < 1 || index > len(g.rounds) {
		return engine.Round{}, fmt.Errorf("round %d of %q: %w", index, code, ErrNotFound)
	}
	return g.rounds[index-1], nil
}

func (m *MemoryStore) CurrentRound(_ context.Context, code string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, err := m.get(code)
	if err != nil {
		return 0, err
	}
	return g.current, nil
}

func (m *MemoryStore) SetCurrentRound(_ context.Context, code string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.get(code)
	if err != nil {
		return err
	}
	if index < 1 || index > len(g.rounds) {
		return fmt.Errorf("round %d of %d: %w", index, len(g.rounds), engine.ErrStateDesync)
	}
	g.current = index
	return nil
}

func (m *MemoryStore) Snapshot(_ context.Context, code string) (engine.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, err := m.get(code)
	if err != nil {
		return engine.Snapshot{}, err
	}

	snap := engine.Snapshot{
		Game:    g.game,
		Round:   g.rounds[g.current-1],
		Players: append([]engine.Player(nil), g.players...),
	}
	for _, e := range g.entries {
		snap.Entries = append(snap.Entries, e)
	}
	return snap, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) get(code string) (*memGame, error) {
	g, ok := m.games[code]
	if !ok {
		return nil, fmt.Errorf("%q: %w", code, ErrNotFound)
	}
	return g, nil
}
