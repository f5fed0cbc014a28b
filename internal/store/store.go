// Package store persists game sessions: games, their pre-generated rounds,
// players and final entries. It is the authoritative source a session
// resynchronizes from.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/guessr-backend/internal/engine"
)

var ErrNotFound = errors.New("game not found")
var ErrCodeTaken = errors.New("game code already in use")
var ErrInvalidGame = errors.New("invalid game")

type NewGame struct {
	Code    string
	IsMulti bool
	Rounds  []engine.Round
	Owner   engine.Player
}

type Store interface {
	CreateGame(ctx context.Context, g NewGame) (engine.Game, engine.Player, error)
	JoinGame(ctx context.Context, code string, p engine.Player) (engine.Player, error)
	// SaveEntry persists a final entry and adds its score to the player.
	// A second entry for the same round and player fails with engine.ErrStaleWrite.
	SaveEntry(ctx context.Context, code string, e engine.Entry) error
	Entries(ctx context.Context, code string) (engine.EntrySet, error)
	Round(ctx context.Context, code string, index int) (engine.Round, error)
	CurrentRound(ctx context.Context, code string) (int, error)
	SetCurrentRound(ctx context.Context, code string, index int) error
	Snapshot(ctx context.Context, code string) (engine.Snapshot, error)
	Ping(ctx context.Context) error
}

func validateNewGame(g NewGame) error {
	switch {
	case g.Code == "":
		return fmt.Errorf("missing code: %w", ErrInvalidGame)
	case len(g.Rounds) == 0:
		return fmt.Errorf("no rounds: %w", ErrInvalidGame)
	case g.Owner.Name == "":
		return fmt.Errorf("owner needs a name: %w", ErrInvalidGame)
	}
	for i, r := range g.Rounds {
		if r.Index != i+1 {
			return fmt.Errorf("rounds must be numbered from 1: %w", ErrInvalidGame)
		}
	}
	return nil
}

func validateEntry(e engine.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if !e.IsFinal() {
		return fmt.Errorf("only final entries are stored: %w", engine.ErrInvalidEntry)
	}
	return nil
}
