// Package relay delivers entry and round-index changes between the clients of
// a game. Every delivery carries the full current value, so subscribers diff
// against what they hold instead of assuming deltas.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/guessr-backend/internal/engine"
	"github.com/DoyleJ11/guessr-backend/internal/store"
)

var ErrClosed = errors.New("relay closed")

// Adapter is the subscription side of the relay.
type Adapter interface {
	SubscribeEntries(ctx context.Context, code string, onUpdate func(engine.EntrySet)) (Subscription, error)
	SubscribeRoundIndex(ctx context.Context, code string, onChange func(int)) (Subscription, error)
	UnsubscribeAll(code string) error
}

type Subscription interface {
	Unsubscribe() error
}

// Broker is an in-process Adapter backed by the game store. Writes go to the
// store first and are then fanned out to every subscriber of the game code.
type Broker struct {
	store store.Store
	log   *zap.Logger

	mu      sync.Mutex
	closed  bool
	entries map[string]map[*subscription[engine.EntrySet]]struct{}
	rounds  map[string]map[*subscription[int]]struct{}
}

var _ Adapter = (*Broker)(nil)

func NewBroker(st store.Store, log *zap.Logger) *Broker {
	return &Broker{
		store:   st,
		log:     log.Named("relay"),
		entries: make(map[string]map[*subscription[engine.EntrySet]]struct{}),
		rounds:  make(map[string]map[*subscription[int]]struct{}),
	}
}

// SubscribeEntries registers onUpdate for code and immediately delivers the
// current entry set.
func (b *Broker) SubscribeEntries(ctx context.Context, code string, onUpdate func(engine.EntrySet)) (Subscription, error) {
	current, err := b.store.Entries(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("subscribing to entries of %q: %w", code, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := newSubscription(onUpdate, func(s *subscription[engine.EntrySet]) {
		b.mu.Lock()
		removeSub(b.entries, code, s)
		b.mu.Unlock()
	})
	addSub(b.entries, code, sub)
	sub.offer(current)
	return sub, nil
}

// SubscribeRoundIndex registers onChange for code and immediately delivers
// the current round index.
func (b *Broker) SubscribeRoundIndex(ctx context.Context, code string, onChange func(int)) (Subscription, error) {
	current, err := b.store.CurrentRound(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("subscribing to round of %q: %w", code, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := newSubscription(onChange, func(s *subscription[int]) {
		b.mu.Lock()
		removeSub(b.rounds, code, s)
		b.mu.Unlock()
	})
	addSub(b.rounds, code, sub)
	sub.offer(current)
	return sub, nil
}

// UnsubscribeAll releases every subscription registered for code.
func (b *Broker) UnsubscribeAll(code string) error {
	b.mu.Lock()
	var subs []Subscription
	for s := range b.entries[code] {
		subs = append(subs, s)
	}
	for s := range b.rounds[code] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	var err error
	for _, s := range subs {
		err = multierr.Append(err, s.Unsubscribe())
	}
	return err
}

// SubmitEntry stores a final entry and publishes the game's full entry set.
func (b *Broker) SubmitEntry(ctx context.Context, code string, e engine.Entry) error {
	if err := b.store.SaveEntry(ctx, code, e); err != nil {
		return err
	}

	set, err := b.store.Entries(ctx, code)
	if err != nil {
		return fmt.Errorf("reloading entries of %q: %w", code, err)
	}

	b.mu.Lock()
	for s := range b.entries[code] {
		s.offer(set)
	}
	n := len(b.entries[code])
	b.mu.Unlock()

	b.log.Debug("entry published",
		zap.String("code", code),
		zap.Int("round", e.Round),
		zap.String("player_id", e.PlayerID),
		zap.Int("subscribers", n),
	)
	return nil
}

// SetRoundIndex stores the authoritative round index and publishes it.
func (b *Broker) SetRoundIndex(ctx context.Context, code string, index int) error {
	if err := b.store.SetCurrentRound(ctx, code, index); err != nil {
		return err
	}

	b.mu.Lock()
	for s := range b.rounds[code] {
		s.offer(index)
	}
	b.mu.Unlock()

	b.log.Debug("round published", zap.String("code", code), zap.Int("round", index))
	return nil
}

func (b *Broker) Round(ctx context.Context, code string, index int) (engine.Round, error) {
	return b.store.Round(ctx, code, index)
}

func (b *Broker) Snapshot(ctx context.Context, code string) (engine.Snapshot, error) {
	return b.store.Snapshot(ctx, code)
}

// Close releases every subscription and rejects new ones.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	codes := make(map[string]struct{})
	for code := range b.entries {
		codes[code] = struct{}{}
	}
	for code := range b.rounds {
		codes[code] = struct{}{}
	}
	b.mu.Unlock()

	var err error
	for code := range codes {
		err = multierr.Append(err, b.UnsubscribeAll(code))
	}
	return err
}

func addSub[T any](m map[string]map[*subscription[T]]struct{}, code string, s *subscription[T]) {
	if m[code] == nil {
		m[code] = make(map[*subscription[T]]struct{})
	}
	m[code][s] = struct{}{}
}

func removeSub[T any](m map[string]map[*subscription[T]]struct{}, code string, s *subscription[T]) {
	delete(m[code], s)
	if len(m[code]) == 0 {
		delete(m, code)
	}
}
