package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/guessr-backend/internal/engine"
	"github.com/DoyleJ11/guessr-backend/internal/metrics"
	"github.com/DoyleJ11/guessr-backend/internal/relay"
)

// Sync is what a session needs from the relay: the subscriptions plus the
// authoritative reads and the round-index write.
type Sync interface {
	SubscribeEntries(ctx context.Context, code string, onUpdate func(engine.EntrySet)) (relay.Subscription, error)
	SubscribeRoundIndex(ctx context.Context, code string, onChange func(int)) (relay.Subscription, error)
	Snapshot(ctx context.Context, code string) (engine.Snapshot, error)
	Round(ctx context.Context, code string, index int) (engine.Round, error)
	SetRoundIndex(ctx context.Context, code string, index int) error
}

var ErrClosed = errors.New("session closed")

// ErrMissingRound rejects an advance that does not say which round the caller
// is looking at. Without it a repeated click cannot be told from a new one.
var ErrMissingRound = errors.New("advance needs the current round")

type Msg interface{ isSessionMsg() }

type EntriesUpdated struct{ Entries engine.EntrySet }

func (EntriesUpdated) isSessionMsg() {}

type RoundIndexChanged struct{ Index int }

func (RoundIndexChanged) isSessionMsg() {}

type Advance struct {
	PlayerID string
	Round    int
	Reply    chan AdvanceResult
}

func (Advance) isSessionMsg() {}

type CanAdvance struct {
	PlayerID string
	Reply    chan bool
}

func (CanAdvance) isSessionMsg() {}

type GetSummary struct {
	Reply chan engine.RoundSummary
}

func (GetSummary) isSessionMsg() {}

// Resync rebuilds the session from the store, e.g. after a player joined.
type Resync struct{}

func (Resync) isSessionMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isSessionMsg() {}

type Leave struct{ ClientID string }

func (Leave) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type AdvanceResult struct {
	Intent engine.Intent
	Err    error
}

type Snapshot struct {
	Version int
	Summary engine.RoundSummary
	Resync  bool // the session was rebuilt from the store
}

type View struct {
	Version    int
	NumClients int
	Resyncs    int
	State      engine.State
}

type Options struct {
	InboxSize int
	Logger    *zap.Logger
	Metrics   *metrics.Recorder
}

// Session owns the entries, roster and progression of one game. Everything
// that mutates them goes through the inbox and is applied one at a time.
type Session struct {
	code    string
	sync    Sync
	log     *zap.Logger
	metrics *metrics.Recorder

	inbox   chan Msg
	state   engine.State
	version int
	resyncs int
	clients map[string]chan Snapshot
	subs    []relay.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// New loads the game, subscribes to its entries and round index and starts
// the session loop. On error nothing stays subscribed.
func New(parent context.Context, code string, sync Sync, opts Options) (*Session, error) {
	if opts.InboxSize < 1 {
		opts.InboxSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	snap, err := sync.Snapshot(parent, code)
	if err != nil {
		return nil, fmt.Errorf("loading game %q: %w", code, err)
	}
	state, err := engine.Restore(snap)
	if err != nil {
		return nil, fmt.Errorf("restoring game %q: %w", code, err)
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		code:    code,
		sync:    sync,
		log:     opts.Logger.Named("session").With(zap.String("code", code)),
		metrics: opts.Metrics,
		inbox:   make(chan Msg, opts.InboxSize),
		state:   state,
		clients: make(map[string]chan Snapshot),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	if err := s.subscribe(); err != nil {
		cancel()
		return nil, multierr.Append(err, s.release())
	}

	s.metrics.SessionStarted()
	go s.loop()
	return s, nil
}

func (s *Session) subscribe() error {
	sub, err := s.sync.SubscribeEntries(s.ctx, s.code, func(set engine.EntrySet) {
		s.enqueue(EntriesUpdated{Entries: set})
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)

	sub, err = s.sync.SubscribeRoundIndex(s.ctx, s.code, func(index int) {
		s.enqueue(RoundIndexChanged{Index: index})
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// enqueue is used by relay callbacks. It gives up once the session is gone.
func (s *Session) enqueue(m Msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func (s *Session) loop() {
	defer close(s.done)
	defer s.shutdown()

	for {
		select {
		case <-s.ctx.Done():
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case EntriesUpdated:
				s.applyEntries(msg.Entries)

			case RoundIndexChanged:
				s.applyRoundIndex(msg.Index)

			case Advance:
				intent, err := s.advance(msg.PlayerID, msg.Round)
				msg.Reply <- AdvanceResult{Intent: intent, Err: err}

			case CanAdvance:
				msg.Reply <- engine.CanAdvance(s.state, msg.PlayerID)

			case GetSummary:
				msg.Reply <- engine.Summarize(s.state)

			case Resync:
				s.resync("requested")

			case Join:
				// Register client + send current snapshot immediately
				s.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- Snapshot{Version: s.version, Summary: engine.Summarize(s.state)}

			case Leave:
				if ch, ok := s.clients[msg.ClientID]; ok {
					close(ch)
					delete(s.clients, msg.ClientID)
				}

			case GetState:
				// test-only: reflect internal state without data races
				msg.Reply <- View{
					Version:    s.version,
					NumClients: len(s.clients),
					Resyncs:    s.resyncs,
					State:      s.state.Clone(),
				}

			case Shutdown:
				return
			}
		}
	}
}

func (s *Session) applyEntries(set engine.EntrySet) {
	changed := false
	for _, e := range s.state.Entries.Diff(set) {
		events, _, newState, err := engine.Apply(s.state, engine.Command{Type: engine.CmdRecordEntry, Entry: e})
		if err != nil {
			if errors.Is(err, engine.ErrUnknownPlayer) {
				s.log.Info("entry from unknown player, resyncing", zap.String("player_id", e.PlayerID))
				s.resync("unknown_player")
				return
			}
			s.log.Warn("dropping entry", zap.Int("round", e.Round), zap.String("player_id", e.PlayerID), zap.Error(err))
			continue
		}
		if len(events) == 0 {
			s.metrics.DuplicateEntry()
			continue
		}
		s.state = newState
		s.metrics.EntryRecorded()
		changed = true
		if engine.ContainsEvent(events, engine.EvtRoundCompleted) {
			s.log.Info("round complete", zap.Int("round", s.state.Round.Index), zap.Bool("ended", s.state.Game.Ended))
		}
	}
	if changed {
		s.publish(false)
	}
}

func (s *Session) applyRoundIndex(index int) {
	if index == s.state.Round.Index {
		return
	}
	if err := s.startRound(index); err != nil {
		s.log.Warn("round index out of step, resyncing", zap.Int("remote", index), zap.Int("local", s.state.Round.Index), zap.Error(err))
		s.resync("state_desync")
		return
	}
	s.publish(false)
}

func (s *Session) startRound(index int) error {
	if index != s.state.Round.Index+1 {
		return fmt.Errorf("round %d after %d: %w", index, s.state.Round.Index, engine.ErrStateDesync)
	}
	round, err := s.sync.Round(s.ctx, s.code, index)
	if err != nil {
		return err
	}
	_, _, newState, err := engine.Apply(s.state, engine.Command{Type: engine.CmdStartRound, Next: round})
	if err != nil {
		return err
	}
	s.state = newState
	return nil
}

func (s *Session) advance(playerID string, seen int) (engine.Intent, error) {
	if seen < 1 {
		return engine.Intent{Kind: engine.IntentBlocked}, ErrMissingRound
	}
	events, intent, newState, err := engine.Apply(s.state, engine.Command{Type: engine.CmdAdvance, PlayerID: playerID, Round: seen})
	s.metrics.Advance(string(intent.Kind))
	if err != nil {
		return intent, err
	}
	if len(events) == 0 {
		return intent, nil
	}

	prev := s.state
	s.state = newState
	if intent.Kind == engine.IntentNextRound {
		if err := s.sync.SetRoundIndex(s.ctx, s.code, intent.Round); err != nil {
			// Let the owner try again.
			s.state = prev
			return engine.Intent{Kind: engine.IntentBlocked}, fmt.Errorf("publishing round %d: %w", intent.Round, err)
		}
		if err := s.startRound(intent.Round); err != nil {
			s.log.Warn("starting next round", zap.Int("round", intent.Round), zap.Error(err))
			s.resync("state_desync")
		}
	}

	s.log.Info("advanced", zap.String("player_id", playerID), zap.String("intent", string(intent.Kind)), zap.Int("round", intent.Round))
	s.publish(false)
	return intent, nil
}

func (s *Session) resync(cause string) {
	s.metrics.Resync(cause)
	snap, err := s.sync.Snapshot(s.ctx, s.code)
	if err != nil {
		s.log.Error("resync failed", zap.String("cause", cause), zap.Error(err))
		return
	}
	state, err := engine.Restore(snap)
	if err != nil {
		s.log.Error("resync failed", zap.String("cause", cause), zap.Error(err))
		return
	}

	// A summary already shown stays shown.
	if s.state.Phase == engine.PhaseEnded && state.Game.Ended {
		state.Phase = engine.PhaseEnded
	}
	s.state = state
	s.resyncs++
	s.publish(true)
}

func (s *Session) publish(resync bool) {
	s.version++
	s.broadcast(Snapshot{Version: s.version, Summary: engine.Summarize(s.state), Resync: resync})
}

func (s *Session) broadcast(snap Snapshot) {
	for id, ch := range s.clients {
		select {
		case ch <- snap:
			//ok
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(s.clients, id)
		}
	}
}

func (s *Session) shutdown() {
	// Cancel first so relay callbacks blocked on the inbox return.
	s.cancel()
	if err := s.release(); err != nil {
		s.log.Warn("releasing subscriptions", zap.Error(err))
	}
	for id, ch := range s.clients {
		close(ch) // Tell client no more snapshots
		delete(s.clients, id)
	}
	s.metrics.SessionStopped()
	s.log.Debug("session stopped")
}

func (s *Session) release() error {
	var err error
	for _, sub := range s.subs {
		err = multierr.Append(err, sub.Unsubscribe())
	}
	s.subs = nil
	return err
}

func (s *Session) Code() string { return s.code }

// Inbox exposes the inbox so tests or the transport layers can send messages.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done is closed once the session released its subscriptions.
func (s *Session) Done() <-chan struct{} { return s.done }

// RequestAdvance asks the session to advance on behalf of playerID, who was
// looking at round seen.
func (s *Session) RequestAdvance(ctx context.Context, playerID string, seen int) (engine.Intent, error) {
	reply := make(chan AdvanceResult, 1)
	res, err := request(ctx, s, Advance{PlayerID: playerID, Round: seen, Reply: reply}, reply)
	if err != nil {
		return engine.Intent{Kind: engine.IntentBlocked}, err
	}
	return res.Intent, res.Err
}

func (s *Session) CanAdvance(ctx context.Context, playerID string) (bool, error) {
	reply := make(chan bool, 1)
	return request(ctx, s, CanAdvance{PlayerID: playerID, Reply: reply}, reply)
}

func (s *Session) Summary(ctx context.Context) (engine.RoundSummary, error) {
	reply := make(chan engine.RoundSummary, 1)
	return request(ctx, s, GetSummary{Reply: reply}, reply)
}

// Notify delivers m unless the session stops or ctx ends first.
func (s *Session) Notify(ctx context.Context, m Msg) error {
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func request[T any](ctx context.Context, s *Session, m Msg, reply <-chan T) (T, error) {
	var zero T
	if err := s.Notify(ctx, m); err != nil {
		return zero, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
