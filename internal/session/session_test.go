package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/guessr-backend/internal/engine"
	"github.com/DoyleJ11/guessr-backend/internal/relay"
	"github.com/DoyleJ11/guessr-backend/internal/store"
)

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			// channel closed → that's fine; no further snapshots possible
			return
		}
		t.Fatalf("expected no snapshot within %v, but got: %+v", within, s)
	case <-time.After(within):
		// good: no snapshot
	}
}

func recvView(t *testing.T, s *Session) View {
	t.Helper()
	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func advance(t *testing.T, s *Session, playerID string, round int) AdvanceResult {
	t.Helper()
	reply := make(chan AdvanceResult, 1)
	s.Inbox() <- Advance{PlayerID: playerID, Round: round, Reply: reply}
	select {
	case res := <-reply:
		return res
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for advance")
		return AdvanceResult{}
	}
}

func guess(round int, playerID string, score int) engine.Entry {
	return engine.Entry{Round: round, PlayerID: playerID, Position: &engine.Coord{Lat: 48.85, Lng: 2.35}, Distance: 42, Score: score}
}

type fixture struct {
	st     *store.MemoryStore
	broker *relay.Broker
	code   string
	owner  engine.Player
	others []engine.Player
}

func newFixture(t *testing.T, rounds int, others ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{st: store.NewMemoryStore(), code: "PARIS1"}

	g := store.NewGame{Code: f.code, IsMulti: len(others) > 0, Owner: engine.Player{Name: "Ana"}}
	for i := 1; i <= rounds; i++ {
		g.Rounds = append(g.Rounds, engine.Round{Index: i, Panorama: "pano"})
	}
	var err error
	_, f.owner, err = f.st.CreateGame(ctx, g)
	require.NoError(t, err)
	for _, name := range others {
		p, err := f.st.JoinGame(ctx, f.code, engine.Player{Name: name})
		require.NoError(t, err)
		f.others = append(f.others, p)
	}

	f.broker = relay.NewBroker(f.st, zap.NewNop())
	t.Cleanup(func() { _ = f.broker.Close() })
	return f
}

func (f *fixture) start(t *testing.T) (*Session, chan Snapshot) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s, err := New(ctx, f.code, f.broker, Options{})
	require.NoError(t, err)

	out := make(chan Snapshot, 16)
	s.Inbox() <- Join{ClientID: "c1", Outbox: out}
	first := recvSnapshot(t, out, time.Second)
	require.Equal(t, 0, first.Version)
	return s, out
}

func (f *fixture) submit(t *testing.T, e engine.Entry) {
	t.Helper()
	require.NoError(t, f.broker.SubmitEntry(context.Background(), f.code, e))
}

func TestSession_RoundCompletesOnLastEntry(t *testing.T) {
	f := newFixture(t, 3, "Ben", "Cleo")
	s, out := f.start(t)
	ben, cleo := f.others[0], f.others[1]

	f.submit(t, guess(1, f.owner.ID, 5000))
	snap := recvSnapshot(t, out, time.Second)
	assert.False(t, snap.Summary.Complete)

	f.submit(t, guess(1, ben.ID, 3000))
	snap = recvSnapshot(t, out, time.Second)
	assert.False(t, snap.Summary.Complete)
	assert.Equal(t, 5000, snap.Summary.BestRoundScore)

	f.submit(t, guess(1, cleo.ID, 10))
	snap = recvSnapshot(t, out, time.Second)
	assert.True(t, snap.Summary.Complete)
	assert.Equal(t, engine.PhaseRoundComplete, snap.Summary.Phase)
	assert.Equal(t, 3, snap.Version)

	view := recvView(t, s)
	assert.Equal(t, 5000, mustPlayer(t, view.State, f.owner.ID).Score)
}

func TestSession_OwnerAdvanceConvergesOtherSessions(t *testing.T) {
	f := newFixture(t, 2, "Ben")
	a, outA := f.start(t)
	b, outB := f.start(t)
	ben := f.others[0]

	f.submit(t, guess(1, f.owner.ID, 100))
	f.submit(t, guess(1, ben.ID, 200))
	require.Eventually(t, func() bool { return recvView(t, a).State.Phase == engine.PhaseRoundComplete }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return recvView(t, b).State.Phase == engine.PhaseRoundComplete }, time.Second, 5*time.Millisecond)

	res := advance(t, b, ben.ID, 1)
	require.ErrorIs(t, res.Err, engine.ErrNotOwner)
	assert.Equal(t, engine.IntentBlocked, res.Intent.Kind)

	res = advance(t, a, f.owner.ID, 1)
	require.NoError(t, res.Err)
	assert.Equal(t, engine.Intent{Kind: engine.IntentNextRound, Round: 2}, res.Intent)
	assert.Equal(t, 2, recvView(t, a).State.Round.Index)

	// Session b only learns about round 2 from the relay.
	require.Eventually(t, func() bool { return recvView(t, b).State.Round.Index == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, engine.PhaseAwaitingEntries, recvView(t, b).State.Phase)

	// A repeat of the same click does not move the game again.
	again := advance(t, a, f.owner.ID, 1)
	require.NoError(t, again.Err)
	assert.Equal(t, res.Intent, again.Intent)
	assert.Equal(t, 2, recvView(t, a).State.Round.Index)

	drain(outA)
	drain(outB)
}

func TestSession_FinalRoundSummaryForEveryone(t *testing.T) {
	f := newFixture(t, 1, "Ben")
	s, _ := f.start(t)
	ben := f.others[0]

	f.submit(t, guess(1, f.owner.ID, 100))
	f.submit(t, guess(1, ben.ID, 200))
	require.Eventually(t, func() bool { return recvView(t, s).State.Game.Ended }, time.Second, 5*time.Millisecond)

	for _, id := range []string{ben.ID, f.owner.ID, ben.ID} {
		res := advance(t, s, id, 1)
		require.NoError(t, res.Err)
		assert.Equal(t, engine.IntentSummary, res.Intent.Kind)
	}
	assert.Equal(t, engine.PhaseEnded, recvView(t, s).State.Phase)
}

func TestSession_CanAdvanceAndSummary(t *testing.T) {
	f := newFixture(t, 2)
	s, _ := f.start(t)

	canAdvance := func(id string) bool {
		reply := make(chan bool, 1)
		s.Inbox() <- CanAdvance{PlayerID: id, Reply: reply}
		return <-reply
	}

	assert.False(t, canAdvance(f.owner.ID))
	res := advance(t, s, f.owner.ID, 1)
	require.ErrorIs(t, res.Err, engine.ErrNotReady)

	f.submit(t, guess(1, f.owner.ID, 4500))
	require.Eventually(t, func() bool { return canAdvance(f.owner.ID) }, time.Second, 5*time.Millisecond)

	reply := make(chan engine.RoundSummary, 1)
	s.Inbox() <- GetSummary{Reply: reply}
	sum := <-reply
	require.Len(t, sum.Rows, 1)
	assert.Equal(t, 4500, sum.Rows[0].Entry.Score)
	assert.True(t, sum.Complete)
}

func TestSession_LateJoinerTriggersResync(t *testing.T) {
	f := newFixture(t, 2, "Ben")
	s, out := f.start(t)

	late, err := f.st.JoinGame(context.Background(), f.code, engine.Player{Name: "Dora"})
	require.NoError(t, err)

	// The session does not know Dora until her entry shows up.
	f.submit(t, guess(1, late.ID, 999))
	snap := recvSnapshot(t, out, time.Second)
	assert.True(t, snap.Resync)
	assert.Len(t, snap.Summary.Rows, 3)

	view := recvView(t, s)
	assert.Equal(t, 1, view.Resyncs)
	assert.Equal(t, 999, mustPlayer(t, view.State, late.ID).Score)
}

func TestSession_RoundJumpTriggersResync(t *testing.T) {
	f := newFixture(t, 3)
	s, out := f.start(t)

	// Skip round 2. Going through the relay keeps the initial delivery of
	// round 1 ordered before the jump.
	require.NoError(t, f.broker.SetRoundIndex(context.Background(), f.code, 3))

	snap := recvSnapshot(t, out, time.Second)
	assert.True(t, snap.Resync)
	assert.Equal(t, 3, snap.Summary.Round.Index)

	// Same index again is ignored.
	s.Inbox() <- RoundIndexChanged{Index: 3}
	recvNoSnapshot(t, out, 100*time.Millisecond)
}

func TestSession_DuplicateDeliveryIsSilent(t *testing.T) {
	f := newFixture(t, 2, "Ben")
	s, out := f.start(t)

	f.submit(t, guess(1, f.owner.ID, 100))
	recvSnapshot(t, out, time.Second)

	set := engine.EntrySet{{Round: 1, PlayerID: f.owner.ID}: guess(1, f.owner.ID, 1)}
	s.Inbox() <- EntriesUpdated{Entries: set}
	recvNoSnapshot(t, out, 100*time.Millisecond)

	view := recvView(t, s)
	assert.Equal(t, 100, mustPlayer(t, view.State, f.owner.ID).Score)
	assert.Equal(t, 1, view.Version)
}

func TestSession_DropSlowClient(t *testing.T) {
	f := newFixture(t, 2)
	s, _ := f.start(t)

	slow := make(chan Snapshot, 1)
	s.Inbox() <- Join{ClientID: "slow", Outbox: slow}
	f.submit(t, guess(1, f.owner.ID, 1))

	require.Eventually(t, func() bool { return recvView(t, s).NumClients == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_ShutdownReleasesSubscriptions(t *testing.T) {
	f := newFixture(t, 2)
	s, out := f.start(t)

	s.Inbox() <- Shutdown{}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("session did not stop")
	}

	// Outbox is closed and no further notifications reach the session.
	recvNoSnapshot(t, out, 50*time.Millisecond)
	require.NoError(t, f.broker.SubmitEntry(context.Background(), f.code, guess(1, f.owner.ID, 1)))
	require.NoError(t, f.broker.UnsubscribeAll(f.code))
}

type failingSync struct {
	*relay.Broker
	released int
}

type countingSub struct {
	inner relay.Subscription
	f     *failingSync
}

func (c countingSub) Unsubscribe() error {
	c.f.released++
	return c.inner.Unsubscribe()
}

func (f *failingSync) SubscribeEntries(ctx context.Context, code string, fn func(engine.EntrySet)) (relay.Subscription, error) {
	sub, err := f.Broker.SubscribeEntries(ctx, code, fn)
	if err != nil {
		return nil, err
	}
	return countingSub{inner: sub, f: f}, nil
}

func (f *failingSync) SubscribeRoundIndex(context.Context, string, func(int)) (relay.Subscription, error) {
	return nil, errors.New("round feed unavailable")
}

func TestSession_FailedSubscribeReleasesEarlierOnes(t *testing.T) {
	f := newFixture(t, 2)
	fs := &failingSync{Broker: f.broker}

	_, err := New(context.Background(), f.code, fs, Options{})
	require.Error(t, err)
	assert.Equal(t, 1, fs.released)
}

func TestSession_UnknownGame(t *testing.T) {
	f := newFixture(t, 1)
	_, err := New(context.Background(), "NOPE", f.broker, Options{})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func mustPlayer(t *testing.T, s engine.State, id string) engine.Player {
	t.Helper()
	p, ok := s.Roster.Player(id)
	require.True(t, ok, "player %s", id)
	return p
}

func drain(ch chan Snapshot) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestSession_RequestHelpers(t *testing.T) {
	f := newFixture(t, 2)
	s, out := f.start(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, err := s.CanAdvance(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	f.submit(t, guess(1, f.owner.ID, 1200))
	recvSnapshot(t, out, time.Second)

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Complete)

	intent, err := s.RequestAdvance(ctx, f.owner.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, engine.Intent{Kind: engine.IntentNextRound, Round: 2}, intent)

	require.NoError(t, s.Notify(ctx, Shutdown{}))
	<-s.Done()

	_, err = s.Summary(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestSession_RepeatedAdvanceKeepsResult(t *testing.T) {
	f := newFixture(t, 3)
	s, out := f.start(t)

	f.submit(t, guess(1, f.owner.ID, 2000))
	recvSnapshot(t, out, time.Second)

	missing := advance(t, s, f.owner.ID, 0)
	require.ErrorIs(t, missing.Err, ErrMissingRound)
	assert.Equal(t, engine.IntentBlocked, missing.Intent.Kind)
	assert.Equal(t, 1, recvView(t, s).State.Round.Index)

	first := advance(t, s, f.owner.ID, 1)
	require.NoError(t, first.Err)
	second := advance(t, s, f.owner.ID, 1)
	require.NoError(t, second.Err)

	assert.Equal(t, engine.Intent{Kind: engine.IntentNextRound, Round: 2}, first.Intent)
	assert.Equal(t, first.Intent, second.Intent)
	assert.Equal(t, 2, recvView(t, s).State.Round.Index)
}

func TestSession_ViewDoesNotTrackLaterEntries(t *testing.T) {
	f := newFixture(t, 2, "Ben")
	s, out := f.start(t)
	ben := f.others[0]

	before := recvView(t, s)
	f.submit(t, guess(1, ben.ID, 2500))
	recvSnapshot(t, out, time.Second)

	assert.Equal(t, 0, before.State.Entries.Len())
	assert.Equal(t, 0, mustPlayer(t, before.State, ben.ID).Score)
	assert.Equal(t, 2500, mustPlayer(t, recvView(t, s).State, ben.ID).Score)
}
