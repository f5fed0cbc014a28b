package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoster(t *testing.T) {
	cases := []struct {
		name    string
		players []Player
		wantErr error
	}{
		{
			name:    "one owner",
			players: []Player{{ID: "a", IsOwner: true}, {ID: "b"}},
		},
		{
			name:    "no owner",
			players: []Player{{ID: "a"}, {ID: "b"}},
			wantErr: ErrOwnerCount,
		},
		{
			name:    "two owners",
			players: []Player{{ID: "a", IsOwner: true}, {ID: "b", IsOwner: true}},
			wantErr: ErrOwnerCount,
		},
		{
			name:    "empty",
			wantErr: ErrOwnerCount,
		},
		{
			name:    "duplicate id",
			players: []Player{{ID: "a", IsOwner: true}, {ID: "a"}},
			wantErr: ErrDuplicatePlayer,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRoster(tc.players...)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestRosterJoinAndScore(t *testing.T) {
	r, err := NewRoster(Player{ID: "a", Name: "Ana", IsOwner: true})
	require.NoError(t, err)

	require.NoError(t, r.Join(Player{ID: "b", Name: "Ben"}))
	require.ErrorIs(t, r.Join(Player{ID: "b"}), ErrDuplicatePlayer)
	require.ErrorIs(t, r.Join(Player{ID: "c", IsOwner: true}), ErrOwnerCount)

	require.NoError(t, r.ApplyRoundScore("b", 300))
	require.NoError(t, r.ApplyRoundScore("b", 0))
	require.ErrorIs(t, r.ApplyRoundScore("z", 1), ErrUnknownPlayer)
	require.ErrorIs(t, r.ApplyRoundScore("a", -1), ErrInvalidEntry)

	players := r.AllPlayers()
	require.Len(t, players, 2)
	assert.Equal(t, "a", players[0].ID)
	assert.Equal(t, 300, players[1].Score)
	assert.Equal(t, "Ana", r.Owner().Name)
	assert.Equal(t, []string{"b"}, Leaders(r))
}

func TestEmptyRosterIsNeverComplete(t *testing.T) {
	assert.False(t, IsRoundComplete(NewEntryStore(), &Roster{index: map[string]int{}}, 1))
}

func TestEntryStoreDiff(t *testing.T) {
	es := NewEntryStore()
	require.NoError(t, es.Record(1, "a", final(1, "a", 10)))
	require.NoError(t, es.Record(1, "b", Entry{}))

	remote := EntrySet{
		{Round: 1, PlayerID: "a"}: final(1, "a", 99), // already final here
		{Round: 1, PlayerID: "b"}: final(1, "b", 20), // pending here, final remotely
		{Round: 2, PlayerID: "a"}: {},                // new pending
		{Round: 1, PlayerID: "c"}: final(1, "c", 30),
	}

	diff := es.Diff(remote)
	require.Len(t, diff, 3)
	assert.Equal(t, EntryKey{Round: 1, PlayerID: "b"}, EntryKey{Round: diff[0].Round, PlayerID: diff[0].PlayerID})
	assert.Equal(t, "c", diff[1].PlayerID)
	assert.Equal(t, 2, diff[2].Round)
	assert.Equal(t, "a", diff[2].PlayerID)

	assert.Len(t, es.EntriesFor(1), 2)
	assert.Empty(t, es.EntriesFor(3))
}

func TestRestore(t *testing.T) {
	snap := Snapshot{
		Game:  Game{Code: "SPA", TotalRounds: 2, IsMulti: true},
		Round: Round{Index: 2},
		Players: []Player{
			{ID: "a", IsOwner: true, Score: 4010},
			{ID: "b", Score: 20},
		},
		Entries: []Entry{
			final(1, "a", 10), final(1, "b", 20),
			final(2, "a", 4000),
		},
	}

	s, err := Restore(snap)
	require.NoError(t, err)
	assert.Equal(t, PhaseAwaitingEntries, s.Phase)
	assert.False(t, s.Game.Ended)
	assert.Equal(t, 4010, BestCumulativeScore(s.Roster))

	snap.Entries = append(snap.Entries, final(2, "b", 1))
	s, err = Restore(snap)
	require.NoError(t, err)
	assert.Equal(t, PhaseRoundComplete, s.Phase)
	assert.True(t, s.Game.Ended)

	snap.Entries = append(snap.Entries, final(2, "ghost", 1))
	_, err = Restore(snap)
	require.ErrorIs(t, err, ErrUnknownPlayer)
}

func TestSummarize(t *testing.T) {
	s := newGame(t, 3, "ana", "ben", "cleo")
	_, s = record(t, s, final(1, "ana", 5000))
	_, s = record(t, s, final(1, "ben", 5000))

	sum := Summarize(s)
	require.Len(t, sum.Rows, 3)
	assert.Equal(t, "ana", sum.OwnerName)
	assert.False(t, sum.Complete)
	assert.True(t, sum.HasBestRound)
	assert.Equal(t, 5000, sum.BestRoundScore)
	assert.Equal(t, 5000, sum.BestCumulativeScore)

	ana, ben, cleo := sum.Rows[0], sum.Rows[1], sum.Rows[2]
	assert.True(t, ana.BestRound)
	assert.True(t, ben.BestRound)
	assert.True(t, ana.Leading && ben.Leading)
	assert.True(t, ana.Entry.IsPerfect())
	assert.True(t, cleo.Pending())
	assert.False(t, cleo.Leading)
	assert.False(t, cleo.BestRound)
}

func TestFormatting(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{name: "meters", got: FormatDistance(850), want: "850m"},
		{name: "threshold stays in meters", got: FormatDistance(2000), want: "2000m"},
		{name: "fractional meters kept", got: FormatDistance(12.5), want: "12.5m"},
		{name: "kilometers floor", got: FormatDistance(2999.9), want: "2km"},
		{name: "large", got: FormatDistance(1234567), want: "1234km"},
		{name: "duration", got: FormatDuration(83 * time.Second), want: "01:23"},
		{name: "duration rounds", got: FormatDuration(59600 * time.Millisecond), want: "01:00"},
		{name: "coord", got: FormatCoord(Coord{Lat: 50.63261, Lng: 5.57969}), want: "50.6326, 5.5797"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.got)
		})
	}
}

func TestEntryDuration(t *testing.T) {
	start := time.Date(2021, 2, 4, 10, 0, 0, 0, time.UTC)
	end := start.Add(95 * time.Second)

	d, ok := Entry{StartedAt: &start, EndedAt: &end}.Duration()
	require.True(t, ok)
	assert.Equal(t, 95*time.Second, d)

	_, ok = Entry{StartedAt: &start}.Duration()
	assert.False(t, ok)
}

func TestStateCloneIsIndependent(t *testing.T) {
	s := newGame(t, 2, "ana", "ben")
	_, s = record(t, s, final(1, "ana", 700))

	c := s.Clone()
	_, s = record(t, s, final(1, "ben", 300))

	assert.Equal(t, 1, c.Entries.Len())
	assert.Equal(t, 0, mustPlayer(t, c, "ben").Score)
	assert.Equal(t, 300, mustPlayer(t, s, "ben").Score)
	assert.Equal(t, PhaseAwaitingEntries, c.Phase)
}
