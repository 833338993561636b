package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepLobbyGrace(t *testing.T) {
	c, _ := newTestCoordinator()
	ctx := context.Background()
	code, players := setupRoom(t, c, "ana", "ben", "cleo")

	base := time.Now()
	c.now = func() time.Time { return base }

	_, err := c.MarkPlayerDisconnected(ctx, players[2].ID)
	require.NoError(t, err)

	// Inside the lobby window nothing is evicted.
	evictions := c.SweepDisconnected(ctx, base.Add(c.lobbyGrace))
	assert.Empty(t, evictions)

	evictions = c.SweepDisconnected(ctx, base.Add(c.lobbyGrace+time.Second))
	require.Len(t, evictions, 1)
	assert.Equal(t, players[2].ID, evictions[0].PlayerID)
	assert.Equal(t, code, evictions[0].RoomCode)

	view, _, ok := c.RoomState(code)
	require.True(t, ok)
	assert.Len(t, view.Players, 2)
}

func TestSweepInGameGraceIsLonger(t *testing.T) {
	c, _ := newTestCoordinator()
	ctx := context.Background()
	code, players := setupRoom(t, c, "ana", "ben", "cleo")

	_, err := c.StartRound(ctx, code, 5, nil)
	require.NoError(t, err)

	base := time.Now()
	c.now = func() time.Time { return base }
	_, err = c.MarkPlayerDisconnected(ctx, players[2].ID)
	require.NoError(t, err)

	// Long past the lobby window but inside the in-game one.
	evictions := c.SweepDisconnected(ctx, base.Add(c.lobbyGrace+time.Minute))
	assert.Empty(t, evictions, "mid-game rooms use the long window")

	evictions = c.SweepDisconnected(ctx, base.Add(c.gameGrace+time.Second))
	require.Len(t, evictions, 1)
	assert.Equal(t, players[2].ID, evictions[0].PlayerID)
}

func TestSweepIgnoresConnected(t *testing.T) {
	c, _ := newTestCoordinator()
	_, _ = setupRoom(t, c, "ana", "ben")

	evictions := c.SweepDisconnected(context.Background(), time.Now().Add(24*time.Hour))
	assert.Empty(t, evictions)
}

func TestSweepReconnectedPlayerSurvives(t *testing.T) {
	c, _ := newTestCoordinator()
	ctx := context.Background()
	_, players := setupRoom(t, c, "ana", "ben")

	base := time.Now()
	c.now = func() time.Time { return base }
	_, err := c.MarkPlayerDisconnected(ctx, players[1].ID)
	require.NoError(t, err)
	_, _, err = c.RejoinRoom(ctx, players[1].SessionToken)
	require.NoError(t, err)

	evictions := c.SweepDisconnected(ctx, base.Add(time.Hour))
	assert.Empty(t, evictions, "reconnection cleared the disconnect timestamp")
}

func TestSweepEvictingLastPlayerDeletesRoom(t *testing.T) {
	c, _ := newTestCoordinator()
	ctx := context.Background()
	code, players := setupRoom(t, c, "ana", "ben")

	base := time.Now()
	c.now = func() time.Time { return base }
	for _, p := range players {
		_, err := c.MarkPlayerDisconnected(ctx, p.ID)
		require.NoError(t, err)
	}

	evictions := c.SweepDisconnected(ctx, base.Add(c.lobbyGrace+time.Second))
	require.Len(t, evictions, 2)
	assert.True(t, evictions[1].Leave.RoomDeleted)

	_, _, ok := c.RoomState(code)
	assert.False(t, ok)
}

func TestSweeperRunEvictsOnTick(t *testing.T) {
	c, _ := newTestCoordinator()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, players := setupRoom(t, c, "ana", "ben", "cleo")

	base := time.Now()
	c.now = func() time.Time { return base }
	_, err := c.MarkPlayerDisconnected(ctx, players[2].ID)
	require.NoError(t, err)

	tick := make(chan time.Time)
	ticks := &MockTickerSource{}
	ticks.On("Create", SweepInterval).Return(tick).Once()

	evicted := make(chan Eviction, 1)
	sweeper := NewSweeper(c, ticks, func(e Eviction) { evicted <- e })

	started := make(chan struct{})
	go sweeper.Run(ctx, started)
	<-started

	tick <- base.Add(c.lobbyGrace + time.Second)

	select {
	case e := <-evicted:
		assert.Equal(t, players[2].ID, e.PlayerID)
	case <-time.After(time.Second):
		t.Fatal("expected an eviction after the tick")
	}
	ticks.AssertExpectations(t)
}
