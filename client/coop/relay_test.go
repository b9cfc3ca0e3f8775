package coop_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cbodonnell/tandem/client/coop"
	"github.com/cbodonnell/tandem/client/network"
	"github.com/cbodonnell/tandem/client/replication"
	"github.com/cbodonnell/tandem/client/room"
	"github.com/cbodonnell/tandem/pkg/game/types"
	"github.com/cbodonnell/tandem/pkg/kinematic"
	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) string {
	hub, err := relay.NewHub(relay.HubOptions{
		Logger:     log.New(nil, log.LogLevelError),
		StartDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	srv := relay.NewServer(relay.NewServerOptions{Hub: hub})
	server := httptest.NewServer(srv.Router())
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

// runClient starts a client pumped at 200Hz for the rest of the test.
func runClient(t *testing.T, wsURL string, rec *recorder) *coop.Client {
	client := coop.NewClient(coop.Options{
		ServerURL: wsURL,
		Dialer:    &network.WSDialer{},
		Logger:    log.New(nil, log.LogLevelError),
		Handlers:  rec.handlers(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		client.Run(ctx, 5*time.Millisecond)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
		client.Disconnect()
	})
	return client
}

func await[T any](t *testing.T, f *network.Future[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	require.NoError(t, err)
	return v
}

func TestClient_TwoPlayersOverRelay(t *testing.T) {
	wsURL := startRelay(t)
	hostRec, guestRec := &recorder{}, &recorder{}
	host := runClient(t, wsURL, hostRec)
	guest := runClient(t, wsURL, guestRec)

	created := await(t, host.CreateRoom("den", "alice"))
	require.Len(t, created.RoomID, 6)
	assert.Equal(t, 1, created.PlayerNumber)
	assert.NotEmpty(t, created.ReconnectToken)

	joined := await(t, guest.JoinRoom(created.RoomID, "bob"))
	assert.Equal(t, 2, joined.PlayerNumber)
	assert.True(t, host.IsHost())
	assert.False(t, guest.IsHost())

	require.Eventually(t, func() bool {
		r := host.Room()
		return r != nil && len(r.Players) == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, guest.StartGame(), room.ErrNotHost)
	require.NoError(t, host.SetReady(true))
	require.NoError(t, guest.SetReady(true))
	require.Eventually(t, func() bool {
		return host.Room().AllReady() && guest.Room().AllReady()
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, host.StartGame())
	require.Eventually(t, func() bool {
		return host.State() == room.StateInGame && guest.State() == room.StateInGame
	}, 3*time.Second, 5*time.Millisecond)

	hostStart, guestStart := host.GameStart(), guest.GameStart()
	require.NotNil(t, hostStart)
	require.NotNil(t, guestStart)
	assert.Equal(t, *hostStart, *guestStart)

	// movement reaches the other side through the relay
	host.PushLocalState(types.PlayerState{Position: kinematic.Vector{X: 64, Y: 32}})
	require.Eventually(t, func() bool {
		r, ok := guest.RemotePlayer(host.PlayerID())
		return ok && r.Target == kinematic.Vector{X: 64, Y: 32}
	}, 2*time.Second, 5*time.Millisecond)

	// entity state is written by the host only
	assert.ErrorIs(t, guest.SpawnEnemy(types.EntityState{ID: "e1"}), replication.ErrNotHost)
	require.NoError(t, host.SpawnEnemy(types.EntityState{ID: "e1", Position: kinematic.Vector{X: 10}}))
	require.Eventually(t, func() bool {
		return len(guest.Enemies()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, host.SpawnCoins([]types.EntityState{{ID: "c1"}}))
	require.Eventually(t, func() bool {
		return len(guest.Coins()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// both claim the coin; exactly one collection is confirmed
	host.CollectItem(relay.ItemTypeCoin, "c1")
	guest.CollectItem(relay.ItemTypeCoin, "c1")
	collected := func(r *recorder) int { return r.count(func() int { return len(r.collected) }) }
	require.Eventually(t, func() bool {
		return collected(hostRec) == 1 && collected(guestRec) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, host.Coins())
	assert.Empty(t, guest.Coins())
	hostRec.mu.Lock()
	winner := hostRec.collected[0]
	hostRec.mu.Unlock()
	require.NotNil(t, winner.Coins)
	assert.Equal(t, 1, *winner.Coins)

	host.Leave()
	require.Eventually(t, func() bool {
		return guest.State() == room.StateIdle
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, room.StateIdle, host.State())
}
