package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cbodonnell/tandem/pkg/game/types"
	"github.com/cbodonnell/tandem/pkg/kinematic"
	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.UnixMilli(1_700_000_000_000)

type testRelay struct {
	t      *testing.T
	hub    *Hub
	clock  *clockwork.FakeClock
	server *httptest.Server
	wsURL  string
}

func newTestRelay(t *testing.T) *testRelay {
	clock := clockwork.NewFakeClockAt(epoch)
	hub, err := NewHub(HubOptions{
		Clock:  clock,
		Logger: log.New(nil, log.LogLevelError),
	})
	require.NoError(t, err)
	srv := NewServer(NewServerOptions{Hub: hub})
	server := httptest.NewServer(srv.Router())
	t.Cleanup(server.Close)
	return &testRelay{
		t:      t,
		hub:    hub,
		clock:  clock,
		server: server,
		wsURL:  "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
	}
}

type testPeer struct {
	t    *testing.T
	conn *websocket.Conn
}

func (r *testRelay) dial() *testPeer {
	conn, _, err := websocket.DefaultDialer.Dial(r.wsURL, nil)
	require.NoError(r.t, err)
	r.t.Cleanup(func() { conn.Close() })
	return &testPeer{t: r.t, conn: conn}
}

func (p *testPeer) send(msgType string, payload interface{}) {
	p.t.Helper()
	data, err := messages.JSONCodec{}.Serialize(messages.MustNewMessage(msgType, payload))
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, data))
}

// next returns the next message, whatever its type.
func (p *testPeer) next() *messages.Message {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := p.conn.ReadMessage()
	require.NoError(p.t, err)
	msg, err := messages.JSONCodec{}.Deserialize(data)
	require.NoError(p.t, err)
	return msg
}

// expect skips messages until one of msgType arrives and decodes it into v.
func (p *testPeer) expect(msgType string, v interface{}) {
	p.t.Helper()
	for {
		msg := p.next()
		if msg.Type != msgType {
			continue
		}
		if v != nil {
			require.NoError(p.t, msg.Decode(v))
		}
		return
	}
}

type seated struct {
	*testPeer
	joined messages.ServerRoomJoined
}

// seatedRoom seats a host and a guest.
func (r *testRelay) seatedRoom() (host, guest *seated) {
	host = &seated{testPeer: r.dial()}
	host.send(messages.MessageTypeClientCreateRoom, messages.ClientCreateRoom{RequestID: "r1", RoomName: "den", PlayerName: "alice"})
	host.expect(messages.MessageTypeServerRoomCreated, &host.joined)

	guest = &seated{testPeer: r.dial()}
	guest.send(messages.MessageTypeClientJoinRoom, messages.ClientJoinRoom{RequestID: "r2", RoomID: host.joined.RoomID, PlayerName: "bob"})
	guest.expect(messages.MessageTypeServerRoomJoined, &guest.joined)
	host.expect(messages.MessageTypeServerPlayerJoined, nil)
	return host, guest
}

// startedRoom seats a host and a guest, readies both and starts the game.
func (r *testRelay) startedRoom() (host, guest *seated) {
	host, guest = r.seatedRoom()
	host.send(messages.MessageTypeClientPlayerReady, messages.ClientPlayerReady{IsReady: true})
	guest.send(messages.MessageTypeClientPlayerReady, messages.ClientPlayerReady{IsReady: true})
	waitReady := func(p *seated) {
		for {
			var ev messages.ServerPlayerEvent
			p.expect(messages.MessageTypeServerPlayerReadyChanged, &ev)
			if ev.RoomInfo.AllReady() {
				return
			}
		}
	}
	waitReady(host)
	waitReady(guest)
	host.send(messages.MessageTypeClientStartGame, nil)
	host.expect(messages.MessageTypeServerGameStarting, nil)
	guest.expect(messages.MessageTypeServerGameStarting, nil)
	return host, guest
}

func TestCreateJoinAndStart(t *testing.T) {
	r := newTestRelay(t)
	host, guest := r.seatedRoom()

	assert.Equal(t, "r1", host.joined.RequestID)
	assert.Len(t, host.joined.RoomID, roomCodeLength)
	assert.Equal(t, 1, host.joined.PlayerNumber)
	assert.NotEmpty(t, host.joined.ReconnectToken)
	assert.Equal(t, host.joined.PlayerID, host.joined.RoomInfo.HostID)

	assert.Equal(t, "r2", guest.joined.RequestID)
	assert.Equal(t, 2, guest.joined.PlayerNumber)
	require.Len(t, guest.joined.RoomInfo.Players, 2)
	assert.Equal(t, host.joined.PlayerID, guest.joined.RoomInfo.HostID)

	// not everyone is ready yet
	host.send(messages.MessageTypeClientStartGame, nil)
	var notReady messages.ServerError
	host.expect(messages.MessageTypeServerError, &notReady)
	assert.Equal(t, messages.ErrorCodeNotReady, notReady.Code)

	host.send(messages.MessageTypeClientPlayerReady, messages.ClientPlayerReady{IsReady: true})
	guest.send(messages.MessageTypeClientPlayerReady, messages.ClientPlayerReady{IsReady: true})
	for _, p := range []*seated{host, guest} {
		for {
			var ev messages.ServerPlayerEvent
			p.expect(messages.MessageTypeServerPlayerReadyChanged, &ev)
			if ev.RoomInfo.AllReady() {
				break
			}
		}
	}

	guest.send(messages.MessageTypeClientStartGame, nil)
	var notHost messages.ServerError
	guest.expect(messages.MessageTypeServerError, &notHost)
	assert.Equal(t, messages.ErrorCodeNotHost, notHost.Code)

	host.send(messages.MessageTypeClientStartGame, nil)
	var hostStart, guestStart messages.ServerGameStarting
	host.expect(messages.MessageTypeServerGameStarting, &hostStart)
	guest.expect(messages.MessageTypeServerGameStarting, &guestStart)
	assert.Equal(t, epoch.Add(DefaultStartDelay).UnixMilli(), hostStart.StartTime)
	assert.Equal(t, hostStart, guestStart)
	assert.True(t, hostStart.RoomInfo.GameStarted)
}

func TestJoinRejected(t *testing.T) {
	r := newTestRelay(t)
	host, _ := r.seatedRoom()

	tests := []struct {
		name   string
		roomID string
		player string
		code   string
	}{
		{
			name:   "unknown room",
			roomID: "NOPE00",
			player: "carol",
			code:   messages.ErrorCodeRoomNotFound,
		},
		{
			name:   "third participant",
			roomID: host.joined.RoomID,
			player: "carol",
			code:   messages.ErrorCodeRoomFull,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := r.dial()
			p.send(messages.MessageTypeClientJoinRoom, messages.ClientJoinRoom{RequestID: "req", RoomID: tt.roomID, PlayerName: tt.player})
			var e messages.ServerError
			p.expect(messages.MessageTypeServerError, &e)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, "req", e.RequestID)
		})
	}

	info, ok := r.hub.Room(host.joined.RoomID)
	require.True(t, ok)
	assert.Len(t, info.Players, 2)
}

func TestJoinStartedRoom(t *testing.T) {
	r := newTestRelay(t)
	host, guest := r.startedRoom()

	// free a seat so that only the started flag blocks the join
	guest.send(messages.MessageTypeClientLeaveRoom, nil)
	guest.expect(messages.MessageTypeServerRoomLeft, nil)
	host.expect(messages.MessageTypeServerPlayerLeft, nil)

	p := r.dial()
	p.send(messages.MessageTypeClientJoinRoom, messages.ClientJoinRoom{RoomID: host.joined.RoomID, PlayerName: "carol"})
	var e messages.ServerError
	p.expect(messages.MessageTypeServerError, &e)
	assert.Equal(t, messages.ErrorCodeGameStarted, e.Code)
}

func TestNameTaken(t *testing.T) {
	r := newTestRelay(t)
	host := r.dial()
	host.send(messages.MessageTypeClientCreateRoom, messages.ClientCreateRoom{PlayerName: "alice"})
	var joined messages.ServerRoomJoined
	host.expect(messages.MessageTypeServerRoomCreated, &joined)

	p := r.dial()
	p.send(messages.MessageTypeClientJoinRoom, messages.ClientJoinRoom{RoomID: joined.RoomID, PlayerName: "alice"})
	var e messages.ServerError
	p.expect(messages.MessageTypeServerError, &e)
	assert.Equal(t, messages.ErrorCodeNameTaken, e.Code)
}

func TestRoomListing(t *testing.T) {
	r := newTestRelay(t)
	host := r.dial()
	host.send(messages.MessageTypeClientCreateRoom, messages.ClientCreateRoom{RoomName: "den", PlayerName: "alice"})
	var joined messages.ServerRoomJoined
	host.expect(messages.MessageTypeServerRoomCreated, &joined)

	list := func() []messages.RoomSummary {
		resp, err := http.Get(r.server.URL + "/api/rooms")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var rooms []messages.RoomSummary
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
		return rooms
	}

	rooms := list()
	require.Len(t, rooms, 1)
	assert.Equal(t, messages.RoomSummary{
		ID:          joined.RoomID,
		Name:        "den",
		PlayerCount: 1,
		MaxPlayers:  messages.MaxPlayers,
	}, rooms[0])

	guest := r.dial()
	guest.send(messages.MessageTypeClientJoinRoom, messages.ClientJoinRoom{RoomID: joined.RoomID, PlayerName: "bob"})
	guest.expect(messages.MessageTypeServerRoomJoined, nil)
	assert.Empty(t, list())

	resp, err := http.Get(r.server.URL + "/api/rooms/" + joined.RoomID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info messages.RoomInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Len(t, info.Players, 2)

	missing, err := http.Get(r.server.URL + "/api/rooms/NOPE00")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestPlayerStateFanOut(t *testing.T) {
	r := newTestRelay(t)
	host, guest := r.startedRoom()

	pos := types.PlayerState{Position: kinematic.Vector{X: 10, Y: 20}}.MovementPatch()
	host.send(messages.MessageTypeClientPlayerState, messages.ClientPlayerState{PlayerStatePatch: pos, Timestamp: 42})

	var update messages.ServerPlayerStateUpdate
	guest.expect(messages.MessageTypeServerPlayerStateUpdate, &update)
	assert.Equal(t, host.joined.PlayerID, update.PlayerID)
	assert.Equal(t, int64(42), update.Timestamp)
	require.NotNil(t, update.State.Position)
	assert.Equal(t, 10.0, update.State.Position.X)
}

func TestCollectItemArbitration(t *testing.T) {
	r := newTestRelay(t)
	host, guest := r.startedRoom()

	host.send(messages.MessageTypeClientCoinSpawn, messages.ClientCoinSpawn{
		Coins: []types.EntityState{{ID: "c1"}},
		Seq:   1,
	})
	guest.expect(messages.MessageTypeServerCoinSpawned, nil)

	guest.send(messages.MessageTypeClientCollectItem, messages.ClientCollectItem{ItemType: ItemTypeCoin, ItemID: "c1"})
	var collected messages.ServerItemCollected
	guest.expect(messages.MessageTypeServerItemCollected, &collected)
	assert.Equal(t, guest.joined.PlayerID, collected.PlayerID)
	require.NotNil(t, collected.Coins)
	assert.Equal(t, 1, *collected.Coins)
	host.expect(messages.MessageTypeServerItemCollected, nil)

	host.send(messages.MessageTypeClientCollectItem, messages.ClientCollectItem{ItemType: ItemTypeCoin, ItemID: "c1"})
	var late messages.ServerItemAlreadyCollected
	host.expect(messages.MessageTypeServerItemAlreadyCollected, &late)
	assert.Equal(t, "c1", late.ItemID)
}

func TestEntityMessagesFromGuestAreDropped(t *testing.T) {
	r := newTestRelay(t)
	host, guest := r.startedRoom()

	guest.send(messages.MessageTypeClientEnemySpawn, messages.ClientEnemyState{
		Enemy: types.EntityState{ID: "forged", Alive: true},
	})
	guest.send(messages.MessageTypeClientChat, messages.ClientChat{Message: "done"})

	// messages from one connection are handled in order, so the chat is next
	msg := host.next()
	assert.Equal(t, messages.MessageTypeServerChat, msg.Type)

	host.send(messages.MessageTypeClientEnemySpawn, messages.ClientEnemyState{
		Enemy: types.EntityState{ID: "e1", Alive: true},
		Seq:   1,
	})
	var spawned messages.ServerEnemyUpdate
	guest.expect(messages.MessageTypeServerEnemySpawned, &spawned)
	assert.Equal(t, "e1", spawned.Enemy.ID)
	assert.Equal(t, host.joined.PlayerID, spawned.PlayerID)

	host.send(messages.MessageTypeClientEnemyKilled, messages.ClientEnemyKilled{EnemyID: "e1", Seq: 2})
	guest.expect(messages.MessageTypeServerEnemyKilled, nil)
	host.send(messages.MessageTypeClientEnemyKilled, messages.ClientEnemyKilled{EnemyID: "e1", Seq: 3})
	var dead messages.ServerEnemyAlreadyDead
	host.expect(messages.MessageTypeServerEnemyAlreadyDead, &dead)
	assert.Equal(t, "e1", dead.EnemyID)
}

func TestReconnectWithinGraceWindow(t *testing.T) {
	r := newTestRelay(t)
	host, guest := r.startedRoom()

	host.send(messages.MessageTypeClientPlayerState, messages.ClientPlayerState{
		PlayerStatePatch: types.PlayerState{Position: kinematic.Vector{X: 5, Y: 6}}.MovementPatch(),
	})
	guest.expect(messages.MessageTypeServerPlayerStateUpdate, nil)

	guest.conn.Close()
	var dropped messages.ServerPlayerEvent
	host.expect(messages.MessageTypeServerPlayerDisconnected, &dropped)
	assert.Equal(t, guest.joined.PlayerID, dropped.PlayerID)
	p, ok := dropped.RoomInfo.Player(guest.joined.PlayerID)
	require.True(t, ok)
	assert.False(t, p.Connected)

	rejected := r.dial()
	rejected.send(messages.MessageTypeClientReconnect, messages.ClientReconnect{
		RequestID: "bad",
		RoomID:    guest.joined.RoomID,
		PlayerID:  guest.joined.PlayerID,
		Token:     "forged",
	})
	var e messages.ServerError
	rejected.expect(messages.MessageTypeServerError, &e)
	assert.Equal(t, messages.ErrorCodeReconnectFailed, e.Code)
	assert.Equal(t, "bad", e.RequestID)

	back := r.dial()
	back.send(messages.MessageTypeClientReconnect, messages.ClientReconnect{
		RequestID: "good",
		RoomID:    guest.joined.RoomID,
		PlayerID:  guest.joined.PlayerID,
		Token:     guest.joined.ReconnectToken,
	})
	var resumed messages.ServerReconnected
	back.expect(messages.MessageTypeServerReconnected, &resumed)
	assert.Equal(t, "good", resumed.RequestID)
	assert.Equal(t, 2, resumed.PlayerNumber)
	assert.NotEqual(t, guest.joined.ReconnectToken, resumed.ReconnectToken)
	require.NotNil(t, resumed.GameState)
	hostState, ok := resumed.GameState.Players[host.joined.PlayerID]
	require.True(t, ok)
	assert.Equal(t, 5.0, hostState.Position.X)

	host.expect(messages.MessageTypeServerPlayerReconnected, nil)

	// the consumed token is no longer accepted
	again := r.dial()
	again.send(messages.MessageTypeClientReconnect, messages.ClientReconnect{
		RoomID:   guest.joined.RoomID,
		PlayerID: guest.joined.PlayerID,
		Token:    guest.joined.ReconnectToken,
	})
	again.expect(messages.MessageTypeServerError, nil)
}

func TestGraceWindowExpires(t *testing.T) {
	r := newTestRelay(t)
	host, guest := r.startedRoom()

	guest.conn.Close()
	host.expect(messages.MessageTypeServerPlayerDisconnected, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.clock.BlockUntilContext(ctx, 1))
	r.clock.Advance(DefaultGraceWindow)

	var left messages.ServerPlayerEvent
	host.expect(messages.MessageTypeServerPlayerLeft, &left)
	assert.Equal(t, guest.joined.PlayerID, left.PlayerID)
	assert.Len(t, left.RoomInfo.Players, 1)
}

func TestHostLeaveClosesRoom(t *testing.T) {
	r := newTestRelay(t)
	host, guest := r.seatedRoom()

	host.send(messages.MessageTypeClientLeaveRoom, nil)
	host.expect(messages.MessageTypeServerRoomLeft, nil)
	guest.expect(messages.MessageTypeServerRoomLeft, nil)

	_, ok := r.hub.Room(host.joined.RoomID)
	assert.False(t, ok)
}

func TestTimeSyncAndPing(t *testing.T) {
	r := newTestRelay(t)
	p := r.dial()

	p.send(messages.MessageTypeClientTimeSync, messages.ClientTimeSync{ClientTime: 900, SequenceID: 7})
	var resp messages.ServerTimeSyncResponse
	p.expect(messages.MessageTypeServerTimeSyncResponse, &resp)
	assert.Equal(t, int64(900), resp.ClientTime)
	assert.Equal(t, epoch.UnixMilli(), resp.ServerTime)
	assert.Equal(t, uint64(7), resp.SequenceID)

	p.send(messages.MessageTypeClientPing, nil)
	p.expect(messages.MessageTypeServerPong, nil)
}

func TestZstdFramesAreAnsweredInKind(t *testing.T) {
	r := newTestRelay(t)
	p := r.dial()
	codec, err := messages.NewZstdCodec()
	require.NoError(t, err)

	data, err := codec.Serialize(messages.MustNewMessage(messages.MessageTypeClientPing, nil))
	require.NoError(t, err)
	require.NoError(t, p.conn.WriteMessage(websocket.BinaryMessage, data))

	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frameType, reply, err := p.conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, frameType)
	msg, err := codec.Deserialize(reply)
	require.NoError(t, err)
	assert.Equal(t, messages.MessageTypeServerPong, msg.Type)
}

func TestMalformedMessagesAreIgnored(t *testing.T) {
	r := newTestRelay(t)
	p := r.dial()

	require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, []byte(`{"no_type":true}`)))
	require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`)))
	p.send(messages.MessageTypeClientPing, nil)

	msg := p.next()
	assert.Equal(t, messages.MessageTypeServerPong, msg.Type)
}
