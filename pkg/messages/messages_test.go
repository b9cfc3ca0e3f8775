package messages

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/cbodonnell/tandem/pkg/game/types"
	"github.com/cbodonnell/tandem/pkg/kinematic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage_Flattens(t *testing.T) {
	msg, err := NewMessage(MessageTypeClientJoinRoom, ClientJoinRoom{RoomID: "ABC123", PlayerName: "bob"})
	require.NoError(t, err)

	b, err := json.Marshal(msg)
	require.NoError(t, err)

	fields := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(b, &fields))
	assert.Equal(t, "join_room", fields["type"])
	assert.Equal(t, "ABC123", fields["room_id"])
	assert.Equal(t, "bob", fields["player_name"])
	assert.NotContains(t, fields, "payload")
	assert.NotContains(t, fields, "request_id")
}

func TestNewMessage_NilPayload(t *testing.T) {
	msg, err := NewMessage(MessageTypeClientLeaveRoom, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"leave_room"}`, string(msg.Payload))
}

func TestNewMessage_NonObjectPayload(t *testing.T) {
	_, err := NewMessage(MessageTypeClientChat, []int{1, 2})
	assert.Error(t, err)
}

func TestUnmarshal(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		wantErr  bool
	}{
		{name: "valid", input: `{"type":"pong"}`, wantType: "pong"},
		{name: "extra fields", input: `{"type":"error","message":"room full"}`, wantType: "error"},
		{name: "missing type", input: `{"message":"x"}`, wantErr: true},
		{name: "not json", input: `hello`, wantErr: true},
		{name: "array", input: `[1,2]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := JSONCodec{}.Deserialize([]byte(tt.input))
			if tt.wantErr {
				var perr *ProtocolError
				assert.True(t, errors.As(err, &perr), "expected protocol error, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, msg.Type)
		})
	}
}

func TestDecode_PartialPlayerState(t *testing.T) {
	msg, err := JSONCodec{}.Deserialize([]byte(`{"type":"player_state_update","player_id":"p2","state":{"position":{"x":10,"y":20}}}`))
	require.NoError(t, err)

	payload := ServerPlayerStateUpdate{}
	require.NoError(t, msg.Decode(&payload))
	assert.Equal(t, "p2", payload.PlayerID)
	require.NotNil(t, payload.State.Position)
	assert.Equal(t, kinematic.Vector{X: 10, Y: 20}, *payload.State.Position)
	assert.Nil(t, payload.State.Velocity)
	assert.Nil(t, payload.State.Health)
}

func TestDecode_WrongShape(t *testing.T) {
	msg, err := JSONCodec{}.Deserialize([]byte(`{"type":"item_collected","item_id":42}`))
	require.NoError(t, err)

	err = msg.Decode(&ServerItemCollected{})
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, MessageTypeServerItemCollected, perr.Type)
}

func TestClientPlayerState_EmbeddedPatch(t *testing.T) {
	x := 3
	msg, err := NewMessage(MessageTypeClientPlayerState, ClientPlayerState{
		PlayerStatePatch: types.PlayerStatePatch{Health: &x},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"player_state","health":3}`, string(msg.Payload))
}

func TestZstdCodec(t *testing.T) {
	codec, err := CodecByName(CodecNameZstd)
	require.NoError(t, err)
	assert.True(t, codec.Binary())

	in := MustNewMessage(MessageTypeServerChat, ServerChat{PlayerID: "p1", PlayerName: "alice", Message: "hi"})
	b, err := codec.Serialize(in)
	require.NoError(t, err)
	assert.NotEqual(t, in.Payload, json.RawMessage(b))

	out, err := codec.Deserialize(b)
	require.NoError(t, err)
	assert.Equal(t, in.Type, out.Type)
	assert.JSONEq(t, string(in.Payload), string(out.Payload))

	_, err = codec.Deserialize([]byte("not zstd"))
	var perr *ProtocolError
	assert.True(t, errors.As(err, &perr))
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, CodecNameJSON, c.Name())

	_, err = CodecByName("msgpack")
	assert.Error(t, err)
}

func TestRoomInfo(t *testing.T) {
	info := &RoomInfo{
		ID:     "ABC123",
		HostID: "p1",
		Players: []PlayerInfo{
			{ID: "p1", IsReady: true, IsHost: true},
			{ID: "p2"},
		},
	}
	assert.False(t, info.AllReady())

	c := info.Copy()
	c.Players[1].IsReady = true
	assert.True(t, c.AllReady())
	assert.False(t, info.Players[1].IsReady)

	p, ok := info.Player("p2")
	assert.True(t, ok)
	assert.Equal(t, "p2", p.ID)
	_, ok = (*RoomInfo)(nil).Player("p2")
	assert.False(t, ok)
}

func TestSchema(t *testing.T) {
	for _, msgType := range SchemaTypes() {
		s, err := Schema(msgType)
		require.NoError(t, err, msgType)
		assert.Equal(t, msgType, s.Title)
	}

	s, err := Schema(MessageTypeClientJoinRoom)
	require.NoError(t, err)
	require.NotNil(t, s.Properties)
	_, ok := s.Properties.Get("room_id")
	assert.True(t, ok)

	_, err = Schema("nope")
	assert.Error(t, err)
}
