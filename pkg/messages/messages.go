package messages

import (
	"encoding/json"
	"fmt"
)

const (
	// MaxMessageSize is the largest frame either side will read
	MaxMessageSize = 64 * 1024
)

// Client -> server message types
const (
	MessageTypeClientCreateRoom   = "create_room"
	MessageTypeClientJoinRoom     = "join_room"
	MessageTypeClientLeaveRoom    = "leave_room"
	MessageTypeClientPlayerReady  = "player_ready"
	MessageTypeClientStartGame    = "start_game"
	MessageTypeClientPlayerState  = "player_state"
	MessageTypeClientGameAction   = "game_action"
	MessageTypeClientChat         = "chat"
	MessageTypeClientCollectItem  = "collect_item"
	MessageTypeClientEnemyState   = "enemy_state"
	MessageTypeClientEnemySpawn   = "enemy_spawn"
	MessageTypeClientEnemyKilled  = "enemy_killed"
	MessageTypeClientCoinSpawn    = "coin_spawn"
	MessageTypeClientSyncEntities = "sync_entities"
	MessageTypeClientTimeSync     = "time_sync"
	MessageTypeClientReconnect    = "reconnect"
	MessageTypeClientPing         = "ping"
)

// Server -> client message types
const (
	MessageTypeServerRoomCreated          = "room_created"
	MessageTypeServerRoomJoined           = "room_joined"
	MessageTypeServerRoomLeft             = "room_left"
	MessageTypeServerPlayerJoined         = "player_joined"
	MessageTypeServerPlayerLeft           = "player_left"
	MessageTypeServerPlayerDisconnected   = "player_disconnected"
	MessageTypeServerPlayerReconnected    = "player_reconnected"
	MessageTypeServerPlayerReadyChanged   = "player_ready_changed"
	MessageTypeServerPlayerStateUpdate    = "player_state_update"
	MessageTypeServerGameAction           = "game_action"
	MessageTypeServerChat                 = "chat"
	MessageTypeServerGameStarting         = "game_starting"
	MessageTypeServerItemCollected        = "item_collected"
	MessageTypeServerItemAlreadyCollected = "item_already_collected"
	MessageTypeServerEnemyStateUpdate     = "enemy_state_update"
	MessageTypeServerEnemySpawned         = "enemy_spawned"
	MessageTypeServerEnemyKilled          = "enemy_killed"
	MessageTypeServerEnemyAlreadyDead     = "enemy_already_dead"
	MessageTypeServerCoinSpawned          = "coin_spawned"
	MessageTypeServerEntitiesSync         = "entities_sync"
	MessageTypeServerTimeSyncResponse     = "time_sync_response"
	MessageTypeServerReconnected          = "reconnected"
	MessageTypeServerError                = "error"
	MessageTypeServerPong                 = "pong"
)

// Message is one tagged frame on the wire. On the wire it is a flat JSON object
// whose "type" field is the discriminator; Payload holds that whole object.
type Message struct {
	Type    string
	Payload json.RawMessage
}

// NewMessage builds a message of the given type from a payload struct. The payload
// must marshal to a JSON object (or be nil for messages without fields).
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, fmt.Errorf("payload for %s is not a JSON object: %w", msgType, err)
		}
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}

	typ, err := json.Marshal(msgType)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message type: %w", err)
	}
	fields["type"] = typ

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msgType, err)
	}

	return &Message{
		Type:    msgType,
		Payload: raw,
	}, nil
}

// MustNewMessage is NewMessage for payloads that are known to marshal.
func MustNewMessage(msgType string, payload interface{}) *Message {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the message fields into v.
func (m *Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return &ProtocolError{Type: m.Type, Err: err}
	}
	return nil
}

func (m *Message) MarshalJSON() ([]byte, error) {
	if len(m.Payload) == 0 {
		return json.Marshal(map[string]string{"type": m.Type})
	}
	return m.Payload, nil
}

func (m *Message) UnmarshalJSON(b []byte) error {
	head := struct {
		Type string `json:"type"`
	}{}
	if err := json.Unmarshal(b, &head); err != nil {
		return &ProtocolError{Err: err}
	}
	if head.Type == "" {
		return &ProtocolError{Err: fmt.Errorf("missing type discriminator")}
	}
	m.Type = head.Type
	m.Payload = append(json.RawMessage(nil), b...)
	return nil
}

func (m *Message) String() string {
	return string(m.Payload)
}
