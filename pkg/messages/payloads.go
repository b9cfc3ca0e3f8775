package messages

import (
	"encoding/json"

	"github.com/cbodonnell/tandem/pkg/game/types"
)

const (
	// MaxPlayers is the seat count of every room
	MaxPlayers = 2
)

// PlayerInfo is one participant as seen in a room roster.
type PlayerInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Number    int    `json:"number"`
	IsReady   bool   `json:"is_ready"`
	IsHost    bool   `json:"is_host"`
	Connected bool   `json:"connected"`
}

// RoomInfo is the server's view of a room. Clients replace their copy wholesale
// every time one arrives.
type RoomInfo struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	HostID      string       `json:"host_id"`
	Players     []PlayerInfo `json:"players"`
	MaxPlayers  int          `json:"max_players"`
	GameStarted bool         `json:"game_started"`
}

// Player returns the roster entry for id.
func (r *RoomInfo) Player(id string) (PlayerInfo, bool) {
	if r == nil {
		return PlayerInfo{}, false
	}
	for _, p := range r.Players {
		if p.ID == id {
			return p, true
		}
	}
	return PlayerInfo{}, false
}

// AllReady reports whether the room is full and every participant is ready.
func (r *RoomInfo) AllReady() bool {
	if r == nil || len(r.Players) < MaxPlayers {
		return false
	}
	for _, p := range r.Players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// Copy returns a deep copy so that snapshots never share the roster slice.
func (r *RoomInfo) Copy() *RoomInfo {
	if r == nil {
		return nil
	}
	c := *r
	c.Players = append([]PlayerInfo(nil), r.Players...)
	return &c
}

// RoomSummary is the lobby browser view of a joinable room.
type RoomSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PlayerCount int    `json:"player_count"`
	MaxPlayers  int    `json:"max_players"`
	GameStarted bool   `json:"game_started"`
}

type ClientCreateRoom struct {
	RequestID  string `json:"request_id,omitempty"`
	RoomName   string `json:"room_name"`
	PlayerName string `json:"player_name"`
}

type ClientJoinRoom struct {
	RequestID  string `json:"request_id,omitempty"`
	RoomID     string `json:"room_id"`
	PlayerName string `json:"player_name"`
}

type ClientPlayerReady struct {
	IsReady bool `json:"is_ready"`
}

// ClientPlayerState is a partial player update; absent fields are left untouched by receivers.
type ClientPlayerState struct {
	types.PlayerStatePatch
	Timestamp int64 `json:"timestamp,omitempty"`
}

type ClientGameAction struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type ClientChat struct {
	Message string `json:"message"`
}

type ClientCollectItem struct {
	ItemType string `json:"item_type"`
	ItemID   string `json:"item_id"`
}

type ClientEnemyState struct {
	Enemy types.EntityState `json:"enemy"`
	Seq   uint64            `json:"sequence_id,omitempty"`
}

type ClientEnemyKilled struct {
	EnemyID string `json:"enemy_id"`
	Seq     uint64 `json:"sequence_id,omitempty"`
}

type ClientCoinSpawn struct {
	Coins []types.EntityState `json:"coins"`
	Seq   uint64              `json:"sequence_id,omitempty"`
}

type ClientSyncEntities struct {
	Enemies []types.EntityState `json:"enemies"`
	Coins   []types.EntityState `json:"coins"`
	Seq     uint64              `json:"sequence_id,omitempty"`
}

type ClientTimeSync struct {
	ClientTime int64  `json:"client_time"`
	SequenceID uint64 `json:"sequence_id,omitempty"`
}

type ClientReconnect struct {
	RequestID string `json:"request_id,omitempty"`
	RoomID    string `json:"room_id"`
	PlayerID  string `json:"player_id"`
	Token     string `json:"token"`
}

// ServerRoomJoined is the payload of both room_created and room_joined.
type ServerRoomJoined struct {
	RequestID      string    `json:"request_id,omitempty"`
	RoomID         string    `json:"room_id"`
	PlayerID       string    `json:"player_id"`
	PlayerNumber   int       `json:"player_number"`
	RoomInfo       *RoomInfo `json:"room_info"`
	ReconnectToken string    `json:"reconnect_token,omitempty"`
}

// ServerPlayerEvent is the payload of the roster change pushes.
type ServerPlayerEvent struct {
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name,omitempty"`
	IsReady    bool      `json:"is_ready,omitempty"`
	RoomInfo   *RoomInfo `json:"room_info"`
}

type ServerPlayerStateUpdate struct {
	PlayerID  string                 `json:"player_id"`
	State     types.PlayerStatePatch `json:"state"`
	Timestamp int64                  `json:"timestamp,omitempty"`
}

type ServerGameAction struct {
	PlayerID string          `json:"player_id"`
	Action   string          `json:"action"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type ServerChat struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Message    string `json:"message"`
	Timestamp  int64  `json:"timestamp"`
}

// ServerGameStarting schedules the start of the game at StartTime, in server milliseconds.
type ServerGameStarting struct {
	StartTime  int64     `json:"start_time"`
	Seed       int64     `json:"seed"`
	SequenceID uint64    `json:"sequence_id"`
	RoomInfo   *RoomInfo `json:"room_info,omitempty"`
}

// ServerItemCollected confirms a claim. Score and Coins are the collector's
// authoritative totals when the server tracks them.
type ServerItemCollected struct {
	ItemID   string `json:"item_id"`
	ItemType string `json:"item_type"`
	PlayerID string `json:"player_id"`
	Score    *int   `json:"score,omitempty"`
	Coins    *int   `json:"coins,omitempty"`
}

type ServerItemAlreadyCollected struct {
	ItemID   string `json:"item_id"`
	ItemType string `json:"item_type,omitempty"`
}

// ServerEnemyUpdate is the payload of enemy_state_update and enemy_spawned.
// PlayerID is the participant the relay received it from.
type ServerEnemyUpdate struct {
	PlayerID string            `json:"player_id,omitempty"`
	Enemy    types.EntityState `json:"enemy"`
	Seq      uint64            `json:"sequence_id,omitempty"`
}

type ServerEnemyKilled struct {
	PlayerID string `json:"player_id,omitempty"`
	EnemyID  string `json:"enemy_id"`
	Seq      uint64 `json:"sequence_id,omitempty"`
}

type ServerEnemyAlreadyDead struct {
	EnemyID string `json:"enemy_id"`
}

type ServerCoinSpawned struct {
	PlayerID string              `json:"player_id,omitempty"`
	Coins    []types.EntityState `json:"coins"`
	Seq      uint64              `json:"sequence_id,omitempty"`
}

type ServerEntitiesSync struct {
	PlayerID string              `json:"player_id,omitempty"`
	Enemies  []types.EntityState `json:"enemies"`
	Coins    []types.EntityState `json:"coins"`
	Seq      uint64              `json:"sequence_id,omitempty"`
}

type ServerTimeSyncResponse struct {
	ClientTime int64  `json:"client_time"`
	ServerTime int64  `json:"server_time"`
	SequenceID uint64 `json:"sequence_id,omitempty"`
}

type ServerReconnected struct {
	RequestID      string           `json:"request_id,omitempty"`
	RoomID         string           `json:"room_id"`
	PlayerID       string           `json:"player_id"`
	PlayerNumber   int              `json:"player_number"`
	RoomInfo       *RoomInfo        `json:"room_info"`
	ReconnectToken string           `json:"reconnect_token,omitempty"`
	GameState      *types.GameState `json:"game_state"`
}

type ServerError struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
}

// Error codes carried by ServerError
const (
	ErrorCodeRoomNotFound    = "room_not_found"
	ErrorCodeRoomFull        = "room_full"
	ErrorCodeGameStarted     = "game_started"
	ErrorCodeNameTaken       = "name_taken"
	ErrorCodeNotHost         = "not_host"
	ErrorCodeNotReady        = "not_ready"
	ErrorCodeNotInRoom       = "not_in_room"
	ErrorCodeReconnectFailed = "reconnect_failed"
	ErrorCodeBadRequest      = "bad_request"
)
