package models

// ReconnectToken is the cached credential that lets a dropped client resume its seat.
type ReconnectToken struct {
	ServerURL  string `json:"server_url"`
	RoomID     string `json:"room_id"`
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Token      string `json:"token"`
	IssuedAt   int64  `json:"issued_at"`
}
