package room

// State is the position of the local client in the room lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateInLobby
	StateWaitingForReady
	StateStarting
	StateInGame
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateInLobby:
		return "in_lobby"
	case StateWaitingForReady:
		return "waiting_for_ready"
	case StateStarting:
		return "starting"
	case StateInGame:
		return "in_game"
	default:
		return "unknown"
	}
}

// InRoom reports whether the state holds a room.
func (s State) InRoom() bool {
	return s == StateWaitingForReady || s == StateStarting || s == StateInGame
}
