package types

// GameState is a full snapshot of replicated state, used for resync on reconnect.
type GameState struct {
	// Timestamp is the server time in milliseconds at which the snapshot was taken
	Timestamp int64 `json:"timestamp"`
	// Players maps participant IDs to player states
	Players map[string]PlayerState `json:"players"`
	// Enemies maps entity IDs to enemy states
	Enemies map[string]EntityState `json:"enemies"`
	// Coins maps entity IDs to collectible states
	Coins map[string]EntityState `json:"coins"`
}

func NewGameState() *GameState {
	return &GameState{
		Players: make(map[string]PlayerState),
		Enemies: make(map[string]EntityState),
		Coins:   make(map[string]EntityState),
	}
}

// Copy returns a deep copy of the game state.
func (g *GameState) Copy() *GameState {
	newGameState := &GameState{
		Timestamp: g.Timestamp,
		Players:   make(map[string]PlayerState, len(g.Players)),
		Enemies:   make(map[string]EntityState, len(g.Enemies)),
		Coins:     make(map[string]EntityState, len(g.Coins)),
	}
	for id, player := range g.Players {
		newGameState.Players[id] = player
	}
	for id, enemy := range g.Enemies {
		newGameState.Enemies[id] = enemy
	}
	for id, coin := range g.Coins {
		newGameState.Coins[id] = coin
	}
	return newGameState
}
