// Package constants holds the simulation parameters both participants agree on.
package constants

const (
	// PlayerSpeed is how far a player walks per second
	PlayerSpeed float64 = 80.0
	PlayerWidth float64 = 32.0
	// Player starting positions, by player number
	PlayerOneStartingX float64 = 120.0
	PlayerTwoStartingX float64 = 280.0
	GroundY            float64 = 300.0

	PlayerStartingHealth int = 100
	PlayerStartingLives  int = 3

	// FieldWidth bounds the walkable area
	FieldWidth float64 = 400.0
	// CoinPickupRange is the distance at which a player claims a coin
	CoinPickupRange float64 = PlayerWidth / 2
)

// StartingX returns the spawn column for a player number.
func StartingX(playerNumber int) float64 {
	if playerNumber == 2 {
		return PlayerTwoStartingX
	}
	return PlayerOneStartingX
}
