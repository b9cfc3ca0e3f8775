package types

import "github.com/cbodonnell/tandem/pkg/kinematic"

type EntityKind string

const (
	EntityKindEnemy EntityKind = "enemy"
	EntityKindCoin  EntityKind = "coin"
)

// EntityState is a host-owned dynamic entity: an enemy or a collectible.
type EntityState struct {
	ID        string           `json:"id"`
	Kind      EntityKind       `json:"kind"`
	Type      string           `json:"type"`
	Position  kinematic.Vector `json:"position"`
	Velocity  kinematic.Vector `json:"velocity"`
	Facing    Facing           `json:"facing,omitempty"`
	Health    int              `json:"health"`
	Alive     bool             `json:"alive"`
	Collected bool             `json:"collected,omitempty"`
}

// Live reports whether the entity should still be simulated and rendered.
func (e EntityState) Live() bool {
	if e.Kind == EntityKindCoin {
		return !e.Collected
	}
	return e.Alive
}
