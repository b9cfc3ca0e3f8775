package types

import "github.com/cbodonnell/tandem/pkg/kinematic"

type Facing int8

const (
	FacingLeft  Facing = -1
	FacingRight Facing = 1
)

// PlayerState is the replicated record of one seat's avatar. Only the owning
// participant writes it; everyone else reads it.
type PlayerState struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Number     int              `json:"number"`
	Position   kinematic.Vector `json:"position"`
	Velocity   kinematic.Vector `json:"velocity"`
	Facing     Facing           `json:"facing"`
	Health     int              `json:"health"`
	Lives      int              `json:"lives"`
	Score      int              `json:"score"`
	Coins      int              `json:"coins"`
	IsJumping  bool             `json:"is_jumping"`
	IsShooting bool             `json:"is_shooting"`
	IsDead     bool             `json:"is_dead"`
}

// PlayerStatePatch carries the subset of player fields present in a state update.
// A nil field means "not in this message" and leaves the receiver untouched.
type PlayerStatePatch struct {
	Position   *kinematic.Vector `json:"position,omitempty"`
	Velocity   *kinematic.Vector `json:"velocity,omitempty"`
	Facing     *Facing           `json:"facing,omitempty"`
	Health     *int              `json:"health,omitempty"`
	Lives      *int              `json:"lives,omitempty"`
	Score      *int              `json:"score,omitempty"`
	Coins      *int              `json:"coins,omitempty"`
	IsJumping  *bool             `json:"is_jumping,omitempty"`
	IsShooting *bool             `json:"is_shooting,omitempty"`
}

// Apply merges the fields present in patch and returns the result. The receiver is not modified.
func (p PlayerState) Apply(patch PlayerStatePatch) PlayerState {
	next := p
	if patch.Position != nil {
		next.Position = *patch.Position
	}
	if patch.Velocity != nil {
		next.Velocity = *patch.Velocity
	}
	if patch.Facing != nil {
		next.Facing = *patch.Facing
	}
	if patch.Health != nil {
		next.Health = *patch.Health
	}
	if patch.Lives != nil {
		next.Lives = *patch.Lives
	}
	if patch.Score != nil {
		next.Score = *patch.Score
	}
	if patch.Coins != nil {
		next.Coins = *patch.Coins
	}
	if patch.IsJumping != nil {
		next.IsJumping = *patch.IsJumping
	}
	if patch.IsShooting != nil {
		next.IsShooting = *patch.IsShooting
	}
	return next
}

// MovementPatch returns a patch with every movement and combat field of the state,
// which is what the owner pushes each send interval.
func (p PlayerState) MovementPatch() PlayerStatePatch {
	position := p.Position
	velocity := p.Velocity
	facing := p.Facing
	health := p.Health
	lives := p.Lives
	score := p.Score
	jumping := p.IsJumping
	shooting := p.IsShooting
	return PlayerStatePatch{
		Position:   &position,
		Velocity:   &velocity,
		Facing:     &facing,
		Health:     &health,
		Lives:      &lives,
		Score:      &score,
		IsJumping:  &jumping,
		IsShooting: &shooting,
	}
}

// IsEmpty reports whether the patch carries no fields.
func (p PlayerStatePatch) IsEmpty() bool {
	return p.Position == nil && p.Velocity == nil && p.Facing == nil &&
		p.Health == nil && p.Lives == nil && p.Score == nil && p.Coins == nil &&
		p.IsJumping == nil && p.IsShooting == nil
}
