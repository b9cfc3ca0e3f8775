package replication

import (
	"encoding/json"

	"github.com/cbodonnell/tandem/pkg/kinematic"
	"github.com/cbodonnell/tandem/pkg/messages"
)

// One-shot player transitions sent as game_action.
const (
	ActionDeath   = "death"
	ActionRespawn = "respawn"
	ActionAssist  = "assist"
)

type DeathAction struct {
	LivesRemaining int  `json:"lives_remaining"`
	Permanent      bool `json:"permanent"`
}

type RespawnAction struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type AssistAction struct {
	TargetID string  `json:"target_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// Action is a game action received from the other participant.
type Action struct {
	PlayerID string
	Name     string
	Data     json.RawMessage
}

// SendAction sends a free-form game action.
func (m *Manager) SendAction(name string, data interface{}) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = b
	}
	m.send(messages.MessageTypeClientGameAction, messages.ClientGameAction{
		Action: name,
		Data:   raw,
	})
	return nil
}

// ReportDeath marks the local player dead and tells the other participant.
func (m *Manager) ReportDeath(livesRemaining int, permanent bool) error {
	if m.local != nil {
		m.local.IsDead = true
		m.local.Lives = livesRemaining
		m.local.Health = 0
	}
	return m.SendAction(ActionDeath, DeathAction{
		LivesRemaining: livesRemaining,
		Permanent:      permanent,
	})
}

// ReportRespawn revives the local player at pos and tells the other participant.
func (m *Manager) ReportRespawn(pos kinematic.Vector) error {
	if m.local != nil {
		m.local.IsDead = false
		m.local.Position = pos
	}
	return m.SendAction(ActionRespawn, RespawnAction{X: pos.X, Y: pos.Y})
}

// ReportAssist revives targetID at pos.
func (m *Manager) ReportAssist(targetID string, pos kinematic.Vector) error {
	m.revive(targetID, pos)
	return m.SendAction(ActionAssist, AssistAction{TargetID: targetID, X: pos.X, Y: pos.Y})
}

// HandleGameAction replays a transition sent by the other participant.
func (m *Manager) HandleGameAction(p messages.ServerGameAction) {
	if p.PlayerID == m.authority.PlayerID() {
		return
	}

	switch p.Action {
	case ActionDeath:
		death := DeathAction{}
		if err := json.Unmarshal(p.Data, &death); err != nil {
			m.logger.Debug("Discarding malformed death action: %v", err)
			return
		}
		if r, ok := m.remotes[p.PlayerID]; ok {
			r.State.IsDead = true
			r.State.Lives = death.LivesRemaining
			r.State.Health = 0
			m.remotes[p.PlayerID] = r
		}
	case ActionRespawn:
		respawn := RespawnAction{}
		if err := json.Unmarshal(p.Data, &respawn); err != nil {
			m.logger.Debug("Discarding malformed respawn action: %v", err)
			return
		}
		m.revive(p.PlayerID, kinematic.Vector{X: respawn.X, Y: respawn.Y})
	case ActionAssist:
		assist := AssistAction{}
		if err := json.Unmarshal(p.Data, &assist); err != nil {
			m.logger.Debug("Discarding malformed assist action: %v", err)
			return
		}
		m.revive(assist.TargetID, kinematic.Vector{X: assist.X, Y: assist.Y})
	}

	if m.onAction != nil {
		m.onAction(Action{
			PlayerID: p.PlayerID,
			Name:     p.Action,
			Data:     p.Data,
		})
	}
}

// revive brings a player back at pos. Remote players snap there.
func (m *Manager) revive(id string, pos kinematic.Vector) {
	if id == m.authority.PlayerID() {
		if m.local != nil {
			m.local.IsDead = false
			m.local.Position = pos
		}
		return
	}
	if _, ok := m.remotes[id]; !ok {
		return
	}
	m.snapRemote(id, pos)
	r := m.remotes[id]
	r.State.IsDead = false
	m.remotes[id] = r
}
