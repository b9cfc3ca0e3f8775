package replication

import (
	"time"

	"github.com/cbodonnell/tandem/pkg/game/types"
	"github.com/cbodonnell/tandem/pkg/kinematic"
	"github.com/cbodonnell/tandem/pkg/messages"
)

// RemotePlayer is the local view of the other participant's avatar. State is the
// merged authoritative record; Rendered is where it is drawn, which chases Target.
type RemotePlayer struct {
	State     types.PlayerState
	Target    kinematic.Vector
	Rendered  kinematic.Vector
	Connected bool
	// LastUpdate is the timestamp carried by the most recent state update
	LastUpdate int64
}

func newRemotePlayer(state types.PlayerState, connected bool) RemotePlayer {
	return RemotePlayer{
		State:     state,
		Target:    state.Position,
		Rendered:  state.Position,
		Connected: connected,
	}
}

// SetLocalPlayer replaces the local player's record without sending it.
func (m *Manager) SetLocalPlayer(state types.PlayerState) {
	state.ID = m.authority.PlayerID()
	m.local = &state
}

// PushLocalState records the local player's state and sends its movement fields
// unless a push went out less than the send interval ago. It reports whether a
// message was sent. The coin total is owned by the relay: the value already
// recorded is kept and state.Coins is ignored.
func (m *Manager) PushLocalState(state types.PlayerState) bool {
	if m.local != nil {
		state.Coins = m.local.Coins
	}
	m.SetLocalPlayer(state)

	now := m.clock.Now()
	if !m.lastPush.IsZero() && now.Sub(m.lastPush) < m.sendInterval {
		return false
	}
	m.lastPush = now

	m.send(messages.MessageTypeClientPlayerState, messages.ClientPlayerState{
		PlayerStatePatch: state.MovementPatch(),
		Timestamp:        now.UnixMilli(),
	})
	return true
}

// SyncRoster aligns the remote players with a room roster: new participants are
// added, departed ones removed, and connection flags refreshed.
func (m *Manager) SyncRoster(room *messages.RoomInfo) {
	if room == nil {
		return
	}
	localID := m.authority.PlayerID()
	seen := make(map[string]struct{}, len(room.Players))
	for _, p := range room.Players {
		if p.ID == localID {
			if m.local != nil {
				m.local.Name = p.Name
				m.local.Number = p.Number
			}
			continue
		}
		seen[p.ID] = struct{}{}
		r, ok := m.remotes[p.ID]
		if !ok {
			r = newRemotePlayer(types.PlayerState{ID: p.ID}, p.Connected)
		}
		r.State.Name = p.Name
		r.State.Number = p.Number
		r.Connected = p.Connected
		m.remotes[p.ID] = r
	}
	for id := range m.remotes {
		if _, ok := seen[id]; !ok {
			delete(m.remotes, id)
		}
	}
}

// MarkDisconnected keeps a participant that dropped but may still reconnect.
func (m *Manager) MarkDisconnected(id string) {
	m.setConnected(id, false)
}

// MarkReconnected restores a participant that resumed its seat.
func (m *Manager) MarkReconnected(id string) {
	m.setConnected(id, true)
}

func (m *Manager) setConnected(id string, connected bool) {
	r, ok := m.remotes[id]
	if !ok {
		return
	}
	r.Connected = connected
	m.remotes[id] = r
}

// RemovePlayer drops a participant whose grace window expired or who left.
func (m *Manager) RemovePlayer(id string) {
	delete(m.remotes, id)
}

// HandlePlayerState merges a partial update into the sender's record. Absent
// fields are left as they were, so applying the same update twice is a no-op.
func (m *Manager) HandlePlayerState(p messages.ServerPlayerStateUpdate) {
	if p.PlayerID == m.authority.PlayerID() {
		m.logger.Debug("Ignoring state update for the local player")
		return
	}
	r, ok := m.remotes[p.PlayerID]
	if !ok {
		m.logger.Trace("Dropping state update for unknown player %s", p.PlayerID)
		return
	}
	r.State = r.State.Apply(p.State)
	if p.State.Position != nil {
		r.Target = *p.State.Position
	}
	if p.Timestamp != 0 {
		r.LastUpdate = p.Timestamp
	}
	m.remotes[p.PlayerID] = r
}

// Tick advances remote interpolation by dt and, on the host, emits due entity
// deltas and full syncs.
func (m *Manager) Tick(dt time.Duration) {
	for id, r := range m.remotes {
		m.remotes[id] = m.interpolate(r, dt)
	}
	if m.authority.IsHost() {
		m.flushEntities()
	}
}

// interpolate moves the rendered position toward the dead-reckoned target. Gaps
// wider than the snap distance are closed in one step.
func (m *Manager) interpolate(r RemotePlayer, dt time.Duration) RemotePlayer {
	if kinematic.Distance(r.Rendered, r.Target) > m.snapDistance {
		r.Rendered = r.Target
		return r
	}
	if dt <= 0 {
		return r
	}
	goal := kinematic.Predict(r.Target, r.State.Velocity, dt.Seconds())
	r.Rendered = kinematic.Lerp(r.Rendered, goal, m.blend(dt))
	return r
}

func (m *Manager) blend(dt time.Duration) float64 {
	factor := m.blendFactor * float64(dt) / float64(ReferenceFrame)
	if factor > MaxBlendFactor {
		return MaxBlendFactor
	}
	return factor
}

// snapRemote places a remote player at pos immediately.
func (m *Manager) snapRemote(id string, pos kinematic.Vector) {
	r, ok := m.remotes[id]
	if !ok {
		return
	}
	r.State.Position = pos
	r.Target = pos
	r.Rendered = pos
	m.remotes[id] = r
}
