package replication

import (
	"errors"
	"sort"
	"time"

	"github.com/cbodonnell/tandem/pkg/game/types"
	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultSendInterval        = 16 * time.Millisecond
	DefaultEntityDeltaInterval = 50 * time.Millisecond
	DefaultFullSyncInterval    = time.Second
	DefaultSnapDistance        = 200.0
	DefaultBlendFactor         = 0.2
	// MaxBlendFactor keeps each interpolation step short of the goal
	MaxBlendFactor = 0.9
	// ReferenceFrame is the frame time the blend factor is tuned for
	ReferenceFrame = time.Second / 60
)

// ErrNotHost is returned by entity writers on the participant that is not the host.
// Nothing is sent.
var ErrNotHost = errors.New("only the host writes entity state")

// Sender delivers messages to the relay.
type Sender interface {
	Send(msg *messages.Message)
}

// Authority tells the manager who the local participant is and who writes entities.
type Authority interface {
	PlayerID() string
	HostID() string
	IsHost() bool
}

type Options struct {
	Sender    Sender
	Authority Authority
	Clock     clockwork.Clock
	Logger    *log.Logger

	SendInterval        time.Duration
	EntityDeltaInterval time.Duration
	FullSyncInterval    time.Duration
	SnapDistance        float64
	BlendFactor         float64

	// OnAction receives every game action from the other participant, after it is applied
	OnAction func(action Action)
	// OnItemCollected receives every confirmed collection, local or remote
	OnItemCollected func(event messages.ServerItemCollected)
}

// Manager owns the replicated view of both players and the host-written entities.
// The owner of each record is the only writer: the local player's fields are pushed
// from this client, remote players are merged from the relay, and entities are
// written by the host and applied verbatim everywhere else.
//
// Manager is not safe for concurrent use. Handlers, pushes and Tick must run on the
// goroutine that drives the simulation.
type Manager struct {
	sender    Sender
	authority Authority
	clock     clockwork.Clock
	logger    *log.Logger

	sendInterval        time.Duration
	entityDeltaInterval time.Duration
	fullSyncInterval    time.Duration
	snapDistance        float64
	blendFactor         float64

	onAction        func(action Action)
	onItemCollected func(event messages.ServerItemCollected)

	local    *types.PlayerState
	lastPush time.Time
	remotes  map[string]RemotePlayer

	enemies map[string]types.EntityState
	coins   map[string]types.EntityState
	// claimed holds collectibles removed optimistically and not yet confirmed
	claimed map[string]struct{}

	// host side
	sequence     uint64
	dirty        map[string]struct{}
	lastDelta    time.Time
	lastFullSync time.Time

	// receiver side
	lastSyncSequence uint64
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		sender:              opts.Sender,
		authority:           opts.Authority,
		clock:               opts.Clock,
		logger:              opts.Logger,
		sendInterval:        opts.SendInterval,
		entityDeltaInterval: opts.EntityDeltaInterval,
		fullSyncInterval:    opts.FullSyncInterval,
		snapDistance:        opts.SnapDistance,
		blendFactor:         opts.BlendFactor,
		onAction:            opts.OnAction,
		onItemCollected:     opts.OnItemCollected,
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	if m.sendInterval <= 0 {
		m.sendInterval = DefaultSendInterval
	}
	if m.entityDeltaInterval <= 0 {
		m.entityDeltaInterval = DefaultEntityDeltaInterval
	}
	if m.fullSyncInterval <= 0 {
		m.fullSyncInterval = DefaultFullSyncInterval
	}
	if m.snapDistance <= 0 {
		m.snapDistance = DefaultSnapDistance
	}
	if m.blendFactor <= 0 {
		m.blendFactor = DefaultBlendFactor
	}
	m.Reset()
	return m
}

// Reset forgets all replicated state, for leaving a room.
func (m *Manager) Reset() {
	m.local = nil
	m.lastPush = time.Time{}
	m.remotes = make(map[string]RemotePlayer)
	m.enemies = make(map[string]types.EntityState)
	m.coins = make(map[string]types.EntityState)
	m.claimed = make(map[string]struct{})
	m.sequence = 0
	m.dirty = make(map[string]struct{})
	m.lastDelta = time.Time{}
	m.lastFullSync = time.Time{}
	m.lastSyncSequence = 0
}

// LocalPlayer returns the local player's record.
func (m *Manager) LocalPlayer() (types.PlayerState, bool) {
	if m.local == nil {
		return types.PlayerState{}, false
	}
	return *m.local, true
}

// RemotePlayer returns the record of a remote participant.
func (m *Manager) RemotePlayer(id string) (RemotePlayer, bool) {
	r, ok := m.remotes[id]
	return r, ok
}

// RemotePlayers returns every remote participant, ordered by seat.
func (m *Manager) RemotePlayers() []RemotePlayer {
	out := make([]RemotePlayer, 0, len(m.remotes))
	for _, r := range m.remotes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].State.Number != out[j].State.Number {
			return out[i].State.Number < out[j].State.Number
		}
		return out[i].State.ID < out[j].State.ID
	})
	return out
}

// Enemy returns the enemy with id.
func (m *Manager) Enemy(id string) (types.EntityState, bool) {
	e, ok := m.enemies[id]
	return e, ok
}

// Enemies returns the live enemies ordered by id.
func (m *Manager) Enemies() []types.EntityState {
	return sortedEntities(m.enemies)
}

// Coin returns the collectible with id.
func (m *Manager) Coin(id string) (types.EntityState, bool) {
	c, ok := m.coins[id]
	return c, ok
}

// Coins returns the uncollected collectibles ordered by id.
func (m *Manager) Coins() []types.EntityState {
	return sortedEntities(m.coins)
}

// Snapshot returns a full copy of the replicated state.
func (m *Manager) Snapshot() *types.GameState {
	gs := types.NewGameState()
	gs.Timestamp = m.clock.Now().UnixMilli()
	if m.local != nil {
		gs.Players[m.local.ID] = *m.local
	}
	for id, r := range m.remotes {
		gs.Players[id] = r.State
	}
	for id, e := range m.enemies {
		gs.Enemies[id] = e
	}
	for id, c := range m.coins {
		gs.Coins[id] = c
	}
	return gs
}

// ApplySnapshot replaces all replicated state with gs, as delivered on reconnect.
// Remote players are snapped to their snapshot positions.
func (m *Manager) ApplySnapshot(gs *types.GameState) {
	if gs == nil {
		return
	}
	localID := m.authority.PlayerID()
	previous := m.remotes

	m.remotes = make(map[string]RemotePlayer, len(gs.Players))
	for id, p := range gs.Players {
		if id == localID {
			local := p
			m.local = &local
			continue
		}
		connected := true
		if prev, ok := previous[id]; ok {
			connected = prev.Connected
		}
		m.remotes[id] = newRemotePlayer(p, connected)
	}

	m.enemies = make(map[string]types.EntityState, len(gs.Enemies))
	for id, e := range gs.Enemies {
		if e.Live() {
			m.enemies[id] = e
		}
	}
	m.coins = make(map[string]types.EntityState, len(gs.Coins))
	for id, c := range gs.Coins {
		if c.Live() {
			m.coins[id] = c
		}
	}
	m.claimed = make(map[string]struct{})
	m.dirty = make(map[string]struct{})
	m.lastSyncSequence = 0
	m.logger.Info("Applied snapshot: %d players, %d enemies, %d coins", len(gs.Players), len(m.enemies), len(m.coins))
}

func (m *Manager) send(msgType string, payload interface{}) {
	msg, err := messages.NewMessage(msgType, payload)
	if err != nil {
		m.logger.Error("Failed to build %s message: %v", msgType, err)
		return
	}
	m.sender.Send(msg)
}

func sortedEntities(entities map[string]types.EntityState) []types.EntityState {
	out := make([]types.EntityState, 0, len(entities))
	for _, e := range entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
