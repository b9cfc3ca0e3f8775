package coop

import (
	"github.com/cbodonnell/tandem/client/network"
	"github.com/cbodonnell/tandem/client/replication"
	"github.com/cbodonnell/tandem/client/room"
	"github.com/cbodonnell/tandem/pkg/game/types"
	"github.com/cbodonnell/tandem/pkg/messages"
)

func (c *Client) State() room.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.State()
}

func (c *Client) ConnectionState() network.State {
	return c.session.State()
}

// Room returns a copy of the current roster, or nil outside a room.
func (c *Client) Room() *messages.RoomInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.Room()
}

func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.RoomID()
}

func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.PlayerID()
}

func (c *Client) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.IsHost()
}

func (c *Client) GameStart() *room.GameStart {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.GameStart()
}

func (c *Client) Reconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recovery.Active()
}

func (c *Client) LocalPlayer() (types.PlayerState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replication.LocalPlayer()
}

func (c *Client) RemotePlayer(id string) (replication.RemotePlayer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replication.RemotePlayer(id)
}

func (c *Client) RemotePlayers() []replication.RemotePlayer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replication.RemotePlayers()
}

func (c *Client) Enemies() []types.EntityState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replication.Enemies()
}

func (c *Client) Coins() []types.EntityState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replication.Coins()
}

// Snapshot returns a copy of all replicated state.
func (c *Client) Snapshot() *types.GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replication.Snapshot()
}

// EstimatedServerTime returns the relay's clock in milliseconds.
func (c *Client) EstimatedServerTime() int64 {
	return c.clockSync.EstimatedServerTime()
}

func (c *Client) ClockOffset() int64 {
	return c.clockSync.Offset()
}

// Ping returns the smoothed round-trip time in milliseconds.
func (c *Client) Ping() float64 {
	return c.clockSync.Ping()
}
