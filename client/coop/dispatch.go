package coop

import (
	"context"
	"errors"

	"github.com/cbodonnell/tandem/pkg/messages"
)

// handler applies one inbound message. It runs on the update pump with c.mu held.
type handler func(msg *messages.Message) error

// decoded adapts a typed handler to the dispatch table.
func decoded[T any](fn func(msgType string, payload T)) handler {
	return func(msg *messages.Message) error {
		var payload T
		if err := msg.Decode(&payload); err != nil {
			return err
		}
		fn(msg.Type, payload)
		return nil
	}
}

func (c *Client) dispatchTable() map[string]handler {
	playerEvent := decoded(c.handlePlayerEvent)
	roomJoined := decoded(c.handleRoomJoined)
	return map[string]handler{
		messages.MessageTypeServerRoomCreated:          roomJoined,
		messages.MessageTypeServerRoomJoined:           roomJoined,
		messages.MessageTypeServerRoomLeft:             c.handleRoomLeft,
		messages.MessageTypeServerPlayerJoined:         playerEvent,
		messages.MessageTypeServerPlayerLeft:           playerEvent,
		messages.MessageTypeServerPlayerDisconnected:   playerEvent,
		messages.MessageTypeServerPlayerReconnected:    playerEvent,
		messages.MessageTypeServerPlayerReadyChanged:   playerEvent,
		messages.MessageTypeServerPlayerStateUpdate:    decoded(c.handlePlayerStateUpdate),
		messages.MessageTypeServerGameAction:           decoded(c.handleGameAction),
		messages.MessageTypeServerChat:                 decoded(c.handleChat),
		messages.MessageTypeServerGameStarting:         decoded(c.handleGameStarting),
		messages.MessageTypeServerItemCollected:        decoded(c.handleItemCollected),
		messages.MessageTypeServerItemAlreadyCollected: decoded(c.handleItemAlreadyCollected),
		messages.MessageTypeServerEnemyStateUpdate:     decoded(c.handleEnemyUpdate),
		messages.MessageTypeServerEnemySpawned:         decoded(c.handleEnemyUpdate),
		messages.MessageTypeServerEnemyKilled:          decoded(c.handleEnemyKilled),
		messages.MessageTypeServerEnemyAlreadyDead:     decoded(c.handleEnemyAlreadyDead),
		messages.MessageTypeServerCoinSpawned:          decoded(c.handleCoinSpawned),
		messages.MessageTypeServerEntitiesSync:         decoded(c.handleEntitiesSync),
		messages.MessageTypeServerTimeSyncResponse:     decoded(c.handleTimeSyncResponse),
		messages.MessageTypeServerReconnected:          decoded(c.handleReconnected),
		messages.MessageTypeServerError:                decoded(c.handleError),
		messages.MessageTypeServerPong:                 c.handlePong,
	}
}

// handle dispatches msg. Malformed and unknown messages are logged and dropped.
func (c *Client) handle(msg *messages.Message) {
	h, ok := c.dispatch[msg.Type]
	if !ok {
		c.logger.Debug("Discarding message: %v", messages.ErrUnknownType(msg.Type))
		return
	}
	if err := h(msg); err != nil {
		var perr *messages.ProtocolError
		if errors.As(err, &perr) {
			c.logger.Debug("Discarding message: %v", err)
			return
		}
		c.logger.Error("Failed to handle %s message: %v", msg.Type, err)
	}
}

func (c *Client) handleRoomJoined(msgType string, p messages.ServerRoomJoined) {
	joined := c.rooms.HandleRoomJoined(msgType, p)
	if joined == nil {
		return
	}
	c.recovery.Remember(context.Background(), c.credentials(joined.ReconnectToken))
}

func (c *Client) handleRoomLeft(*messages.Message) error {
	c.rooms.HandleRoomLeft()
	c.recovery.Forget(context.Background())
	return nil
}

func (c *Client) handlePlayerEvent(msgType string, p messages.ServerPlayerEvent) {
	c.rooms.HandlePlayerEvent(msgType, p)
	if !c.rooms.State().InRoom() {
		return
	}
	c.replication.SyncRoster(c.rooms.Room())
	switch msgType {
	case messages.MessageTypeServerPlayerDisconnected:
		c.replication.MarkDisconnected(p.PlayerID)
	case messages.MessageTypeServerPlayerReconnected:
		c.replication.MarkReconnected(p.PlayerID)
	case messages.MessageTypeServerPlayerLeft:
		c.replication.RemovePlayer(p.PlayerID)
	}
}

func (c *Client) handlePlayerStateUpdate(_ string, p messages.ServerPlayerStateUpdate) {
	c.replication.HandlePlayerState(p)
}

func (c *Client) handleGameAction(_ string, p messages.ServerGameAction) {
	c.replication.HandleGameAction(p)
}

func (c *Client) handleChat(_ string, p messages.ServerChat) {
	c.notify(func() {
		if c.handlers.OnChat != nil {
			c.handlers.OnChat(p)
		}
	})
}

func (c *Client) handleGameStarting(_ string, p messages.ServerGameStarting) {
	c.rooms.HandleGameStarting(p)
	c.replication.SyncRoster(c.rooms.Room())
}

func (c *Client) handleItemCollected(_ string, p messages.ServerItemCollected) {
	c.replication.HandleItemCollected(p)
}

func (c *Client) handleItemAlreadyCollected(_ string, p messages.ServerItemAlreadyCollected) {
	c.replication.HandleItemAlreadyCollected(p)
}

func (c *Client) handleEnemyUpdate(msgType string, p messages.ServerEnemyUpdate) {
	c.replication.HandleEnemyUpdate(msgType, p)
}

func (c *Client) handleEnemyKilled(_ string, p messages.ServerEnemyKilled) {
	c.replication.HandleEnemyKilled(p)
}

func (c *Client) handleEnemyAlreadyDead(_ string, p messages.ServerEnemyAlreadyDead) {
	c.replication.HandleEnemyAlreadyDead(p)
}

func (c *Client) handleCoinSpawned(_ string, p messages.ServerCoinSpawned) {
	c.replication.HandleCoinSpawned(p)
}

func (c *Client) handleEntitiesSync(_ string, p messages.ServerEntitiesSync) {
	c.replication.HandleEntitiesSync(p)
}

func (c *Client) handleTimeSyncResponse(_ string, p messages.ServerTimeSyncResponse) {
	c.clockSync.HandleResponse(p)
}

// handleReconnected restores the seat and replaces all replicated state with the
// relay's snapshot.
func (c *Client) handleReconnected(_ string, p messages.ServerReconnected) {
	creds, ok := c.recovery.HandleReconnected(context.Background(), p)
	if !ok {
		c.logger.Debug("Ignoring unexpected reconnected for room %s", p.RoomID)
		return
	}
	joined := c.rooms.HandleReconnected(p, creds.PlayerName)
	c.replication.SyncRoster(c.rooms.Room())
	c.replication.ApplySnapshot(p.GameState)
	c.clockSync.Reset()
	c.clockSync.RequestSync()
	c.notify(func() {
		if c.handlers.OnReconnected != nil {
			c.handlers.OnReconnected(joined)
		}
	})
}

func (c *Client) handleError(_ string, p messages.ServerError) {
	if c.recovery.HandleError(context.Background(), p) {
		return
	}
	c.rooms.HandleError(p)
}

func (c *Client) handlePong(*messages.Message) error {
	c.logger.Trace("Received pong")
	return nil
}
