package relay

import (
	"github.com/cbodonnell/tandem/pkg/game/types"
	"github.com/cbodonnell/tandem/pkg/messages"
)

const (
	ItemTypeCoin = "coin"
)

// snapshot returns the room's replicated state for a reconnecting participant.
func (r *room) snapshot(now int64) *types.GameState {
	gs := r.state.Copy()
	gs.Timestamp = now
	return gs
}

func (h *Hub) handlePlayerState(c *Connection, msg *messages.Message) error {
	var p messages.ClientPlayerState
	if err := msg.Decode(&p); err != nil {
		return err
	}
	r, s, err := h.current(c)
	if err != nil {
		return err
	}
	r.state.Players[s.playerID] = r.state.Players[s.playerID].Apply(p.PlayerStatePatch)
	h.broadcastOthers(r, s.playerID, messages.MustNewMessage(messages.MessageTypeServerPlayerStateUpdate, messages.ServerPlayerStateUpdate{
		PlayerID:  s.playerID,
		State:     p.PlayerStatePatch,
		Timestamp: p.Timestamp,
	}))
	return nil
}

func (h *Hub) handleGameAction(c *Connection, msg *messages.Message) error {
	var p messages.ClientGameAction
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if p.Action == "" {
		return newRequestError(messages.ErrorCodeBadRequest, "action is required")
	}
	r, s, err := h.current(c)
	if err != nil {
		return err
	}
	h.broadcastOthers(r, s.playerID, messages.MustNewMessage(messages.MessageTypeServerGameAction, messages.ServerGameAction{
		PlayerID: s.playerID,
		Action:   p.Action,
		Data:     p.Data,
	}))
	return nil
}

// handleCollectItem arbitrates collectibles: the first claim wins and every later
// claim is answered with item_already_collected.
func (h *Hub) handleCollectItem(c *Connection, msg *messages.Message) error {
	var p messages.ClientCollectItem
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if p.ItemID == "" {
		return newRequestError(messages.ErrorCodeBadRequest, "item id is required")
	}
	r, s, err := h.current(c)
	if err != nil {
		return err
	}
	if _, ok := r.collected[p.ItemID]; ok {
		c.Send(messages.MustNewMessage(messages.MessageTypeServerItemAlreadyCollected, messages.ServerItemAlreadyCollected{
			ItemID:   p.ItemID,
			ItemType: p.ItemType,
		}))
		return nil
	}
	r.collected[p.ItemID] = s.playerID
	delete(r.state.Coins, p.ItemID)

	event := messages.ServerItemCollected{
		ItemID:   p.ItemID,
		ItemType: p.ItemType,
		PlayerID: s.playerID,
	}
	if p.ItemType == ItemTypeCoin {
		s.coins++
		coins := s.coins
		event.Coins = &coins
		player := r.state.Players[s.playerID]
		player.Coins = coins
		r.state.Players[s.playerID] = player
	}
	h.broadcast(r, messages.MustNewMessage(messages.MessageTypeServerItemCollected, event))
	return nil
}

// hostOnly returns the room and seat of c when c is the host. Entity messages
// from anyone else are dropped without a reply.
func (h *Hub) hostOnly(c *Connection, msgType string) (*room, *seat, bool) {
	r, s, err := h.current(c)
	if err != nil {
		return nil, nil, false
	}
	if s.playerID != r.hostID {
		c.logger.Debug("Dropping %s from non-host %s", msgType, s.playerID)
		return nil, nil, false
	}
	return r, s, true
}

func (h *Hub) handleEnemyState(c *Connection, msg *messages.Message) error {
	var p messages.ClientEnemyState
	if err := msg.Decode(&p); err != nil {
		return err
	}
	r, s, ok := h.hostOnly(c, msg.Type)
	if !ok {
		return nil
	}
	if _, dead := r.killed[p.Enemy.ID]; dead {
		return nil
	}
	p.Enemy.Kind = types.EntityKindEnemy
	if p.Enemy.Alive {
		r.state.Enemies[p.Enemy.ID] = p.Enemy
	} else {
		delete(r.state.Enemies, p.Enemy.ID)
	}

	outType := messages.MessageTypeServerEnemyStateUpdate
	if msg.Type == messages.MessageTypeClientEnemySpawn {
		outType = messages.MessageTypeServerEnemySpawned
	}
	h.broadcastOthers(r, s.playerID, messages.MustNewMessage(outType, messages.ServerEnemyUpdate{
		PlayerID: s.playerID,
		Enemy:    p.Enemy,
		Seq:      p.Seq,
	}))
	return nil
}

func (h *Hub) handleEnemyKilled(c *Connection, msg *messages.Message) error {
	var p messages.ClientEnemyKilled
	if err := msg.Decode(&p); err != nil {
		return err
	}
	r, s, ok := h.hostOnly(c, msg.Type)
	if !ok {
		return nil
	}
	if _, dead := r.killed[p.EnemyID]; dead {
		c.Send(messages.MustNewMessage(messages.MessageTypeServerEnemyAlreadyDead, messages.ServerEnemyAlreadyDead{
			EnemyID: p.EnemyID,
		}))
		return nil
	}
	r.killed[p.EnemyID] = struct{}{}
	delete(r.state.Enemies, p.EnemyID)
	h.broadcastOthers(r, s.playerID, messages.MustNewMessage(messages.MessageTypeServerEnemyKilled, messages.ServerEnemyKilled{
		PlayerID: s.playerID,
		EnemyID:  p.EnemyID,
		Seq:      p.Seq,
	}))
	return nil
}

func (h *Hub) handleCoinSpawn(c *Connection, msg *messages.Message) error {
	var p messages.ClientCoinSpawn
	if err := msg.Decode(&p); err != nil {
		return err
	}
	r, s, ok := h.hostOnly(c, msg.Type)
	if !ok {
		return nil
	}
	for i := range p.Coins {
		p.Coins[i].Kind = types.EntityKindCoin
		// a respawned id is a new collectible
		delete(r.collected, p.Coins[i].ID)
		r.state.Coins[p.Coins[i].ID] = p.Coins[i]
	}
	h.broadcastOthers(r, s.playerID, messages.MustNewMessage(messages.MessageTypeServerCoinSpawned, messages.ServerCoinSpawned{
		PlayerID: s.playerID,
		Coins:    p.Coins,
		Seq:      p.Seq,
	}))
	return nil
}

// handleSyncEntities replaces the room's entity mirror with the host's full view.
// Items already claimed stay claimed.
func (h *Hub) handleSyncEntities(c *Connection, msg *messages.Message) error {
	var p messages.ClientSyncEntities
	if err := msg.Decode(&p); err != nil {
		return err
	}
	r, s, ok := h.hostOnly(c, msg.Type)
	if !ok {
		return nil
	}
	enemies := make([]types.EntityState, 0, len(p.Enemies))
	r.state.Enemies = make(map[string]types.EntityState, len(p.Enemies))
	for _, e := range p.Enemies {
		if _, dead := r.killed[e.ID]; dead {
			continue
		}
		e.Kind = types.EntityKindEnemy
		enemies = append(enemies, e)
		if e.Live() {
			r.state.Enemies[e.ID] = e
		}
	}
	coins := make([]types.EntityState, 0, len(p.Coins))
	r.state.Coins = make(map[string]types.EntityState, len(p.Coins))
	for _, coin := range p.Coins {
		if _, claimed := r.collected[coin.ID]; claimed {
			continue
		}
		coin.Kind = types.EntityKindCoin
		coins = append(coins, coin)
		if coin.Live() {
			r.state.Coins[coin.ID] = coin
		}
	}
	h.broadcastOthers(r, s.playerID, messages.MustNewMessage(messages.MessageTypeServerEntitiesSync, messages.ServerEntitiesSync{
		PlayerID: s.playerID,
		Enemies:  enemies,
		Coins:    coins,
		Seq:      p.Seq,
	}))
	return nil
}
