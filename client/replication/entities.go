package replication

import (
	"github.com/cbodonnell/tandem/pkg/game/types"
	"github.com/cbodonnell/tandem/pkg/messages"
)

func (m *Manager) nextSequence() uint64 {
	m.sequence++
	return m.sequence
}

// SpawnEnemy adds an enemy and announces it. Host only.
func (m *Manager) SpawnEnemy(enemy types.EntityState) error {
	if !m.authority.IsHost() {
		return ErrNotHost
	}
	enemy.Kind = types.EntityKindEnemy
	enemy.Alive = true
	m.enemies[enemy.ID] = enemy
	delete(m.dirty, enemy.ID)
	m.send(messages.MessageTypeClientEnemySpawn, messages.ClientEnemyState{
		Enemy: enemy,
		Seq:   m.nextSequence(),
	})
	return nil
}

// UpdateEnemy records an enemy's new state. It is sent with the next delta flush. Host only.
func (m *Manager) UpdateEnemy(enemy types.EntityState) error {
	if !m.authority.IsHost() {
		return ErrNotHost
	}
	if _, ok := m.enemies[enemy.ID]; !ok {
		return nil
	}
	enemy.Kind = types.EntityKindEnemy
	m.enemies[enemy.ID] = enemy
	m.dirty[enemy.ID] = struct{}{}
	return nil
}

// KillEnemy removes an enemy and announces it. Host only.
func (m *Manager) KillEnemy(id string) error {
	if !m.authority.IsHost() {
		return ErrNotHost
	}
	if _, ok := m.enemies[id]; !ok {
		return nil
	}
	delete(m.enemies, id)
	delete(m.dirty, id)
	m.send(messages.MessageTypeClientEnemyKilled, messages.ClientEnemyKilled{
		EnemyID: id,
		Seq:     m.nextSequence(),
	})
	return nil
}

// SpawnCoins adds collectibles and announces them. Host only.
func (m *Manager) SpawnCoins(coins []types.EntityState) error {
	if !m.authority.IsHost() {
		return ErrNotHost
	}
	spawned := make([]types.EntityState, 0, len(coins))
	for _, c := range coins {
		c.Kind = types.EntityKindCoin
		c.Collected = false
		m.coins[c.ID] = c
		spawned = append(spawned, c)
	}
	m.send(messages.MessageTypeClientCoinSpawn, messages.ClientCoinSpawn{
		Coins: spawned,
		Seq:   m.nextSequence(),
	})
	return nil
}

// SyncEntities sends the complete entity roster now. Host only.
func (m *Manager) SyncEntities() error {
	if !m.authority.IsHost() {
		return ErrNotHost
	}
	m.lastFullSync = m.clock.Now()
	m.send(messages.MessageTypeClientSyncEntities, messages.ClientSyncEntities{
		Enemies: m.Enemies(),
		Coins:   m.Coins(),
		Seq:     m.nextSequence(),
	})
	return nil
}

// flushEntities sends pending per-enemy deltas at the delta rate and the full
// roster at the full sync rate.
func (m *Manager) flushEntities() {
	now := m.clock.Now()
	if len(m.dirty) > 0 && (m.lastDelta.IsZero() || now.Sub(m.lastDelta) >= m.entityDeltaInterval) {
		m.lastDelta = now
		for _, e := range m.Enemies() {
			if _, ok := m.dirty[e.ID]; !ok {
				continue
			}
			m.send(messages.MessageTypeClientEnemyState, messages.ClientEnemyState{
				Enemy: e,
				Seq:   m.nextSequence(),
			})
		}
		m.dirty = make(map[string]struct{})
	}
	if m.lastFullSync.IsZero() || now.Sub(m.lastFullSync) >= m.fullSyncInterval {
		if err := m.SyncEntities(); err != nil {
			m.logger.Error("Failed to sync entities: %v", err)
		}
	}
}

// acceptEntityMessage reports whether an entity message should be applied: it must
// come from the host, reach a participant that is not the host, and not be older
// than the last applied full sync.
func (m *Manager) acceptEntityMessage(msgType string, origin string, seq uint64) bool {
	if m.authority.IsHost() {
		m.logger.Debug("Host ignoring relayed %s", msgType)
		return false
	}
	if origin != "" && origin != m.authority.HostID() {
		m.logger.Debug("Dropping %s from non-host %s", msgType, origin)
		return false
	}
	if seq != 0 && seq < m.lastSyncSequence {
		m.logger.Trace("Dropping stale %s (seq %d < %d)", msgType, seq, m.lastSyncSequence)
		return false
	}
	return true
}

// HandleEnemyUpdate applies enemy_spawned and enemy_state_update verbatim.
func (m *Manager) HandleEnemyUpdate(msgType string, p messages.ServerEnemyUpdate) {
	if !m.acceptEntityMessage(msgType, p.PlayerID, p.Seq) {
		return
	}
	if msgType == messages.MessageTypeServerEnemyStateUpdate {
		if _, ok := m.enemies[p.Enemy.ID]; !ok {
			m.logger.Trace("Dropping update for unknown enemy %s", p.Enemy.ID)
			return
		}
	}
	if !p.Enemy.Alive {
		delete(m.enemies, p.Enemy.ID)
		return
	}
	enemy := p.Enemy
	enemy.Kind = types.EntityKindEnemy
	m.enemies[enemy.ID] = enemy
}

func (m *Manager) HandleEnemyKilled(p messages.ServerEnemyKilled) {
	if !m.acceptEntityMessage(messages.MessageTypeServerEnemyKilled, p.PlayerID, p.Seq) {
		return
	}
	delete(m.enemies, p.EnemyID)
}

// HandleEnemyAlreadyDead is the losing side of a kill race. The enemy is gone either way.
func (m *Manager) HandleEnemyAlreadyDead(p messages.ServerEnemyAlreadyDead) {
	m.logger.Debug("Enemy %s was already dead", p.EnemyID)
	delete(m.enemies, p.EnemyID)
	delete(m.dirty, p.EnemyID)
}

func (m *Manager) HandleCoinSpawned(p messages.ServerCoinSpawned) {
	if !m.acceptEntityMessage(messages.MessageTypeServerCoinSpawned, p.PlayerID, p.Seq) {
		return
	}
	for _, c := range p.Coins {
		if _, claimed := m.claimed[c.ID]; claimed || c.Collected {
			continue
		}
		m.coins[c.ID] = c
	}
}

// HandleEntitiesSync replaces every entity with the host's full roster. Deltas
// older than this sync are dropped from then on.
func (m *Manager) HandleEntitiesSync(p messages.ServerEntitiesSync) {
	if !m.acceptEntityMessage(messages.MessageTypeServerEntitiesSync, p.PlayerID, p.Seq) {
		return
	}
	enemies := make(map[string]types.EntityState, len(p.Enemies))
	for _, e := range p.Enemies {
		if e.Live() {
			enemies[e.ID] = e
		}
	}
	coins := make(map[string]types.EntityState, len(p.Coins))
	for _, c := range p.Coins {
		if _, claimed := m.claimed[c.ID]; claimed || !c.Live() {
			continue
		}
		coins[c.ID] = c
	}
	m.enemies = enemies
	m.coins = coins
	if p.Seq > m.lastSyncSequence {
		m.lastSyncSequence = p.Seq
	}
}

// CollectItem claims a collectible. It is removed locally at once and the relay
// decides who gets it. It reports whether a claim was sent.
func (m *Manager) CollectItem(itemType, id string) bool {
	if _, claimed := m.claimed[id]; claimed {
		return false
	}
	if _, ok := m.coins[id]; !ok {
		return false
	}
	delete(m.coins, id)
	m.claimed[id] = struct{}{}
	m.send(messages.MessageTypeClientCollectItem, messages.ClientCollectItem{
		ItemType: itemType,
		ItemID:   id,
	})
	return true
}

// HandleItemCollected removes the item everywhere and applies the collector's
// authoritative totals when present.
func (m *Manager) HandleItemCollected(p messages.ServerItemCollected) {
	delete(m.coins, p.ItemID)
	delete(m.claimed, p.ItemID)

	patch := types.PlayerStatePatch{
		Score: p.Score,
		Coins: p.Coins,
	}
	if !patch.IsEmpty() {
		if p.PlayerID == m.authority.PlayerID() && m.local != nil {
			next := m.local.Apply(patch)
			m.local = &next
		} else if r, ok := m.remotes[p.PlayerID]; ok {
			r.State = r.State.Apply(patch)
			m.remotes[p.PlayerID] = r
		}
	}

	if m.onItemCollected != nil {
		m.onItemCollected(p)
	}
}

// HandleItemAlreadyCollected is the losing side of a collection race. The item was
// already removed locally, so there is nothing to undo.
func (m *Manager) HandleItemAlreadyCollected(p messages.ServerItemAlreadyCollected) {
	m.logger.Debug("Item %s was already collected", p.ItemID)
	delete(m.claimed, p.ItemID)
	delete(m.coins, p.ItemID)
}
