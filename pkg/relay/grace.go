package relay

import (
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/google/uuid"
)

// disconnected holds the seat of a dropped connection for the grace window.
func (h *Hub) disconnected(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, s, err := h.current(c)
	if err != nil {
		return
	}
	s.conn = nil
	c.setSeat("", "")
	h.logger.Info("%s disconnected from room %s, holding seat for %s", s.name, r.id, h.opts.GraceWindow)

	if len(r.others(s.playerID)) == 0 && !r.gameStarted {
		// nobody left to wait with
		h.closeRoom(r)
		return
	}

	h.broadcastOthers(r, s.playerID, messages.MustNewMessage(messages.MessageTypeServerPlayerDisconnected, messages.ServerPlayerEvent{
		PlayerID:   s.playerID,
		PlayerName: s.name,
		RoomInfo:   r.info(),
	}))

	roomID, playerID, token := r.id, s.playerID, s.token
	s.grace = h.clock.AfterFunc(h.opts.GraceWindow, func() {
		h.expire(roomID, playerID, token)
	})
}

// expire releases a seat whose grace window ran out without a reconnect.
func (h *Hub) expire(roomID, playerID, token string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	s := r.seat(playerID)
	if s == nil || s.connected() || s.token != token {
		return
	}
	s.grace = nil
	h.logger.Info("Grace window expired for %s in room %s", s.name, r.id)
	h.vacate(r, s)
}

func (h *Hub) handleReconnect(c *Connection, msg *messages.Message) error {
	var p messages.ClientReconnect
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if roomID, _ := c.seat(); roomID != "" {
		return newRequestError(messages.ErrorCodeBadRequest, "already in a room")
	}
	r, ok := h.rooms[p.RoomID]
	if !ok {
		return newRequestError(messages.ErrorCodeReconnectFailed, "room no longer exists")
	}
	s := r.seat(p.PlayerID)
	if s == nil || s.token == "" || s.token != p.Token {
		return newRequestError(messages.ErrorCodeReconnectFailed, "invalid reconnect token")
	}
	if s.connected() {
		// the old connection has not noticed it is dead yet
		old := s.conn
		old.setSeat("", "")
		old.close()
	}
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}

	s.conn = c
	s.token = uuid.NewString()
	c.setSeat(r.id, s.playerID)
	h.logger.Info("%s reconnected to room %s", s.name, r.id)

	info := r.info()
	c.Send(messages.MustNewMessage(messages.MessageTypeServerReconnected, messages.ServerReconnected{
		RequestID:      p.RequestID,
		RoomID:         r.id,
		PlayerID:       s.playerID,
		PlayerNumber:   s.number,
		RoomInfo:       info,
		ReconnectToken: s.token,
		GameState:      r.snapshot(h.clock.Now().UnixMilli()),
	}))
	h.broadcastOthers(r, s.playerID, messages.MustNewMessage(messages.MessageTypeServerPlayerReconnected, messages.ServerPlayerEvent{
		PlayerID:   s.playerID,
		PlayerName: s.name,
		RoomInfo:   info,
	}))
	return nil
}
