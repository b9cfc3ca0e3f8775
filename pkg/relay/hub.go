package relay

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultGraceWindow    = 30 * time.Second
	DefaultStartDelay     = 3 * time.Second
	DefaultReadTimeout    = 60 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultPingInterval   = 30 * time.Second
	DefaultSendBufferSize = 256
)

type HubOptions struct {
	Clock  clockwork.Clock
	Logger *log.Logger
	// GraceWindow is how long a dropped participant's seat is held for reconnect
	GraceWindow time.Duration
	// StartDelay is how far ahead of now game_starting schedules the start
	StartDelay     time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	SendBufferSize int
}

// requestError is answered to the sender as an error message.
type requestError struct {
	code    string
	message string
}

func (e *requestError) Error() string {
	return fmt.Sprintf("%s (%s)", e.message, e.code)
}

func newRequestError(code, message string) error {
	return &requestError{code: code, message: message}
}

type hubHandler func(c *Connection, msg *messages.Message) error

// Hub owns every room. All room mutation happens under mu, from connection read
// goroutines and grace timers.
type Hub struct {
	opts   HubOptions
	clock  clockwork.Clock
	logger *log.Logger
	codecs map[int]messages.Codec

	mu       sync.Mutex
	rooms    map[string]*room
	dispatch map[string]hubHandler
}

func NewHub(opts HubOptions) (*Hub, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = DefaultGraceWindow
	}
	if opts.StartDelay <= 0 {
		opts.StartDelay = DefaultStartDelay
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = DefaultSendBufferSize
	}

	zstdCodec, err := messages.NewZstdCodec()
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd codec: %w", err)
	}
	h := &Hub{
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger,
		codecs: map[int]messages.Codec{
			websocket.TextMessage:   messages.JSONCodec{},
			websocket.BinaryMessage: zstdCodec,
		},
		rooms: make(map[string]*room),
	}
	h.dispatch = map[string]hubHandler{
		messages.MessageTypeClientCreateRoom:   h.handleCreateRoom,
		messages.MessageTypeClientJoinRoom:     h.handleJoinRoom,
		messages.MessageTypeClientLeaveRoom:    h.handleLeaveRoom,
		messages.MessageTypeClientPlayerReady:  h.handlePlayerReady,
		messages.MessageTypeClientStartGame:    h.handleStartGame,
		messages.MessageTypeClientPlayerState:  h.handlePlayerState,
		messages.MessageTypeClientGameAction:   h.handleGameAction,
		messages.MessageTypeClientChat:         h.handleChat,
		messages.MessageTypeClientCollectItem:  h.handleCollectItem,
		messages.MessageTypeClientEnemyState:   h.handleEnemyState,
		messages.MessageTypeClientEnemySpawn:   h.handleEnemyState,
		messages.MessageTypeClientEnemyKilled:  h.handleEnemyKilled,
		messages.MessageTypeClientCoinSpawn:    h.handleCoinSpawn,
		messages.MessageTypeClientSyncEntities: h.handleSyncEntities,
		messages.MessageTypeClientTimeSync:     h.handleTimeSync,
		messages.MessageTypeClientReconnect:    h.handleReconnect,
		messages.MessageTypeClientPing:         h.handlePing,
	}
	return h, nil
}

func (h *Hub) codecFor(frameType int) messages.Codec {
	if codec, ok := h.codecs[frameType]; ok {
		return codec
	}
	return messages.JSONCodec{}
}

// Serve runs a new connection until it closes.
func (h *Hub) Serve(conn *websocket.Conn) {
	c := newConnection(h, conn)
	c.logger.Debug("New connection from %s", conn.RemoteAddr().String())
	go c.writePump()
	c.readPump()
}

// Rooms returns the joinable rooms ordered by id.
func (h *Hub) Rooms() []messages.RoomSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]messages.RoomSummary, 0, len(h.rooms))
	for _, r := range h.rooms {
		if r.joinable() {
			out = append(out, r.summary())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Room returns the roster of roomID.
func (h *Hub) Room(roomID string) (*messages.RoomInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return nil, false
	}
	return r.info(), true
}

func (h *Hub) handle(c *Connection, msg *messages.Message) {
	fn, ok := h.dispatch[msg.Type]
	if !ok {
		c.logger.Debug("Discarding message: %v", messages.ErrUnknownType(msg.Type))
		return
	}

	h.mu.Lock()
	err := fn(c, msg)
	h.mu.Unlock()
	if err == nil {
		return
	}

	var perr *messages.ProtocolError
	if errors.As(err, &perr) {
		c.logger.Debug("Discarding message: %v", err)
		return
	}
	var rerr *requestError
	if errors.As(err, &rerr) {
		c.logger.Debug("Rejected %s: %v", msg.Type, err)
		c.Send(messages.MustNewMessage(messages.MessageTypeServerError, messages.ServerError{
			RequestID: requestID(msg),
			Code:      rerr.code,
			Message:   rerr.message,
		}))
		return
	}
	c.logger.Error("Failed to handle %s message: %v", msg.Type, err)
}

func requestID(msg *messages.Message) string {
	var head struct {
		RequestID string `json:"request_id"`
	}
	if err := msg.Decode(&head); err != nil {
		return ""
	}
	return head.RequestID
}

// current returns the room and seat bound to c. h.mu must be held.
func (h *Hub) current(c *Connection) (*room, *seat, error) {
	roomID, playerID := c.seat()
	r, ok := h.rooms[roomID]
	if !ok {
		return nil, nil, newRequestError(messages.ErrorCodeNotInRoom, "not in a room")
	}
	s := r.seat(playerID)
	if s == nil || s.conn != c {
		return nil, nil, newRequestError(messages.ErrorCodeNotInRoom, "not in a room")
	}
	return r, s, nil
}

func (h *Hub) broadcast(r *room, msg *messages.Message) {
	for _, s := range r.seats {
		if s.connected() {
			s.conn.Send(msg)
		}
	}
}

func (h *Hub) broadcastOthers(r *room, playerID string, msg *messages.Message) {
	for _, s := range r.others(playerID) {
		s.conn.Send(msg)
	}
}

func (h *Hub) newCode() (string, error) {
	for i := 0; i < roomCodeRetries; i++ {
		code := newRoomCode()
		if _, ok := h.rooms[code]; !ok {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique room code")
}

func (h *Hub) handleCreateRoom(c *Connection, msg *messages.Message) error {
	var p messages.ClientCreateRoom
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if roomID, _ := c.seat(); roomID != "" {
		return newRequestError(messages.ErrorCodeBadRequest, "already in a room")
	}
	if p.PlayerName == "" {
		return newRequestError(messages.ErrorCodeBadRequest, "player name is required")
	}

	code, err := h.newCode()
	if err != nil {
		return err
	}
	name := p.RoomName
	if name == "" {
		name = fmt.Sprintf("%s's room", p.PlayerName)
	}
	r := newRoom(code, name)
	s := &seat{
		playerID: uuid.NewString(),
		name:     p.PlayerName,
		number:   1,
		token:    uuid.NewString(),
		conn:     c,
	}
	r.hostID = s.playerID
	r.addSeat(s)
	h.rooms[code] = r
	c.setSeat(code, s.playerID)

	h.logger.Info("Room %s created by %s", code, p.PlayerName)
	c.Send(messages.MustNewMessage(messages.MessageTypeServerRoomCreated, messages.ServerRoomJoined{
		RequestID:      p.RequestID,
		RoomID:         code,
		PlayerID:       s.playerID,
		PlayerNumber:   s.number,
		RoomInfo:       r.info(),
		ReconnectToken: s.token,
	}))
	return nil
}

func (h *Hub) handleJoinRoom(c *Connection, msg *messages.Message) error {
	var p messages.ClientJoinRoom
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if roomID, _ := c.seat(); roomID != "" {
		return newRequestError(messages.ErrorCodeBadRequest, "already in a room")
	}
	r, ok := h.rooms[p.RoomID]
	if !ok {
		return newRequestError(messages.ErrorCodeRoomNotFound, fmt.Sprintf("room %s not found", p.RoomID))
	}
	if r.gameStarted {
		return newRequestError(messages.ErrorCodeGameStarted, "game already started")
	}
	if r.full() {
		return newRequestError(messages.ErrorCodeRoomFull, "room is full")
	}
	if p.PlayerName == "" {
		return newRequestError(messages.ErrorCodeBadRequest, "player name is required")
	}
	if r.nameTaken(p.PlayerName) {
		return newRequestError(messages.ErrorCodeNameTaken, fmt.Sprintf("name %s is taken", p.PlayerName))
	}

	s := &seat{
		playerID: uuid.NewString(),
		name:     p.PlayerName,
		number:   r.freeNumber(),
		token:    uuid.NewString(),
		conn:     c,
	}
	r.addSeat(s)
	c.setSeat(r.id, s.playerID)

	h.logger.Info("%s joined room %s as player %d", p.PlayerName, r.id, s.number)
	info := r.info()
	c.Send(messages.MustNewMessage(messages.MessageTypeServerRoomJoined, messages.ServerRoomJoined{
		RequestID:      p.RequestID,
		RoomID:         r.id,
		PlayerID:       s.playerID,
		PlayerNumber:   s.number,
		RoomInfo:       info,
		ReconnectToken: s.token,
	}))
	h.broadcastOthers(r, s.playerID, messages.MustNewMessage(messages.MessageTypeServerPlayerJoined, messages.ServerPlayerEvent{
		PlayerID:   s.playerID,
		PlayerName: s.name,
		RoomInfo:   info,
	}))
	return nil
}

func (h *Hub) handleLeaveRoom(c *Connection, msg *messages.Message) error {
	r, s, err := h.current(c)
	if err != nil {
		// a leave for a seat that is already gone is still confirmed
		c.Send(messages.MustNewMessage(messages.MessageTypeServerRoomLeft, nil))
		return nil
	}
	c.setSeat("", "")
	c.Send(messages.MustNewMessage(messages.MessageTypeServerRoomLeft, nil))
	h.vacate(r, s)
	return nil
}

// vacate removes s from r. The host's departure closes the room. h.mu must be held.
func (h *Hub) vacate(r *room, s *seat) {
	r.removeSeat(s.playerID)
	h.logger.Info("%s left room %s", s.name, r.id)

	if s.playerID == r.hostID {
		h.closeRoom(r)
		return
	}
	if len(r.seats) == 0 {
		delete(h.rooms, r.id)
		return
	}
	h.broadcast(r, messages.MustNewMessage(messages.MessageTypeServerPlayerLeft, messages.ServerPlayerEvent{
		PlayerID:   s.playerID,
		PlayerName: s.name,
		RoomInfo:   r.info(),
	}))
}

func (h *Hub) closeRoom(r *room) {
	for _, s := range append([]*seat(nil), r.seats...) {
		r.removeSeat(s.playerID)
		if s.connected() {
			s.conn.setSeat("", "")
			s.conn.Send(messages.MustNewMessage(messages.MessageTypeServerRoomLeft, nil))
		}
	}
	delete(h.rooms, r.id)
	h.logger.Info("Room %s closed", r.id)
}

func (h *Hub) handlePlayerReady(c *Connection, msg *messages.Message) error {
	var p messages.ClientPlayerReady
	if err := msg.Decode(&p); err != nil {
		return err
	}
	r, s, err := h.current(c)
	if err != nil {
		return err
	}
	if r.gameStarted {
		return newRequestError(messages.ErrorCodeGameStarted, "game already started")
	}
	s.ready = p.IsReady
	h.broadcast(r, messages.MustNewMessage(messages.MessageTypeServerPlayerReadyChanged, messages.ServerPlayerEvent{
		PlayerID:   s.playerID,
		PlayerName: s.name,
		IsReady:    s.ready,
		RoomInfo:   r.info(),
	}))
	return nil
}

func (h *Hub) handleStartGame(c *Connection, msg *messages.Message) error {
	r, s, err := h.current(c)
	if err != nil {
		return err
	}
	if s.playerID != r.hostID {
		return newRequestError(messages.ErrorCodeNotHost, "only the host can start the game")
	}
	if r.gameStarted {
		return newRequestError(messages.ErrorCodeGameStarted, "game already started")
	}
	if !r.allReady() {
		return newRequestError(messages.ErrorCodeNotReady, "both players must be ready")
	}

	r.gameStarted = true
	r.sequence++
	start := h.clock.Now().Add(h.opts.StartDelay).UnixMilli()
	h.logger.Info("Room %s starting at %d", r.id, start)
	h.broadcast(r, messages.MustNewMessage(messages.MessageTypeServerGameStarting, messages.ServerGameStarting{
		StartTime:  start,
		Seed:       rand.Int64(),
		SequenceID: r.sequence,
		RoomInfo:   r.info(),
	}))
	return nil
}

func (h *Hub) handleChat(c *Connection, msg *messages.Message) error {
	var p messages.ClientChat
	if err := msg.Decode(&p); err != nil {
		return err
	}
	r, s, err := h.current(c)
	if err != nil {
		return err
	}
	h.broadcast(r, messages.MustNewMessage(messages.MessageTypeServerChat, messages.ServerChat{
		PlayerID:   s.playerID,
		PlayerName: s.name,
		Message:    p.Message,
		Timestamp:  h.clock.Now().UnixMilli(),
	}))
	return nil
}

func (h *Hub) handleTimeSync(c *Connection, msg *messages.Message) error {
	var p messages.ClientTimeSync
	if err := msg.Decode(&p); err != nil {
		return err
	}
	c.Send(messages.MustNewMessage(messages.MessageTypeServerTimeSyncResponse, messages.ServerTimeSyncResponse{
		ClientTime: p.ClientTime,
		ServerTime: h.clock.Now().UnixMilli(),
		SequenceID: p.SequenceID,
	}))
	return nil
}

func (h *Hub) handlePing(c *Connection, msg *messages.Message) error {
	c.Send(messages.MustNewMessage(messages.MessageTypeServerPong, nil))
	return nil
}
