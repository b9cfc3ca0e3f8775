package room

import (
	"time"

	"github.com/cbodonnell/tandem/client/network"
	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultActionTimeout = 10 * time.Second
)

// Transport is the connection the room flow runs over.
type Transport interface {
	Connect(target string) *network.Future[struct{}]
	Send(msg *messages.Message)
}

// ServerClock estimates the relay's clock in unix milliseconds.
type ServerClock interface {
	EstimatedServerTime() int64
}

// Joined describes the seat taken by a create, join or reconnect.
type Joined struct {
	RoomID         string
	PlayerID       string
	PlayerNumber   int
	Room           *messages.RoomInfo
	ReconnectToken string
}

// GameStart describes a scheduled game start.
type GameStart struct {
	StartTime  int64
	Seed       int64
	SequenceID uint64
}

// RosterEvent is a relay push about a participant of the current room.
type RosterEvent struct {
	Type       string
	PlayerID   string
	PlayerName string
	IsReady    bool
	Room       *messages.RoomInfo
}

type Options struct {
	Transport   Transport
	ServerClock ServerClock
	Clock       clockwork.Clock
	// Post runs fn on the goroutine that owns the manager
	Post          func(fn func())
	Logger        *log.Logger
	ServerURL     string
	ActionTimeout time.Duration

	OnStateChange func(from, to State)
	OnRoster      func(event RosterEvent)
	OnGameStart   func(start GameStart)
	OnLeft        func()
	OnError       func(err error)
}

type requestKind int

const (
	requestCreate requestKind = iota
	requestJoin
)

func (k requestKind) String() string {
	if k == requestCreate {
		return "create"
	}
	return "join"
}

type pendingRequest struct {
	id         string
	kind       requestKind
	playerName string
	future     *network.Future[Joined]
	timer      clockwork.Timer
}

// Manager tracks the local client's room: the pending create or join, the roster
// and the scheduled game start. It is not safe for concurrent use; every method
// and every Handle call must run on the goroutine that drains Post.
type Manager struct {
	transport     Transport
	serverClock   ServerClock
	clock         clockwork.Clock
	post          func(fn func())
	logger        *log.Logger
	serverURL     string
	actionTimeout time.Duration

	onStateChange func(from, to State)
	onRoster      func(event RosterEvent)
	onGameStart   func(start GameStart)
	onLeft        func()
	onError       func(err error)

	state        State
	room         *messages.RoomInfo
	roomID       string
	playerID     string
	playerName   string
	playerNumber int

	pending map[string]*pendingRequest
	order   []string

	startTimer    clockwork.Timer
	startSequence uint64
	gameStart     *GameStart
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		transport:     opts.Transport,
		serverClock:   opts.ServerClock,
		clock:         opts.Clock,
		post:          opts.Post,
		logger:        opts.Logger,
		serverURL:     opts.ServerURL,
		actionTimeout: opts.ActionTimeout,
		onStateChange: opts.OnStateChange,
		onRoster:      opts.OnRoster,
		onGameStart:   opts.OnGameStart,
		onLeft:        opts.OnLeft,
		onError:       opts.OnError,
		pending:       make(map[string]*pendingRequest),
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	if m.actionTimeout <= 0 {
		m.actionTimeout = DefaultActionTimeout
	}
	return m
}

func (m *Manager) State() State {
	return m.state
}

// Room returns a copy of the latest roster pushed by the relay, or nil.
func (m *Manager) Room() *messages.RoomInfo {
	return m.room.Copy()
}

func (m *Manager) RoomID() string {
	return m.roomID
}

func (m *Manager) PlayerID() string {
	return m.playerID
}

func (m *Manager) PlayerName() string {
	return m.playerName
}

func (m *Manager) PlayerNumber() int {
	return m.playerNumber
}

// IsHost reports whether the local participant is the room's host.
func (m *Manager) IsHost() bool {
	if m.room == nil || m.playerID == "" {
		return false
	}
	return m.room.HostID == m.playerID
}

// HostID returns the host of the current room, or "".
func (m *Manager) HostID() string {
	if m.room == nil {
		return ""
	}
	return m.room.HostID
}

// GameStart returns the most recent scheduled start, or nil.
func (m *Manager) GameStart() *GameStart {
	if m.gameStart == nil {
		return nil
	}
	gs := *m.gameStart
	return &gs
}

// CreateRoom connects if needed and asks the relay for a new room. The future
// fails with ErrTimeout if no acknowledgment arrives within the action timeout.
func (m *Manager) CreateRoom(roomName, playerName string) *network.Future[Joined] {
	return m.request(requestCreate, playerName, func(requestID string) *messages.Message {
		return messages.MustNewMessage(messages.MessageTypeClientCreateRoom, messages.ClientCreateRoom{
			RequestID:  requestID,
			RoomName:   roomName,
			PlayerName: playerName,
		})
	})
}

// JoinRoom connects if needed and asks the relay for a seat in roomID.
func (m *Manager) JoinRoom(roomID, playerName string) *network.Future[Joined] {
	return m.request(requestJoin, playerName, func(requestID string) *messages.Message {
		return messages.MustNewMessage(messages.MessageTypeClientJoinRoom, messages.ClientJoinRoom{
			RequestID:  requestID,
			RoomID:     roomID,
			PlayerName: playerName,
		})
	})
}

func (m *Manager) request(kind requestKind, playerName string, build func(requestID string) *messages.Message) *network.Future[Joined] {
	if m.state.InRoom() {
		return network.Rejected[Joined](ErrAlreadyInRoom)
	}

	id := uuid.NewString()
	req := &pendingRequest{
		id:         id,
		kind:       kind,
		playerName: playerName,
		future:     network.NewFuture[Joined](),
	}
	m.pending[id] = req
	m.order = append(m.order, id)
	req.timer = m.clock.AfterFunc(m.actionTimeout, func() {
		m.post(func() { m.expire(id) })
	})

	if m.state == StateIdle {
		m.setState(StateConnecting)
	}

	msg := build(id)
	connected := m.transport.Connect(m.serverURL)
	go func() {
		<-connected.Done()
		_, err := connected.Result()
		m.post(func() { m.connected(id, msg, err) })
	}()

	return req.future
}

func (m *Manager) connected(id string, msg *messages.Message, err error) {
	req, ok := m.pending[id]
	if !ok {
		return
	}
	if err != nil {
		m.removePending(req)
		req.future.Reject(err)
		if m.state == StateConnecting && len(m.pending) == 0 {
			m.setState(StateIdle)
		}
		return
	}
	if m.state == StateConnecting || m.state == StateIdle {
		m.setState(StateInLobby)
	}
	m.logger.Debug("Sending %s request %s", req.kind, id)
	m.transport.Send(msg)
}

func (m *Manager) expire(id string) {
	req, ok := m.pending[id]
	if !ok {
		return
	}
	m.removePending(req)
	m.logger.Warn("Room %s request %s timed out", req.kind, id)
	req.future.Reject(ErrTimeout)
	if m.state == StateConnecting && len(m.pending) == 0 {
		m.setState(StateIdle)
	}
}

func (m *Manager) removePending(req *pendingRequest) {
	if req.timer != nil {
		req.timer.Stop()
	}
	delete(m.pending, req.id)
	for i, id := range m.order {
		if id == req.id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// takePending removes and returns the request matching requestID or, for replies
// without one, the oldest pending request accepted by match.
func (m *Manager) takePending(requestID string, match func(kind requestKind) bool) *pendingRequest {
	var req *pendingRequest
	if requestID != "" {
		req = m.pending[requestID]
	} else {
		for _, id := range m.order {
			if match(m.pending[id].kind) {
				req = m.pending[id]
				break
			}
		}
	}
	if req != nil {
		m.removePending(req)
	}
	return req
}

// HandleRoomJoined applies room_created and room_joined. An acknowledgment with no
// pending request (one that already timed out) is answered with leave_room.
func (m *Manager) HandleRoomJoined(msgType string, p messages.ServerRoomJoined) *Joined {
	kind := requestJoin
	if msgType == messages.MessageTypeServerRoomCreated {
		kind = requestCreate
	}
	req := m.takePending(p.RequestID, func(k requestKind) bool { return k == kind })
	if req == nil {
		m.logger.Warn("Discarding late %s for room %s", msgType, p.RoomID)
		m.transport.Send(messages.MustNewMessage(messages.MessageTypeClientLeaveRoom, nil))
		return nil
	}
	if m.state.InRoom() {
		req.future.Reject(ErrAlreadyInRoom)
		return nil
	}

	m.playerName = req.playerName
	joined := m.enterRoom(p.RoomID, p.PlayerID, p.PlayerNumber, p.RoomInfo, p.ReconnectToken)
	m.setState(StateWaitingForReady)
	m.logger.Info("Joined room %s as player %d", p.RoomID, p.PlayerNumber)
	req.future.Resolve(joined)
	return &joined
}

// HandleReconnected restores the seat after a successful reconnect.
func (m *Manager) HandleReconnected(p messages.ServerReconnected, playerName string) Joined {
	if playerName != "" {
		m.playerName = playerName
	}
	joined := m.enterRoom(p.RoomID, p.PlayerID, p.PlayerNumber, p.RoomInfo, p.ReconnectToken)
	if p.RoomInfo != nil && p.RoomInfo.GameStarted {
		m.setState(StateInGame)
	} else {
		m.setState(StateWaitingForReady)
	}
	return joined
}

func (m *Manager) enterRoom(roomID, playerID string, playerNumber int, info *messages.RoomInfo, token string) Joined {
	m.roomID = roomID
	m.playerID = playerID
	m.playerNumber = playerNumber
	m.room = info.Copy()
	return Joined{
		RoomID:         roomID,
		PlayerID:       playerID,
		PlayerNumber:   playerNumber,
		Room:           info.Copy(),
		ReconnectToken: token,
	}
}

// HandlePlayerEvent applies a roster push. The room snapshot is replaced wholesale.
func (m *Manager) HandlePlayerEvent(msgType string, p messages.ServerPlayerEvent) {
	if !m.state.InRoom() {
		m.logger.Debug("Ignoring %s outside of a room", msgType)
		return
	}
	if p.RoomInfo != nil {
		m.room = p.RoomInfo.Copy()
	}
	if m.onRoster != nil {
		m.onRoster(RosterEvent{
			Type:       msgType,
			PlayerID:   p.PlayerID,
			PlayerName: p.PlayerName,
			IsReady:    p.IsReady,
			Room:       m.room.Copy(),
		})
	}
}

// HandleGameStarting schedules the transition to StateInGame at the relay's start time.
func (m *Manager) HandleGameStarting(p messages.ServerGameStarting) {
	if !m.state.InRoom() {
		m.logger.Debug("Ignoring game_starting outside of a room")
		return
	}
	if p.RoomInfo != nil {
		m.room = p.RoomInfo.Copy()
	}

	m.stopStartTimer()
	m.startSequence++
	seq := m.startSequence
	start := GameStart{
		StartTime:  p.StartTime,
		Seed:       p.Seed,
		SequenceID: p.SequenceID,
	}
	m.gameStart = &start
	m.setState(StateStarting)

	delay := p.StartTime - m.serverClock.EstimatedServerTime()
	if delay <= 0 {
		m.beginGame(seq, start)
		return
	}
	m.logger.Info("Game starting in %dms", delay)
	m.startTimer = m.clock.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
		m.post(func() { m.beginGame(seq, start) })
	})
}

func (m *Manager) beginGame(seq uint64, start GameStart) {
	if seq != m.startSequence || m.state != StateStarting {
		return
	}
	m.startTimer = nil
	m.setState(StateInGame)
	if m.onGameStart != nil {
		m.onGameStart(start)
	}
}

func (m *Manager) stopStartTimer() {
	if m.startTimer != nil {
		m.startTimer.Stop()
		m.startTimer = nil
	}
}

// SetReady toggles the local ready flag.
func (m *Manager) SetReady(ready bool) error {
	if !m.state.InRoom() {
		return ErrNotInRoom
	}
	if m.state != StateWaitingForReady {
		return ErrGameStarted
	}
	m.transport.Send(messages.MustNewMessage(messages.MessageTypeClientPlayerReady, messages.ClientPlayerReady{IsReady: ready}))
	return nil
}

// StartGame asks the relay to start. Only the host may; the relay decides and
// answers with game_starting.
func (m *Manager) StartGame() error {
	if !m.state.InRoom() {
		return ErrNotInRoom
	}
	if !m.IsHost() {
		return ErrNotHost
	}
	if m.state != StateWaitingForReady {
		return ErrGameStarted
	}
	m.transport.Send(messages.MustNewMessage(messages.MessageTypeClientStartGame, nil))
	return nil
}

// Leave abandons pending requests and the current room and returns to StateIdle.
func (m *Manager) Leave() {
	if m.state.InRoom() {
		m.transport.Send(messages.MustNewMessage(messages.MessageTypeClientLeaveRoom, nil))
	}
	wasInRoom := m.state.InRoom()
	m.Reset(ErrCancelled)
	if wasInRoom && m.onLeft != nil {
		m.onLeft()
	}
}

// HandleRoomLeft applies the relay's confirmation that the seat was released.
func (m *Manager) HandleRoomLeft() {
	if !m.state.InRoom() {
		return
	}
	m.Reset(ErrCancelled)
	if m.onLeft != nil {
		m.onLeft()
	}
}

// HandleError routes a relay error to the request it answers, or to OnError.
func (m *Manager) HandleError(p messages.ServerError) {
	err := &RoomError{
		Code:    p.Code,
		Message: p.Message,
	}
	if req := m.takePending(p.RequestID, func(requestKind) bool { return answersEntry(p.Code) }); req != nil {
		m.logger.Warn("Room %s request rejected: %v", req.kind, err)
		req.future.Reject(err)
		return
	}
	m.logger.Warn("Server error: %v", err)
	if m.onError != nil {
		m.onError(err)
	}
}

// answersEntry reports whether a relay error code can be the reply to
// create_room or join_room. Other codes answer lobby and game actions and are
// never matched to a pending request without an explicit request id.
func answersEntry(code string) bool {
	switch code {
	case messages.ErrorCodeRoomNotFound,
		messages.ErrorCodeRoomFull,
		messages.ErrorCodeGameStarted,
		messages.ErrorCodeNameTaken,
		messages.ErrorCodeBadRequest:
		return true
	}
	return false
}

// Reset fails every pending request with err, forgets the room and returns to StateIdle.
func (m *Manager) Reset(err error) {
	for _, id := range append([]string(nil), m.order...) {
		req := m.pending[id]
		m.removePending(req)
		req.future.Reject(err)
	}
	m.stopStartTimer()
	m.startSequence++
	m.room = nil
	m.roomID = ""
	m.playerID = ""
	m.playerNumber = 0
	m.gameStart = nil
	m.setState(StateIdle)
}

func (m *Manager) setState(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.logger.Debug("Room state %s -> %s", from, to)
	if m.onStateChange != nil {
		m.onStateChange(from, to)
	}
}
