// Package coop wires the session, clock sync, room, replication and recovery
// components into one client driven by a per-tick Update.
package coop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cbodonnell/tandem/client/network"
	"github.com/cbodonnell/tandem/client/recovery"
	"github.com/cbodonnell/tandem/client/replication"
	"github.com/cbodonnell/tandem/client/room"
	"github.com/cbodonnell/tandem/client/timesync"
	"github.com/cbodonnell/tandem/pkg/game/types"
	"github.com/cbodonnell/tandem/pkg/kinematic"
	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/cbodonnell/tandem/pkg/queue"
	"github.com/cbodonnell/tandem/pkg/repositories"
	"github.com/jonboulle/clockwork"
)

// ErrDisconnected fails pending requests when the caller disconnects.
var ErrDisconnected = errors.New("client disconnected")

// Handlers are called on the goroutine running Update, after the tick's state
// changes are complete. They may call back into the Client.
type Handlers struct {
	OnStateChange   func(from, to room.State)
	OnRoster        func(event room.RosterEvent)
	OnGameStart     func(start room.GameStart)
	OnLeft          func()
	OnError         func(err error)
	OnChat          func(chat messages.ServerChat)
	OnGameAction    func(action replication.Action)
	OnItemCollected func(event messages.ServerItemCollected)
	// OnReconnecting is called before each reconnect attempt
	OnReconnecting func(attempt int)
	OnReconnected  func(joined room.Joined)
	// OnDisconnected is the terminal notification: the seat is gone
	OnDisconnected func(err error)
}

type Options struct {
	ServerURL string
	Dialer    network.Dialer
	Codec     messages.Codec
	Clock     clockwork.Clock
	Logger    *log.Logger
	// Tokens persists reconnect credentials; in-memory when nil
	Tokens repositories.TokenRepository

	QueueSize            int
	ConnectTimeout       time.Duration
	HeartbeatInterval    time.Duration
	ActionTimeout        time.Duration
	ResyncInterval       time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	SendInterval         time.Duration
	EntityDeltaInterval  time.Duration
	FullSyncInterval     time.Duration
	SnapDistance         float64
	BlendFactor          float64

	Handlers Handlers
}

// event is one unit of work for the update pump: an inbound message or a
// closure posted by a timer or connection goroutine.
type event struct {
	msg *messages.Message
	fn  func()
}

// Client is one participant's view of a cooperative session. Network and timer
// goroutines never touch replicated state; they enqueue events which Update
// applies in order, so state changed by a message is visible to the next read
// after that Update returns.
//
// Futures returned by CreateRoom and JoinRoom complete during Update and must not
// be awaited on the goroutine that calls Update.
type Client struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	logger *log.Logger

	session     *network.Session
	clockSync   *timesync.Synchronizer
	rooms       *room.Manager
	replication *replication.Manager
	recovery    *recovery.Controller

	inbox    queue.Queue[event]
	dispatch map[string]handler
	handlers Handlers
	// pending user callbacks, run once the lock is released
	notifications []func()
}

func NewClient(opts Options) *Client {
	c := &Client{
		clock:    opts.Clock,
		logger:   opts.Logger,
		handlers: opts.Handlers,
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = repositories.NewMemoryRepository()
	}
	c.inbox = queue.NewInMemoryQueue[event](opts.QueueSize)

	c.session = network.NewSession(network.SessionOptions{
		Dialer:            opts.Dialer,
		Codec:             opts.Codec,
		Clock:             c.clock,
		Logger:            c.logger.With("component", "session"),
		ConnectTimeout:    opts.ConnectTimeout,
		HeartbeatInterval: opts.HeartbeatInterval,
		OnMessage: func(msg *messages.Message) {
			c.enqueue(event{msg: msg})
		},
		OnUnexpectedClose: func(err error) {
			c.post(func() { c.connectionLost(err) })
		},
	})
	c.clockSync = timesync.NewSynchronizer(timesync.SynchronizerOptions{
		Sender:         c.session,
		Clock:          c.clock,
		Logger:         c.logger.With("component", "timesync"),
		ResyncInterval: opts.ResyncInterval,
	})
	c.rooms = room.NewManager(room.Options{
		Transport:     c.session,
		ServerClock:   c.clockSync,
		Clock:         c.clock,
		Post:          c.post,
		Logger:        c.logger.With("component", "room"),
		ServerURL:     opts.ServerURL,
		ActionTimeout: opts.ActionTimeout,
		OnStateChange: c.roomStateChanged,
		OnRoster: func(event room.RosterEvent) {
			c.notify(func() {
				if c.handlers.OnRoster != nil {
					c.handlers.OnRoster(event)
				}
			})
		},
		OnGameStart: func(start room.GameStart) {
			c.notify(func() {
				if c.handlers.OnGameStart != nil {
					c.handlers.OnGameStart(start)
				}
			})
		},
		OnLeft: func() {
			c.notify(func() {
				if c.handlers.OnLeft != nil {
					c.handlers.OnLeft()
				}
			})
		},
		OnError: func(err error) {
			c.notify(func() {
				if c.handlers.OnError != nil {
					c.handlers.OnError(err)
				}
			})
		},
	})
	c.replication = replication.NewManager(replication.Options{
		Sender:              c.session,
		Authority:           c.rooms,
		Clock:               c.clock,
		Logger:              c.logger.With("component", "replication"),
		SendInterval:        opts.SendInterval,
		EntityDeltaInterval: opts.EntityDeltaInterval,
		FullSyncInterval:    opts.FullSyncInterval,
		SnapDistance:        opts.SnapDistance,
		BlendFactor:         opts.BlendFactor,
		OnAction: func(action replication.Action) {
			c.notify(func() {
				if c.handlers.OnGameAction != nil {
					c.handlers.OnGameAction(action)
				}
			})
		},
		OnItemCollected: func(event messages.ServerItemCollected) {
			c.notify(func() {
				if c.handlers.OnItemCollected != nil {
					c.handlers.OnItemCollected(event)
				}
			})
		},
	})
	c.recovery = recovery.NewController(recovery.Options{
		Transport:    c.session,
		Tokens:       recovery.NewTokenStore(tokens, opts.ServerURL, c.clock),
		Clock:        c.clock,
		Post:         c.post,
		Logger:       c.logger.With("component", "recovery"),
		ServerURL:    opts.ServerURL,
		BaseDelay:    opts.ReconnectBaseDelay,
		MaxAttempts:  opts.MaxReconnectAttempts,
		ReplyTimeout: opts.ActionTimeout,
		OnAttempt: func(n int) {
			c.notify(func() {
				if c.handlers.OnReconnecting != nil {
					c.handlers.OnReconnecting(n)
				}
			})
		},
		OnExhausted: c.recoveryExhausted,
	})
	c.dispatch = c.dispatchTable()
	return c
}

// droppable lists the inbound types a later message supersedes. Only these are
// shed when the inbox is over capacity.
var droppable = map[string]bool{
	messages.MessageTypeServerPlayerStateUpdate: true,
	messages.MessageTypeServerEnemyStateUpdate:  true,
	messages.MessageTypeServerPong:              true,
}

func (c *Client) enqueue(ev event) {
	if ev.msg == nil || !droppable[ev.msg.Type] {
		c.inbox.Push(ev)
		return
	}
	if err := c.inbox.Enqueue(ev); err != nil {
		c.logger.Warn("Dropping %s message: %v", ev.msg.Type, err)
	}
}

func (c *Client) post(fn func()) {
	c.enqueue(event{fn: fn})
}

// notify defers a user callback until the lock is released. c.mu must be held.
func (c *Client) notify(fn func()) {
	c.notifications = append(c.notifications, fn)
}

// locked runs fn under the lock and then delivers the notifications it produced.
func (c *Client) locked(fn func()) {
	c.mu.Lock()
	fn()
	notifications := c.notifications
	c.notifications = nil
	c.mu.Unlock()

	for _, n := range notifications {
		n()
	}
}

// Update applies every event queued since the last call, advances remote
// interpolation by dt and, on the host, flushes due entity updates.
func (c *Client) Update(dt time.Duration) {
	c.locked(func() {
		for _, ev := range c.inbox.ReadAll() {
			if ev.fn != nil {
				ev.fn()
				continue
			}
			c.handle(ev.msg)
		}
		if c.rooms.State() == room.StateInGame {
			c.replication.Tick(dt)
		}
	})
}

// Run calls Update at the given rate until ctx is done.
func (c *Client) Run(ctx context.Context, tickRate time.Duration) error {
	ticker := c.clock.NewTicker(tickRate)
	defer ticker.Stop()
	last := c.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			now := c.clock.Now()
			c.Update(now.Sub(last))
			last = now
		}
	}
}

func (c *Client) roomStateChanged(from, to room.State) {
	switch {
	case !from.InRoom() && to.InRoom():
		c.replication.SetLocalPlayer(types.PlayerState{
			Name:   c.rooms.PlayerName(),
			Number: c.rooms.PlayerNumber(),
		})
		c.replication.SyncRoster(c.rooms.Room())
		c.clockSync.Start()
	case from.InRoom() && !to.InRoom():
		c.clockSync.Stop()
		c.clockSync.Reset()
		c.replication.Reset()
	}
	c.notify(func() {
		if c.handlers.OnStateChange != nil {
			c.handlers.OnStateChange(from, to)
		}
	})
}

// connectionLost runs on the pump after the relay connection dropped on its own.
func (c *Client) connectionLost(err error) {
	if c.recovery.Active() {
		c.recovery.ConnectionLost(err)
		return
	}
	if c.rooms.RoomID() == "" {
		c.rooms.Reset(err)
		return
	}
	if !c.recovery.Begin(context.Background()) {
		c.terminate(err)
	}
}

func (c *Client) recoveryExhausted(err error) {
	c.terminate(err)
}

func (c *Client) terminate(err error) {
	c.session.Disconnect()
	c.rooms.Reset(err)
	c.notify(func() {
		if c.handlers.OnDisconnected != nil {
			c.handlers.OnDisconnected(err)
		}
	})
}

// CreateRoom connects if needed and creates a room with the local participant as host.
func (c *Client) CreateRoom(roomName, playerName string) *network.Future[room.Joined] {
	var f *network.Future[room.Joined]
	c.locked(func() {
		f = c.rooms.CreateRoom(roomName, playerName)
	})
	return f
}

// JoinRoom connects if needed and takes the free seat in roomID.
func (c *Client) JoinRoom(roomID, playerName string) *network.Future[room.Joined] {
	var f *network.Future[room.Joined]
	c.locked(func() {
		f = c.rooms.JoinRoom(roomID, playerName)
	})
	return f
}

// Resume reclaims the seat cached from an earlier session, if any. The outcome
// arrives through OnReconnected or OnDisconnected.
func (c *Client) Resume() bool {
	var ok bool
	c.locked(func() {
		if c.rooms.State().InRoom() {
			return
		}
		ok = c.recovery.Begin(context.Background())
	})
	return ok
}

func (c *Client) SetReady(ready bool) error {
	var err error
	c.locked(func() {
		err = c.rooms.SetReady(ready)
	})
	return err
}

// StartGame asks the relay to start the game. Only the host may.
func (c *Client) StartGame() error {
	var err error
	c.locked(func() {
		err = c.rooms.StartGame()
	})
	return err
}

// Leave gives up the seat. The connection stays open for a later create or join.
func (c *Client) Leave() {
	c.locked(func() {
		c.recovery.Cancel()
		c.rooms.Leave()
		c.recovery.Forget(context.Background())
	})
}

// Disconnect closes the connection and cancels every timer. No reconnect is attempted.
func (c *Client) Disconnect() {
	c.locked(func() {
		c.recovery.Cancel()
		c.rooms.Reset(ErrDisconnected)
		c.session.Disconnect()
		c.inbox.Clear()
	})
	c.session.Wait()
}

func (c *Client) SendChat(message string) error {
	var err error
	c.locked(func() {
		if !c.rooms.State().InRoom() {
			err = room.ErrNotInRoom
			return
		}
		c.session.Send(messages.MustNewMessage(messages.MessageTypeClientChat, messages.ClientChat{Message: message}))
	})
	return err
}

// PushLocalState records the local player and sends its movement fields at most
// once per send interval. It reports whether a message was sent.
func (c *Client) PushLocalState(state types.PlayerState) bool {
	var sent bool
	c.locked(func() {
		if c.rooms.State() != room.StateInGame {
			c.replication.SetLocalPlayer(state)
			return
		}
		sent = c.replication.PushLocalState(state)
	})
	return sent
}

// CollectItem claims a collectible. It is removed locally at once; the relay
// decides the winner.
func (c *Client) CollectItem(itemType, itemID string) bool {
	var ok bool
	c.locked(func() {
		ok = c.replication.CollectItem(itemType, itemID)
	})
	return ok
}

func (c *Client) SendAction(name string, data interface{}) error {
	var err error
	c.locked(func() {
		err = c.replication.SendAction(name, data)
	})
	return err
}

func (c *Client) ReportDeath(livesRemaining int, permanent bool) error {
	var err error
	c.locked(func() {
		err = c.replication.ReportDeath(livesRemaining, permanent)
	})
	return err
}

func (c *Client) ReportRespawn(pos kinematic.Vector) error {
	var err error
	c.locked(func() {
		err = c.replication.ReportRespawn(pos)
	})
	return err
}

func (c *Client) ReportAssist(targetID string, pos kinematic.Vector) error {
	var err error
	c.locked(func() {
		err = c.replication.ReportAssist(targetID, pos)
	})
	return err
}

// SpawnEnemy, UpdateEnemy, KillEnemy, SpawnCoins and SyncEntities are host only;
// elsewhere they return replication.ErrNotHost and send nothing.
func (c *Client) SpawnEnemy(enemy types.EntityState) error {
	var err error
	c.locked(func() {
		err = c.replication.SpawnEnemy(enemy)
	})
	return err
}

func (c *Client) UpdateEnemy(enemy types.EntityState) error {
	var err error
	c.locked(func() {
		err = c.replication.UpdateEnemy(enemy)
	})
	return err
}

func (c *Client) KillEnemy(id string) error {
	var err error
	c.locked(func() {
		err = c.replication.KillEnemy(id)
	})
	return err
}

func (c *Client) SpawnCoins(coins []types.EntityState) error {
	var err error
	c.locked(func() {
		err = c.replication.SpawnCoins(coins)
	})
	return err
}

func (c *Client) SyncEntities() error {
	var err error
	c.locked(func() {
		err = c.replication.SyncEntities()
	})
	return err
}

func (c *Client) credentials(token string) recovery.Credentials {
	return recovery.Credentials{
		RoomID:     c.rooms.RoomID(),
		PlayerID:   c.rooms.PlayerID(),
		PlayerName: c.rooms.PlayerName(),
		Token:      token,
	}
}
