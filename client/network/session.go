package network

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultSendBufferSize    = 256
)

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MessageHandler receives every decoded inbound message, on the read goroutine.
type MessageHandler func(msg *messages.Message)

// CloseHandler is called when an open connection closes without a local Disconnect.
type CloseHandler func(err error)

type SessionOptions struct {
	Dialer            Dialer
	Codec             messages.Codec
	Clock             clockwork.Clock
	Logger            *log.Logger
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	SendBufferSize    int
	OnMessage         MessageHandler
	OnUnexpectedClose CloseHandler
}

// Session owns the single connection to the relay. Sends are best effort: a
// message sent while the connection is not open is dropped.
type Session struct {
	dialer            Dialer
	codec             messages.Codec
	clock             clockwork.Clock
	logger            *log.Logger
	connectTimeout    time.Duration
	heartbeatInterval time.Duration
	writeTimeout      time.Duration
	sendBufferSize    int
	onMessage         MessageHandler
	onUnexpectedClose CloseHandler

	mu         sync.Mutex
	state      State
	target     string
	generation uint64
	pending    *Future[struct{}]
	conn       Conn
	outbound   chan []byte
	cancelConn context.CancelFunc
	wg         sync.WaitGroup
}

func NewSession(opts SessionOptions) *Session {
	s := &Session{
		dialer:            opts.Dialer,
		codec:             opts.Codec,
		clock:             opts.Clock,
		logger:            opts.Logger,
		connectTimeout:    opts.ConnectTimeout,
		heartbeatInterval: opts.HeartbeatInterval,
		writeTimeout:      opts.WriteTimeout,
		sendBufferSize:    opts.SendBufferSize,
		onMessage:         opts.OnMessage,
		onUnexpectedClose: opts.OnUnexpectedClose,
	}
	if s.dialer == nil {
		s.dialer = &WSDialer{}
	}
	if s.codec == nil {
		s.codec = messages.JSONCodec{}
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.connectTimeout <= 0 {
		s.connectTimeout = DefaultConnectTimeout
	}
	if s.heartbeatInterval <= 0 {
		s.heartbeatInterval = DefaultHeartbeatInterval
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = DefaultWriteTimeout
	}
	if s.sendBufferSize <= 0 {
		s.sendBufferSize = DefaultSendBufferSize
	}
	return s
}

// SetHandlers replaces the inbound callbacks. It must be called before Connect.
func (s *Session) SetHandlers(onMessage MessageHandler, onUnexpectedClose CloseHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = onMessage
	s.onUnexpectedClose = onUnexpectedClose
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *Session) IsOpen() bool {
	return s.State() == StateOpen
}

// Connect opens a connection to target. The returned future completes when the
// connection is open, or fails with a ConnectionError. Connecting to the target
// that is already open (or opening) returns without dialing again.
func (s *Session) Connect(target string) *Future[struct{}] {
	s.mu.Lock()
	if s.target == target {
		switch s.state {
		case StateOpen:
			s.mu.Unlock()
			return Resolved(struct{}{})
		case StateConnecting:
			f := s.pending
			s.mu.Unlock()
			return f
		}
	}
	if s.state == StateOpen || s.state == StateConnecting {
		s.logger.Info("Switching connection from %s to %s", s.target, target)
		s.closeLocked()
	}

	s.generation++
	gen := s.generation
	f := NewFuture[struct{}]()
	s.state = StateConnecting
	s.target = target
	s.pending = f
	s.mu.Unlock()

	go s.dial(gen, target, f)
	return f
}

func (s *Session) dial(gen uint64, target string, f *Future[struct{}]) {
	s.logger.Info("Connecting to %s", target)

	ctx, cancel := context.WithCancel(context.Background())
	var timedOut atomic.Bool
	timer := s.clock.AfterFunc(s.connectTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	conn, err := s.dialer.Dial(ctx, target)
	timer.Stop()
	cancel()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		f.Reject(&ConnectionError{Op: "connect", Err: &ErrConnectionClosedByClient{}})
		return
	}
	if err != nil {
		if timedOut.Load() {
			err = ErrConnectTimeout
		}
		s.state = StateDisconnected
		s.pending = nil
		s.mu.Unlock()
		s.logger.Warn("Failed to connect to %s: %v", target, err)
		f.Reject(&ConnectionError{Op: "connect", Err: err})
		return
	}

	connCtx, cancelConn := context.WithCancel(context.Background())
	outbound := make(chan []byte, s.sendBufferSize)
	s.state = StateOpen
	s.pending = nil
	s.conn = conn
	s.outbound = outbound
	s.cancelConn = cancelConn
	s.wg.Add(3)
	go s.readLoop(connCtx, gen, conn)
	go s.writePump(connCtx, conn, outbound)
	go s.heartbeat(connCtx)
	s.mu.Unlock()

	s.logger.Info("Connected to %s", target)
	f.Resolve(struct{}{})
}

// Send queues msg for delivery. It never blocks; when the connection is not open
// or the outbound buffer is full the message is dropped.
func (s *Session) Send(msg *messages.Message) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		s.logger.Trace("Dropping %s message: connection is %s", msg.Type, s.State())
		return
	}
	outbound := s.outbound
	s.mu.Unlock()

	data, err := s.codec.Serialize(msg)
	if err != nil {
		s.logger.Error("Failed to serialize %s message: %v", msg.Type, err)
		return
	}

	select {
	case outbound <- data:
	default:
		s.logger.Warn("Dropping %s message: send buffer full", msg.Type)
	}
}

// Disconnect closes the connection without triggering reconnection. A pending
// Connect fails with ErrConnectionClosedByClient.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateDisconnected || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.closeLocked()
	s.state = StateClosed
	s.mu.Unlock()

	s.logger.Info("Disconnected from %s", s.Target())
}

// Wait blocks until the connection goroutines of closed connections have exited.
func (s *Session) Wait() {
	s.wg.Wait()
}

// closeLocked tears down the current connection or pending dial. s.mu must be held.
func (s *Session) closeLocked() {
	s.generation++
	if s.pending != nil {
		s.pending.Reject(&ConnectionError{Op: "connect", Err: &ErrConnectionClosedByClient{}})
		s.pending = nil
	}
	if s.cancelConn != nil {
		s.cancelConn()
		s.cancelConn = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("Error closing connection: %v", err)
		}
		s.conn = nil
	}
	s.outbound = nil
}

func (s *Session) readLoop(ctx context.Context, gen uint64, conn Conn) {
	defer s.wg.Done()
	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			s.handleClose(gen, err)
			return
		}

		msg, err := s.codec.Deserialize(data)
		if err != nil {
			s.logger.Debug("Discarding message: %v", err)
			continue
		}

		s.mu.Lock()
		onMessage := s.onMessage
		s.mu.Unlock()
		if onMessage != nil {
			onMessage(msg)
		}
	}
}

func (s *Session) handleClose(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.generation || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	s.closeLocked()
	s.state = StateClosed
	onUnexpectedClose := s.onUnexpectedClose
	s.mu.Unlock()

	s.logger.Warn("Connection to %s closed: %v", s.Target(), err)
	if onUnexpectedClose != nil {
		onUnexpectedClose(&ConnectionError{Op: "read", Err: err})
	}
}

func (s *Session) writePump(ctx context.Context, conn Conn, outbound <-chan []byte) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-outbound:
			writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
			err := conn.WriteMessage(writeCtx, data)
			cancel()
			if err != nil {
				s.logger.Debug("Failed to write message: %v", err)
			}
		}
	}
}

// heartbeat pings the relay while the connection is open. Missing pongs are not
// treated as a fault; only the transport's own close ends the connection.
func (s *Session) heartbeat(ctx context.Context) {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Send(messages.MustNewMessage(messages.MessageTypeClientPing, nil))
		}
	}
}
