package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cbodonnell/tandem/client/network"
	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultBaseDelay    = time.Second
	DefaultMaxAttempts  = 5
	DefaultReplyTimeout = 10 * time.Second
)

// ErrReconnectExhausted is delivered once when every reconnect attempt failed or the
// relay refused the seat. The caller has to start over from the lobby.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Transport is the connection reconnects run over.
type Transport interface {
	Connect(target string) *network.Future[struct{}]
	Send(msg *messages.Message)
}

type Options struct {
	Transport Transport
	Tokens    *TokenStore
	Clock     clockwork.Clock
	// Post runs fn on the goroutine that owns the controller
	Post         func(fn func())
	Logger       *log.Logger
	ServerURL    string
	BaseDelay    time.Duration
	MaxAttempts  int
	ReplyTimeout time.Duration

	// OnAttempt is called when attempt n is about to dial
	OnAttempt func(n int)
	// OnExhausted is called once per recovery that ends without a seat
	OnExhausted func(err error)
}

// Controller resumes a seat after an unexpected disconnect. Attempt n is made
// BaseDelay*n after the previous failure, up to MaxAttempts.
//
// Controller is not safe for concurrent use; its methods and the Post callbacks
// must run on one goroutine.
type Controller struct {
	transport    Transport
	tokens       *TokenStore
	clock        clockwork.Clock
	post         func(fn func())
	logger       *log.Logger
	serverURL    string
	baseDelay    time.Duration
	maxAttempts  int
	replyTimeout time.Duration
	onAttempt    func(n int)
	onExhausted  func(err error)

	active     bool
	attempt    int
	generation uint64
	creds      Credentials
	requestID  string
	timer      clockwork.Timer
	lastErr    error
}

func NewController(opts Options) *Controller {
	c := &Controller{
		transport:    opts.Transport,
		tokens:       opts.Tokens,
		clock:        opts.Clock,
		post:         opts.Post,
		logger:       opts.Logger,
		serverURL:    opts.ServerURL,
		baseDelay:    opts.BaseDelay,
		maxAttempts:  opts.MaxAttempts,
		replyTimeout: opts.ReplyTimeout,
		onAttempt:    opts.OnAttempt,
		onExhausted:  opts.OnExhausted,
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	if c.baseDelay <= 0 {
		c.baseDelay = DefaultBaseDelay
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.replyTimeout <= 0 {
		c.replyTimeout = DefaultReplyTimeout
	}
	return c
}

// Active reports whether a recovery is in progress.
func (c *Controller) Active() bool {
	return c.active
}

// Attempt returns the number of the current or last attempt.
func (c *Controller) Attempt() int {
	return c.attempt
}

// Remember caches the credentials of a newly taken seat.
func (c *Controller) Remember(ctx context.Context, creds Credentials) {
	if creds.Token == "" {
		return
	}
	if err := c.tokens.Save(ctx, creds); err != nil {
		c.logger.Error("Failed to save reconnect token: %v", err)
	}
}

// Forget discards the cached credentials, for an explicit leave.
func (c *Controller) Forget(ctx context.Context) {
	if err := c.tokens.Discard(ctx); err != nil {
		c.logger.Error("%v", err)
	}
}

// Begin starts recovering the cached seat. It returns false if there is nothing
// to resume, in which case OnExhausted is not called.
func (c *Controller) Begin(ctx context.Context) bool {
	if c.active {
		return true
	}
	creds, err := c.tokens.Load(ctx)
	if err != nil {
		c.logger.Warn("No seat to resume: %v", err)
		return false
	}

	c.active = true
	c.attempt = 0
	c.creds = creds
	c.lastErr = nil
	c.logger.Info("Connection lost, resuming room %s", creds.RoomID)
	c.scheduleNext()
	return true
}

// Cancel stops recovery without notifying. Used by an explicit disconnect.
func (c *Controller) Cancel() {
	c.stopTimer()
	c.generation++
	c.active = false
	c.requestID = ""
}

func (c *Controller) scheduleNext() {
	c.stopTimer()
	c.generation++
	c.requestID = ""
	if c.attempt >= c.maxAttempts {
		c.exhaust(fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, c.attempt, c.lastErr))
		return
	}

	c.attempt++
	gen := c.generation
	delay := c.baseDelay * time.Duration(c.attempt)
	c.logger.Debug("Reconnect attempt %d in %s", c.attempt, delay)
	c.timer = c.clock.AfterFunc(delay, func() {
		c.post(func() { c.dial(gen) })
	})
}

func (c *Controller) dial(gen uint64) {
	if gen != c.generation || !c.active {
		return
	}
	c.timer = nil
	if c.onAttempt != nil {
		c.onAttempt(c.attempt)
	}

	connected := c.transport.Connect(c.serverURL)
	go func() {
		<-connected.Done()
		_, err := connected.Result()
		c.post(func() { c.connected(gen, err) })
	}()
}

func (c *Controller) connected(gen uint64, err error) {
	if gen != c.generation || !c.active {
		return
	}
	if err != nil {
		c.fail(err)
		return
	}

	c.requestID = uuid.NewString()
	c.transport.Send(messages.MustNewMessage(messages.MessageTypeClientReconnect, messages.ClientReconnect{
		RequestID: c.requestID,
		RoomID:    c.creds.RoomID,
		PlayerID:  c.creds.PlayerID,
		Token:     c.creds.Token,
	}))
	c.timer = c.clock.AfterFunc(c.replyTimeout, func() {
		c.post(func() {
			if gen == c.generation && c.active {
				c.fail(errors.New("no reply to reconnect"))
			}
		})
	})
}

// ConnectionLost fails the attempt in flight, if any.
func (c *Controller) ConnectionLost(err error) {
	if !c.active || c.requestID == "" {
		return
	}
	c.fail(err)
}

func (c *Controller) fail(err error) {
	c.lastErr = err
	c.logger.Warn("Reconnect attempt %d failed: %v", c.attempt, err)
	c.scheduleNext()
}

func (c *Controller) awaiting(requestID string) bool {
	if !c.active || c.requestID == "" {
		return false
	}
	return requestID == "" || requestID == c.requestID
}

// HandleReconnected completes recovery. The consumed token is discarded and the
// fresh one issued by the relay, if any, is cached. It returns the resumed
// credentials and false if no recovery was waiting for this reply.
func (c *Controller) HandleReconnected(ctx context.Context, p messages.ServerReconnected) (Credentials, bool) {
	if !c.awaiting(p.RequestID) {
		return Credentials{}, false
	}
	c.stopTimer()
	c.generation++
	c.active = false
	c.requestID = ""
	c.attempt = 0

	creds := c.creds
	creds.Token = p.ReconnectToken
	c.Forget(ctx)
	c.Remember(ctx, creds)
	c.logger.Info("Resumed room %s", p.RoomID)
	return creds, true
}

// HandleError ends recovery if the relay refused the reconnect. A refused token
// will not be accepted later either, so no further attempts are made.
func (c *Controller) HandleError(ctx context.Context, p messages.ServerError) bool {
	if !c.awaiting(p.RequestID) {
		return false
	}
	c.stopTimer()
	c.generation++
	c.exhaust(fmt.Errorf("%w: %s", ErrReconnectExhausted, p.Message))
	return true
}

func (c *Controller) exhaust(err error) {
	c.active = false
	c.requestID = ""
	c.Forget(context.Background())
	c.logger.Error("Giving up on room %s: %v", c.creds.RoomID, err)
	if c.onExhausted != nil {
		c.onExhausted(err)
	}
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
