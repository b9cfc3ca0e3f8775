package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cbodonnell/tandem/client/network"
	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/cbodonnell/tandem/pkg/repositories"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serverURL = "ws://relay/ws"

type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	targets    []string
	sent       []*messages.Message
}

func (f *fakeTransport) Connect(target string) *network.Future[struct{}] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	if f.connectErr != nil {
		return network.Rejected[struct{}](f.connectErr)
	}
	return network.Resolved(struct{}{})
}

func (f *fakeTransport) Send(msg *messages.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
}

func (f *fakeTransport) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.targets)
}

func (f *fakeTransport) lastReconnect(t *testing.T) messages.ClientReconnect {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	msg := f.sent[len(f.sent)-1]
	require.Equal(t, messages.MessageTypeClientReconnect, msg.Type)
	var p messages.ClientReconnect
	require.NoError(t, msg.Decode(&p))
	return p
}

type harness struct {
	t         *testing.T
	c         *Controller
	transport *fakeTransport
	tokens    *TokenStore
	clock     *clockwork.FakeClock
	posted    chan func()
	exhausted []error
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:         t,
		transport: &fakeTransport{},
		clock:     clockwork.NewFakeClock(),
		posted:    make(chan func(), 16),
	}
	h.tokens = NewTokenStore(repositories.NewMemoryRepository(), serverURL, h.clock)
	h.c = NewController(Options{
		Transport: h.transport,
		Tokens:    h.tokens,
		Clock:     h.clock,
		Post:      func(fn func()) { h.posted <- fn },
		Logger:    log.New(nil, log.LogLevelError),
		ServerURL: serverURL,
		OnExhausted: func(err error) {
			h.exhausted = append(h.exhausted, err)
		},
	})
	return h
}

func (h *harness) seat() {
	h.c.Remember(context.Background(), Credentials{
		RoomID:     "ABC123",
		PlayerID:   "p2",
		PlayerName: "bob",
		Token:      "tok-1",
	})
}

// runNext executes the next closure posted to the owning goroutine.
func (h *harness) runNext() {
	h.t.Helper()
	select {
	case fn := <-h.posted:
		fn()
	case <-time.After(time.Second):
		h.t.Fatal("timed out waiting for posted work")
	}
}

func (h *harness) assertIdle() {
	h.t.Helper()
	select {
	case <-h.posted:
		h.t.Fatal("unexpected posted work")
	case <-time.After(20 * time.Millisecond):
	}
}

func (h *harness) waitForTimer() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(h.t, h.clock.BlockUntilContext(ctx, 1))
}

// fireAttempt advances to attempt n and lets it dial and report back.
func (h *harness) fireAttempt(n int) {
	h.t.Helper()
	h.waitForTimer()
	h.clock.Advance(DefaultBaseDelay * time.Duration(n))
	h.runNext() // dial
	h.runNext() // connected
}

func TestBeginWithoutSeat(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.c.Begin(context.Background()))
	assert.False(t, h.c.Active())
	assert.Empty(t, h.exhausted)
}

func TestLinearBackoff(t *testing.T) {
	h := newHarness(t)
	h.seat()
	h.transport.connectErr = errors.New("refused")
	require.True(t, h.c.Begin(context.Background()))

	h.waitForTimer()
	h.clock.Advance(999 * time.Millisecond)
	h.assertIdle()
	h.clock.Advance(time.Millisecond)
	h.runNext()
	h.runNext()
	assert.Equal(t, 1, h.transport.dials())

	// second attempt waits twice the base delay
	h.waitForTimer()
	h.clock.Advance(1999 * time.Millisecond)
	h.assertIdle()
	h.clock.Advance(time.Millisecond)
	h.runNext()
	h.runNext()
	assert.Equal(t, 2, h.transport.dials())
	assert.Equal(t, 3, h.c.Attempt())
}

func TestExhaustedOnce(t *testing.T) {
	h := newHarness(t)
	h.seat()
	h.transport.connectErr = errors.New("refused")
	require.True(t, h.c.Begin(context.Background()))

	for n := 1; n <= DefaultMaxAttempts; n++ {
		h.fireAttempt(n)
	}

	assert.Equal(t, DefaultMaxAttempts, h.transport.dials())
	require.Len(t, h.exhausted, 1)
	assert.ErrorIs(t, h.exhausted[0], ErrReconnectExhausted)
	assert.False(t, h.c.Active())

	h.clock.Advance(time.Minute)
	h.assertIdle()
	assert.Len(t, h.exhausted, 1)

	_, err := h.tokens.Load(context.Background())
	assert.True(t, repositories.IsNotFound(err))
}

func TestReconnectSucceeds(t *testing.T) {
	h := newHarness(t)
	h.seat()
	require.True(t, h.c.Begin(context.Background()))
	h.fireAttempt(1)

	sent := h.transport.lastReconnect(t)
	assert.Equal(t, "ABC123", sent.RoomID)
	assert.Equal(t, "p2", sent.PlayerID)
	assert.Equal(t, "tok-1", sent.Token)
	assert.NotEmpty(t, sent.RequestID)

	creds, ok := h.c.HandleReconnected(context.Background(), messages.ServerReconnected{
		RequestID:      sent.RequestID,
		RoomID:         "ABC123",
		PlayerID:       "p2",
		ReconnectToken: "tok-2",
	})
	require.True(t, ok)
	assert.Equal(t, "tok-2", creds.Token)
	assert.False(t, h.c.Active())
	assert.Equal(t, 0, h.c.Attempt())
	assert.Empty(t, h.exhausted)

	stored, err := h.tokens.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", stored.Token)
	assert.Equal(t, "bob", stored.PlayerName)

	// the reply timer is gone
	h.clock.Advance(time.Minute)
	h.assertIdle()
}

func TestReconnectRejectedIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.seat()
	require.True(t, h.c.Begin(context.Background()))
	h.fireAttempt(1)
	sent := h.transport.lastReconnect(t)

	assert.False(t, h.c.HandleError(context.Background(), messages.ServerError{RequestID: "other"}))
	require.True(t, h.c.HandleError(context.Background(), messages.ServerError{
		RequestID: sent.RequestID,
		Code:      messages.ErrorCodeReconnectFailed,
		Message:   "seat expired",
	}))

	require.Len(t, h.exhausted, 1)
	assert.ErrorIs(t, h.exhausted[0], ErrReconnectExhausted)
	h.clock.Advance(time.Minute)
	h.assertIdle()
	assert.Equal(t, 1, h.transport.dials())
}

func TestNoReplyRetries(t *testing.T) {
	h := newHarness(t)
	h.seat()
	require.True(t, h.c.Begin(context.Background()))
	h.fireAttempt(1)

	h.waitForTimer()
	h.clock.Advance(DefaultReplyTimeout)
	h.runNext()
	assert.Equal(t, 2, h.c.Attempt())
	assert.True(t, h.c.Active())
}

func TestConnectionLostDuringAttempt(t *testing.T) {
	h := newHarness(t)
	h.seat()
	require.True(t, h.c.Begin(context.Background()))

	// nothing in flight yet
	h.c.ConnectionLost(errors.New("reset"))
	assert.Equal(t, 1, h.c.Attempt())

	h.fireAttempt(1)
	h.c.ConnectionLost(errors.New("reset"))
	assert.Equal(t, 2, h.c.Attempt())
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	h.seat()
	require.True(t, h.c.Begin(context.Background()))
	h.waitForTimer()
	h.c.Cancel()

	h.clock.Advance(time.Minute)
	h.assertIdle()
	assert.False(t, h.c.Active())
	assert.Equal(t, 0, h.transport.dials())
	assert.Empty(t, h.exhausted)

	_, ok := h.c.HandleReconnected(context.Background(), messages.ServerReconnected{})
	assert.False(t, ok)
}
