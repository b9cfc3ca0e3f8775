// Package networktest provides in-memory transports for tests.
package networktest

import (
	"context"
	"errors"
	"sync"

	"github.com/cbodonnell/tandem/client/network"
	"github.com/cbodonnell/tandem/pkg/messages"
)

// ErrClosed is returned by a Conn after Close or Drop.
var ErrClosed = errors.New("fake connection closed")

// Conn is a network.Conn fed by the test through Push and observed through Written.
type Conn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	closeErr error
}

func NewConn() *Conn {
	return &Conn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closeErr != nil {
			return nil, c.closeErr
		}
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

// Push delivers a raw frame to the reader.
func (c *Conn) Push(data []byte) {
	c.inbound <- data
}

// PushMessage delivers msg as a JSON frame.
func (c *Conn) PushMessage(msg *messages.Message) {
	data, err := messages.JSONCodec{}.Serialize(msg)
	if err != nil {
		panic(err)
	}
	c.Push(data)
}

// Pending returns how many pushed frames the reader has not taken yet.
func (c *Conn) Pending() int {
	return len(c.inbound)
}

// Drop closes the connection as if the server went away.
func (c *Conn) Drop(err error) {
	c.mu.Lock()
	c.closeErr = err
	c.mu.Unlock()
	c.Close()
}

func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Written returns every frame written so far.
func (c *Conn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// Messages decodes every JSON frame written so far.
func (c *Conn) Messages() []*messages.Message {
	var out []*messages.Message
	for _, data := range c.Written() {
		msg, err := messages.JSONCodec{}.Deserialize(data)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// MessagesOfType returns the written messages with the given type.
func (c *Conn) MessagesOfType(msgType string) []*messages.Message {
	var out []*messages.Message
	for _, msg := range c.Messages() {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

// Dialer hands out a new Conn per dial.
type Dialer struct {
	mu      sync.Mutex
	conns   []*Conn
	targets []string
	err     error
	block   bool
}

var _ network.Dialer = (*Dialer)(nil)

func NewDialer() *Dialer {
	return &Dialer{}
}

func (d *Dialer) Dial(ctx context.Context, target string) (network.Conn, error) {
	d.mu.Lock()
	d.targets = append(d.targets, target)
	block, err := d.block, d.err
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	conn := NewConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

// SetError makes subsequent dials fail with err, or succeed again when err is nil.
func (d *Dialer) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// SetBlock makes subsequent dials hang until their context ends.
func (d *Dialer) SetBlock(block bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.block = block
}

func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

func (d *Dialer) Targets() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.targets...)
}

// Last returns the most recent successful connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}
