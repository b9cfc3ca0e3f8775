package relay

import (
	"sync"
	"time"

	"github.com/cbodonnell/tandem/pkg/log"
	"github.com/cbodonnell/tandem/pkg/messages"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection is one participant's websocket. Outbound frames go through a
// buffered channel drained by writePump so that the hub never blocks on a slow peer.
type Connection struct {
	ID string

	conn   *websocket.Conn
	hub    *Hub
	logger *log.Logger
	send   chan []byte
	done   chan struct{}

	mu        sync.Mutex
	codec     messages.Codec
	roomID    string
	playerID  string
	closeOnce sync.Once
}

func newConnection(hub *Hub, conn *websocket.Conn) *Connection {
	id := uuid.NewString()
	return &Connection{
		ID:     id,
		conn:   conn,
		hub:    hub,
		logger: hub.logger.With("connection_id", id),
		send:   make(chan []byte, hub.opts.SendBufferSize),
		done:   make(chan struct{}),
		codec:  messages.JSONCodec{},
	}
}

// Send queues msg in the codec the peer speaks. A full buffer drops the message.
func (c *Connection) Send(msg *messages.Message) {
	c.mu.Lock()
	codec := c.codec
	c.mu.Unlock()

	data, err := codec.Serialize(msg)
	if err != nil {
		c.logger.Error("Failed to serialize %s message: %v", msg.Type, err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn("Dropping %s message: send buffer full", msg.Type)
	}
}

func (c *Connection) binary() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec.Binary()
}

func (c *Connection) seat() (roomID, playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.playerID
}

func (c *Connection) setSeat(roomID, playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
	c.playerID = playerID
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump decodes frames and hands them to the hub. The codec follows the frame
// type: text frames are JSON, binary frames are zstd-compressed JSON.
func (c *Connection) readPump() {
	defer func() {
		c.hub.disconnected(c)
		c.close()
	}()

	c.conn.SetReadLimit(messages.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.ReadTimeout))
		return nil
	})

	for {
		frameType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Unexpected close: %v", err)
			}
			c.logger.Trace("Connection closed")
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.ReadTimeout))

		codec := c.hub.codecFor(frameType)
		c.mu.Lock()
		c.codec = codec
		c.mu.Unlock()

		msg, err := codec.Deserialize(data)
		if err != nil {
			c.logger.Debug("Discarding message: %v", err)
			continue
		}
		c.hub.handle(c, msg)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.hub.opts.WriteTimeout))
			return
		case data := <-c.send:
			frameType := websocket.TextMessage
			if c.binary() {
				frameType = websocket.BinaryMessage
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if err := c.conn.WriteMessage(frameType, data); err != nil {
				c.logger.Debug("Failed to write message: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Failed to send ping: %v", err)
				return
			}
		}
	}
}
