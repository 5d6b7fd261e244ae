package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxFrameSize = 64 * 1024
	sendBuffer   = 16
)

// Peer identifies the gate terminal on the other end of a connection.
type Peer struct {
	GateID  string
	AgentID string
}

// MessageProcessor handles raw gate frames.
type MessageProcessor interface {
	Process(ctx context.Context, peer Peer, raw []byte) ([]byte, error)
}

// Connection represents an active gate terminal WebSocket.
type Connection struct {
	peer         Peer
	ws           *websocket.Conn
	send         chan []byte
	ping         chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
	logger       *zap.Logger
	processor    MessageProcessor
	writeTimeout time.Duration
	readTimeout  time.Duration
	onClose      func(*Connection)
}

// NewConnection builds connection wrapper. Reads time out after readTimeout
// without a frame or pong.
func NewConnection(peer Peer, ws *websocket.Conn, processor MessageProcessor, writeTimeout, readTimeout time.Duration, logger *zap.Logger, onClose func(*Connection)) *Connection {
	return &Connection{
		peer:         peer,
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		ping:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		logger:       logger,
		processor:    processor,
		writeTimeout: writeTimeout,
		readTimeout:  readTimeout,
		onClose:      onClose,
	}
}

// GateID returns identifier.
func (c *Connection) GateID() string {
	return c.peer.GateID
}

// Start runs the write pump in the background and reads until the socket
// closes or ctx ends.
func (c *Connection) Start(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.Close()
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("gate connection read closed", zap.String("gate_id", c.peer.GateID), zap.Error(err))
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))

		response, err := c.processor.Process(ctx, c.peer, message)
		if err != nil {
			c.logger.Warn("failed to process gate frame", zap.String("gate_id", c.peer.GateID), zap.Error(err))
			continue
		}
		if response != nil {
			c.Send(response)
		}
	}
}

func (c *Connection) writePump(ctx context.Context) {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send enqueues a message for writing. Messages are dropped when the buffer
// is full or the connection is closed.
func (c *Connection) Send(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("dropping outgoing gate frame, buffer full", zap.String("gate_id", c.peer.GateID))
	}
}

// Ping asks the write pump to send a ping frame.
func (c *Connection) Ping() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// Close tears the connection down once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}
