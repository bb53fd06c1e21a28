package websocket

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"roomchat/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Connection is the outbound half of a live client as seen by the runtime.
type Connection interface {
	ID() string
	// Send queues a frame without blocking; false means it was not queued.
	Send(frame []byte) bool
	IsOpen() bool
	Close()
}

type ClientOptions struct {
	ReadLimit  int64
	SendBuffer int
}

// Client is a gorilla/websocket connection with a buffered writer goroutine.
type Client struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClient(conn *websocket.Conn, opts ClientOptions) (*Client, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}

	return &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, opts.SendBuffer),
	}, nil
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		// Slow consumer: drop the connection rather than block the room.
		logger.Warn("Send buffer full for connection %s, closing", c.id)
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close stops the writer, which sends a close frame and tears down the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump delivers frames to onFrame in arrival order until the socket fails
// or is closed. It returns the error that ended the loop.
func (c *Client) ReadPump(onFrame func(frame []byte)) error {
	defer func() {
		c.Close()
		c.conn.Close()
	}()

	// Set read deadline and pong handler for connection health
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket error on %s: %v", c.id, err)
			}
			return err
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		onFrame(frame)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("Write error on %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func generateSessionID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", bytes), nil
}
