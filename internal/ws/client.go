package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// Client adapts a websocket connection to the Subscriber interface. Sends
// go through a buffered channel so a slow reader never blocks the hub; a
// full buffer drops the connection.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

var _ Subscriber = (*Client)(nil)

// NewClient wraps conn and starts its write pump.
func NewClient(conn *websocket.Conn) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send queues payload for delivery.
func (c *Client) Send(payload []byte) error {
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		return websocket.ErrCloseSent
	}
}

// Close tears the connection down.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Wait blocks until the peer disconnects.
func (c *Client) Wait() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.Close()
			return
		}
	}
}

func (c *Client) writePump() {
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
