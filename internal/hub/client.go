// Package hub wraps one websocket connection in the standard
// read/write pump pair.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/sticker-chat/internal/config"
	"github.com/weiawesome/sticker-chat/pkg/log"
)

// Client is one connected websocket session. All writes go through the
// Send channel so the connection has a single writer goroutine.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
	cfg    config.WebSocketConfig

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(userID string, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		cfg:    cfg,
		done:   make(chan struct{}),
	}
}

// Done is closed when either pump exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Conn.Close()
	})
}

// ReadPump consumes inbound frames until the peer disconnects, invoking
// handler for each. It owns the read deadline and pong handling.
func (c *Client) ReadPump(handler func([]byte)) {
	defer c.Close()

	c.Conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Warn().Err(err).Str(log.FieldUserID, c.UserID).Msg("websocket read error")
			}
			return
		}
		handler(message)
	}
}

// WritePump drains the Send channel onto the wire and keeps the
// connection alive with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON marshals v and queues it for the write pump. A full queue
// drops the frame rather than blocking the caller.
func (c *Client) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.Send <- data:
	case <-c.done:
	default:
		l := log.L()
		l.Warn().Str(log.FieldUserID, c.UserID).Msg("send queue full, dropping frame")
	}
	return nil
}
