package chathub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"runnerhub/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 16 << 10
	handleWait   = 5 * time.Second
)

// Client is one live socket. Outbound frames go through a bounded queue
// drained by writePump; a client that lets the queue fill up is evicted.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *session.Session
	send    chan []byte

	done      chan struct{}
	closeOnce sync.Once

	// highest sequence queued per booking
	mu   sync.Mutex
	seen map[string]int64
}

func (c *Client) ID() string { return c.session.ID }

// queue encodes v and enqueues it without blocking. It reports false when
// the client is gone or was evicted.
func (c *Client) queue(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.hub.log.Error("encode frame", zap.String("conn", c.ID()), zap.Error(err))
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.hub.log.Warn("send queue full, evicting client",
			zap.String("conn", c.ID()),
			zap.String("identity", c.session.Identity.ID))
		c.hub.disconnect(c)
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) lastSeen(bookingID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[bookingID]
}

func (c *Client) markSeen(bookingID string, seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.seen[bookingID] {
		c.seen[bookingID] = seq
	}
}

func (c *Client) resetSeen(bookingID string, seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq <= 0 {
		delete(c.seen, bookingID)
		return
	}
	c.seen[bookingID] = seq
}

func (c *Client) readPump() {
	defer c.hub.disconnect(c)

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("read", zap.String("conn", c.ID()), zap.Error(err))
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), handleWait)
		c.hub.handle(ctx, c, raw)
		cancel()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod(c.hub.opts.PongWait))
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "closed by server"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func pingPeriod(pongWait time.Duration) time.Duration {
	return pongWait * 9 / 10
}
