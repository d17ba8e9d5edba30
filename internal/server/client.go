package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FocuswithJustin/tinysql/internal/logging"
)

// client is one WebSocket connection. readPump runs on the handler
// goroutine; writePump owns all writes to conn.
type client struct {
	server  *Server
	conn    *websocket.Conn
	send    chan Response
	done    chan struct{} // closed when writePump exits
	limiter *rateBucket
}

// emit queues r for writing. It reports false once the connection is gone.
func (c *client) emit(r Response) bool {
	select {
	case c.send <- r:
		return true
	case <-c.done:
		return false
	}
}

func (c *client) fail(ctx context.Context, req Request, err error) {
	logging.LoggerFromContext(ctx).Debug("statement failed", "sql", req.SQL, "error", err)
	c.emit(Response{Type: TypeError, ID: req.ID, Message: err.Error()})
}

func (c *client) readPump(ctx context.Context) {
	defer close(c.send)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.LoggerFromContext(ctx).Warn("websocket unexpected close", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.allow() {
			logging.LoggerFromContext(ctx).Warn("websocket rate limit exceeded")
			c.emit(Response{Type: TypeError, Message: "rate limit exceeded"})
			return
		}

		var req Request
		if err := json.Unmarshal(msg, &req); err != nil || req.SQL == "" {
			if !c.emit(Response{Type: TypeError, ID: req.ID, Message: "expected {\"sql\": \"...\"}"}) {
				return
			}
			continue
		}
		c.server.execute(ctx, c, req)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.done)
		c.conn.Close()
	}()

	for {
		select {
		case r, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(r); err != nil {
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

// rateBucket is a token bucket allowing bursts of twice the rate.
type rateBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	last     time.Time
}

// newRateBucket returns a bucket for perSecond messages. A non-positive
// rate disables limiting.
func newRateBucket(perSecond int) *rateBucket {
	if perSecond <= 0 {
		return nil
	}
	capacity := float64(perSecond) * 2
	return &rateBucket{tokens: capacity, capacity: capacity, rate: float64(perSecond), last: time.Now()}
}

func (b *rateBucket) allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.tokens = min(b.capacity, b.tokens+now.Sub(b.last).Seconds()*b.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
