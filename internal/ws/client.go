package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skillswap/realtime/internal/broker"
	"github.com/skillswap/realtime/internal/identity"
	"github.com/skillswap/realtime/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
	sendBuffer        = 512
)

var errSlowConsumer = errors.New("send buffer full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client adapts one gorilla websocket connection to the broker's Conn
// interface.
type Client struct {
	broker      *broker.Broker
	conn        *websocket.Conn
	send        chan []byte
	id          string
	subject     string
	displayName string
	limiter     *ratelimit.Limiter
	closeOnce   sync.Once
}

// ServeWS authenticates the upgrade request and starts the connection's
// read/write pumps. The token must have been issued by the platform's
// auth service; without a valid one no join is ever processed.
func ServeWS(brk *broker.Broker, verifier identity.Verifier, w http.ResponseWriter, r *http.Request) {
	who, err := verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		broker:      brk,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		id:          uuid.New().String(),
		subject:     who.Subject,
		displayName: who.DisplayName,
		limiter:     ratelimit.NewLimiter(messagesPerSecond, messageBurst),
	}

	brk.Connect(client)

	go client.writePump()
	go client.readPump()
}

func (c *Client) ID() string          { return c.id }
func (c *Client) Identity() string    { return c.subject }
func (c *Client) DisplayName() string { return c.displayName }

// Send queues outbound data without blocking the broker loop. A full
// buffer means the consumer cannot keep up; the broker drops the
// connection on error.
func (c *Client) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return errSlowConsumer
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readPump() {
	defer func() {
		c.broker.Disconnect(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "connectionId", c.id, "error", err)
			}
			break
		}

		if !c.limiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				slog.Warn("rate limit exceeded", "connectionId", c.id, "identity", c.subject, "warnings", rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				slog.Warn("disconnecting flooding client", "connectionId", c.id)
				return
			}
			continue
		}

		c.broker.Submit(c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
