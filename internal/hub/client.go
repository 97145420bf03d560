package hub

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/graham924/blog-feng-yu/internal/config"
	"github.com/graham924/blog-feng-yu/internal/domain"
	"github.com/graham924/blog-feng-yu/pkg/log"
)

var (
	ErrClientClosed  = fmt.Errorf("%w: connection closed", domain.ErrTransport)
	ErrSendQueueFull = fmt.Errorf("%w: send queue full", domain.ErrTransport)
)

// Conn is the part of *websocket.Conn a Client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// State is the lifecycle stage of a Client.
type State int32

const (
	StateOpen State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Client is one chat connection. WritePump is the only goroutine that
// writes to the transport; everything else goes through Enqueue.
type Client struct {
	ID       string
	RemoteIP string

	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
	config    config.WebSocketConfig
}

func NewClient(id, remoteIP string, conn Conn, cfg config.WebSocketConfig) *Client {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	if remoteIP == "" {
		remoteIP = domain.UnknownIP
	}
	return &Client{
		ID:       id,
		RemoteIP: remoteIP,
		conn:     conn,
		send:     make(chan []byte, buf),
		done:     make(chan struct{}),
		config:   cfg,
	}
}

// State returns the current lifecycle stage.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Activate moves an OPEN client to ACTIVE. It fails once the client closed.
func (c *Client) Activate() bool {
	return c.state.CompareAndSwap(int32(StateOpen), int32(StateActive))
}

// Done is closed when the client closes.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Enqueue queues a frame for the writer without blocking.
func (c *Client) Enqueue(msg []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendQueueFull
	}
}

// Close marks the client CLOSED and closes the transport, which unblocks
// ReadPump. Safe to call more than once and from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		c.conn.Close()
	})
}

// ReadPump reads frames until the transport fails or the client closes,
// handing each to handle on the calling goroutine.
func (c *Client) ReadPump(handle func(*Client, []byte)) {
	defer c.Close()

	if c.config.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.config.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l := log.L()
				l.Debug().Err(err).Str(log.FieldConnID, c.ID).Msg("websocket read error")
			}
			return
		}
		c.extendReadDeadline()

		handle(c, message)
	}
}

func (c *Client) extendReadDeadline() {
	if c.config.PongWait > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	}
}

// WritePump drains the send queue and pings the peer until the client
// closes or a write fails.
func (c *Client) WritePump() {
	interval := c.config.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.setWriteDeadline()
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) setWriteDeadline() {
	if c.config.WriteWait > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
	}
}
