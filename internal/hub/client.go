package hub

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ifindlife/internal/event"
)

// Client status constants
const (
	StatusOnline = "online"
	StatusInCall = "in_call"
)

var (
	errUnknownKind = errors.New("unknown media kind")
	errNotInRoom   = errors.New("peer is not in the channel")
)

// Client is one browser WebSocket connection
type Client struct {
	ID      string
	userId  string
	conn    *websocket.Conn
	manager *Hub
	egress  chan event.WsEvent

	currentChannel string
	statusMu       sync.RWMutex

	// cancel or stop goroutine
	cancel         context.CancelFunc
	ctx            context.Context
	once           sync.Once
	connClosed     chan struct{}
	connClosedOnce sync.Once
	closed         bool
	closedMu       sync.RWMutex
}

var (
	// tuning parameters
	writeWait          = 10 * time.Second       // time allowed to write a message to the peer
	pongWait           = 20 * time.Second       // time allowed to read the next pong message from the peer
	pingInterval       = (pongWait * 9) / 10    // send pings to peer with this period
	maxMessageSize     = 64 * 1024              // max inbound message size (64KB)
	sendBufSize        = 256                    // per-connection outbound buffer size
	workerPoolSize     = 16                     // number of workers to process inbound messages
	sendTimeout        = 2 * time.Second        // timeout for enqueuing outbound messages
	kickOnFull         = true                   // when true, disconnect client when egress is full
	registerTimeout    = 5 * time.Second        // timeout for client registration
	unregisterTimeout  = 5 * time.Second        // timeout for client unregistration
	inboundSendTimeout = 500 * time.Millisecond // timeout for sending to inbound channel
)

// RegisterClient creates a new client with a single WebSocket connection
func RegisterClient(userId string, conn *websocket.Conn, h *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	clientID := uuid.New().String()

	client := &Client{
		ID:         clientID,
		userId:     userId,
		conn:       conn,
		manager:    h,
		egress:     make(chan event.WsEvent, sendBufSize),
		cancel:     cancel,
		ctx:        ctx,
		connClosed: make(chan struct{}),
	}

	select {
	case h.register <- client:
		go client.ReadMessages()
		go client.WriteMessage()
		return client
	case <-time.After(registerTimeout):
		h.logger.Warn("failed to register client: timeout", zap.String("client_id", clientID))
		cancel()
		conn.Close()
		return nil
	}
}

func (c *Client) ReadMessages() {
	log := c.manager.logger.With(zap.String("client_id", c.ID))
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-time.After(unregisterTimeout):
			log.Warn("failed to unregister client: timeout")
		}
		c.Close()
	}()

	c.conn.SetReadLimit(int64(maxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(c.pongHandler)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			var ev event.WsEvent

			if err := c.conn.ReadJSON(&ev); err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
				) {
					log.Debug("client disconnected")
					return
				}

				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					log.Info("client timed out - closing connection")
					return
				}

				log.Warn("error reading from client", zap.Error(err))
				return
			}

			// Non-blocking send into inbound processing queue to avoid blocking reader
			select {
			case c.manager.inbound <- inboundMessage{client: c, event: ev}:
			case <-time.After(inboundSendTimeout):
				log.Warn("inbound send timeout: dropping client")
				c.cancel()
				c.conn.Close()
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *Client) WriteMessage() {
	ticker := time.NewTicker(pingInterval)

	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()

		c.connClosedOnce.Do(func() {
			close(c.connClosed)
		})
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-c.egress:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.manager.logger.Warn("write error", zap.String("client_id", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.manager.logger.Debug("ping failed", zap.String("client_id", c.ID), zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) pongHandler(string) error {
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

func (c *Client) Close() {
	c.once.Do(func() {
		// cancel first so pending SafeSend calls release the read lock
		c.cancel()

		c.closedMu.Lock()
		c.closed = true
		close(c.egress)
		c.closedMu.Unlock()

		// Wait for WriteMessage to close conn, or force close after timeout
		go func() {
			select {
			case <-c.connClosed:
			case <-time.After(5 * time.Second):
				_ = c.conn.Close()
			}
		}()
	})
}

// SafeSend attempts to send an event to the client's egress channel.
// Returns true if sent successfully, false if client is closed or timeout.
func (c *Client) SafeSend(ev event.WsEvent, timeout time.Duration) bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	if c.closed {
		return false
	}

	select {
	case <-c.ctx.Done():
		return false
	case c.egress <- ev:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (c *Client) PeerID() string { return c.ID }

func (c *Client) UID() string { return c.userId }

func (c *Client) Deliver(ev event.WsEvent) bool {
	return c.SafeSend(ev, sendTimeout)
}

// Channel returns the RTC channel the socket joined, if any
func (c *Client) Channel() string {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.currentChannel
}

func (c *Client) setChannel(channel string) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.currentChannel = channel
}

// GetStatus returns the current status of the client
func (c *Client) GetStatus() string {
	if c.Channel() != "" {
		return StatusInCall
	}
	return StatusOnline
}
