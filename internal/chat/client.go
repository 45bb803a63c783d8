// Package chat implements the realtime core of the relay service: the
// connection registry, the online roster, event fanout, the per-connection
// event state machine, and the unread-count bridge over the message store.
package chat

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Conn is the subset of *websocket.Conn the client needs. Tests substitute
// in-memory fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client represents one live WebSocket connection bound to an authenticated
// identity. A user may hold any number of concurrent Clients.
type Client struct {
	id       string
	conn     Conn
	send     chan []byte
	hub      *Hub
	identity Identity
	addr     string
	closed   bool
	limiter  *rateLimiter
}

// NewClient creates a Client for an already-authenticated connection. The
// identity must come from the session layer; the hub trusts it.
func NewClient(conn Conn, hub *Hub, identity Identity, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(hub.maxMessageSize)
	}
	return &Client{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, 256),
		hub:      hub,
		identity: identity,
		addr:     addr,
		limiter:  newRateLimiter(hub.rateLimit.Burst, hub.rateLimit.RefillInterval),
	}
}

// Identity returns the authenticated identity bound to this connection.
func (c *Client) Identity() Identity {
	return c.identity
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// handleReadError logs the error and reports whether the read loop should
// stop.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		log.Printf("Message from %s exceeded maximum size of %d bytes", c.addr, c.hub.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Printf("Client %s (%s) disconnected: %v", c.addr, c.identity.Username, err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Printf("Client %s connection closed: %v", c.addr, err)
		return true
	}

	log.Printf("WebSocket read error from %s: %v", c.addr, err)
	return true
}

// dispatch routes one inbound frame to its event handler. Handlers run
// synchronously here, so a single connection's events are processed strictly
// in arrival order.
func (c *Client) dispatch(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("Invalid frame from %s: %v", c.addr, err)
		return
	}

	switch env.Event {
	case EventChatMessage:
		var payload ChatMessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			log.Printf("Invalid chat-message payload from %s: %v", c.addr, err)
			return
		}
		c.hub.handleGlobalMessage(c, payload.Message)

	case EventRequestGlobalHistory:
		c.hub.handleGlobalHistory(c)

	case EventPrivateMessage:
		var payload PrivateMessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			log.Printf("Invalid private-message payload from %s: %v", c.addr, err)
			return
		}
		c.hub.handlePrivateMessage(c, payload.RecipientID, payload.Message)

	case EventRequestPrivateHistory:
		var payload PrivateHistoryPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			log.Printf("Invalid private-history payload from %s: %v", c.addr, err)
			return
		}
		c.hub.handlePrivateHistory(c, payload.UserID)

	case EventMarkPrivateRead:
		var payload MarkReadPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			log.Printf("Invalid mark-read payload from %s: %v", c.addr, err)
			return
		}
		c.hub.handleMarkRead(c, payload.SenderID)

	default:
		log.Printf("Unknown event %q from %s", env.Event, c.addr)
	}
}

func (c *Client) readPump() {
	defer func() {
		// During shutdown the run loop is gone; don't block on it.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error closing connection in readPump: %v", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
			continue
		}

		if !c.limiter.allow() {
			log.Printf("Rate limit exceeded for %s; discarding event", c.addr)
			continue
		}

		c.dispatch(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error closing connection in writePump: %v", err)
			}
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("Error setting write deadline for %s: %v", c.addr, err)
				return
			}
			if !ok {
				// The hub closed the channel on unregister.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					if !isExpectedCloseError(err) {
						log.Printf("Error writing close message to %s: %v", c.addr, err)
					}
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Error writing message to %s: %v", c.addr, err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("Error writing ping message to %s: %v", c.addr, err)
				return
			}

		case <-c.hub.ctx.Done():
			// Shutdown: say goodbye instead of waiting for the next ping tick.
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error writing close message to %s: %v", c.addr, err)
				}
			}
			return
		}
	}
}

// sendEvent queues an event for this connection only.
func (c *Client) sendEvent(event string, data any) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		log.Printf("Error encoding %s event for %s: %v", event, c.addr, err)
		return
	}
	if !c.hub.safeSend(c, payload) {
		metricDeliveriesDropped.Inc()
	}
}

// sendSystem surfaces an error or notice to this connection only.
func (c *Client) sendSystem(text string) {
	c.sendEvent(EventSystemMessage, text)
}

// isExpectedCloseError checks if an error is expected during connection
// closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
