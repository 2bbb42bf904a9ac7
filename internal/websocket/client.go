package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/fanclub/backend/internal/apperr"
	"github.com/fanclub/backend/internal/chat"
	"github.com/fanclub/backend/internal/logger"
	"github.com/fanclub/backend/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 10240 // 10KB

	sendBuffer = 256
)

// inbound is a client event with its payload left undecoded.
type inbound struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Client is one WebSocket connection of a fan.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	userID uuid.UUID
	msgs   *chat.Messages

	limiter *rate.Limiter

	mu   sync.Mutex
	subs map[uuid.UUID]context.CancelFunc
}

// NewClient creates a client allowed perSecond inbound events with a burst
// of twice that.
func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, msgs *chat.Messages, perSecond int) *Client {
	if perSecond <= 0 {
		perSecond = 10
	}
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		userID:  userID,
		msgs:    msgs,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond*2),
		subs:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// close stops every chat subscription and the write pump. Safe to call twice.
func (c *Client) close() {
	c.once.Do(func() {
		c.mu.Lock()
		for id, cancel := range c.subs {
			cancel()
			delete(c.subs, id)
		}
		c.mu.Unlock()
		close(c.done)
	})
}

// enqueue queues data for the write pump, dropping it when the buffer is full.
func (c *Client) enqueue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		logger.Debugf("websocket send buffer full for %s, dropping message", c.userID)
	}
}

func (c *Client) emit(event string, payload interface{}) {
	data, err := json.Marshal(models.WSMessage{Event: event, Payload: payload})
	if err != nil {
		logger.Errorf("failed to encode %s event: %v", event, err)
		return
	}
	c.enqueue(data)
}

// ReadPump pumps events from the connection until it fails or closes.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Errorf("websocket read error for %s: %v", c.userID, err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.sendError("rate limit exceeded", "rate_limited")
			continue
		}

		c.handleMessage(ctx, message)
	}
}

// WritePump pumps queued events to the connection and keeps it alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("Invalid message format", apperr.KindValidation.String())
		return
	}

	switch msg.Event {
	case models.EventChatJoin:
		var req models.WSChatPayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil || req.ChatID == uuid.Nil {
			c.sendError("Invalid chat payload", apperr.KindValidation.String())
			return
		}
		c.join(ctx, req.ChatID)

	case models.EventChatLeave:
		var req models.WSChatPayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("Invalid chat payload", apperr.KindValidation.String())
			return
		}
		c.leave(req.ChatID)

	case models.EventMessageSend:
		var req models.WSMessageSendPayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("Invalid message payload", apperr.KindValidation.String())
			return
		}
		if _, err := c.msgs.Append(ctx, req.ChatID, c.userID, req.Content, req.Type); err != nil {
			c.sendFailure(err)
		}

	default:
		c.sendError("Unknown event type", apperr.KindValidation.String())
	}
}

// join streams a chat's live events to the client. Joining twice is a no-op.
func (c *Client) join(ctx context.Context, chatID uuid.UUID) {
	c.mu.Lock()
	if _, ok := c.subs[chatID]; ok {
		c.mu.Unlock()
		return
	}
	subCtx, cancel := context.WithCancel(ctx)
	c.subs[chatID] = cancel
	c.mu.Unlock()

	events, err := c.msgs.Subscribe(subCtx, c.userID, chatID)
	if err != nil {
		c.leave(chatID)
		c.sendFailure(err)
		return
	}

	go func() {
		for ev := range events {
			c.emit(ev.Event, ev.Message)
		}
	}()
}

func (c *Client) leave(chatID uuid.UUID) {
	c.mu.Lock()
	cancel, ok := c.subs[chatID]
	delete(c.subs, chatID)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Client) joined(chatID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[chatID]
	return ok
}

// sendFailure reports a failed operation, hiding unclassified errors.
func (c *Client) sendFailure(err error) {
	kind := apperr.KindOf(err)
	if kind == 0 {
		logger.Errorf("websocket operation failed for %s: %v", c.userID, err)
		c.sendError("Internal server error", "internal")
		return
	}
	c.sendError(apperr.Message(err), kind.String())
}

func (c *Client) sendError(message, code string) {
	c.emit(models.EventError, models.WSErrorPayload{
		Message: message,
		Code:    code,
	})
}
