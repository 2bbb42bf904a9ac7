package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fanclub/backend/internal/logger"
	"github.com/fanclub/backend/internal/models"
)

// Hub tracks connected clients by user. A user may hold several connections.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
	}
}

// Run processes registrations until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			conns, ok := h.clients[client.userID]
			if !ok {
				conns = make(map[*Client]struct{})
				h.clients[client.userID] = conns
			}
			conns[client] = struct{}{}
			h.mu.Unlock()
			logger.Debugf("websocket client registered: %s", client.userID)

		case client := <-h.unregister:
			h.remove(client)
			logger.Debugf("websocket client unregistered: %s", client.userID)

		case <-ctx.Done():
			h.mu.Lock()
			for _, conns := range h.clients {
				for c := range conns {
					c.close()
				}
			}
			h.clients = make(map[uuid.UUID]map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// Register adds client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.stopped:
		return false
	}
}

// Unregister removes client and closes it.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if conns, ok := h.clients[client.userID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.clients, client.userID)
		}
	}
	h.mu.Unlock()
	client.close()
}

// SendToUser delivers message to every connection of userID. Full client
// buffers drop the message.
func (h *Hub) SendToUser(userID uuid.UUID, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode websocket message: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		c.enqueue(data)
	}
	return nil
}

// IsUserOnline checks if a user has at least one connection
func (h *Hub) IsUserOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID]) > 0
}

// ModerationNotice tells a fan about an action taken against them.
type ModerationNotice struct {
	ChatID    uuid.UUID               `json:"chat_id"`
	Action    models.ModerationAction `json:"action"`
	Reason    string                  `json:"reason"`
	MessageID *uuid.UUID              `json:"message_id,omitempty"`
	Until     *time.Time              `json:"until,omitempty"`
	Automated bool                    `json:"automated"`
}

// NotifyModeration is a ledger listener that pushes a moderation.notice to
// the target of each entry. A permanent ban also ends the target's live
// subscription to the chat.
func (h *Hub) NotifyModeration(ctx context.Context, chat *models.Chat, e models.ModerationLogEntry) {
	if e.TargetUserID == uuid.Nil {
		return
	}
	if e.Action == models.ActionBanUser {
		h.mu.RLock()
		for c := range h.clients[e.TargetUserID] {
			c.leave(chat.ID)
		}
		h.mu.RUnlock()
	}
	if !h.IsUserOnline(e.TargetUserID) {
		return
	}
	notice := ModerationNotice{
		ChatID:    chat.ID,
		Action:    e.Action,
		Reason:    e.Reason,
		MessageID: e.MessageID,
		Automated: e.Automated,
	}
	if d := e.Duration(); d > 0 {
		until := e.Timestamp.Add(d)
		notice.Until = &until
	}
	err := h.SendToUser(e.TargetUserID, models.WSMessage{
		Event:   models.EventModerationNotice,
		Payload: notice,
	})
	if err != nil {
		logger.Errorf("failed to send moderation notice to %s: %v", e.TargetUserID, err)
	}
}
