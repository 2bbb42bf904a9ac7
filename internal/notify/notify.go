// Package notify carries new-message notification events out of the chat
// core. The core only publishes; push delivery happens in FCMDispatcher.
package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/fanclub/backend/internal/models"
)

// Event is published for every non-system message.
type Event struct {
	ChatID   uuid.UUID       `json:"chat_id"`
	SenderID uuid.UUID       `json:"sender_id"`
	Content  string          `json:"content"`
	ChatType models.ChatType `json:"chat_type"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Discard drops every event. Used when no transport is configured.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// Topic is the FCM topic devices subscribe to for a chat.
func Topic(chatID uuid.UUID) string {
	return "chat_" + chatID.String()
}
