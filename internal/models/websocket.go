package models

import "github.com/google/uuid"

// WebSocket event types
const (
	EventMessageNew       = "message.new"
	EventMessageEdited    = "message.edited"
	EventMessageDeleted   = "message.deleted"
	EventMessageSend      = "message.send"
	EventChatJoin         = "chat.join"
	EventChatLeave        = "chat.leave"
	EventModerationNotice = "moderation.notice"
	EventError            = "error"
)

type WSMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// MessageEvent is published on a chat's live stream.
type MessageEvent struct {
	Event   string  `json:"event"`
	Message Message `json:"message"`
}

type WSMessageSendPayload struct {
	ChatID  uuid.UUID   `json:"chat_id"`
	Content string      `json:"content"`
	Type    MessageType `json:"type,omitempty"`
}

type WSChatPayload struct {
	ChatID uuid.UUID `json:"chat_id"`
}

type WSErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
