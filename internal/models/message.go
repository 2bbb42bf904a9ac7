package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageType enumerates message kinds.
type MessageType string

const (
	MessageText         MessageType = "text"
	MessageSystem       MessageType = "system"
	MessageAnnouncement MessageType = "announcement"
	MessageWarning      MessageType = "warning"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageSystem, MessageAnnouncement, MessageWarning:
		return true
	}
	return false
}

type Message struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	ChatID    uuid.UUID   `json:"chat_id" db:"chat_id"`
	Seq       int64       `json:"seq" db:"seq"`
	SenderID  uuid.UUID   `json:"sender_id" db:"sender_id"`
	Content   string      `json:"content" db:"content"`
	Type      MessageType `json:"type" db:"type"`
	Timestamp time.Time   `json:"timestamp" db:"timestamp"`
	EditedAt  *time.Time  `json:"edited_at,omitempty" db:"edited_at"`
	IsDeleted bool        `json:"is_deleted" db:"is_deleted"`
	DeletedBy *uuid.UUID  `json:"deleted_by,omitempty" db:"deleted_by"`
	DeletedAt *time.Time  `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Redacted returns a copy safe to show to non-moderators.
func (m Message) Redacted() Message {
	if m.IsDeleted {
		m.Content = ""
	}
	return m
}

// Summary builds the denormalized chat list entry for m.
func (m *Message) Summary() *MessageSummary {
	return &MessageSummary{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      m.Type,
		Timestamp: m.Timestamp,
	}
}

// MessageEdit keeps the previous content of an edited message.
type MessageEdit struct {
	ID              uuid.UUID `json:"id" db:"id"`
	MessageID       uuid.UUID `json:"message_id" db:"message_id"`
	EditorID        uuid.UUID `json:"editor_id" db:"editor_id"`
	PreviousContent string    `json:"previous_content" db:"previous_content"`
	EditedAt        time.Time `json:"edited_at" db:"edited_at"`
}

type SendMessageRequest struct {
	Content string      `json:"content" binding:"required"`
	Type    MessageType `json:"type"`
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type DeleteMessageRequest struct {
	Reason string `json:"reason"`
}

type GetMessagesRequest struct {
	AfterSeq int64 `form:"after_seq"`
	Limit    int   `form:"limit"`
}
