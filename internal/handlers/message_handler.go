package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fanclub/backend/internal/chat"
	"github.com/fanclub/backend/internal/models"
)

type MessageHandler struct {
	msgs *chat.Messages
}

func NewMessageHandler(msgs *chat.Messages) *MessageHandler {
	return &MessageHandler{msgs: msgs}
}

// GetMessages returns a page of a chat's history in display order
func (h *MessageHandler) GetMessages(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.GetMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := h.msgs.ListOrdered(c.Request.Context(), currentUser(c), chatID, chat.ListOptions{
		AfterSeq: req.AfterSeq,
		Limit:    req.Limit,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	c.JSON(http.StatusOK, messages)
}

// SendMessage posts a message (REST endpoint)
func (h *MessageHandler) SendMessage(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	message, err := h.msgs.Append(c.Request.Context(), chatID, currentUser(c), req.Content, req.Type)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

func (h *MessageHandler) EditMessage(c *gin.Context) {
	messageID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	message, err := h.msgs.Edit(c.Request.Context(), messageID, req.Content, currentUser(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, message)
}

// DeleteMessage soft-deletes a message. The body is optional.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.DeleteMessageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			ErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := h.msgs.SoftDelete(c.Request.Context(), messageID, currentUser(c), req.Reason); err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
}

// GetEdits returns a message's edit trail for moderators
func (h *MessageHandler) GetEdits(c *gin.Context) {
	messageID, ok := paramID(c, "id")
	if !ok {
		return
	}

	edits, err := h.msgs.EditHistory(c.Request.Context(), currentUser(c), messageID)
	if err != nil {
		RespondError(c, err)
		return
	}
	if edits == nil {
		edits = []models.MessageEdit{}
	}

	c.JSON(http.StatusOK, edits)
}
