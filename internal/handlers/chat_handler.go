package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fanclub/backend/internal/chat"
	"github.com/fanclub/backend/internal/models"
)

type ChatHandler struct {
	dir *chat.Directory
}

func NewChatHandler(dir *chat.Directory) *ChatHandler {
	return &ChatHandler{dir: dir}
}

// CreateChat creates a chat of any type inside a fan group
func (h *ChatHandler) CreateChat(c *gin.Context) {
	groupID, ok := paramID(c, "group_id")
	if !ok {
		return
	}

	var req models.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.dir.Create(c.Request.Context(), currentUser(c), groupID, req)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

// ListChats returns the group's chats the caller can read
func (h *ChatHandler) ListChats(c *gin.Context) {
	groupID, ok := paramID(c, "group_id")
	if !ok {
		return
	}

	chats, err := h.dir.ListVisible(c.Request.Context(), groupID, currentUser(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}

	c.JSON(http.StatusOK, chats)
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}

	found, err := h.dir.Get(c.Request.Context(), currentUser(c), chatID)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, found)
}

func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.dir.Delete(c.Request.Context(), chatID, currentUser(c)); err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Chat deleted"})
}

// AddModerator grants the chat-level moderator role
func (h *ChatHandler) AddModerator(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.ModeratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.dir.AddModerator(c.Request.Context(), chatID, currentUser(c), req.UserID)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

func (h *ChatHandler) RemoveModerator(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID, ok := paramID(c, "user_id")
	if !ok {
		return
	}

	updated, err := h.dir.RemoveModerator(c.Request.Context(), chatID, currentUser(c), userID)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}
