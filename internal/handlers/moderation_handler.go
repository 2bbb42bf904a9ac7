package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fanclub/backend/internal/models"
	"github.com/fanclub/backend/internal/moderation"
)

type ModerationHandler struct {
	ledger *moderation.Ledger
}

func NewModerationHandler(ledger *moderation.Ledger) *ModerationHandler {
	return &ModerationHandler{ledger: ledger}
}

// RecordAction appends a moderator action to the chat's ledger
func (h *ModerationHandler) RecordAction(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.ModerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.ledger.Record(c.Request.Context(), chatID, currentUser(c), req)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, entries)
}

// GetHistory returns the ledger newest first. ?limit= caps the page.
func (h *ModerationHandler) GetHistory(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			ErrorResponse(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.ledger.History(c.Request.Context(), chatID, currentUser(c), limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	if entries == nil {
		entries = []models.ModerationLogEntry{}
	}

	c.JSON(http.StatusOK, entries)
}

func (h *ModerationHandler) ClearHistory(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}

	removed, err := h.ledger.Clear(c.Request.Context(), chatID, currentUser(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// GetRestriction returns a user's current restriction in the chat
func (h *ModerationHandler) GetRestriction(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID, ok := paramID(c, "user_id")
	if !ok {
		return
	}

	r, err := h.ledger.Restriction(c.Request.Context(), chatID, currentUser(c), userID)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, r)
}

func (h *ModerationHandler) AddBannedWord(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.BannedWordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ledger.AddBannedWord(c.Request.Context(), chatID, currentUser(c), req.Word); err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Banned word added"})
}

func (h *ModerationHandler) ListBannedWords(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}

	words, err := h.ledger.BannedWords(c.Request.Context(), chatID, currentUser(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	if words == nil {
		words = []models.BannedWord{}
	}

	c.JSON(http.StatusOK, words)
}

// RemoveBannedWord deletes the word given in ?word=
func (h *ModerationHandler) RemoveBannedWord(c *gin.Context) {
	chatID, ok := paramID(c, "id")
	if !ok {
		return
	}

	word := c.Query("word")
	if word == "" {
		ErrorResponse(c, http.StatusBadRequest, "word is required")
		return
	}

	if err := h.ledger.RemoveBannedWord(c.Request.Context(), chatID, currentUser(c), word); err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Banned word removed"})
}
