package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fanclub/backend/internal/app"
	"github.com/fanclub/backend/internal/auth"
	"github.com/fanclub/backend/internal/middleware"
	"github.com/fanclub/backend/internal/storage"
)

type RouterDeps struct {
	Services    *app.Services
	Users       storage.UserStore
	JWT         *auth.JWTService
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	// WebSocket is mounted at /ws when set.
	WebSocket gin.HandlerFunc
}

// NewRouter builds the HTTP API.
func NewRouter(d RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(middleware.CORSMiddleware(d.CORSOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authHandler := NewAuthHandler(d.Users, d.JWT)
	chatHandler := NewChatHandler(d.Services.Directory)
	msgHandler := NewMessageHandler(d.Services.Messages)
	modHandler := NewModerationHandler(d.Services.Ledger)
	reportHandler := NewReportHandler(d.Services.Reports)

	authRoutes := router.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
	}

	if d.WebSocket != nil {
		router.GET("/ws", d.WebSocket)
	}

	limited := func(c *gin.Context) { c.Next() }
	if d.RateLimiter != nil {
		limited = middleware.RateLimitMiddleware(d.RateLimiter)
	}

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(d.JWT))
	{
		api.GET("/me", authHandler.GetMe)

		// Chat routes
		api.POST("/groups/:group_id/chats", chatHandler.CreateChat)
		api.GET("/groups/:group_id/chats", chatHandler.ListChats)
		api.GET("/chats/:id", chatHandler.GetChat)
		api.DELETE("/chats/:id", chatHandler.DeleteChat)
		api.POST("/chats/:id/moderators", chatHandler.AddModerator)
		api.DELETE("/chats/:id/moderators/:user_id", chatHandler.RemoveModerator)

		// Message routes
		api.GET("/chats/:id/messages", msgHandler.GetMessages)
		api.POST("/chats/:id/messages", limited, msgHandler.SendMessage)
		api.PUT("/messages/:id", limited, msgHandler.EditMessage)
		api.DELETE("/messages/:id", msgHandler.DeleteMessage)
		api.GET("/messages/:id/edits", msgHandler.GetEdits)

		// Moderation routes
		api.POST("/chats/:id/moderation", modHandler.RecordAction)
		api.GET("/chats/:id/moderation", modHandler.GetHistory)
		api.DELETE("/chats/:id/moderation", modHandler.ClearHistory)
		api.GET("/chats/:id/restrictions/:user_id", modHandler.GetRestriction)
		api.POST("/chats/:id/banned-words", modHandler.AddBannedWord)
		api.GET("/chats/:id/banned-words", modHandler.ListBannedWords)
		api.DELETE("/chats/:id/banned-words", modHandler.RemoveBannedWord)

		// Report routes
		api.POST("/reports", limited, reportHandler.SubmitReport)
		api.GET("/groups/:group_id/reports", reportHandler.ListPending)
		api.POST("/reports/:id/resolve", reportHandler.ResolveReport)
	}

	return router
}
