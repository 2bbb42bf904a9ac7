package websocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/fanclub/backend/internal/auth"
	"github.com/fanclub/backend/internal/chat"
	"github.com/fanclub/backend/internal/logger"
)

// Handler upgrades authenticated requests to WebSocket clients
type Handler struct {
	hub        *Hub
	jwtService *auth.JWTService
	msgs       *chat.Messages
	upgrader   websocket.Upgrader
	perSecond  int
}

// NewHandler creates a handler. An empty or "*" origin list accepts any origin.
func NewHandler(hub *Hub, jwtService *auth.JWTService, msgs *chat.Messages, allowedOrigins []string, perSecond int) *Handler {
	h := &Handler{
		hub:        hub,
		jwtService: jwtService,
		msgs:       msgs,
		perSecond:  perSecond,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(allowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

// HandleWebSocket authenticates ?token= and starts the client pumps
func (h *Handler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}

	claims, err := h.jwtService.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("failed to upgrade websocket connection: %v", err)
		return
	}

	client := NewClient(h.hub, conn, claims.UserID, h.msgs, h.perSecond)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go client.WritePump()
	go func() {
		defer cancel()
		client.ReadPump(ctx)
	}()
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, pattern := range allowed {
		if pattern == "*" || matchOrigin(pattern, origin) {
			return true
		}
	}
	return false
}

// matchOrigin supports exact matches or wildcard patterns like *.example.com
func matchOrigin(pattern, origin string) bool {
	if origin == "" {
		return false
	}
	if pattern == origin {
		return true
	}
	if !strings.HasPrefix(pattern, "*.") {
		return false
	}
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	suffix := strings.TrimPrefix(pattern, "*")
	return strings.HasSuffix(host, suffix)
}
