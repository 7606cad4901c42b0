package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tullo/moderation/internal/auth"
	"github.com/tullo/moderation/internal/middleware"
	"github.com/tullo/moderation/internal/models"
	"go.uber.org/zap"
)

// Handler upgrades moderator connections.
type Handler struct {
	hub           *Hub
	jwtService    *auth.JWTService
	notifications ReadMarker
	upgrader      websocket.Upgrader
	logger        *zap.Logger
}

// NewHandler creates a new WebSocket handler. With no allowed origins any
// origin is accepted.
func NewHandler(hub *Hub, jwtService *auth.JWTService, notifications ReadMarker, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		hub:           hub,
		jwtService:    jwtService,
		notifications: notifications,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin != "" && middleware.OriginAllowed(allowedOrigins, origin)
			},
		},
		logger: logger.With(zap.String("mod", "ws")),
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(c *gin.Context) {
	// Browsers cannot set headers on upgrade requests
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
	if !models.IsModerator(claims.Role) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Moderator role required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, claims.UserID, h.notifications, h.logger)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// GetOnlineModerators lists connected moderators
func (h *Handler) GetOnlineModerators(c *gin.Context) {
	online := h.hub.OnlineModerators()
	c.JSON(http.StatusOK, gin.H{
		"online_moderators": online,
		"count":             len(online),
	})
}
