package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tullo/moderation/internal/models"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// ReadMarker is implemented by repository.NotificationRepository.
type ReadMarker interface {
	MarkRead(ctx context.Context, id, recipientID uuid.UUID) error
}

// Client is one moderator connection.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	userID      uuid.UUID
	connectedAt time.Time

	notifications ReadMarker
	logger        *zap.Logger

	// simple token-bucket rate limiter
	tokens       int
	maxTokens    int
	refillPeriod time.Duration
	lastRefill   time.Time
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, notifications ReadMarker, logger *zap.Logger) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		userID:        userID,
		connectedAt:   time.Now(),
		notifications: notifications,
		logger:        logger.With(zap.String("user_id", userID.String())),
		tokens:        20,
		maxTokens:     20,
		refillPeriod:  time.Second,
		lastRefill:    time.Now(),
	}
}

// ReadPump reads acknowledgements until the connection drops
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		if !c.take(time.Now()) {
			c.sendError("rate_limited")
			continue
		}

		c.handleMessage(message)
	}
}

// take spends one token, refilling one per refillPeriod.
func (c *Client) take(now time.Time) bool {
	if elapsed := now.Sub(c.lastRefill); elapsed >= c.refillPeriod {
		c.tokens += int(elapsed / c.refillPeriod)
		if c.tokens > c.maxTokens {
			c.tokens = c.maxTokens
		}
		c.lastRefill = now
	}
	if c.tokens <= 0 {
		return false
	}
	c.tokens--
	return true
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles incoming WebSocket messages
func (c *Client) handleMessage(data []byte) {
	var env struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendError("Invalid message format")
		return
	}

	switch env.Event {
	case models.EventNotificationRead:
		c.handleNotificationRead(env.Payload)
	default:
		c.sendError("Unknown event type")
	}
}

func (c *Client) handleNotificationRead(payload json.RawMessage) {
	var req models.WSNotificationReadPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.NotificationID == uuid.Nil {
		c.sendError("Invalid read payload")
		return
	}
	if c.notifications == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.notifications.MarkRead(ctx, req.NotificationID, c.userID); err != nil {
		c.logger.Debug("mark read failed", zap.String("notification_id", req.NotificationID.String()), zap.Error(err))
		c.sendError("Failed to mark notification as read")
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(message string) {
	errorMsg := models.WSMessage{
		Event: models.EventError,
		Payload: models.WSErrorPayload{
			Message: message,
		},
	}

	data, _ := json.Marshal(errorMsg)
	select {
	case c.send <- data:
	default:
	}
}
