package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tullo/moderation/internal/models"
	"go.uber.org/zap"
)

// NotificationSubscriber is implemented by cache.RedisClient.
type NotificationSubscriber interface {
	SubscribeToNotifications(ctx context.Context) *redis.PubSub
}

// Hub tracks connected moderators and pushes their notifications.
type Hub struct {
	// Registered clients
	clients map[uuid.UUID]*Client

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	redis  NotificationSubscriber
	logger *zap.Logger

	mu sync.RWMutex
}

// NewHub creates a new Hub. redis may be nil; pushes then only arrive
// through Deliver.
func NewHub(redis NotificationSubscriber, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		redis:      redis,
		logger:     logger.With(zap.String("mod", "ws_hub")),
	}
}

// Run serves registrations until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.redis != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.userID]; ok {
				close(old.send)
			}
			h.clients[client.userID] = client
			h.mu.Unlock()
			h.logger.Info("moderator connected", zap.String("user_id", client.userID.String()))

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.userID]; ok && cur == client {
				delete(h.clients, client.userID)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("moderator disconnected", zap.String("user_id", client.userID.String()))
		}
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
}

// subscribeToRedis relays notification pushes published by any instance.
func (h *Hub) subscribeToRedis(ctx context.Context) {
	ps := h.redis.SubscribeToNotifications(ctx)
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var push models.NotificationPush
			if err := json.Unmarshal([]byte(msg.Payload), &push); err != nil {
				h.logger.Warn("dropping malformed notification push", zap.Error(err))
				continue
			}
			h.Deliver(push)
		}
	}
}

// Deliver pushes a notification to its recipient. It reports whether the
// recipient was connected.
func (h *Hub) Deliver(push models.NotificationPush) bool {
	sent, err := h.SendToUser(push.RecipientID, models.WSMessage{
		Event:   models.EventNotificationNew,
		Payload: push.Notification,
	})
	if err != nil {
		h.logger.Warn("failed to encode notification", zap.Error(err))
	}
	return sent
}

// SendToUser sends a message to a specific user
func (h *Hub) SendToUser(userID uuid.UUID, message interface{}) (bool, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return false, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[userID]
	if !ok {
		return false, nil
	}

	select {
	case client.send <- data:
		return true, nil
	default:
		// Client's send channel is full, skip
		return false, nil
	}
}

// OnlineModerators returns the connected user IDs
func (h *Hub) OnlineModerators() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	userIDs := make([]uuid.UUID, 0, len(h.clients))
	for userID := range h.clients {
		userIDs = append(userIDs, userID)
	}

	return userIDs
}

// IsOnline checks if a user is connected
func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.clients[userID]
	return ok
}

// PublishNotification delivers in-process. It stands in for the Redis
// publisher when running a single instance without Redis.
func (h *Hub) PublishNotification(_ context.Context, n models.Notification) error {
	h.Deliver(models.NotificationPush{RecipientID: n.RecipientID, Notification: n})
	return nil
}
