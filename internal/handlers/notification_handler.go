package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tullo/moderation/internal/models"
	"github.com/tullo/moderation/internal/repository"
	"go.uber.org/zap"
)

// NotificationReader is implemented by repository.NotificationRepository.
type NotificationReader interface {
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, recipientID uuid.UUID) error
}

type NotificationHandler struct {
	store  NotificationReader
	logger *zap.Logger
}

func NewNotificationHandler(store NotificationReader, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		store:  store,
		logger: logger.With(zap.String("mod", "notification_handler")),
	}
}

// ListNotifications returns the caller's notifications
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	var req models.ListNotificationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	uid, ok := callerID(c)
	if !ok {
		return
	}

	items, err := h.store.ListByRecipient(c.Request.Context(), uid, req.UnreadOnly, req.Limit)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to list notifications")
		return
	}
	c.JSON(http.StatusOK, items)
}

// MarkRead marks one of the caller's notifications as read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	uid, ok := callerID(c)
	if !ok {
		return
	}

	err := h.store.MarkRead(c.Request.Context(), id, uid)
	if errors.Is(err, repository.ErrNotFound) {
		ErrorResponse(c, http.StatusNotFound, "Notification not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to mark notification read", zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to update notification")
		return
	}
	c.Status(http.StatusNoContent)
}
