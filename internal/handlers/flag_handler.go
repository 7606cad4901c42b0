package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tullo/moderation/internal/models"
	"go.uber.org/zap"
)

// intakeTimeout bounds inline intake, which runs detached from the request so
// a disconnecting reporter cannot cut it short between steps.
const intakeTimeout = 30 * time.Second

type FlagIntake interface {
	SubmitFlag(ctx context.Context, ev models.FlagCreatedEvent) (*models.Flag, error)
	OnAutoSignal(ctx context.Context, ev models.AutoSignalEvent) error
}

// EventPublisher queues intake events on Redis for the intake bot.
type EventPublisher interface {
	PublishFlagCreated(ctx context.Context, ev models.FlagCreatedEvent) error
	PublishSignalDetected(ctx context.Context, ev models.AutoSignalEvent) error
}

type FlagHandler struct {
	intake    FlagIntake
	publisher EventPublisher
	logger    *zap.Logger
}

// NewFlagHandler creates the intake handler. publisher may be nil, in which
// case ?async=true falls back to synchronous intake.
func NewFlagHandler(intake FlagIntake, publisher EventPublisher, logger *zap.Logger) *FlagHandler {
	return &FlagHandler{
		intake:    intake,
		publisher: publisher,
		logger:    logger.With(zap.String("mod", "flag_handler")),
	}
}

// CreateFlag accepts a user flag. The reporter defaults to the caller.
func (h *FlagHandler) CreateFlag(c *gin.Context) {
	var ev models.FlagCreatedEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if uid, ok := c.Get("user_id"); ok && ev.ReporterID == uuid.Nil {
		ev.ReporterID, _ = uid.(uuid.UUID)
	}
	if err := ev.Validate(); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if h.async(c) {
		err := h.publisher.PublishFlagCreated(c.Request.Context(), ev)
		if err == nil {
			c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
			return
		}
		h.logger.Warn("failed to queue flag, processing inline", zap.Error(err))
	}

	ctx, cancel := intakeContext(c)
	defer cancel()
	flag, err := h.intake.SubmitFlag(ctx, ev)
	if errors.Is(err, models.ErrInvalidEvent) {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("flag intake failed", zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to process flag")
		return
	}

	c.JSON(http.StatusAccepted, flag)
}

// CreateSignal accepts an automated detection.
func (h *FlagHandler) CreateSignal(c *gin.Context) {
	var ev models.AutoSignalEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := ev.Validate(); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if h.async(c) {
		err := h.publisher.PublishSignalDetected(c.Request.Context(), ev)
		if err == nil {
			c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
			return
		}
		h.logger.Warn("failed to queue signal, processing inline", zap.Error(err))
	}

	ctx, cancel := intakeContext(c)
	defer cancel()
	if err := h.intake.OnAutoSignal(ctx, ev); err != nil {
		if errors.Is(err, models.ErrInvalidEvent) {
			ErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("signal intake failed", zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to process signal")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *FlagHandler) async(c *gin.Context) bool {
	return h.publisher != nil && c.Query("async") == "true"
}

func intakeContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request.Context()), intakeTimeout)
}
