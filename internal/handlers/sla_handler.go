package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tullo/moderation/internal/models"
	"github.com/tullo/moderation/internal/repository"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type DeliveryTracker interface {
	TrackDelivery(ctx context.Context, subjectID string, latencyMs int64)
}

type DashboardSource interface {
	GetDashboardMetrics(ctx context.Context) (*models.DashboardMetrics, error)
}

type ReportGenerator interface {
	GenerateDailyReport(ctx context.Context, date time.Time) (*models.DailyReport, error)
}

type ReportStore interface {
	GetDailyReport(ctx context.Context, date string) (*models.DailyReport, error)
}

type SLAHandler struct {
	tracker   DeliveryTracker
	dashboard DashboardSource
	reports   ReportStore
	generator ReportGenerator
	logger    *zap.Logger
	now       func() time.Time
}

func NewSLAHandler(tracker DeliveryTracker, dashboard DashboardSource, reports ReportStore, generator ReportGenerator, logger *zap.Logger) *SLAHandler {
	return &SLAHandler{
		tracker:   tracker,
		dashboard: dashboard,
		reports:   reports,
		generator: generator,
		logger:    logger.With(zap.String("mod", "sla_handler")),
		now:       time.Now,
	}
}

// RecordDelivery ingests a delivery latency measured outside this service.
func (h *SLAHandler) RecordDelivery(c *gin.Context) {
	var req models.DeliveryReport
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	h.tracker.TrackDelivery(c.Request.Context(), req.SubjectID, *req.LatencyMs)
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

// GetDashboard returns the live compliance snapshot
func (h *SLAHandler) GetDashboard(c *gin.Context) {
	metrics, err := h.dashboard.GetDashboardMetrics(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to build dashboard", zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to build dashboard")
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// GetDailyReport returns the stored report for ?date=YYYY-MM-DD (default:
// yesterday, UTC), generating it on the fly when none was stored yet.
func (h *SLAHandler) GetDailyReport(c *gin.Context) {
	day := h.now().UTC().AddDate(0, 0, -1)
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			ErrorResponse(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	report, err := h.reports.GetDailyReport(c.Request.Context(), day.Format(dateLayout))
	if err == nil {
		c.JSON(http.StatusOK, report)
		return
	}
	if !errors.Is(err, repository.ErrNotFound) {
		h.logger.Warn("failed to load stored report, regenerating", zap.String("date", day.Format(dateLayout)), zap.Error(err))
	}

	report, err = h.generator.GenerateDailyReport(c.Request.Context(), day)
	if err != nil {
		h.logger.Error("failed to generate report", zap.String("date", day.Format(dateLayout)), zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to generate report")
		return
	}
	c.JSON(http.StatusOK, report)
}
