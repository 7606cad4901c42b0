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

// CaseReader is implemented by repository.CaseRepository.
type CaseReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ModerationCase, error)
	List(ctx context.Context, state models.CaseState, limit, offset int) ([]*models.ModerationCase, error)
}

type CaseLogReader interface {
	GetLogsByCase(ctx context.Context, caseID uuid.UUID, limit int) ([]models.ModerationLog, error)
}

// CaseReviewer is implemented by moderator.Reviewer.
type CaseReviewer interface {
	Claim(ctx context.Context, caseID, moderatorID uuid.UUID) (*models.ModerationCase, error)
	Resolve(ctx context.Context, caseID, moderatorID uuid.UUID, reason string) (*models.ModerationCase, error)
}

type CaseHandler struct {
	cases    CaseReader
	logs     CaseLogReader
	reviewer CaseReviewer
	logger   *zap.Logger
}

func NewCaseHandler(cases CaseReader, logs CaseLogReader, reviewer CaseReviewer, logger *zap.Logger) *CaseHandler {
	return &CaseHandler{
		cases:    cases,
		logs:     logs,
		reviewer: reviewer,
		logger:   logger.With(zap.String("mod", "case_handler")),
	}
}

// ListCases returns cases, optionally filtered by state
func (h *CaseHandler) ListCases(c *gin.Context) {
	var req models.ListCasesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	state := models.CaseState(req.State)
	if state != "" && !state.Valid() {
		ErrorResponse(c, http.StatusBadRequest, "Invalid state")
		return
	}
	if req.Limit == 0 {
		req.Limit = 50
	}

	cases, err := h.cases.List(c.Request.Context(), state, req.Limit, req.Offset)
	if err != nil {
		h.logger.Error("failed to list cases", zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to list cases")
		return
	}

	c.JSON(http.StatusOK, cases)
}

// GetCase returns a case with its audit trail
func (h *CaseHandler) GetCase(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	mc, err := h.cases.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Failed to get case")
		return
	}

	logs, err := h.logs.GetLogsByCase(c.Request.Context(), id, 100)
	if err != nil {
		h.logger.Warn("failed to load case logs", zap.String("case_id", id.String()), zap.Error(err))
		logs = []models.ModerationLog{}
	}

	c.JSON(http.StatusOK, models.CaseDetail{ModerationCase: mc, Logs: logs})
}

// ClaimCase assigns an open case to the caller
func (h *CaseHandler) ClaimCase(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	uid, ok := callerID(c)
	if !ok {
		return
	}

	mc, err := h.reviewer.Claim(c.Request.Context(), id, uid)
	if err != nil {
		h.fail(c, err, "Failed to claim case")
		return
	}
	c.JSON(http.StatusOK, mc)
}

// ResolveCase closes a case under review or escalated
func (h *CaseHandler) ResolveCase(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	uid, ok := callerID(c)
	if !ok {
		return
	}

	var req models.ResolveCaseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			ErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	mc, err := h.reviewer.Resolve(c.Request.Context(), id, uid, req.Reason)
	if err != nil {
		h.fail(c, err, "Failed to resolve case")
		return
	}
	c.JSON(http.StatusOK, mc)
}

func (h *CaseHandler) fail(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		ErrorResponse(c, http.StatusNotFound, "Case not found")
	case errors.Is(err, models.ErrInvalidTransition):
		ErrorResponse(c, http.StatusConflict, err.Error())
	default:
		h.logger.Error(message, zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, message)
	}
}
