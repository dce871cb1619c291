package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campuskit/leaveflow/internal/dto"
	"github.com/campuskit/leaveflow/internal/models"
	appErrors "github.com/campuskit/leaveflow/pkg/errors"
	"github.com/campuskit/leaveflow/pkg/response"
)

type leaveService interface {
	Submit(ctx context.Context, req dto.SubmitApplicationRequest, actor *models.JWTClaims) (*models.LeaveApplication, error)
	StartTeacherReview(ctx context.Context, id string, actor *models.JWTClaims) (*models.LeaveApplication, error)
	SubmitTeacherReview(ctx context.Context, id string, req dto.TeacherReviewRequest, actor *models.JWTClaims) (*models.LeaveApplication, error)
	StartToReview(ctx context.Context, id string, actor *models.JWTClaims) (*models.LeaveApplication, error)
	SubmitToReview(ctx context.Context, id string, req dto.ToReviewRequest, actor *models.JWTClaims) (*models.LeaveApplication, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.LeaveApplication, error)
	List(ctx context.Context, query dto.ApplicationQuery, actor *models.JWTClaims) ([]models.LeaveApplication, *models.Pagination, error)
}

type statsProvider interface {
	Overview(ctx context.Context) (*dto.StatsResponse, bool, error)
}

// ApplicationHandler exposes REST endpoints for the leave approval workflow.
type ApplicationHandler struct {
	service leaveService
	stats   statsProvider
}

// NewApplicationHandler constructs the handler.
func NewApplicationHandler(service leaveService, stats statsProvider) *ApplicationHandler {
	return &ApplicationHandler{service: service, stats: stats}
}

// Submit godoc
// @Summary Submit a leave application
// @Tags Leave
// @Accept json
// @Produce json
// @Param payload body dto.SubmitApplicationRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /leave/apply [post]
func (h *ApplicationHandler) Submit(c *gin.Context) {
	var req dto.SubmitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid application payload"))
		return
	}
	app, err := h.service.Submit(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, dto.NewApplicationResponse(app), nil)
}

// StartTeacherReview godoc
// @Summary Begin teacher review
// @Tags Leave
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /leave/{id}/start-teacher-review [put]
func (h *ApplicationHandler) StartTeacherReview(c *gin.Context) {
	app, err := h.service.StartTeacherReview(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewApplicationResponse(app), nil)
}

// TeacherReview godoc
// @Summary Record teacher decision
// @Tags Leave
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.TeacherReviewRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /leave/{id}/teacher-review [put]
func (h *ApplicationHandler) TeacherReview(c *gin.Context) {
	var req dto.TeacherReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	app, err := h.service.SubmitTeacherReview(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewApplicationResponse(app), nil)
}

// StartToReview godoc
// @Summary Begin training officer review
// @Tags Leave
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /leave/{id}/start-to-review [put]
func (h *ApplicationHandler) StartToReview(c *gin.Context) {
	app, err := h.service.StartToReview(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewApplicationResponse(app), nil)
}

// ToReview godoc
// @Summary Record training officer decision
// @Tags Leave
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.ToReviewRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /leave/{id}/to-review [put]
func (h *ApplicationHandler) ToReview(c *gin.Context) {
	var req dto.ToReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	app, err := h.service.SubmitToReview(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewApplicationResponse(app), nil)
}

// MyApplications godoc
// @Summary List own applications
// @Tags Leave
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /leave/my-applications [get]
func (h *ApplicationHandler) MyApplications(c *gin.Context) {
	h.list(c, parseApplicationQuery(c))
}

// PendingTeacher godoc
// @Summary List the teacher review queue
// @Tags Leave
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /leave/pending-teacher [get]
func (h *ApplicationHandler) PendingTeacher(c *gin.Context) {
	query := parseApplicationQuery(c)
	query.Statuses = []models.ApplicationStatus{models.StatusPending, models.StatusTeacherReviewing}
	h.list(c, query)
}

// PendingTo godoc
// @Summary List the training officer review queue
// @Tags Leave
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /leave/pending-to [get]
func (h *ApplicationHandler) PendingTo(c *gin.Context) {
	query := parseApplicationQuery(c)
	query.Statuses = []models.ApplicationStatus{models.StatusTeacherApproved, models.StatusToReviewing}
	h.list(c, query)
}

// All godoc
// @Summary List all applications
// @Tags Leave
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param type query string false "Leave type"
// @Param priority query string false "Priority"
// @Success 200 {object} response.Envelope
// @Router /leave/all [get]
func (h *ApplicationHandler) All(c *gin.Context) {
	h.list(c, parseApplicationQuery(c))
}

// Get godoc
// @Summary Get application detail
// @Tags Leave
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /leave/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	app, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewApplicationResponse(app), nil)
}

// Stats godoc
// @Summary Workflow statistics
// @Tags Leave
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /leave/stats [get]
func (h *ApplicationHandler) Stats(c *gin.Context) {
	if h.stats == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "stats service not configured"))
		return
	}
	overview, fromCache, err := h.stats.Overview(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview, nil, map[string]interface{}{"cached": fromCache})
}

func (h *ApplicationHandler) list(c *gin.Context, query dto.ApplicationQuery) {
	apps, pagination, err := h.service.List(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewApplicationResponses(apps), pagination)
}

func parseApplicationQuery(c *gin.Context) dto.ApplicationQuery {
	query := dto.ApplicationQuery{}
	if raw := c.Query("status"); raw != "" {
		parts := strings.Split(raw, ",")
		statuses := make([]models.ApplicationStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.ApplicationStatus(part))
		}
		query.Statuses = statuses
	}
	if raw := c.Query("type"); raw != "" {
		query.Type = models.LeaveType(strings.ToUpper(strings.TrimSpace(raw)))
	}
	if raw := c.Query("priority"); raw != "" {
		query.Priority = models.LeavePriority(strings.ToLower(strings.TrimSpace(raw)))
	}
	if page, err := strconv.Atoi(c.Query("page")); err == nil {
		query.Page = page
	}
	if pageSize, err := strconv.Atoi(c.Query("pageSize")); err == nil {
		query.PageSize = pageSize
	}
	return query
}
