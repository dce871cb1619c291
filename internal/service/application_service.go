package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuskit/leaveflow/internal/dto"
	"github.com/campuskit/leaveflow/internal/models"
	"github.com/campuskit/leaveflow/internal/repository"
	appErrors "github.com/campuskit/leaveflow/pkg/errors"
)

type applicationStore interface {
	Create(ctx context.Context, app *models.LeaveApplication) error
	GetByID(ctx context.Context, id string) (*models.LeaveApplication, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.LeaveApplication, int, error)
	StartTeacherReview(ctx context.Context, id string, startedAt time.Time) error
	StartToReview(ctx context.Context, id string, startedAt time.Time) error
	SetTeacherDecision(ctx context.Context, params repository.TeacherDecisionParams) error
	SetToDecision(ctx context.Context, params repository.ToDecisionParams) error
}

type applicantDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type statsInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

type transitionRecorder interface {
	RecordWorkflowTransition(action string, err error)
}

// WorkflowAction names an operation a role may perform on an application.
type WorkflowAction string

const (
	ActionSubmit             WorkflowAction = "submit"
	ActionStartTeacherReview WorkflowAction = "start_teacher_review"
	ActionTeacherReview      WorkflowAction = "teacher_review"
	ActionStartToReview      WorkflowAction = "start_to_review"
	ActionToReview           WorkflowAction = "to_review"
)

// roleCapabilities is the single authority on which role may perform which
// workflow action. Handlers gate routes, but every transition re-checks here.
var roleCapabilities = map[models.UserRole]map[WorkflowAction]bool{
	models.RoleStudent: {
		ActionSubmit: true,
	},
	models.RoleTeacher: {
		ActionStartTeacherReview: true,
		ActionTeacherReview:      true,
	},
	models.RoleTrainingOfficer: {
		ActionStartToReview: true,
		ActionToReview:      true,
	},
	models.RoleAdmin: {},
}

// RoleAllows reports whether the role may perform the workflow action.
func RoleAllows(role models.UserRole, action WorkflowAction) bool {
	return roleCapabilities[role][action]
}

// ApplicationService orchestrates the leave approval workflow: student
// submission, teacher review and training-officer review. All transition
// writes go through status-guarded updates so concurrent reviewers cannot
// overwrite each other; a failed guard surfaces as an invalid-state conflict.
type ApplicationService struct {
	repo      applicationStore
	users     applicantDirectory
	audit     auditRecorder
	cache     statsInvalidator
	metrics   transitionRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewApplicationService constructs the workflow service. Audit, cache and
// metrics collaborators may be nil; the workflow itself never depends on them.
func NewApplicationService(repo applicationStore, users applicantDirectory, audit auditRecorder, cache statsInvalidator, metrics transitionRecorder, validate *validator.Validate, logger *zap.Logger) *ApplicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ApplicationService{
		repo:      repo,
		users:     users,
		audit:     audit,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Submit validates and stores a new application for the acting student.
// Student identity fields are denormalised onto the record at submission time.
func (s *ApplicationService) Submit(ctx context.Context, req dto.SubmitApplicationRequest, actor *models.JWTClaims) (*models.LeaveApplication, error) {
	if err := s.authorize(actor, ActionSubmit); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}

	leaveType := models.LeaveType(strings.ToUpper(strings.TrimSpace(req.LeaveType)))
	if !leaveType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported leave type: %s", req.LeaveType))
	}
	priority := models.LeavePriority(strings.ToLower(strings.TrimSpace(req.Priority)))
	if !priority.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported priority: %s", req.Priority))
	}

	startDate, err := time.ParseInLocation("2006-01-02", req.StartDate, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "startDate must use the YYYY-MM-DD form")
	}
	endDate, err := time.ParseInLocation("2006-01-02", req.EndDate, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "endDate must use the YYYY-MM-DD form")
	}
	if endDate.Before(startDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "endDate must not precede startDate")
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if startDate.Before(today) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "startDate must not be in the past")
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}

	var urgencyReason *string
	if trimmed := strings.TrimSpace(req.UrgencyReason); trimmed != "" {
		urgencyReason = &trimmed
	}
	if priority == models.PriorityUrgent && urgencyReason == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "urgencyReason is required for urgent applications")
	}

	student, err := s.users.FindByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "acting user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load acting user")
	}

	app := &models.LeaveApplication{
		StudentID:     student.ID,
		StudentName:   student.FullName,
		Type:          leaveType,
		StartDate:     startDate,
		EndDate:       endDate,
		TotalDays:     int(endDate.Sub(startDate).Hours()/24) + 1,
		Reason:        reason,
		Priority:      priority,
		UrgencyReason: urgencyReason,
	}
	if student.StudentNumber != nil {
		app.StudentNumber = *student.StudentNumber
	}
	if student.Course != nil {
		app.Course = *student.Course
	}

	if err := s.repo.Create(ctx, app); err != nil {
		s.recordTransition(string(ActionSubmit), err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
	}
	s.recordTransition(string(ActionSubmit), nil)
	s.invalidateStats(ctx)
	s.emitAudit(ctx, actor, models.AuditActionLeaveSubmit, app.ID, map[string]interface{}{
		"status": app.Status,
		"type":   app.Type,
	})
	return app, nil
}

// StartTeacherReview moves a pending application into teacher review.
// Calling it again while the review is already underway is a no-op that
// returns the current record without resetting the started timestamp.
func (s *ApplicationService) StartTeacherReview(ctx context.Context, id string, actor *models.JWTClaims) (*models.LeaveApplication, error) {
	if err := s.authorize(actor, ActionStartTeacherReview); err != nil {
		return nil, err
	}
	err := s.repo.StartTeacherReview(ctx, id, time.Now().UTC())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.recordTransition(string(ActionStartTeacherReview), err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start teacher review")
	}

	app, loadErr := s.repo.GetByID(ctx, id)
	if loadErr != nil {
		if errors.Is(loadErr, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(loadErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}

	if err != nil {
		// Guard failed: tolerate the retry when the review already started,
		// reject every other source status.
		if app.Status != models.StatusTeacherReviewing {
			s.recordTransition(string(ActionStartTeacherReview), err)
			return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot start teacher review while status is %s", app.Status))
		}
		return app, nil
	}

	s.recordTransition(string(ActionStartTeacherReview), nil)
	s.invalidateStats(ctx)
	s.emitAudit(ctx, actor, models.AuditActionLeaveReviewStart, app.ID, map[string]interface{}{
		"status": app.Status,
	})
	return app, nil
}

// SubmitTeacherReview records the teacher's decision. Approval hands the
// application to the training officer; rejection is terminal.
func (s *ApplicationService) SubmitTeacherReview(ctx context.Context, id string, req dto.TeacherReviewRequest, actor *models.JWTClaims) (*models.LeaveApplication, error) {
	if err := s.authorize(actor, ActionTeacherReview); err != nil {
		return nil, err
	}
	decision, comments, err := s.parseDecision(req.Status, req.Comments)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	params := repository.TeacherDecisionParams{
		ID:         id,
		ReviewedBy: actor.UserID,
		Decision:   decision,
		Comments:   comments,
		ReviewedAt: now,
	}
	if decision == models.DecisionApproved {
		params.Status = models.StatusTeacherApproved
		params.Stage = models.StageToReview
	} else {
		params.Status = models.StatusRejected
		params.Stage = models.StageCompleted
		params.CompletedAt = &now
	}

	if err := s.repo.SetTeacherDecision(ctx, params); err != nil {
		s.recordTransition(string(ActionTeacherReview), err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.transitionConflict(ctx, id, "teacher review")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record teacher decision")
	}

	app, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload application")
	}
	s.recordTransition(string(ActionTeacherReview), nil)
	s.invalidateStats(ctx)
	s.emitAudit(ctx, actor, models.AuditActionLeaveTeacherReview, app.ID, map[string]interface{}{
		"decision": decision,
		"status":   app.Status,
	})
	return app, nil
}

// StartToReview moves a teacher-approved application into training-officer
// review. Retries while the review is underway are no-ops.
func (s *ApplicationService) StartToReview(ctx context.Context, id string, actor *models.JWTClaims) (*models.LeaveApplication, error) {
	if err := s.authorize(actor, ActionStartToReview); err != nil {
		return nil, err
	}
	err := s.repo.StartToReview(ctx, id, time.Now().UTC())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.recordTransition(string(ActionStartToReview), err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start training officer review")
	}

	app, loadErr := s.repo.GetByID(ctx, id)
	if loadErr != nil {
		if errors.Is(loadErr, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(loadErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}

	if err != nil {
		if app.Status != models.StatusToReviewing {
			s.recordTransition(string(ActionStartToReview), err)
			return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot start training officer review while status is %s", app.Status))
		}
		return app, nil
	}

	s.recordTransition(string(ActionStartToReview), nil)
	s.invalidateStats(ctx)
	s.emitAudit(ctx, actor, models.AuditActionLeaveReviewStart, app.ID, map[string]interface{}{
		"status": app.Status,
	})
	return app, nil
}

// SubmitToReview records the training officer's terminal decision. Both
// outcomes complete the workflow; a rejection additionally requires a
// rejection reason.
func (s *ApplicationService) SubmitToReview(ctx context.Context, id string, req dto.ToReviewRequest, actor *models.JWTClaims) (*models.LeaveApplication, error) {
	if err := s.authorize(actor, ActionToReview); err != nil {
		return nil, err
	}
	decision, comments, err := s.parseDecision(req.Status, req.Comments)
	if err != nil {
		return nil, err
	}

	var rejectionReason *string
	if decision == models.DecisionRejected {
		trimmed := strings.TrimSpace(req.RejectionReason)
		if trimmed == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "rejectionReason is required when rejecting")
		}
		rejectionReason = &trimmed
	}

	now := time.Now().UTC()
	params := repository.ToDecisionParams{
		ID:              id,
		ReviewedBy:      actor.UserID,
		Decision:        decision,
		Comments:        comments,
		RejectionReason: rejectionReason,
		ReviewedAt:      now,
		CompletedAt:     now,
	}
	if decision == models.DecisionApproved {
		params.Status = models.StatusApproved
	} else {
		params.Status = models.StatusRejected
	}

	if err := s.repo.SetToDecision(ctx, params); err != nil {
		s.recordTransition(string(ActionToReview), err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.transitionConflict(ctx, id, "training officer review")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record training officer decision")
	}

	app, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload application")
	}
	s.recordTransition(string(ActionToReview), nil)
	s.invalidateStats(ctx)
	s.emitAudit(ctx, actor, models.AuditActionLeaveToReview, app.ID, map[string]interface{}{
		"decision": decision,
		"status":   app.Status,
	})
	return app, nil
}

// Get returns an application enforcing scope: students see only their own.
func (s *ApplicationService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.LeaveApplication, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	app, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if actor.Role == models.RoleStudent && app.StudentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another student")
	}
	return app, nil
}

// List returns applications matching the query. Students are always scoped to
// their own submissions regardless of the requested filters.
func (s *ApplicationService) List(ctx context.Context, query dto.ApplicationQuery, actor *models.JWTClaims) ([]models.LeaveApplication, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.ApplicationFilter{
		Statuses:  query.Statuses,
		StudentID: query.StudentID,
		Type:      query.Type,
		Priority:  query.Priority,
		Page:      query.Page,
		PageSize:  query.PageSize,
	}
	if actor.Role == models.RoleStudent {
		filter.StudentID = actor.UserID
	}
	apps, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	return apps, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

func (s *ApplicationService) authorize(actor *models.JWTClaims, action WorkflowAction) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if !RoleAllows(actor.Role, action) {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("role %s may not perform %s", actor.Role, action))
	}
	return nil
}

func (s *ApplicationService) parseDecision(status, comments string) (models.ReviewDecision, string, error) {
	decision := models.ReviewDecision(strings.ToLower(strings.TrimSpace(status)))
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return "", "", appErrors.Clone(appErrors.ErrValidation, "status must be approved or rejected")
	}
	trimmed := strings.TrimSpace(comments)
	if trimmed == "" {
		return "", "", appErrors.Clone(appErrors.ErrValidation, "comments are required")
	}
	return decision, trimmed, nil
}

// transitionConflict maps a failed status guard onto the API error: the row is
// either gone or sitting in a status the operation does not accept.
func (s *ApplicationService) transitionConflict(ctx context.Context, id, op string) error {
	app, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("%s not permitted while status is %s", op, app.Status))
}

func (s *ApplicationService) recordTransition(action string, err error) {
	if s.metrics != nil {
		s.metrics.RecordWorkflowTransition(action, err)
	}
}

func (s *ApplicationService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "leave:stats*"); err != nil {
		s.logger.Warn("failed to invalidate stats cache", zap.Error(err))
	}
}

func (s *ApplicationService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte("{}")
	}
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "leave_application",
		ResourceID: &resourceID,
		NewValues:  payload,
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("failed to record audit log", zap.Error(err), zap.String("action", action))
	}
}
