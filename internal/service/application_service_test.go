package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/leaveflow/internal/dto"
	"github.com/campuskit/leaveflow/internal/models"
	"github.com/campuskit/leaveflow/internal/repository"
	appErrors "github.com/campuskit/leaveflow/pkg/errors"
)

type applicationRepoStub struct {
	apps   map[string]*models.LeaveApplication
	filter models.ApplicationFilter
}

func newApplicationRepoStub() *applicationRepoStub {
	return &applicationRepoStub{apps: make(map[string]*models.LeaveApplication)}
}

func (r *applicationRepoStub) Create(ctx context.Context, app *models.LeaveApplication) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.Status == "" {
		app.Status = models.StatusPending
	}
	if app.Stage == "" {
		app.Stage = models.StageStudentSubmitted
	}
	if app.Version == 0 {
		app.Version = 1
	}
	if app.SubmittedAt.IsZero() {
		app.SubmittedAt = time.Now().UTC()
	}
	stored := *app
	r.apps[app.ID] = &stored
	return nil
}

func (r *applicationRepoStub) GetByID(ctx context.Context, id string) (*models.LeaveApplication, error) {
	if app, ok := r.apps[id]; ok {
		copy := *app
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (r *applicationRepoStub) List(ctx context.Context, filter models.ApplicationFilter) ([]models.LeaveApplication, int, error) {
	r.filter = filter
	result := make([]models.LeaveApplication, 0, len(r.apps))
	for _, app := range r.apps {
		if filter.StudentID != "" && app.StudentID != filter.StudentID {
			continue
		}
		if len(filter.Statuses) > 0 {
			matched := false
			for _, status := range filter.Statuses {
				if app.Status == status {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		result = append(result, *app)
	}
	return result, len(result), nil
}

func (r *applicationRepoStub) StartTeacherReview(ctx context.Context, id string, startedAt time.Time) error {
	app, ok := r.apps[id]
	if !ok || app.Status != models.StatusPending {
		return sql.ErrNoRows
	}
	app.Status = models.StatusTeacherReviewing
	app.Stage = models.StageTeacherReview
	app.TeacherReviewStarted = &startedAt
	app.Version++
	return nil
}

func (r *applicationRepoStub) StartToReview(ctx context.Context, id string, startedAt time.Time) error {
	app, ok := r.apps[id]
	if !ok || app.Status != models.StatusTeacherApproved {
		return sql.ErrNoRows
	}
	app.Status = models.StatusToReviewing
	app.ToReviewStarted = &startedAt
	app.Version++
	return nil
}

func (r *applicationRepoStub) SetTeacherDecision(ctx context.Context, params repository.TeacherDecisionParams) error {
	app, ok := r.apps[params.ID]
	if !ok || (app.Status != models.StatusPending && app.Status != models.StatusTeacherReviewing) {
		return sql.ErrNoRows
	}
	app.TeacherReviewedBy = &params.ReviewedBy
	app.TeacherDecision = &params.Decision
	app.TeacherComments = &params.Comments
	app.TeacherReviewedAt = &params.ReviewedAt
	if app.TeacherReviewStarted == nil {
		app.TeacherReviewStarted = &params.ReviewedAt
	}
	app.Status = params.Status
	app.Stage = params.Stage
	app.CompletedAt = params.CompletedAt
	app.Version++
	return nil
}

func (r *applicationRepoStub) SetToDecision(ctx context.Context, params repository.ToDecisionParams) error {
	app, ok := r.apps[params.ID]
	if !ok || (app.Status != models.StatusTeacherApproved && app.Status != models.StatusToReviewing) {
		return sql.ErrNoRows
	}
	app.ToReviewedBy = &params.ReviewedBy
	app.ToDecision = &params.Decision
	app.ToComments = &params.Comments
	app.ToRejectionReason = params.RejectionReason
	app.ToReviewedAt = &params.ReviewedAt
	if app.ToReviewStarted == nil {
		app.ToReviewStarted = &params.ReviewedAt
	}
	app.Status = params.Status
	app.Stage = models.StageCompleted
	completed := params.CompletedAt
	app.CompletedAt = &completed
	app.Version++
	return nil
}

type directoryStub struct {
	users map[string]*models.User
}

func (d *directoryStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := d.users[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

type recorderStub struct {
	logs []*models.AuditLog
}

func (r *recorderStub) Record(ctx context.Context, log *models.AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func teacherClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher}
}

func officerClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTrainingOfficer}
}

func newWorkflowFixture() (*ApplicationService, *applicationRepoStub, *recorderStub) {
	repo := newApplicationRepoStub()
	number := "S-2031"
	course := "Networks"
	users := &directoryStub{users: map[string]*models.User{
		"student-1": {ID: "student-1", FullName: "Alice Tan", Role: models.RoleStudent, StudentNumber: &number, Course: &course, Active: true},
	}}
	audit := &recorderStub{}
	svc := NewApplicationService(repo, users, audit, nil, nil, nil, nil)
	return svc, repo, audit
}

func submitRequest(start, end time.Time) dto.SubmitApplicationRequest {
	return dto.SubmitApplicationRequest{
		LeaveType: "MEDICAL",
		StartDate: start.Format("2006-01-02"),
		EndDate:   end.Format("2006-01-02"),
		Reason:    "scheduled surgery",
		Priority:  "high",
	}
}

func TestApplicationServiceSubmit(t *testing.T) {
	svc, _, audit := newWorkflowFixture()
	start := time.Now().UTC().AddDate(0, 0, 7)
	end := start.AddDate(0, 0, 2)

	app, err := svc.Submit(context.Background(), submitRequest(start, end), studentClaims("student-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, app.Status)
	require.Equal(t, models.StageStudentSubmitted, app.Stage)
	require.Equal(t, 3, app.TotalDays)
	require.Equal(t, "Alice Tan", app.StudentName)
	require.Equal(t, "S-2031", app.StudentNumber)
	require.Equal(t, "Networks", app.Course)
	require.Equal(t, 1, app.Version)
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionLeaveSubmit, audit.logs[0].Action)
}

func TestApplicationServiceSubmitValidation(t *testing.T) {
	svc, _, _ := newWorkflowFixture()
	start := time.Now().UTC().AddDate(0, 0, 7)
	end := start.AddDate(0, 0, 1)

	t.Run("urgent requires urgency reason", func(t *testing.T) {
		req := submitRequest(start, end)
		req.Priority = "urgent"
		_, err := svc.Submit(context.Background(), req, studentClaims("student-1"))
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	})

	t.Run("end before start", func(t *testing.T) {
		req := submitRequest(end, start)
		_, err := svc.Submit(context.Background(), req, studentClaims("student-1"))
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	})

	t.Run("start in the past", func(t *testing.T) {
		past := time.Now().UTC().AddDate(0, 0, -3)
		req := submitRequest(past, past.AddDate(0, 0, 1))
		_, err := svc.Submit(context.Background(), req, studentClaims("student-1"))
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	})

	t.Run("blank reason", func(t *testing.T) {
		req := submitRequest(start, end)
		req.Reason = "   "
		_, err := svc.Submit(context.Background(), req, studentClaims("student-1"))
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	})

	t.Run("teacher may not submit", func(t *testing.T) {
		_, err := svc.Submit(context.Background(), submitRequest(start, end), teacherClaims("teacher-1"))
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
	})
}

func TestApplicationServiceStartTeacherReviewIdempotent(t *testing.T) {
	svc, repo, _ := newWorkflowFixture()
	start := time.Now().UTC().AddDate(0, 0, 7)
	app, err := svc.Submit(context.Background(), submitRequest(start, start), studentClaims("student-1"))
	require.NoError(t, err)

	first, err := svc.StartTeacherReview(context.Background(), app.ID, teacherClaims("teacher-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusTeacherReviewing, first.Status)
	require.NotNil(t, first.TeacherReviewStarted)
	startedAt := *first.TeacherReviewStarted

	second, err := svc.StartTeacherReview(context.Background(), app.ID, teacherClaims("teacher-2"))
	require.NoError(t, err)
	require.Equal(t, models.StatusTeacherReviewing, second.Status)
	require.Equal(t, startedAt, *second.TeacherReviewStarted)
	require.Equal(t, first.Version, repo.apps[app.ID].Version)
}

func TestApplicationServiceTeacherReject(t *testing.T) {
	svc, _, _ := newWorkflowFixture()
	start := time.Now().UTC().AddDate(0, 0, 7)
	app, err := svc.Submit(context.Background(), submitRequest(start, start), studentClaims("student-1"))
	require.NoError(t, err)

	_, err = svc.StartTeacherReview(context.Background(), app.ID, teacherClaims("teacher-1"))
	require.NoError(t, err)

	reviewed, err := svc.SubmitTeacherReview(context.Background(), app.ID, dto.TeacherReviewRequest{
		Status:   "rejected",
		Comments: "overlaps the assessment week",
	}, teacherClaims("teacher-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, reviewed.Status)
	require.Equal(t, models.StageCompleted, reviewed.Stage)
	require.NotNil(t, reviewed.CompletedAt)
	require.NotNil(t, reviewed.TeacherReview())
	require.Equal(t, models.DecisionRejected, *reviewed.TeacherReview().Status)

	// Terminal: the training officer can no longer act on it.
	_, err = svc.StartToReview(context.Background(), app.ID, officerClaims("to-1"))
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrInvalidState.Code, appErr.Code)
}

func TestApplicationServiceTeacherReviewValidation(t *testing.T) {
	svc, _, _ := newWorkflowFixture()
	start := time.Now().UTC().AddDate(0, 0, 7)
	app, err := svc.Submit(context.Background(), submitRequest(start, start), studentClaims("student-1"))
	require.NoError(t, err)

	t.Run("blank comments", func(t *testing.T) {
		_, err := svc.SubmitTeacherReview(context.Background(), app.ID, dto.TeacherReviewRequest{
			Status:   "approved",
			Comments: "   ",
		}, teacherClaims("teacher-1"))
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	})

	t.Run("unknown decision", func(t *testing.T) {
		_, err := svc.SubmitTeacherReview(context.Background(), app.ID, dto.TeacherReviewRequest{
			Status:   "deferred",
			Comments: "later",
		}, teacherClaims("teacher-1"))
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	})

	t.Run("student may not review", func(t *testing.T) {
		_, err := svc.SubmitTeacherReview(context.Background(), app.ID, dto.TeacherReviewRequest{
			Status:   "approved",
			Comments: "fine",
		}, studentClaims("student-1"))
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
	})
}

func TestApplicationServiceToReviewRequiresTeacherApproval(t *testing.T) {
	svc, _, _ := newWorkflowFixture()
	start := time.Now().UTC().AddDate(0, 0, 7)
	app, err := svc.Submit(context.Background(), submitRequest(start, start), studentClaims("student-1"))
	require.NoError(t, err)

	_, err = svc.SubmitToReview(context.Background(), app.ID, dto.ToReviewRequest{
		Status:   "approved",
		Comments: "cleared",
	}, officerClaims("to-1"))
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrInvalidState.Code, appErr.Code)
}

func TestApplicationServiceFullWorkflowToRejection(t *testing.T) {
	svc, _, audit := newWorkflowFixture()
	start := time.Now().UTC().AddDate(0, 0, 7)
	app, err := svc.Submit(context.Background(), submitRequest(start, start.AddDate(0, 0, 2)), studentClaims("student-1"))
	require.NoError(t, err)

	_, err = svc.StartTeacherReview(context.Background(), app.ID, teacherClaims("teacher-1"))
	require.NoError(t, err)

	approved, err := svc.SubmitTeacherReview(context.Background(), app.ID, dto.TeacherReviewRequest{
		Status:   "approved",
		Comments: "supporting documents attached",
	}, teacherClaims("teacher-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusTeacherApproved, approved.Status)
	require.Equal(t, models.StageToReview, approved.Stage)
	require.Nil(t, approved.CompletedAt)
	require.Equal(t, 75, approved.Progress().Percent)

	_, err = svc.StartToReview(context.Background(), app.ID, officerClaims("to-1"))
	require.NoError(t, err)

	t.Run("rejection requires reason", func(t *testing.T) {
		_, err := svc.SubmitToReview(context.Background(), app.ID, dto.ToReviewRequest{
			Status:   "rejected",
			Comments: "quota exceeded",
		}, officerClaims("to-1"))
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	})

	final, err := svc.SubmitToReview(context.Background(), app.ID, dto.ToReviewRequest{
		Status:          "rejected",
		Comments:        "quota exceeded",
		RejectionReason: "department leave quota exhausted for the term",
	}, officerClaims("to-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, final.Status)
	require.Equal(t, models.StageCompleted, final.Stage)
	require.NotNil(t, final.CompletedAt)
	require.Equal(t, 100, final.Progress().Percent)
	require.NotNil(t, final.TeacherReview())
	require.Equal(t, models.DecisionApproved, *final.TeacherReview().Status)
	require.NotNil(t, final.ToReview())
	require.Equal(t, models.DecisionRejected, *final.ToReview().Status)
	require.Equal(t, "department leave quota exhausted for the term", final.ToReview().RejectionReason)
	require.Len(t, audit.logs, 5)
}

func TestApplicationServiceGetScoping(t *testing.T) {
	svc, repo, _ := newWorkflowFixture()
	start := time.Now().UTC().AddDate(0, 0, 7)
	app, err := svc.Submit(context.Background(), submitRequest(start, start), studentClaims("student-1"))
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), app.ID, studentClaims("student-1"))
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), app.ID, studentClaims("student-2"))
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	_, err = svc.Get(context.Background(), "missing", teacherClaims("teacher-1"))
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)

	require.NotEmpty(t, repo.apps)
}

func TestApplicationServiceListScopesStudents(t *testing.T) {
	svc, repo, _ := newWorkflowFixture()
	start := time.Now().UTC().AddDate(0, 0, 7)
	_, err := svc.Submit(context.Background(), submitRequest(start, start), studentClaims("student-1"))
	require.NoError(t, err)

	apps, pagination, err := svc.List(context.Background(), dto.ApplicationQuery{StudentID: "someone-else"}, studentClaims("student-1"))
	require.NoError(t, err)
	require.Len(t, apps, 1)
	require.Equal(t, "student-1", repo.filter.StudentID)
	require.Equal(t, 1, pagination.TotalCount)
	require.Equal(t, 50, pagination.PageSize)
}
