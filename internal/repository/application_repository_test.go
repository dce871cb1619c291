package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/leaveflow/internal/models"
)

func newApplicationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func applicationColumnsList() []string {
	return []string{
		"id", "student_id", "student_name", "student_number", "course", "leave_type", "start_date", "end_date",
		"total_days", "reason", "priority", "urgency_reason", "status", "current_stage", "version", "submitted_at", "completed_at",
		"teacher_reviewed_by", "teacher_decision", "teacher_comments", "teacher_review_started", "teacher_reviewed_at",
		"to_reviewed_by", "to_decision", "to_comments", "to_rejection_reason", "to_review_started", "to_reviewed_at",
	}
}

func TestApplicationRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO leave_applications")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	app := &models.LeaveApplication{
		StudentID:   "student-1",
		StudentName: "Maya Chen",
		Type:        models.LeaveTypeMedical,
		StartDate:   time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2025, 8, 3, 0, 0, 0, 0, time.UTC),
		TotalDays:   3,
		Reason:      "Medical",
		Priority:    models.PriorityMedium,
	}
	require.NoError(t, repo.Create(context.Background(), app))
	require.NotEmpty(t, app.ID)
	require.Equal(t, models.StatusPending, app.Status)
	require.Equal(t, models.StageStudentSubmitted, app.Stage)
	require.Equal(t, 1, app.Version)
	require.False(t, app.SubmittedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(applicationColumnsList()).
		AddRow("app-1", "student-1", "Maya Chen", "S-1001", "Networking", "MEDICAL",
			now, now.Add(48*time.Hour), 3, "flu", "medium", nil, "pending", "student_submitted", 1, now, nil,
			nil, nil, nil, nil, nil,
			nil, nil, nil, nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, student_name")).
		WithArgs("app-1").
		WillReturnRows(rows)

	found, err := repo.GetByID(context.Background(), "app-1")
	require.NoError(t, err)
	require.Equal(t, "app-1", found.ID)
	require.Equal(t, models.StatusPending, found.Status)
	require.Nil(t, found.TeacherReview())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM leave_applications")).
		WithArgs("pending", "teacher_reviewing", "MEDICAL").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows := sqlmock.NewRows(applicationColumnsList()).
		AddRow("app-1", "student-1", "Maya Chen", "S-1001", "Networking", "MEDICAL",
			now, now, 1, "flu", "high", nil, "pending", "student_submitted", 1, now, nil,
			nil, nil, nil, nil, nil,
			nil, nil, nil, nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, student_name")).
		WithArgs("pending", "teacher_reviewing", "MEDICAL").
		WillReturnRows(rows)

	apps, total, err := repo.List(context.Background(), models.ApplicationFilter{
		Statuses: []models.ApplicationStatus{models.StatusPending, models.StatusTeacherReviewing},
		Type:     models.LeaveTypeMedical,
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, apps, 1)
	require.Equal(t, "app-1", apps[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("approved", 2).
		AddRow("pending", 1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM leave_applications GROUP BY status")).
		WillReturnRows(rows)

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, counts[models.StatusApproved])
	require.Equal(t, 1, counts[models.StatusPending])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryStartTeacherReviewGuard(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE leave_applications")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.StartTeacherReview(context.Background(), "app-1", now))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE leave_applications")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.StartTeacherReview(context.Background(), "app-1", now)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositorySetTeacherDecisionGuard(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	now := time.Now().UTC()
	params := TeacherDecisionParams{
		ID:         "app-1",
		ReviewedBy: "teacher-1",
		Decision:   models.DecisionApproved,
		Comments:   "Looks fine",
		ReviewedAt: now,
		Status:     models.StatusTeacherApproved,
		Stage:      models.StageToReview,
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE leave_applications")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetTeacherDecision(context.Background(), params))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE leave_applications")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.SetTeacherDecision(context.Background(), params)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositorySetToDecisionGuard(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	now := time.Now().UTC()
	reason := "Policy"
	params := ToDecisionParams{
		ID:              "app-1",
		ReviewedBy:      "to-1",
		Decision:        models.DecisionRejected,
		Comments:        "Insufficient notice",
		RejectionReason: &reason,
		ReviewedAt:      now,
		Status:          models.StatusRejected,
		CompletedAt:     now,
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE leave_applications")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetToDecision(context.Background(), params))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE leave_applications")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.SetToDecision(context.Background(), params)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
