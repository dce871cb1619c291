package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campuskit/leaveflow/internal/models"
)

const applicationColumns = `id, student_id, student_name, student_number, course, leave_type, start_date, end_date,
       total_days, reason, priority, urgency_reason, status, current_stage, version, submitted_at, completed_at,
       teacher_reviewed_by, teacher_decision, teacher_comments, teacher_review_started, teacher_reviewed_at,
       to_reviewed_by, to_decision, to_comments, to_rejection_reason, to_review_started, to_reviewed_at`

// ApplicationRepository persists leave applications and performs guarded
// workflow writes. Every transition re-checks the expected status in the
// UPDATE's WHERE clause; zero affected rows means the guard failed.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// Create inserts a new application row.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.LeaveApplication) error {
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
	const query = `INSERT INTO leave_applications
	(id, student_id, student_name, student_number, course, leave_type, start_date, end_date, total_days, reason,
	 priority, urgency_reason, status, current_stage, version, submitted_at, completed_at)
	VALUES (:id, :student_id, :student_name, :student_number, :course, :leave_type, :start_date, :end_date,
	 :total_days, :reason, :priority, :urgency_reason, :status, :current_stage, :version, :submitted_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, app); err != nil {
		return fmt.Errorf("create leave application: %w", err)
	}
	return nil
}

// GetByID fetches an application by identifier.
func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*models.LeaveApplication, error) {
	query := `SELECT ` + applicationColumns + ` FROM leave_applications WHERE id = $1`
	var app models.LeaveApplication
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// List returns applications matching the filter with a total count, newest first.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.LeaveApplication, int, error) {
	conditions := make([]string, 0, 4)
	args := make([]interface{}, 0, 6)

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("leave_type = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM leave_applications" + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count leave applications: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	query := `SELECT ` + applicationColumns + ` FROM leave_applications` + where +
		fmt.Sprintf(" ORDER BY submitted_at DESC, id DESC LIMIT %d OFFSET %d", pageSize, offset)

	var apps []models.LeaveApplication
	if err := r.db.SelectContext(ctx, &apps, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list leave applications: %w", err)
	}
	return apps, total, nil
}

// CountByStatus aggregates application counts per status.
func (r *ApplicationRepository) CountByStatus(ctx context.Context) (map[models.ApplicationStatus]int, error) {
	const query = `SELECT status, COUNT(*) AS count FROM leave_applications GROUP BY status`
	rows := []struct {
		Status models.ApplicationStatus `db:"status"`
		Count  int                      `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count applications by status: %w", err)
	}
	counts := make(map[models.ApplicationStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// StartTeacherReview moves a pending application into teacher review. The
// status guard makes the write a no-op when another reviewer got there first.
func (r *ApplicationRepository) StartTeacherReview(ctx context.Context, id string, startedAt time.Time) error {
	const query = `UPDATE leave_applications
	SET status = $2, current_stage = $3, teacher_review_started = $4, version = version + 1
	WHERE id = $1 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, id,
		models.StatusTeacherReviewing, models.StageTeacherReview, startedAt, models.StatusPending)
	if err != nil {
		return fmt.Errorf("start teacher review: %w", err)
	}
	return requireRowAffected(result, "start teacher review")
}

// StartToReview moves a teacher-approved application into training-officer review.
func (r *ApplicationRepository) StartToReview(ctx context.Context, id string, startedAt time.Time) error {
	const query = `UPDATE leave_applications
	SET status = $2, to_review_started = $3, version = version + 1
	WHERE id = $1 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, id,
		models.StatusToReviewing, startedAt, models.StatusTeacherApproved)
	if err != nil {
		return fmt.Errorf("start training officer review: %w", err)
	}
	return requireRowAffected(result, "start training officer review")
}

// TeacherDecisionParams groups the columns written by a teacher decision.
type TeacherDecisionParams struct {
	ID          string
	ReviewedBy  string
	Decision    models.ReviewDecision
	Comments    string
	ReviewedAt  time.Time
	Status      models.ApplicationStatus
	Stage       models.ApplicationStage
	CompletedAt *time.Time
}

// SetTeacherDecision persists the teacher's decision. Legal prior statuses are
// pending (implicit review start) and teacher_reviewing; review_started is
// backfilled for the implicit case.
func (r *ApplicationRepository) SetTeacherDecision(ctx context.Context, params TeacherDecisionParams) error {
	query := fmt.Sprintf(`UPDATE leave_applications
	SET teacher_reviewed_by = :reviewed_by, teacher_decision = :decision, teacher_comments = :comments,
	    teacher_reviewed_at = :reviewed_at, teacher_review_started = COALESCE(teacher_review_started, :reviewed_at),
	    status = :status, current_stage = :stage, completed_at = :completed_at, version = version + 1
	WHERE id = :id AND status IN ('%s', '%s')`, models.StatusPending, models.StatusTeacherReviewing)
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":           params.ID,
		"reviewed_by":  params.ReviewedBy,
		"decision":     params.Decision,
		"comments":     params.Comments,
		"reviewed_at":  params.ReviewedAt,
		"status":       params.Status,
		"stage":        params.Stage,
		"completed_at": params.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("set teacher decision: %w", err)
	}
	return requireRowAffected(result, "set teacher decision")
}

// ToDecisionParams groups the columns written by a training-officer decision.
type ToDecisionParams struct {
	ID              string
	ReviewedBy      string
	Decision        models.ReviewDecision
	Comments        string
	RejectionReason *string
	ReviewedAt      time.Time
	Status          models.ApplicationStatus
	CompletedAt     time.Time
}

// SetToDecision persists the training officer's decision. Legal prior statuses
// are teacher_approved (implicit review start) and to_reviewing.
func (r *ApplicationRepository) SetToDecision(ctx context.Context, params ToDecisionParams) error {
	query := fmt.Sprintf(`UPDATE leave_applications
	SET to_reviewed_by = :reviewed_by, to_decision = :decision, to_comments = :comments,
	    to_rejection_reason = :rejection_reason, to_reviewed_at = :reviewed_at,
	    to_review_started = COALESCE(to_review_started, :reviewed_at),
	    status = :status, current_stage = :stage, completed_at = :completed_at, version = version + 1
	WHERE id = :id AND status IN ('%s', '%s')`, models.StatusTeacherApproved, models.StatusToReviewing)
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":               params.ID,
		"reviewed_by":      params.ReviewedBy,
		"decision":         params.Decision,
		"comments":         params.Comments,
		"rejection_reason": params.RejectionReason,
		"reviewed_at":      params.ReviewedAt,
		"status":           params.Status,
		"stage":            models.StageCompleted,
		"completed_at":     params.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("set training officer decision: %w", err)
	}
	return requireRowAffected(result, "set training officer decision")
}

func requireRowAffected(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
