package dto

import (
	"time"

	"github.com/campuskit/leaveflow/internal/models"
)

// SubmitApplicationRequest is the payload for a student leave submission.
// Dates use the YYYY-MM-DD calendar form.
type SubmitApplicationRequest struct {
	LeaveType     string `json:"leaveType" validate:"required"`
	StartDate     string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate       string `json:"endDate" validate:"required,datetime=2006-01-02"`
	Reason        string `json:"reason" validate:"required"`
	Priority      string `json:"priority" validate:"required"`
	UrgencyReason string `json:"urgencyReason"`
}

// TeacherReviewRequest captures the teacher's decision and mandatory comments.
type TeacherReviewRequest struct {
	Status   string `json:"status" validate:"required,oneof=approved rejected"`
	Comments string `json:"comments" validate:"required"`
}

// ToReviewRequest captures the training officer's decision. A rejection also
// requires a rejection reason.
type ToReviewRequest struct {
	Status          string `json:"status" validate:"required,oneof=approved rejected"`
	Comments        string `json:"comments" validate:"required"`
	RejectionReason string `json:"rejectionReason"`
}

// ApplicationQuery mirrors supported listing filters.
type ApplicationQuery struct {
	Statuses  []models.ApplicationStatus
	StudentID string
	Type      models.LeaveType
	Priority  models.LeavePriority
	Page      int
	PageSize  int
}

// ApplicationResponse enriches the stored record with the review sub-records
// and the progress projection recomputed at read time.
type ApplicationResponse struct {
	models.LeaveApplication
	TeacherReview *models.ReviewRecord `json:"teacherReview,omitempty"`
	ToReview      *models.ReviewRecord `json:"toReview,omitempty"`
	Progress      models.Progress      `json:"progress"`
}

// NewApplicationResponse projects a stored application for API consumption.
func NewApplicationResponse(app *models.LeaveApplication) ApplicationResponse {
	return ApplicationResponse{
		LeaveApplication: *app,
		TeacherReview:    app.TeacherReview(),
		ToReview:         app.ToReview(),
		Progress:         app.Progress(),
	}
}

// NewApplicationResponses projects a list of applications.
func NewApplicationResponses(apps []models.LeaveApplication) []ApplicationResponse {
	responses := make([]ApplicationResponse, len(apps))
	for i := range apps {
		responses[i] = NewApplicationResponse(&apps[i])
	}
	return responses
}

// StatsResponse wraps the aggregate with reviewer queue lengths.
type StatsResponse struct {
	models.Statistics
	PendingTeacherQueue int `json:"pendingTeacherQueue"`
	PendingToQueue      int `json:"pendingToQueue"`
}

// ExportResponse describes a generated register export download.
type ExportResponse struct {
	URL       string    `json:"url"`
	Format    string    `json:"format"`
	ExpiresAt time.Time `json:"expiresAt"`
}
