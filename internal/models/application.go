package models

import (
	"strings"
	"time"
)

// LeaveType enumerates supported leave categories.
type LeaveType string

const (
	LeaveTypeMedical         LeaveType = "MEDICAL"
	LeaveTypePersonal        LeaveType = "PERSONAL"
	LeaveTypeFamilyEmergency LeaveType = "FAMILY_EMERGENCY"
	LeaveTypeAcademic        LeaveType = "ACADEMIC"
	LeaveTypeOther           LeaveType = "OTHER"
)

// Valid reports whether the leave type is one of the supported categories.
func (t LeaveType) Valid() bool {
	switch t {
	case LeaveTypeMedical, LeaveTypePersonal, LeaveTypeFamilyEmergency, LeaveTypeAcademic, LeaveTypeOther:
		return true
	}
	return false
}

// LeavePriority ranks how urgent an application is.
type LeavePriority string

const (
	PriorityLow    LeavePriority = "low"
	PriorityMedium LeavePriority = "medium"
	PriorityHigh   LeavePriority = "high"
	PriorityUrgent LeavePriority = "urgent"
)

// Valid reports whether the priority is a known value.
func (p LeavePriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ApplicationStatus is the fine-grained workflow state used for filtering and display.
type ApplicationStatus string

const (
	StatusPending          ApplicationStatus = "pending"
	StatusTeacherReviewing ApplicationStatus = "teacher_reviewing"
	StatusTeacherApproved  ApplicationStatus = "teacher_approved"
	StatusToReviewing      ApplicationStatus = "to_reviewing"
	StatusApproved         ApplicationStatus = "approved"
	StatusRejected         ApplicationStatus = "rejected"
)

// Terminal reports whether no further transitions are permitted.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ApplicationStage is the coarse phase used for progress derivation.
type ApplicationStage string

const (
	StageStudentSubmitted ApplicationStage = "student_submitted"
	StageTeacherReview    ApplicationStage = "teacher_review"
	StageToReview         ApplicationStage = "to_review"
	StageCompleted        ApplicationStage = "completed"
)

// stageOrder fixes the progression used for percentage derivation.
var stageOrder = []ApplicationStage{StageStudentSubmitted, StageTeacherReview, StageToReview, StageCompleted}

// StageIndex returns the zero-based position of the stage, or -1 when unknown.
func StageIndex(stage ApplicationStage) int {
	for i, s := range stageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// ReviewDecision is the outcome recorded by a reviewer.
type ReviewDecision string

const (
	DecisionApproved ReviewDecision = "approved"
	DecisionRejected ReviewDecision = "rejected"
)

// LeaveApplication is a leave request moving through the two-stage approval workflow.
// Review fields are stored flat; TeacherReview/ToReview group them for API payloads.
type LeaveApplication struct {
	ID            string            `db:"id" json:"id"`
	StudentID     string            `db:"student_id" json:"studentId"`
	StudentName   string            `db:"student_name" json:"studentName"`
	StudentNumber string            `db:"student_number" json:"studentNumber"`
	Course        string            `db:"course" json:"course"`
	Type          LeaveType         `db:"leave_type" json:"leaveType"`
	StartDate     time.Time         `db:"start_date" json:"startDate"`
	EndDate       time.Time         `db:"end_date" json:"endDate"`
	TotalDays     int               `db:"total_days" json:"totalDays"`
	Reason        string            `db:"reason" json:"reason"`
	Priority      LeavePriority     `db:"priority" json:"priority"`
	UrgencyReason *string           `db:"urgency_reason" json:"urgencyReason,omitempty"`
	Status        ApplicationStatus `db:"status" json:"status"`
	Stage         ApplicationStage  `db:"current_stage" json:"currentStage"`
	Version       int               `db:"version" json:"version"`
	SubmittedAt   time.Time         `db:"submitted_at" json:"submittedDate"`
	CompletedAt   *time.Time        `db:"completed_at" json:"completedDate,omitempty"`

	TeacherReviewedBy    *string         `db:"teacher_reviewed_by" json:"-"`
	TeacherDecision      *ReviewDecision `db:"teacher_decision" json:"-"`
	TeacherComments      *string         `db:"teacher_comments" json:"-"`
	TeacherReviewStarted *time.Time      `db:"teacher_review_started" json:"-"`
	TeacherReviewedAt    *time.Time      `db:"teacher_reviewed_at" json:"-"`

	ToReviewedBy      *string         `db:"to_reviewed_by" json:"-"`
	ToDecision        *ReviewDecision `db:"to_decision" json:"-"`
	ToComments        *string         `db:"to_comments" json:"-"`
	ToRejectionReason *string         `db:"to_rejection_reason" json:"-"`
	ToReviewStarted   *time.Time      `db:"to_review_started" json:"-"`
	ToReviewedAt      *time.Time      `db:"to_reviewed_at" json:"-"`
}

// ReviewRecord groups one review stage's fields for API payloads.
type ReviewRecord struct {
	ReviewedBy      string          `json:"reviewedBy,omitempty"`
	Status          *ReviewDecision `json:"status,omitempty"`
	Comments        string          `json:"comments,omitempty"`
	RejectionReason string          `json:"rejectionReason,omitempty"`
	ReviewDate      *time.Time      `json:"reviewDate,omitempty"`
	ReviewStarted   *time.Time      `json:"reviewStarted,omitempty"`
}

// TeacherReview returns the teacher review sub-record, or nil when the stage has not begun.
func (a *LeaveApplication) TeacherReview() *ReviewRecord {
	if a.TeacherReviewStarted == nil && a.TeacherDecision == nil {
		return nil
	}
	record := &ReviewRecord{
		Status:        a.TeacherDecision,
		ReviewDate:    a.TeacherReviewedAt,
		ReviewStarted: a.TeacherReviewStarted,
	}
	if a.TeacherReviewedBy != nil {
		record.ReviewedBy = *a.TeacherReviewedBy
	}
	if a.TeacherComments != nil {
		record.Comments = *a.TeacherComments
	}
	return record
}

// ToReview returns the training-officer review sub-record, or nil when the stage has not begun.
func (a *LeaveApplication) ToReview() *ReviewRecord {
	if a.ToReviewStarted == nil && a.ToDecision == nil {
		return nil
	}
	record := &ReviewRecord{
		Status:        a.ToDecision,
		ReviewDate:    a.ToReviewedAt,
		ReviewStarted: a.ToReviewStarted,
	}
	if a.ToReviewedBy != nil {
		record.ReviewedBy = *a.ToReviewedBy
	}
	if a.ToComments != nil {
		record.Comments = *a.ToComments
	}
	if a.ToRejectionReason != nil {
		record.RejectionReason = *a.ToRejectionReason
	}
	return record
}

// Progress is the percentage-complete projection shown on dashboards.
type Progress struct {
	Percent    int    `json:"percent"`
	StageLabel string `json:"stageLabel"`
}

// Progress derives the projection from the stored stage. It is recomputed on
// every read and never cached alongside the record.
func (a *LeaveApplication) Progress() Progress {
	return StageProgress(a.Stage)
}

// StageProgress maps a stage onto its percentage and display label.
func StageProgress(stage ApplicationStage) Progress {
	idx := StageIndex(stage)
	if idx < 0 {
		return Progress{Percent: 0, StageLabel: strings.ToUpper(strings.ReplaceAll(string(stage), "_", " "))}
	}
	return Progress{
		Percent:    (idx + 1) * 100 / len(stageOrder),
		StageLabel: strings.ToUpper(strings.ReplaceAll(string(stage), "_", " ")),
	}
}

// Statistics aggregates application counts. Every status is enumerated
// explicitly; InProgress is the sum of the three intermediate statuses rather
// than a subtraction, so adding a status can never be silently absorbed.
type Statistics struct {
	Total            int `json:"total"`
	Approved         int `json:"approved"`
	Rejected         int `json:"rejected"`
	Pending          int `json:"pending"`
	TeacherReviewing int `json:"teacherReviewing"`
	TeacherApproved  int `json:"teacherApproved"`
	ToReviewing      int `json:"toReviewing"`
	InProgress       int `json:"inProgress"`
}

// StatisticsFromCounts builds the aggregate from per-status counts.
func StatisticsFromCounts(counts map[ApplicationStatus]int) Statistics {
	stats := Statistics{
		Approved:         counts[StatusApproved],
		Rejected:         counts[StatusRejected],
		Pending:          counts[StatusPending],
		TeacherReviewing: counts[StatusTeacherReviewing],
		TeacherApproved:  counts[StatusTeacherApproved],
		ToReviewing:      counts[StatusToReviewing],
	}
	stats.InProgress = stats.TeacherReviewing + stats.TeacherApproved + stats.ToReviewing
	stats.Total = stats.Approved + stats.Rejected + stats.Pending + stats.InProgress
	return stats
}

// ComputeStatistics aggregates an in-memory application set.
func ComputeStatistics(applications []LeaveApplication) Statistics {
	counts := make(map[ApplicationStatus]int, len(applications))
	for _, app := range applications {
		counts[app.Status]++
	}
	return StatisticsFromCounts(counts)
}

// ApplicationFilter constrains listing queries.
type ApplicationFilter struct {
	Statuses  []ApplicationStatus
	StudentID string
	Type      LeaveType
	Priority  LeavePriority
	Page      int
	PageSize  int
}
