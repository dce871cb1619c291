package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStageProgress(t *testing.T) {
	cases := []struct {
		stage   ApplicationStage
		percent int
		label   string
	}{
		{StageStudentSubmitted, 25, "STUDENT SUBMITTED"},
		{StageTeacherReview, 50, "TEACHER REVIEW"},
		{StageToReview, 75, "TO REVIEW"},
		{StageCompleted, 100, "COMPLETED"},
	}
	for _, tc := range cases {
		progress := StageProgress(tc.stage)
		require.Equal(t, tc.percent, progress.Percent, "stage %s", tc.stage)
		require.Equal(t, tc.label, progress.StageLabel, "stage %s", tc.stage)
	}
}

func TestStageProgressUnknownStage(t *testing.T) {
	progress := StageProgress(ApplicationStage("archived"))
	require.Equal(t, 0, progress.Percent)
}

func TestComputeStatistics(t *testing.T) {
	apps := []LeaveApplication{
		{Status: StatusApproved},
		{Status: StatusApproved},
		{Status: StatusRejected},
		{Status: StatusPending},
		{Status: StatusTeacherReviewing},
	}

	stats := ComputeStatistics(apps)
	require.Equal(t, 5, stats.Total)
	require.Equal(t, 2, stats.Approved)
	require.Equal(t, 1, stats.Rejected)
	require.Equal(t, 1, stats.Pending)
	require.Equal(t, 1, stats.InProgress)
}

func TestComputeStatisticsEnumeratesIntermediates(t *testing.T) {
	apps := []LeaveApplication{
		{Status: StatusTeacherReviewing},
		{Status: StatusTeacherApproved},
		{Status: StatusToReviewing},
	}

	stats := ComputeStatistics(apps)
	require.Equal(t, 3, stats.InProgress)
	require.Equal(t, 1, stats.TeacherReviewing)
	require.Equal(t, 1, stats.TeacherApproved)
	require.Equal(t, 1, stats.ToReviewing)
}

func TestStatusTerminal(t *testing.T) {
	require.True(t, StatusApproved.Terminal())
	require.True(t, StatusRejected.Terminal())
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusTeacherApproved.Terminal())
}
