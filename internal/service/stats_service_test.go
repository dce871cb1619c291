package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campuskit/leaveflow/internal/models"
)

type statsStoreStub struct {
	counts map[models.ApplicationStatus]int
	calls  int
}

func (s *statsStoreStub) CountByStatus(ctx context.Context) (map[models.ApplicationStatus]int, error) {
	s.calls++
	return s.counts, nil
}

func TestStatsServiceOverview(t *testing.T) {
	store := &statsStoreStub{counts: map[models.ApplicationStatus]int{
		models.StatusApproved:         2,
		models.StatusRejected:         1,
		models.StatusPending:          1,
		models.StatusTeacherReviewing: 1,
		models.StatusTeacherApproved:  2,
		models.StatusToReviewing:      1,
	}}
	svc := NewStatsService(store, nil, nil)

	overview, fromCache, err := svc.Overview(context.Background())
	require.NoError(t, err)
	require.False(t, fromCache)
	require.Equal(t, 8, overview.Total)
	require.Equal(t, 4, overview.InProgress)
	require.Equal(t, 2, overview.PendingTeacherQueue)
	require.Equal(t, 3, overview.PendingToQueue)
	require.Equal(t, 1, store.calls)
}

func TestStatsServiceOverviewEmpty(t *testing.T) {
	store := &statsStoreStub{counts: map[models.ApplicationStatus]int{}}
	svc := NewStatsService(store, nil, nil)

	overview, _, err := svc.Overview(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, overview.Total)
	require.Equal(t, 0, overview.InProgress)
	require.Equal(t, 0, overview.PendingTeacherQueue)
	require.Equal(t, 0, overview.PendingToQueue)
}
