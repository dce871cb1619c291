package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/campuskit/leaveflow/internal/dto"
	"github.com/campuskit/leaveflow/internal/models"
	appErrors "github.com/campuskit/leaveflow/pkg/errors"
)

const statsCacheKey = "leave:stats"

type statsStore interface {
	CountByStatus(ctx context.Context) (map[models.ApplicationStatus]int, error)
}

// StatsService aggregates workflow statistics with cache integration. The
// cache entry is invalidated by every workflow transition, so staleness is
// bounded by the configured TTL even if an invalidation is missed.
type StatsService struct {
	repo   statsStore
	cache  *CacheService
	logger *zap.Logger
}

// NewStatsService constructs the service. The cache may be nil.
func NewStatsService(repo statsStore, cache *CacheService, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{repo: repo, cache: cache, logger: logger}
}

// Overview returns the aggregate counts plus reviewer queue lengths. The
// boolean indicates whether data originated from cache.
func (s *StatsService) Overview(ctx context.Context) (*dto.StatsResponse, bool, error) {
	var cached dto.StatsResponse
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, statsCacheKey, &cached); err != nil {
			return nil, false, fmt.Errorf("get stats cache: %w", err)
		} else if hit {
			return &cached, true, nil
		}
	}

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate statistics")
	}
	stats := models.StatisticsFromCounts(counts)
	response := &dto.StatsResponse{
		Statistics:          stats,
		PendingTeacherQueue: stats.Pending + stats.TeacherReviewing,
		PendingToQueue:      stats.TeacherApproved + stats.ToReviewing,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, statsCacheKey, response, 0); err != nil {
			s.logger.Warn("cache stats overview", zap.Error(err))
		}
	}
	return response, false, nil
}
