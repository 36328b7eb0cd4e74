package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/localmart/localmart-api/internal/models"
	appErrors "github.com/localmart/localmart-api/pkg/errors"
)

type claimRepository interface {
	ClaimsForUser(ctx context.Context, userID string) ([]string, error)
	FindClaimByName(ctx context.Context, name string) (*models.OperationClaim, error)
	CreateClaim(ctx context.Context, claim *models.OperationClaim) error
	AssignToUser(ctx context.Context, userID, claimID string) error
	RemoveFromUser(ctx context.Context, userID, claimID string) error
}

type claimCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ClaimService resolves the operation claims of a user. Resolution is a
// pure read; any normalisation happens when claims are written.
type ClaimService struct {
	repo     claimRepository
	cache    claimCache
	metrics  *MetricsService
	logger   *zap.Logger
	cacheTTL time.Duration
}

// NewClaimService constructs a ClaimService. Cache may be nil.
func NewClaimService(repo claimRepository, cache claimCache, metrics *MetricsService, logger *zap.Logger, cacheTTL time.Duration) *ClaimService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &ClaimService{repo: repo, cache: cache, metrics: metrics, logger: logger, cacheTTL: cacheTTL}
}

func claimCacheKey(userID string) string {
	return fmt.Sprintf("claims:user:%s", userID)
}

// ClaimsFor returns the claim names attached to a user, empty when none.
func (s *ClaimService) ClaimsFor(ctx context.Context, userID string) ([]string, error) {
	key := claimCacheKey(userID)

	if s.cache != nil {
		start := time.Now()
		var cached []string
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			s.metrics.RecordCacheOperation(true, time.Since(start))
			return cached, nil
		}
		s.metrics.RecordCacheOperation(false, time.Since(start))
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("claim cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	claims, err := s.repo.ClaimsForUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve claims")
	}

	if s.cache != nil {
		start := time.Now()
		if err := s.cache.Set(ctx, key, claims, s.cacheTTL); err != nil {
			s.logger.Warn("claim cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
		s.metrics.ObserveCacheWrite(time.Since(start))
	}

	return claims, nil
}

// Grant attaches a claim to a user, creating the claim on first use. The
// claim name is trimmed here so reads never have to normalise.
func (s *ClaimService) Grant(ctx context.Context, userID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return appErrors.Clone(appErrors.ErrValidation, "claim name is required")
	}

	claim, err := s.repo.FindClaimByName(ctx, name)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load claim")
		}
		claim = &models.OperationClaim{Name: name}
		if err := s.repo.CreateClaim(ctx, claim); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create claim")
		}
	}

	if err := s.repo.AssignToUser(ctx, userID, claim.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign claim")
	}

	s.invalidate(ctx, userID)
	return nil
}

// Revoke detaches a claim from a user.
func (s *ClaimService) Revoke(ctx context.Context, userID, name string) error {
	claim, err := s.repo.FindClaimByName(ctx, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "claim not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load claim")
	}

	if err := s.repo.RemoveFromUser(ctx, userID, claim.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove claim")
	}

	s.invalidate(ctx, userID)
	return nil
}

func (s *ClaimService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, claimCacheKey(userID)); err != nil {
		s.logger.Warn("claim cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}
