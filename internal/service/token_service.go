package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/localmart/localmart-api/internal/models"
	"github.com/localmart/localmart-api/pkg/security"
)

// Sentinel errors for the refresh token state machine. They stay inside the
// service layer; the facade collapses them into one generic unauthorized
// response so callers cannot tell the failure modes apart.
var (
	ErrTokenNotFound  = errors.New("refresh token not found")
	ErrTokenExpired   = errors.New("refresh token expired")
	ErrTokenReuse     = errors.New("refresh token reuse detected")
	ErrChainCorrupted = errors.New("refresh token chain corrupted")
)

type refreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, token string, revokedAt time.Time, ip, reason string, replacedBy *string) (bool, error)
	Rotate(ctx context.Context, presented string, next *models.RefreshToken, revokedAt time.Time, ip string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time, ip, reason string) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]models.RefreshToken, error)
}

// RefreshTokenConfig tunes the token lifecycle.
type RefreshTokenConfig struct {
	TTL time.Duration
	// MaxChainDepth bounds the descendant walk; a longer chain is treated
	// as corrupted data rather than followed forever.
	MaxChainDepth int
}

// RefreshTokenService owns creation, rotation and revocation of refresh
// tokens, including reuse detection with cascading revocation of the
// descendant lineage.
type RefreshTokenService struct {
	repo    refreshTokenRepository
	logger  *zap.Logger
	metrics *MetricsService
	config  RefreshTokenConfig
	now     func() time.Time
}

// NewRefreshTokenService constructs a RefreshTokenService instance.
func NewRefreshTokenService(repo refreshTokenRepository, logger *zap.Logger, metrics *MetricsService, config RefreshTokenConfig) *RefreshTokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxChainDepth <= 0 {
		config.MaxChainDepth = 100
	}
	return &RefreshTokenService{
		repo:    repo,
		logger:  logger,
		metrics: metrics,
		config:  config,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create issues and persists a new refresh token for the user.
func (s *RefreshTokenService) Create(ctx context.Context, userID, ip, userAgent string) (*models.RefreshToken, error) {
	value, err := security.GenerateToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	token := &models.RefreshToken{
		ID:          uuid.NewString(),
		UserID:      userID,
		Token:       value,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.TTL),
		CreatedByIP: ip,
		UserAgent:   userAgent,
	}

	if err := s.repo.Create(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// Rotate exchanges an active refresh token for a fresh one.
//
// Presenting an already-revoked token is treated as a reuse attempt: every
// still-active descendant in its replaced-by lineage is revoked before the
// call fails with ErrTokenReuse. The revoke-and-insert of a legitimate
// rotation happens in one conditional transaction, so of two concurrent
// calls with the same token exactly one wins; the loser takes the reuse
// path instead of being retried.
func (s *RefreshTokenService) Rotate(ctx context.Context, presented, ip, userAgent string) (*models.RefreshToken, *models.RefreshToken, error) {
	current, err := s.repo.FindByToken(ctx, presented)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrTokenNotFound
		}
		return nil, nil, err
	}

	now := s.now()

	if current.RevokedAt != nil {
		s.handleReuse(ctx, current, ip)
		return nil, nil, ErrTokenReuse
	}

	if current.Expired(now) {
		return nil, nil, ErrTokenExpired
	}

	value, err := security.GenerateToken()
	if err != nil {
		return nil, nil, err
	}
	next := &models.RefreshToken{
		ID:          uuid.NewString(),
		UserID:      current.UserID,
		Token:       value,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.TTL),
		CreatedByIP: ip,
		UserAgent:   userAgent,
	}

	rotated, err := s.repo.Rotate(ctx, presented, next, now, ip)
	if err != nil {
		return nil, nil, err
	}
	if !rotated {
		// Lost the race: another request revoked the token between our read
		// and the conditional update. Same treatment as replaying a revoked
		// token.
		if reloaded, err := s.repo.FindByToken(ctx, presented); err == nil {
			s.handleReuse(ctx, reloaded, ip)
		}
		return nil, nil, ErrTokenReuse
	}

	s.metrics.RecordTokenRotation()
	return current, next, nil
}

// Revoke marks the given token revoked. Returns false when the token was
// already revoked; the first writer wins and the loser is a no-op.
func (s *RefreshTokenService) Revoke(ctx context.Context, token, ip, reason string) (bool, error) {
	return s.repo.Revoke(ctx, token, s.now(), ip, reason, nil)
}

// RevokeAllForUser revokes every active token of a user.
func (s *RefreshTokenService) RevokeAllForUser(ctx context.Context, userID, ip, reason string) (int64, error) {
	return s.repo.RevokeAllForUser(ctx, userID, s.now(), ip, reason)
}

// FindByToken loads a token row, mainly for ownership checks.
func (s *RefreshTokenService) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	t, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return t, nil
}

// ListByUser returns a user's full token history for audit inspection.
func (s *RefreshTokenService) ListByUser(ctx context.Context, userID string) ([]models.RefreshToken, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *RefreshTokenService) handleReuse(ctx context.Context, from *models.RefreshToken, ip string) {
	s.metrics.RecordTokenReuse()
	s.logger.Warn("refresh token reuse detected",
		zap.String("token_id", from.ID),
		zap.String("user_id", from.UserID),
		zap.String("ip", ip),
	)
	if err := s.revokeDescendants(ctx, from, ip); err != nil {
		s.logger.Error("cascade revocation incomplete",
			zap.String("token_id", from.ID),
			zap.Error(err),
		)
	}
}

// revokeDescendants walks forward through replaced_by_token links and
// revokes every still-active token in the lineage. The walk is iterative,
// bounded by MaxChainDepth, and treats a repeated node as a corrupted chain.
// A missing link terminates the walk normally.
func (s *RefreshTokenService) revokeDescendants(ctx context.Context, from *models.RefreshToken, ip string) error {
	seen := map[string]struct{}{from.Token: {}}
	node := from

	for depth := 0; node.ReplacedByToken != nil; depth++ {
		if depth >= s.config.MaxChainDepth {
			return fmt.Errorf("%w: chain from token %s exceeds depth %d", ErrChainCorrupted, from.ID, s.config.MaxChainDepth)
		}

		nextToken := *node.ReplacedByToken
		if _, dup := seen[nextToken]; dup {
			return fmt.Errorf("%w: cycle reached from token %s", ErrChainCorrupted, node.ID)
		}
		seen[nextToken] = struct{}{}

		child, err := s.repo.FindByToken(ctx, nextToken)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		if child.RevokedAt == nil {
			revoked, err := s.repo.Revoke(ctx, child.Token, s.now(), ip, models.ReasonReuseDetected, nil)
			if err != nil {
				return err
			}
			if revoked {
				s.metrics.RecordCascadeRevocation()
			}
		}

		node = child
	}

	return nil
}
