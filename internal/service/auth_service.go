package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/localmart/localmart-api/internal/models"
	appErrors "github.com/localmart/localmart-api/pkg/errors"
	"github.com/localmart/localmart-api/pkg/security"
)

// Outward message for every refresh token failure mode. Reuse detection,
// expiry and unknown tokens must not be distinguishable by callers.
const msgInvalidRefreshToken = "invalid refresh token"

const msgInvalidResetToken = "reset token is invalid or expired"

type authUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type resetTokenRepository interface {
	Create(ctx context.Context, token *models.PasswordResetToken) error
	FindByTokenAndEmail(ctx context.Context, token, email string) (*models.PasswordResetToken, error)
	ConsumeAndResetPassword(ctx context.Context, tokenID, userID string, hash, salt []byte, now time.Time) (bool, error)
}

type claimResolver interface {
	ClaimsFor(ctx context.Context, userID string) ([]string, error)
}

type resetNotifier interface {
	NotifyPasswordReset(ctx context.Context, email, link string) error
}

// AuthServiceConfig defines configuration for authentication flows.
type AuthServiceConfig struct {
	ResetTokenTTL time.Duration
	FrontendURL   string
}

// AuthService orchestrates credential verification, token issuance,
// refresh rotation and the password reset flow.
type AuthService struct {
	users     authUserRepository
	tokens    *RefreshTokenService
	resets    resetTokenRepository
	claims    claimResolver
	issuer    *AccessTokenIssuer
	notifier  resetNotifier
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	config    AuthServiceConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	users authUserRepository,
	tokens *RefreshTokenService,
	resets resetTokenRepository,
	claims claimResolver,
	issuer *AccessTokenIssuer,
	notifier resetNotifier,
	validate *validator.Validate,
	logger *zap.Logger,
	metrics *MetricsService,
	config AuthServiceConfig,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = 10 * time.Minute
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		resets:    resets,
		claims:    claims,
		issuer:    issuer,
		notifier:  notifier,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		config:    config,
	}
}

// Login authenticates a user by username or email and returns a fresh
// access/refresh token pair.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByIdentifier(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordLogin(false)
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !user.Active {
		s.metrics.RecordLogin(false)
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	if !security.VerifyPassword(req.Password, user.PasswordHash, user.PasswordSalt) {
		s.metrics.RecordLogin(false)
		s.logger.Warn("login failed", zap.String("user_id", user.ID), zap.String("ip", req.IP))
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	claims, err := s.claims.ClaimsFor(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := s.issuer.Issue(user, claims)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.tokens.Create(ctx, user.ID, req.IP, req.UserAgent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.audit(ctx, &user.ID, models.AuditActionLogin, req.IP, req.UserAgent)
	s.metrics.RecordLogin(true)

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		ExpiresAt:    expiresAt,
		User: models.UserInfo{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Role:     user.Role,
		},
	}, nil
}

// Register creates a new account with the default role.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid register payload")
	}

	exists, err := s.users.ExistsByUsernameOrEmail(ctx, req.Username, req.Email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "username or email is already in use")
	}

	hash, salt, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		Phone:        req.Phone,
		Role:         models.RoleSeller,
		Active:       true,
		PasswordHash: hash,
		PasswordSalt: salt,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.audit(ctx, &user.ID, models.AuditActionRegister, "", "")
	return user, nil
}

// Refresh rotates the presented refresh token and issues a new access
// token for its owner. All rotation failures surface as one generic
// unauthorized error; the distinct cause is kept in logs and metrics.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	old, next, err := s.tokens.Rotate(ctx, req.RefreshToken, req.IP, req.UserAgent)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenReuse):
			s.audit(ctx, nil, models.AuditActionReuseDetected, req.IP, req.UserAgent)
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, msgInvalidRefreshToken)
		case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrTokenExpired):
			s.logger.Warn("refresh rejected", zap.String("reason", err.Error()), zap.String("ip", req.IP))
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, msgInvalidRefreshToken)
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
		}
	}

	user, err := s.users.FindByID(ctx, old.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, msgInvalidRefreshToken)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	claims, err := s.claims.ClaimsFor(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := s.issuer.Issue(user, claims)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, &user.ID, models.AuditActionRefresh, req.IP, req.UserAgent)

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: next.Token,
		ExpiresAt:    expiresAt,
		User: models.UserInfo{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Role:     user.Role,
		},
	}, nil
}

// Logout revokes the presented refresh token when it belongs to the caller.
func (s *AuthService) Logout(ctx context.Context, refreshToken, userID, ip, userAgent string) error {
	stored, err := s.tokens.FindByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return appErrors.Clone(appErrors.ErrUnauthorized, msgInvalidRefreshToken)
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load refresh token")
	}

	if stored.UserID != userID {
		return appErrors.Clone(appErrors.ErrForbidden, "token does not belong to user")
	}

	if _, err := s.tokens.Revoke(ctx, refreshToken, ip, models.ReasonLogout); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}

	s.audit(ctx, &userID, models.AuditActionLogout, ip, userAgent)
	return nil
}

// ForgotPassword issues a reset token for an existing account and queues
// the notification. The caller's existence check happens here, before a
// token is ever created.
func (s *AuthService) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid forgot password payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "email not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	now := time.Now().UTC()
	token := &models.PasswordResetToken{
		ID:        uuid.NewString(),
		Token:     uuid.NewString(),
		Email:     user.Email,
		ExpiresAt: now.Add(s.config.ResetTokenTTL),
		IsUsed:    false,
		CreatedAt: now,
	}

	if err := s.resets.Create(ctx, token); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reset token")
	}

	link := fmt.Sprintf("%s/reset-password?token=%s&email=%s", s.config.FrontendURL, token.Token, url.QueryEscape(user.Email))
	if err := s.notifier.NotifyPasswordReset(ctx, user.Email, link); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue reset notification")
	}

	s.audit(ctx, &user.ID, models.AuditActionPasswordForgot, "", "")
	return nil
}

// ResetPassword validates the reset token and applies the new password.
// Token consumption, the password update and revocation of the user's
// active refresh tokens commit in one transaction.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest, ip string) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset password payload")
	}

	entry, err := s.resets.FindByTokenAndEmail(ctx, req.Token, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnauthorized, msgInvalidResetToken)
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reset token")
	}

	now := time.Now().UTC()
	if !entry.Usable(now) {
		return appErrors.Clone(appErrors.ErrUnauthorized, msgInvalidResetToken)
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	hash, salt, err := security.HashPassword(req.NewPassword)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	consumed, err := s.resets.ConsumeAndResetPassword(ctx, entry.ID, user.ID, hash, salt, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset password")
	}
	if !consumed {
		// A concurrent request consumed the token first.
		return appErrors.Clone(appErrors.ErrUnauthorized, msgInvalidResetToken)
	}

	s.audit(ctx, &user.ID, models.AuditActionPasswordReset, ip, "")
	return nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	return s.issuer.Validate(tokenString)
}

func (s *AuthService) audit(ctx context.Context, userID *string, action, ip, userAgent string) {
	log := &models.AuditLog{
		UserID:    userID,
		Action:    action,
		Resource:  "auth",
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if userID != nil {
		log.ResourceID = userID
	}
	if err := s.users.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
