package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/localmart/localmart-api/internal/models"
	appErrors "github.com/localmart/localmart-api/pkg/errors"
	"github.com/localmart/localmart-api/pkg/security"
)

type fakeUserRepo struct {
	users            map[string]*models.User
	exists           bool
	audits           []*models.AuditLog
	lastLoginUpdated bool
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	for _, u := range f.users {
		if u.Username == identifier || u.Email == identifier {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	return f.exists, nil
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	f.lastLoginUpdated = true
	if u, ok := f.users[id]; ok {
		u.LastLogin = &ts
	}
	return nil
}

func (f *fakeUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.audits = append(f.audits, log)
	return nil
}

func (f *fakeUserRepo) auditActions() []string {
	actions := make([]string, 0, len(f.audits))
	for _, a := range f.audits {
		actions = append(actions, a.Action)
	}
	return actions
}

type fakeResetRepo struct {
	tokens        map[string]*models.PasswordResetToken
	passwordHash  []byte
	passwordSalt  []byte
	resetUserID   string
	revokedTokens bool
}

func newFakeResetRepo() *fakeResetRepo {
	return &fakeResetRepo{tokens: make(map[string]*models.PasswordResetToken)}
}

func (f *fakeResetRepo) Create(ctx context.Context, token *models.PasswordResetToken) error {
	f.tokens[token.ID] = token
	return nil
}

func (f *fakeResetRepo) FindByTokenAndEmail(ctx context.Context, token, email string) (*models.PasswordResetToken, error) {
	for _, t := range f.tokens {
		if t.Token == token && t.Email == email {
			return t, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeResetRepo) ConsumeAndResetPassword(ctx context.Context, tokenID, userID string, hash, salt []byte, now time.Time) (bool, error) {
	t, ok := f.tokens[tokenID]
	if !ok || t.IsUsed {
		return false, nil
	}
	t.IsUsed = true
	f.passwordHash = hash
	f.passwordSalt = salt
	f.resetUserID = userID
	f.revokedTokens = true
	return true, nil
}

type staticClaims struct {
	claims []string
}

func (s staticClaims) ClaimsFor(ctx context.Context, userID string) ([]string, error) {
	return s.claims, nil
}

type capturingNotifier struct {
	email string
	link  string
}

func (c *capturingNotifier) NotifyPasswordReset(ctx context.Context, email, link string) error {
	c.email = email
	c.link = link
	return nil
}

func testUser(t *testing.T, password string) *models.User {
	t.Helper()
	hash, salt, err := security.HashPassword(password)
	require.NoError(t, err)
	return &models.User{
		ID:           "user-1",
		Username:     "alice",
		Email:        "alice@example.com",
		Role:         models.RoleSeller,
		Active:       true,
		PasswordHash: hash,
		PasswordSalt: salt,
	}
}

func newAuthFixture(t *testing.T, users *fakeUserRepo, resets *fakeResetRepo, notifier resetNotifier) (*AuthService, *fakeTokenRepo) {
	t.Helper()
	tokenRepo := newFakeTokenRepo()
	tokens := newTokenService(tokenRepo)

	issuer, err := NewAccessTokenIssuer(IssuerConfig{Secret: "test-secret", Issuer: "test", TTL: 15 * time.Minute})
	require.NoError(t, err)

	if notifier == nil {
		notifier = &capturingNotifier{}
	}

	svc := NewAuthService(users, tokens, resets, staticClaims{claims: []string{"listing.create"}}, issuer, notifier, nil, zap.NewNop(), nil, AuthServiceConfig{
		ResetTokenTTL: 10 * time.Minute,
		FrontendURL:   "http://localhost:3000",
	})
	return svc, tokenRepo
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	users := newFakeUserRepo(testUser(t, "hunter22"))
	svc, tokenRepo := newAuthFixture(t, users, newFakeResetRepo(), nil)

	res, err := svc.Login(context.Background(), models.LoginRequest{Identifier: "alice", Password: "hunter22", IP: "1.2.3.4"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "user-1", res.User.ID)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleSeller, claims.Role)
	assert.Equal(t, []string{"listing.create"}, claims.Claims)

	require.NotNil(t, tokenRepo.get(res.RefreshToken))
	assert.Contains(t, users.auditActions(), models.AuditActionLogin)
	assert.True(t, users.lastLoginUpdated)
	require.NotNil(t, users.users["user-1"].LastLogin)
}

func TestAuthServiceLoginByEmail(t *testing.T) {
	users := newFakeUserRepo(testUser(t, "hunter22"))
	svc, _ := newAuthFixture(t, users, newFakeResetRepo(), nil)

	res, err := svc.Login(context.Background(), models.LoginRequest{Identifier: "alice@example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.User.Username)
}

func TestAuthServiceLoginUnknownUser(t *testing.T) {
	svc, _ := newAuthFixture(t, newFakeUserRepo(), newFakeResetRepo(), nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Identifier: "ghost", Password: "whatever"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	users := newFakeUserRepo(testUser(t, "hunter22"))
	svc, _ := newAuthFixture(t, users, newFakeResetRepo(), nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Identifier: "alice", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	user := testUser(t, "hunter22")
	user.Active = false
	svc, _ := newAuthFixture(t, newFakeUserRepo(user), newFakeResetRepo(), nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Identifier: "alice", Password: "hunter22"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRegisterDefaultRole(t *testing.T) {
	users := newFakeUserRepo()
	svc, _ := newAuthFixture(t, users, newFakeResetRepo(), nil)

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "secret99",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleSeller, user.Role)
	assert.True(t, user.Active)
	assert.NotEmpty(t, user.PasswordHash)
	assert.NotEmpty(t, user.PasswordSalt)
	assert.True(t, security.VerifyPassword("secret99", user.PasswordHash, user.PasswordSalt))
}

func TestAuthServiceRegisterConflict(t *testing.T) {
	users := newFakeUserRepo()
	users.exists = true
	svc, _ := newAuthFixture(t, users, newFakeResetRepo(), nil)

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "secret99",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	users := newFakeUserRepo(testUser(t, "hunter22"))
	svc, _ := newAuthFixture(t, users, newFakeResetRepo(), nil)

	login, err := svc.Login(context.Background(), models.LoginRequest{Identifier: "alice", Password: "hunter22"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.Equal(t, "user-1", refreshed.User.ID)
}

func TestAuthServiceRefreshFailuresAreIndistinguishable(t *testing.T) {
	users := newFakeUserRepo(testUser(t, "hunter22"))
	svc, tokenRepo := newAuthFixture(t, users, newFakeResetRepo(), nil)

	login, err := svc.Login(context.Background(), models.LoginRequest{Identifier: "alice", Password: "hunter22"})
	require.NoError(t, err)
	second, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)

	// Replaying the rotated-out token, an unknown token and an expired token
	// must produce the same outward error.
	replayErr := func() *appErrors.Error {
		_, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken, IP: "6.6.6.6"})
		require.Error(t, err)
		return appErrors.FromError(err)
	}()
	unknownErr := func() *appErrors.Error {
		_, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: "never-issued"})
		require.Error(t, err)
		return appErrors.FromError(err)
	}()

	assert.Equal(t, replayErr.Message, unknownErr.Message)
	assert.Equal(t, replayErr.Status, unknownErr.Status)
	assert.Equal(t, replayErr.Code, unknownErr.Code)

	// The replay revoked the live descendant as a side effect.
	tail := tokenRepo.get(second.RefreshToken)
	require.NotNil(t, tail.RevokedAt)
	assert.Equal(t, models.ReasonReuseDetected, *tail.RevokedReason)

	assert.Contains(t, users.auditActions(), models.AuditActionReuseDetected)
}

func TestAuthServiceLogout(t *testing.T) {
	users := newFakeUserRepo(testUser(t, "hunter22"))
	svc, tokenRepo := newAuthFixture(t, users, newFakeResetRepo(), nil)

	login, err := svc.Login(context.Background(), models.LoginRequest{Identifier: "alice", Password: "hunter22"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), login.RefreshToken, "user-1", "1.2.3.4", "agent"))

	stored := tokenRepo.get(login.RefreshToken)
	require.NotNil(t, stored.RevokedAt)
	assert.Equal(t, models.ReasonLogout, *stored.RevokedReason)
}

func TestAuthServiceLogoutForeignToken(t *testing.T) {
	users := newFakeUserRepo(testUser(t, "hunter22"))
	svc, _ := newAuthFixture(t, users, newFakeResetRepo(), nil)

	login, err := svc.Login(context.Background(), models.LoginRequest{Identifier: "alice", Password: "hunter22"})
	require.NoError(t, err)

	err = svc.Logout(context.Background(), login.RefreshToken, "someone-else", "1.2.3.4", "agent")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceForgotPassword(t *testing.T) {
	users := newFakeUserRepo(testUser(t, "hunter22"))
	resets := newFakeResetRepo()
	notifier := &capturingNotifier{}
	svc, _ := newAuthFixture(t, users, resets, notifier)

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "alice@example.com"}))

	require.Len(t, resets.tokens, 1)
	var created *models.PasswordResetToken
	for _, tok := range resets.tokens {
		created = tok
	}
	assert.Equal(t, "alice@example.com", created.Email)
	assert.False(t, created.IsUsed)
	assert.WithinDuration(t, time.Now().UTC().Add(10*time.Minute), created.ExpiresAt, time.Minute)

	assert.Equal(t, "alice@example.com", notifier.email)
	assert.True(t, strings.Contains(notifier.link, created.Token))
	assert.True(t, strings.HasPrefix(notifier.link, "http://localhost:3000/reset-password"))
}

func TestAuthServiceForgotPasswordUnknownEmail(t *testing.T) {
	svc, _ := newAuthFixture(t, newFakeUserRepo(), newFakeResetRepo(), nil)

	err := svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "ghost@example.com"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceResetPasswordSingleUse(t *testing.T) {
	users := newFakeUserRepo(testUser(t, "hunter22"))
	resets := newFakeResetRepo()
	svc, _ := newAuthFixture(t, users, resets, nil)

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "alice@example.com"}))
	var issued *models.PasswordResetToken
	for _, tok := range resets.tokens {
		issued = tok
	}

	req := models.ResetPasswordRequest{Token: issued.Token, Email: "alice@example.com", NewPassword: "brandnew1"}
	require.NoError(t, svc.ResetPassword(context.Background(), req, "1.2.3.4"))

	assert.Equal(t, "user-1", resets.resetUserID)
	assert.True(t, resets.revokedTokens)
	assert.True(t, security.VerifyPassword("brandnew1", resets.passwordHash, resets.passwordSalt))

	// Second attempt with the consumed token fails with the generic message.
	err := svc.ResetPassword(context.Background(), req, "1.2.3.4")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
	assert.Equal(t, msgInvalidResetToken, appErrors.FromError(err).Message)
}

func TestAuthServiceResetPasswordExpiredToken(t *testing.T) {
	users := newFakeUserRepo(testUser(t, "hunter22"))
	resets := newFakeResetRepo()
	svc, _ := newAuthFixture(t, users, resets, nil)

	resets.tokens["expired"] = &models.PasswordResetToken{
		ID:        "expired",
		Token:     "expired-token",
		Email:     "alice@example.com",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}

	err := svc.ResetPassword(context.Background(), models.ResetPasswordRequest{
		Token:       "expired-token",
		Email:       "alice@example.com",
		NewPassword: "brandnew1",
	}, "1.2.3.4")
	require.Error(t, err)
	assert.Equal(t, msgInvalidResetToken, appErrors.FromError(err).Message)
}

func TestAuthServiceResetPasswordWrongEmail(t *testing.T) {
	users := newFakeUserRepo(testUser(t, "hunter22"))
	resets := newFakeResetRepo()
	svc, _ := newAuthFixture(t, users, resets, nil)

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "alice@example.com"}))
	var issued *models.PasswordResetToken
	for _, tok := range resets.tokens {
		issued = tok
	}

	err := svc.ResetPassword(context.Background(), models.ResetPasswordRequest{
		Token:       issued.Token,
		Email:       "mallory@example.com",
		NewPassword: "brandnew1",
	}, "1.2.3.4")
	require.Error(t, err)
	assert.Equal(t, msgInvalidResetToken, appErrors.FromError(err).Message)
}
