package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/localmart/localmart-api/internal/models"
	appErrors "github.com/localmart/localmart-api/pkg/errors"
)

type fakeAdminRepo struct {
	*fakeUserRepo
	updated     *models.User
	roleChanged models.UserRole
	deleted     string
}

func (f *fakeAdminRepo) Update(ctx context.Context, user *models.User) error {
	f.updated = user
	return nil
}

func (f *fakeAdminRepo) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	f.roleChanged = role
	if u, ok := f.users[id]; ok {
		u.Role = role
	}
	return nil
}

func (f *fakeAdminRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.users, id)
	f.deleted = id
	return nil
}

func (f *fakeAdminRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, len(out), nil
}

func newUserFixture(t *testing.T, users ...*models.User) (*UserService, *fakeAdminRepo, *fakeTokenRepo) {
	t.Helper()
	repo := &fakeAdminRepo{fakeUserRepo: newFakeUserRepo(users...)}
	tokenRepo := newFakeTokenRepo()
	svc := NewUserService(repo, newTokenService(tokenRepo), nil, zap.NewNop())
	return svc, repo, tokenRepo
}

func TestUserServiceGetNotFound(t *testing.T) {
	svc, _, _ := newUserFixture(t)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserServiceUpdateProfile(t *testing.T) {
	user := testUser(t, "hunter22")
	svc, repo, _ := newUserFixture(t, user)

	updated, err := svc.UpdateProfile(context.Background(), "user-1", models.UpdateUserRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Phone:    "5551234",
	})
	require.NoError(t, err)
	assert.Equal(t, "5551234", updated.Phone)
	require.NotNil(t, repo.updated)
}

func TestUserServiceUpdateProfileConflict(t *testing.T) {
	user := testUser(t, "hunter22")
	svc, repo, _ := newUserFixture(t, user)
	repo.exists = true

	_, err := svc.UpdateProfile(context.Background(), "user-1", models.UpdateUserRequest{
		Username: "taken",
		Email:    "taken@example.com",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserServiceChangeRole(t *testing.T) {
	user := testUser(t, "hunter22")
	svc, repo, _ := newUserFixture(t, user)

	updated, err := svc.ChangeRole(context.Background(), "user-1", models.ChangeRoleRequest{Role: models.RoleAdmin}, "admin-1", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, updated.Role)
	assert.Equal(t, models.RoleAdmin, repo.roleChanged)

	require.NotEmpty(t, repo.audits)
	assert.Equal(t, models.AuditActionRoleChange, repo.audits[len(repo.audits)-1].Action)
}

func TestUserServiceChangeRoleNoop(t *testing.T) {
	user := testUser(t, "hunter22")
	svc, repo, _ := newUserFixture(t, user)

	_, err := svc.ChangeRole(context.Background(), "user-1", models.ChangeRoleRequest{Role: models.RoleSeller}, "admin-1", "1.2.3.4")
	require.NoError(t, err)
	assert.Empty(t, repo.roleChanged)
}

func TestUserServiceDeleteRevokesSessions(t *testing.T) {
	user := testUser(t, "hunter22")
	svc, repo, tokenRepo := newUserFixture(t, user)

	session := &models.RefreshToken{ID: "s1", UserID: "user-1", Token: "sess-tok"}
	tokenRepo.put(session)

	require.NoError(t, svc.Delete(context.Background(), "user-1", "1.2.3.4"))
	assert.Equal(t, "user-1", repo.deleted)

	stored := tokenRepo.get("sess-tok")
	require.NotNil(t, stored.RevokedAt)
}
