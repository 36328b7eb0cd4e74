package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/localmart/localmart-api/internal/models"
	appErrors "github.com/localmart/localmart-api/pkg/errors"
)

type fakeClaimRepo struct {
	claimsByUser map[string][]string
	claimsByName map[string]*models.OperationClaim
	assigned     [][2]string
	removed      [][2]string
	queries      int
}

func newFakeClaimRepo() *fakeClaimRepo {
	return &fakeClaimRepo{
		claimsByUser: make(map[string][]string),
		claimsByName: make(map[string]*models.OperationClaim),
	}
}

func (f *fakeClaimRepo) ClaimsForUser(ctx context.Context, userID string) ([]string, error) {
	f.queries++
	if claims, ok := f.claimsByUser[userID]; ok {
		return claims, nil
	}
	return []string{}, nil
}

func (f *fakeClaimRepo) FindClaimByName(ctx context.Context, name string) (*models.OperationClaim, error) {
	if claim, ok := f.claimsByName[name]; ok {
		return claim, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeClaimRepo) CreateClaim(ctx context.Context, claim *models.OperationClaim) error {
	if claim.ID == "" {
		claim.ID = "claim-" + claim.Name
	}
	f.claimsByName[claim.Name] = claim
	return nil
}

func (f *fakeClaimRepo) AssignToUser(ctx context.Context, userID, claimID string) error {
	f.assigned = append(f.assigned, [2]string{userID, claimID})
	return nil
}

func (f *fakeClaimRepo) RemoveFromUser(ctx context.Context, userID, claimID string) error {
	f.removed = append(f.removed, [2]string{userID, claimID})
	return nil
}

type fakeClaimCache struct {
	entries map[string][]string
	deleted []string
}

func newFakeClaimCache() *fakeClaimCache {
	return &fakeClaimCache{entries: make(map[string][]string)}
}

func (f *fakeClaimCache) Get(ctx context.Context, key string, dest interface{}) error {
	claims, ok := f.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	out, ok := dest.(*[]string)
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*out = claims
	return nil
}

func (f *fakeClaimCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if claims, ok := value.([]string); ok {
		f.entries[key] = claims
	}
	return nil
}

func (f *fakeClaimCache) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.entries, key)
	return nil
}

func TestClaimServiceClaimsForCachesResult(t *testing.T) {
	repo := newFakeClaimRepo()
	repo.claimsByUser["user-1"] = []string{"listing.create", "listing.delete"}
	cache := newFakeClaimCache()
	svc := NewClaimService(repo, cache, nil, zap.NewNop(), time.Minute)

	claims, err := svc.ClaimsFor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"listing.create", "listing.delete"}, claims)
	assert.Equal(t, 1, repo.queries)

	// Second resolution is served from cache.
	claims, err = svc.ClaimsFor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"listing.create", "listing.delete"}, claims)
	assert.Equal(t, 1, repo.queries)
}

func TestClaimServiceClaimsForEmptyIsNotAnError(t *testing.T) {
	svc := NewClaimService(newFakeClaimRepo(), nil, nil, zap.NewNop(), time.Minute)

	claims, err := svc.ClaimsFor(context.Background(), "user-without-claims")
	require.NoError(t, err)
	assert.Empty(t, claims)
	assert.NotNil(t, claims)
}

func TestClaimServiceGrantCreatesClaimOnFirstUse(t *testing.T) {
	repo := newFakeClaimRepo()
	cache := newFakeClaimCache()
	svc := NewClaimService(repo, cache, nil, zap.NewNop(), time.Minute)

	require.NoError(t, svc.Grant(context.Background(), "user-1", "  listing.create  "))

	claim, ok := repo.claimsByName["listing.create"]
	require.True(t, ok, "claim should be created with a trimmed name")
	require.Len(t, repo.assigned, 1)
	assert.Equal(t, [2]string{"user-1", claim.ID}, repo.assigned[0])
	assert.Contains(t, cache.deleted, claimCacheKey("user-1"))
}

func TestClaimServiceGrantRejectsBlankName(t *testing.T) {
	svc := NewClaimService(newFakeClaimRepo(), nil, nil, zap.NewNop(), time.Minute)

	err := svc.Grant(context.Background(), "user-1", "   ")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestClaimServiceRevokeUnknownClaim(t *testing.T) {
	svc := NewClaimService(newFakeClaimRepo(), nil, nil, zap.NewNop(), time.Minute)

	err := svc.Revoke(context.Background(), "user-1", "no.such.claim")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
