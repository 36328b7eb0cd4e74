package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/localmart/localmart-api/internal/models"
)

// ClaimRepository reads and writes operation claims. Claim names are
// normalised here, at write time, so reads stay side-effect free.
type ClaimRepository struct {
	db *sqlx.DB
}

// NewClaimRepository creates a new instance of ClaimRepository.
func NewClaimRepository(db *sqlx.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// ClaimsForUser returns the claim names attached to a user, sorted by name.
// A user without claims yields an empty slice.
func (r *ClaimRepository) ClaimsForUser(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT oc.name FROM user_operation_claims uoc JOIN operation_claims oc ON oc.id = uoc.claim_id WHERE uoc.user_id = $1 ORDER BY oc.name`
	names := []string{}
	if err := r.db.SelectContext(ctx, &names, query, userID); err != nil {
		return nil, fmt.Errorf("claims for user: %w", err)
	}
	return names, nil
}

// FindClaimByName returns a claim by its normalised name.
func (r *ClaimRepository) FindClaimByName(ctx context.Context, name string) (*models.OperationClaim, error) {
	const query = `SELECT id, name FROM operation_claims WHERE name = $1 LIMIT 1`
	var claim models.OperationClaim
	if err := r.db.GetContext(ctx, &claim, query, strings.TrimSpace(name)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find claim by name: %w", err)
	}
	return &claim, nil
}

// CreateClaim inserts an operation claim, trimming the name first.
func (r *ClaimRepository) CreateClaim(ctx context.Context, claim *models.OperationClaim) error {
	if claim.ID == "" {
		claim.ID = uuid.NewString()
	}
	claim.Name = strings.TrimSpace(claim.Name)
	const query = `INSERT INTO operation_claims (id, name) VALUES (:id, :name)`
	if _, err := r.db.NamedExecContext(ctx, query, claim); err != nil {
		return fmt.Errorf("create claim: %w", err)
	}
	return nil
}

// AssignToUser attaches a claim to a user.
func (r *ClaimRepository) AssignToUser(ctx context.Context, userID, claimID string) error {
	join := models.UserOperationClaim{ID: uuid.NewString(), UserID: userID, ClaimID: claimID}
	const query = `INSERT INTO user_operation_claims (id, user_id, claim_id) VALUES (:id, :user_id, :claim_id)`
	if _, err := r.db.NamedExecContext(ctx, query, join); err != nil {
		return fmt.Errorf("assign claim: %w", err)
	}
	return nil
}

// RemoveFromUser detaches a claim from a user.
func (r *ClaimRepository) RemoveFromUser(ctx context.Context, userID, claimID string) error {
	const query = `DELETE FROM user_operation_claims WHERE user_id = $1 AND claim_id = $2`
	if _, err := r.db.ExecContext(ctx, query, userID, claimID); err != nil {
		return fmt.Errorf("remove claim: %w", err)
	}
	return nil
}
