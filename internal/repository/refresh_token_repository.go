package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/localmart/localmart-api/internal/models"
)

const refreshTokenColumns = `id, user_id, token, created_at, expires_at, created_by_ip, user_agent, revoked_at, revoked_by_ip, revoked_reason, replaced_by_token`

// RefreshTokenRepository persists refresh token chains. Rows are append-only
// except for the one-shot revocation fields.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create inserts a refresh token row.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token, created_at, expires_at, created_by_ip, user_agent, revoked_at, revoked_by_ip, revoked_reason, replaced_by_token) VALUES (:id, :user_id, :token, :created_at, :expires_at, :created_by_ip, :user_agent, :revoked_at, :revoked_by_ip, :revoked_reason, :replaced_by_token)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindByToken returns a refresh token by its opaque token string.
func (r *RefreshTokenRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM refresh_tokens WHERE token = $1 LIMIT 1`, refreshTokenColumns)
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// Revoke sets the revocation fields on a still-active token. The conditional
// WHERE clause makes the first writer win: a second revocation of the same
// row affects zero rows and returns false without error.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, token string, revokedAt time.Time, ip, reason string, replacedBy *string) (bool, error) {
	const query = `UPDATE refresh_tokens SET revoked_at = $2, revoked_by_ip = $3, revoked_reason = $4, replaced_by_token = $5 WHERE token = $1 AND revoked_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, token, revokedAt, ip, reason, replacedBy)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token rows affected: %w", err)
	}
	return affected > 0, nil
}

// Rotate atomically revokes the presented token and inserts its successor in
// a single transaction. It returns false when the presented token was no
// longer active, meaning a concurrent rotation already won; nothing is
// persisted in that case.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, presented string, next *models.RefreshToken, revokedAt time.Time, ip string) (bool, error) {
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = revokedAt
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin rotate tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const revokeQuery = `UPDATE refresh_tokens SET revoked_at = $2, revoked_by_ip = $3, revoked_reason = $4, replaced_by_token = $5 WHERE token = $1 AND revoked_at IS NULL`
	res, err := tx.ExecContext(ctx, revokeQuery, presented, revokedAt, ip, models.ReasonRotated, next.Token)
	if err != nil {
		return false, fmt.Errorf("rotate revoke: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rotate rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	const insertQuery = `INSERT INTO refresh_tokens (id, user_id, token, created_at, expires_at, created_by_ip, user_agent, revoked_at, revoked_by_ip, revoked_reason, replaced_by_token) VALUES (:id, :user_id, :token, :created_at, :expires_at, :created_by_ip, :user_agent, :revoked_at, :revoked_by_ip, :revoked_reason, :replaced_by_token)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, next); err != nil {
		return false, fmt.Errorf("rotate insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit rotate tx: %w", err)
	}
	return true, nil
}

// RevokeAllForUser revokes every still-active token of a user and returns
// how many rows transitioned.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time, ip, reason string) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked_at = $2, revoked_by_ip = $3, revoked_reason = $4 WHERE user_id = $1 AND revoked_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, userID, revokedAt, ip, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens rows affected: %w", err)
	}
	return affected, nil
}

// ListByUser returns all tokens of a user, newest first. Revoked rows are
// included for audit inspection.
func (r *RefreshTokenRepository) ListByUser(ctx context.Context, userID string) ([]models.RefreshToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM refresh_tokens WHERE user_id = $1 ORDER BY created_at DESC`, refreshTokenColumns)
	var tokens []models.RefreshToken
	if err := r.db.SelectContext(ctx, &tokens, query, userID); err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	return tokens, nil
}
