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

// ResetTokenRepository persists password reset tokens. Several outstanding
// tokens per email are allowed; validity is decided per row, not latest-wins.
type ResetTokenRepository struct {
	db *sqlx.DB
}

// NewResetTokenRepository creates a new instance of ResetTokenRepository.
func NewResetTokenRepository(db *sqlx.DB) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

// Create inserts a reset token row.
func (r *ResetTokenRepository) Create(ctx context.Context, token *models.PasswordResetToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO password_reset_tokens (id, token, email, expires_at, is_used, created_at) VALUES (:id, :token, :email, :expires_at, :is_used, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create reset token: %w", err)
	}
	return nil
}

// FindByTokenAndEmail returns a reset token matching both the token string
// and the email it was issued for.
func (r *ResetTokenRepository) FindByTokenAndEmail(ctx context.Context, token, email string) (*models.PasswordResetToken, error) {
	const query = `SELECT id, token, email, expires_at, is_used, created_at FROM password_reset_tokens WHERE token = $1 AND email = $2 LIMIT 1`
	var rt models.PasswordResetToken
	if err := r.db.GetContext(ctx, &rt, query, token, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find reset token: %w", err)
	}
	return &rt, nil
}

// ConsumeAndResetPassword marks the token used, stores the new password
// material and revokes the user's active refresh tokens in one transaction,
// so a crash cannot leave the password changed with the token still valid.
// Returns false when the token was already consumed by a concurrent request.
func (r *ResetTokenRepository) ConsumeAndResetPassword(ctx context.Context, tokenID, userID string, hash, salt []byte, now time.Time) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin reset tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const consumeQuery = `UPDATE password_reset_tokens SET is_used = TRUE WHERE id = $1 AND is_used = FALSE`
	res, err := tx.ExecContext(ctx, consumeQuery, tokenID)
	if err != nil {
		return false, fmt.Errorf("consume reset token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume reset token rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	const passwordQuery = `UPDATE users SET password_hash = $2, password_salt = $3, updated_at = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, passwordQuery, userID, hash, salt, now); err != nil {
		return false, fmt.Errorf("reset password: %w", err)
	}

	const revokeQuery = `UPDATE refresh_tokens SET revoked_at = $2, revoked_by_ip = $3, revoked_reason = $4 WHERE user_id = $1 AND revoked_at IS NULL`
	if _, err := tx.ExecContext(ctx, revokeQuery, userID, now, "", models.ReasonPasswordReset); err != nil {
		return false, fmt.Errorf("revoke tokens on reset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit reset tx: %w", err)
	}
	return true, nil
}
