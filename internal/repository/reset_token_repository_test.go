package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localmart/localmart-api/internal/models"
)

func TestResetTokenRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewResetTokenRepository(db)

	mock.ExpectExec("INSERT INTO password_reset_tokens").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), &models.PasswordResetToken{
		Token:     "reset-tok",
		Email:     "alice@example.com",
		ExpiresAt: time.Now().UTC().Add(10 * time.Minute),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTokenRepositoryFindByTokenAndEmail(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewResetTokenRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "token", "email", "expires_at", "is_used", "created_at"}).
		AddRow("rt-1", "reset-tok", "alice@example.com", now.Add(10*time.Minute), false, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, token, email, expires_at, is_used, created_at FROM password_reset_tokens WHERE token = $1 AND email = $2 LIMIT 1")).
		WithArgs("reset-tok", "alice@example.com").
		WillReturnRows(rows)

	token, err := repo.FindByTokenAndEmail(context.Background(), "reset-tok", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "rt-1", token.ID)
	assert.False(t, token.IsUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTokenRepositoryFindWrongEmail(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewResetTokenRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, token, email, expires_at, is_used, created_at FROM password_reset_tokens WHERE token = $1 AND email = $2 LIMIT 1")).
		WithArgs("reset-tok", "mallory@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByTokenAndEmail(context.Background(), "reset-tok", "mallory@example.com")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTokenRepositoryConsumeAndResetPassword(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewResetTokenRepository(db)

	now := time.Now().UTC()
	hash := []byte{1, 2, 3}
	salt := []byte{4, 5, 6}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE password_reset_tokens SET is_used = TRUE WHERE id = $1 AND is_used = FALSE")).
		WithArgs("rt-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = $2, password_salt = $3, updated_at = $4 WHERE id = $1")).
		WithArgs("user-1", hash, salt, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at = $2, revoked_by_ip = $3, revoked_reason = $4 WHERE user_id = $1 AND revoked_at IS NULL")).
		WithArgs("user-1", now, "", models.ReasonPasswordReset).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	consumed, err := repo.ConsumeAndResetPassword(context.Background(), "rt-1", "user-1", hash, salt, now)
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTokenRepositoryConsumeAlreadyUsed(t *testing.T) {
	db, mock, cleanup := newTokenMock(t)
	defer cleanup()
	repo := NewResetTokenRepository(db)

	now := time.Now().UTC()

	// The conditional consume matches nothing; neither the password nor the
	// refresh tokens are touched.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE password_reset_tokens SET is_used = TRUE WHERE id = $1 AND is_used = FALSE")).
		WithArgs("rt-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	consumed, err := repo.ConsumeAndResetPassword(context.Background(), "rt-1", "user-1", []byte{1}, []byte{2}, now)
	require.NoError(t, err)
	assert.False(t, consumed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
