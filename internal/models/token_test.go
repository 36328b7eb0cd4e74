package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefreshTokenStates(t *testing.T) {
	now := time.Now().UTC()
	token := RefreshToken{ExpiresAt: now.Add(time.Hour)}

	assert.True(t, token.Active(now))
	assert.False(t, token.Expired(now))

	// Expiry boundary is inclusive: at ExpiresAt the token is expired.
	assert.True(t, token.Expired(token.ExpiresAt))
	assert.False(t, token.Active(token.ExpiresAt))

	revoked := now
	token.RevokedAt = &revoked
	assert.False(t, token.Active(now))
}

func TestPasswordResetTokenUsable(t *testing.T) {
	now := time.Now().UTC()

	fresh := PasswordResetToken{ExpiresAt: now.Add(10 * time.Minute)}
	assert.True(t, fresh.Usable(now))

	used := PasswordResetToken{ExpiresAt: now.Add(10 * time.Minute), IsUsed: true}
	assert.False(t, used.Usable(now))

	expired := PasswordResetToken{ExpiresAt: now.Add(-time.Minute)}
	assert.False(t, expired.Usable(now))
}

func TestCanModify(t *testing.T) {
	admin := &JWTClaims{UserID: "a", Role: RoleAdmin}
	owner := &JWTClaims{UserID: "u", Role: RoleSeller}
	other := &JWTClaims{UserID: "x", Role: RoleUser}

	assert.True(t, CanModify(admin, "u"))
	assert.True(t, CanModify(owner, "u"))
	assert.False(t, CanModify(other, "u"))
	assert.False(t, CanModify(nil, "u"))
}
