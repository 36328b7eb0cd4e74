package models

import "time"

// Revocation reasons recorded on refresh token rows.
const (
	ReasonRotated       = "rotated: superseded by a new refresh token"
	ReasonReuseDetected = "attempted reuse of revoked ancestor token"
	ReasonLogout        = "revoked by logout"
	ReasonPasswordReset = "revoked by password change"
)

// RefreshToken represents one issued refresh credential. Rows are never
// deleted; revoked rows remain for audit and theft forensics. Tokens of a
// user form singly-linked chains through ReplacedByToken.
type RefreshToken struct {
	ID              string     `db:"id" json:"id"`
	UserID          string     `db:"user_id" json:"user_id"`
	Token           string     `db:"token" json:"token"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt       time.Time  `db:"expires_at" json:"expires_at"`
	CreatedByIP     string     `db:"created_by_ip" json:"created_by_ip"`
	UserAgent       string     `db:"user_agent" json:"user_agent"`
	RevokedAt       *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedByIP     *string    `db:"revoked_by_ip" json:"revoked_by_ip,omitempty"`
	RevokedReason   *string    `db:"revoked_reason" json:"revoked_reason,omitempty"`
	ReplacedByToken *string    `db:"replaced_by_token" json:"replaced_by_token,omitempty"`
}

// Expired reports whether the token's validity window has passed.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Active reports whether the token can still be rotated: not revoked and
// not expired.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && !t.Expired(now)
}

// PasswordResetToken is a single-use, time-boxed credential for the
// forgot-password flow. IsUsed flips false to true exactly once.
type PasswordResetToken struct {
	ID        string    `db:"id" json:"id"`
	Token     string    `db:"token" json:"token"`
	Email     string    `db:"email" json:"email"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	IsUsed    bool      `db:"is_used" json:"is_used"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Usable reports whether the reset token can still be consumed.
func (t *PasswordResetToken) Usable(now time.Time) bool {
	return !t.IsUsed && now.Before(t.ExpiresAt)
}
