package models

import "time"

// Audit actions recorded by the auth subsystem.
const (
	AuditActionLogin          = "auth.login"
	AuditActionLogout         = "auth.logout"
	AuditActionRegister       = "auth.register"
	AuditActionRefresh        = "auth.refresh"
	AuditActionReuseDetected  = "auth.refresh_reuse_detected"
	AuditActionPasswordReset  = "auth.password_reset"
	AuditActionPasswordForgot = "auth.password_forgot"
	AuditActionRoleChange     = "auth.role_change"
)

// AuditLog stores a security-relevant event for later inspection.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	Details    []byte    `db:"details" json:"details,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
