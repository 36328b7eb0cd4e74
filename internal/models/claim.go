package models

// OperationClaim is a named permission label that can be attached to users
// and embedded into access tokens.
type OperationClaim struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// UserOperationClaim joins users to operation claims.
type UserOperationClaim struct {
	ID      string `db:"id" json:"id"`
	UserID  string `db:"user_id" json:"user_id"`
	ClaimID string `db:"claim_id" json:"claim_id"`
}
