package models

import "time"

// RefreshTokenState describes where a refresh token sits in its lineage.
type RefreshTokenState string

const (
	RefreshTokenActive  RefreshTokenState = "ACTIVE"
	RefreshTokenRotated RefreshTokenState = "ROTATED"
	RefreshTokenRevoked RefreshTokenState = "REVOKED"
	RefreshTokenExpired RefreshTokenState = "EXPIRED"
)

// RefreshTokenRecord represents a persisted refresh token. Only the hash of the
// secret half is stored; LookupID is the public half of the raw token.
type RefreshTokenRecord struct {
	ID                int64      `db:"id" json:"id"`
	UserID            int64      `db:"user_id" json:"user_id"`
	LookupID          string     `db:"lookup_id" json:"lookup_id"`
	TokenHash         string     `db:"token_hash" json:"-"`
	IssuedAt          time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt         time.Time  `db:"expires_at" json:"expires_at"`
	RevokedAt         *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	ReplacedByTokenID *int64     `db:"replaced_by_token_id" json:"replaced_by_token_id,omitempty"`
	ClientIP          *string    `db:"client_ip" json:"client_ip,omitempty"`
	UserAgent         *string    `db:"user_agent" json:"user_agent,omitempty"`
}

// IsActive reports whether the record is neither revoked nor expired at now.
func (r *RefreshTokenRecord) IsActive(now time.Time) bool {
	return r.RevokedAt == nil && r.ExpiresAt.After(now)
}

// State derives the lineage state. EXPIRED is computed and never stored.
func (r *RefreshTokenRecord) State(now time.Time) RefreshTokenState {
	switch {
	case r.RevokedAt != nil && r.ReplacedByTokenID != nil:
		return RefreshTokenRotated
	case r.RevokedAt != nil:
		return RefreshTokenRevoked
	case !r.ExpiresAt.After(now):
		return RefreshTokenExpired
	default:
		return RefreshTokenActive
	}
}
