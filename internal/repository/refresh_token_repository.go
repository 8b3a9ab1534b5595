package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/eventhub-auth/internal/models"
)

// ErrRecordAlreadyRevoked is returned by MarkRevoked when the record was
// revoked by somebody else first.
var ErrRecordAlreadyRevoked = errors.New("refresh token already revoked")

const refreshTokenColumns = `id, user_id, lookup_id, token_hash, issued_at, expires_at, revoked_at, replaced_by_token_id, client_ip, user_agent`

// RefreshTokenRepository persists refresh token records. Records are never deleted.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// InTx runs fn within a single transaction. Repository calls made with the
// context passed to fn join that transaction.
func (r *RefreshTokenRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return inTx(ctx, r.db, fn)
}

// Insert stores record and fills in its generated id.
func (r *RefreshTokenRepository) Insert(ctx context.Context, record *models.RefreshTokenRecord) error {
	const query = `INSERT INTO refresh_tokens (user_id, lookup_id, token_hash, issued_at, expires_at, client_ip, user_agent) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

	var id int64
	row := querier(ctx, r.db).QueryRowxContext(ctx, query,
		record.UserID,
		record.LookupID,
		record.TokenHash,
		record.IssuedAt,
		record.ExpiresAt,
		record.ClientIP,
		record.UserAgent,
	)
	if err := row.Scan(&id); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	record.ID = id
	return nil
}

// FindActive returns the non-revoked, non-expired record for lookupID, or nil
// when there is none. It never locks; rotation re-reads the row through
// LockActive inside its transaction.
func (r *RefreshTokenRepository) FindActive(ctx context.Context, lookupID string, now time.Time) (*models.RefreshTokenRecord, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE lookup_id = $1 AND revoked_at IS NULL AND expires_at > $2 LIMIT 1`
	return r.getActive(ctx, "find active refresh token", query, lookupID, now)
}

// LockActive re-reads record id and, inside a transaction, locks that single
// row until commit. A concurrent caller blocks on the lock and then sees the
// committed revocation, so nil is returned to every caller but the first.
func (r *RefreshTokenRepository) LockActive(ctx context.Context, id int64, now time.Time) (*models.RefreshTokenRecord, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE id = $1 AND revoked_at IS NULL AND expires_at > $2`
	if hasTx(ctx) {
		query += ` FOR UPDATE`
	}
	return r.getActive(ctx, "lock refresh token", query, id, now)
}

func (r *RefreshTokenRepository) getActive(ctx context.Context, op, query string, args ...interface{}) (*models.RefreshTokenRecord, error) {
	var record models.RefreshTokenRecord
	if err := sqlx.GetContext(ctx, querier(ctx, r.db), &record, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &record, nil
}

// MarkRevoked sets revoked_at (and replaced_by_token_id when rotating) on a
// record that has not been revoked yet. revoked_at is never overwritten.
func (r *RefreshTokenRepository) MarkRevoked(ctx context.Context, id int64, revokedAt time.Time, replacedBy *int64) error {
	const query = `UPDATE refresh_tokens SET revoked_at = $2, replaced_by_token_id = $3 WHERE id = $1 AND revoked_at IS NULL`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, id, revokedAt, replacedBy)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if affected == 0 {
		return ErrRecordAlreadyRevoked
	}
	return nil
}
