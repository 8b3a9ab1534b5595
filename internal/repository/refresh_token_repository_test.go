package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/eventhub-auth/internal/models"
)

var refreshColumnNames = []string{"id", "user_id", "lookup_id", "token_hash", "issued_at", "expires_at", "revoked_at", "replaced_by_token_id", "client_ip", "user_agent"}

func TestInsertRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now().UTC()
	ip := "10.0.0.1"
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO refresh_tokens (user_id, lookup_id, token_hash, issued_at, expires_at, client_ip, user_agent)")).
		WithArgs(int64(1), "lookup", "hash", now, now.Add(time.Hour), &ip, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(99))

	record := &models.RefreshTokenRecord{UserID: 1, LookupID: "lookup", TokenHash: "hash", IssuedAt: now, ExpiresAt: now.Add(time.Hour), ClientIP: &ip}
	require.NoError(t, repo.Insert(context.Background(), record))
	assert.Equal(t, int64(99), record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveIsScopedToLookupAndNeverLocks(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + refreshTokenColumns + " FROM refresh_tokens WHERE lookup_id = $1 AND revoked_at IS NULL AND expires_at > $2 LIMIT 1") + "$").
		WithArgs("lookup", now).
		WillReturnRows(sqlmock.NewRows(refreshColumnNames).
			AddRow(2, 1, "lookup", "hash-2", now, now.Add(time.Hour), nil, nil, nil, nil))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(ctx context.Context) error {
		record, err := repo.FindActive(ctx, "lookup", now)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, int64(2), record.ID)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveNoRowsReturnsNil(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery("FROM refresh_tokens WHERE lookup_id = \\$1").
		WithArgs("missing", now).
		WillReturnRows(sqlmock.NewRows(refreshColumnNames))

	record, err := repo.FindActive(context.Background(), "missing", now)
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotationInTxLocksSingleRowAndCommits(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE id = $1 AND revoked_at IS NULL AND expires_at > $2 FOR UPDATE") + "$").
		WithArgs(int64(1), now).
		WillReturnRows(sqlmock.NewRows(refreshColumnNames).
			AddRow(1, 1, "lookup", "hash-1", now, now.Add(time.Hour), nil, nil, nil, nil))
	mock.ExpectQuery("INSERT INTO refresh_tokens").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	newID := int64(2)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at = $2, replaced_by_token_id = $3 WHERE id = $1 AND revoked_at IS NULL")).
		WithArgs(int64(1), now, &newID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(ctx context.Context) error {
		locked, err := repo.LockActive(ctx, 1, now)
		if err != nil {
			return err
		}
		require.NotNil(t, locked)
		next := &models.RefreshTokenRecord{UserID: 1, LookupID: "lookup-2", TokenHash: "hash-2", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
		if err := repo.Insert(ctx, next); err != nil {
			return err
		}
		return repo.MarkRevoked(ctx, locked.ID, now, &next.ID)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockActiveAfterConcurrentRevokeReturnsNil(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE$").
		WithArgs(int64(1), now).
		WillReturnRows(sqlmock.NewRows(refreshColumnNames))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(ctx context.Context) error {
		locked, err := repo.LockActive(ctx, 1, now)
		require.NoError(t, err)
		assert.Nil(t, locked)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRevokedTwiceReportsAlreadyRevoked(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at").
		WithArgs(int64(5), now, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRevoked(context.Background(), 5, now, nil)
	assert.ErrorIs(t, err, ErrRecordAlreadyRevoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRefreshTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.InTx(context.Background(), func(ctx context.Context) error {
		return repo.MarkRevoked(ctx, 1, time.Now(), nil)
	})
	assert.ErrorIs(t, err, ErrRecordAlreadyRevoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}
