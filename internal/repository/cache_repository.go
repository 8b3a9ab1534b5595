package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/eventhub-auth/pkg/errors"
)

const lastLogoutKeyPrefix = "auth:last_logout:"

// noLogoutMarker records "this user never logged out" so misses are cached too.
const noLogoutMarker = "0"

// RevocationCacheRepository caches users' last logout timestamps in Redis.
type RevocationCacheRepository struct {
	client *redis.Client
}

// NewRevocationCacheRepository constructs a cache repository. A nil client
// turns every lookup into a miss and every write into a no-op.
func NewRevocationCacheRepository(client *redis.Client) *RevocationCacheRepository {
	return &RevocationCacheRepository{client: client}
}

// GetLastLogout returns the cached timestamp; nil means the user never logged
// out. appErrors.ErrCacheMiss is returned when nothing is cached.
func (r *RevocationCacheRepository) GetLastLogout(ctx context.Context, userID int64) (*time.Time, error) {
	if r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, lastLogoutKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get last logout %d: %w", userID, err)
	}
	if raw == noLogoutMarker {
		return nil, nil
	}

	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse cached last logout %d: %w", userID, err)
	}
	ts := time.Unix(unix, 0).UTC()
	return &ts, nil
}

// SetLastLogout stores ts (or the never-logged-out marker when nil) with ttl.
func (r *RevocationCacheRepository) SetLastLogout(ctx context.Context, userID int64, ts *time.Time, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	if err := r.client.Set(ctx, lastLogoutKey(userID), encodeLastLogout(ts), ttl).Err(); err != nil {
		return fmt.Errorf("redis set last logout %d: %w", userID, err)
	}
	return nil
}

// SetLastLogoutIfAbsent stores ts only when no value is cached yet, so a
// read-through fill never overwrites a newer value written by logout.
func (r *RevocationCacheRepository) SetLastLogoutIfAbsent(ctx context.Context, userID int64, ts *time.Time, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.SetNX(ctx, lastLogoutKey(userID), encodeLastLogout(ts), ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx last logout %d: %w", userID, err)
	}
	return nil
}

// Invalidate drops the cached value for userID.
func (r *RevocationCacheRepository) Invalidate(ctx context.Context, userID int64) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, lastLogoutKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete last logout %d: %w", userID, err)
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *RevocationCacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func lastLogoutKey(userID int64) string {
	return lastLogoutKeyPrefix + strconv.FormatInt(userID, 10)
}

func encodeLastLogout(ts *time.Time) string {
	if ts == nil {
		return noLogoutMarker
	}
	return strconv.FormatInt(ts.Unix(), 10)
}
