package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/eventhub-auth/pkg/errors"
	"github.com/noah-isme/eventhub-auth/pkg/jobs"
	"github.com/noah-isme/eventhub-auth/pkg/logger"
)

// JobTypeLogoutStamp identifies the background job stamping last_logout_at.
const JobTypeLogoutStamp = "logout_stamp"

// LogoutStamp is the payload of a JobTypeLogoutStamp job.
type LogoutStamp struct {
	UserID int64
	At     time.Time
}

type revocationCache interface {
	GetLastLogout(ctx context.Context, userID int64) (*time.Time, error)
	SetLastLogout(ctx context.Context, userID int64, ts *time.Time, ttl time.Duration) error
	SetLastLogoutIfAbsent(ctx context.Context, userID int64, ts *time.Time, ttl time.Duration) error
	Invalidate(ctx context.Context, userID int64) error
}

// RevocationService answers "when did this user last log out" for the access
// guard and applies logout stamps produced by the session service.
type RevocationService struct {
	identity IdentityProvider
	cache    revocationCache
	ttl      time.Duration
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewRevocationService constructs a RevocationService. cache may be nil.
func NewRevocationService(identity IdentityProvider, cache revocationCache, ttl time.Duration, metrics *MetricsService, logger *zap.Logger) *RevocationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RevocationService{identity: identity, cache: cache, ttl: ttl, metrics: metrics, logger: logger}
}

// LastLogout returns the user's last logout time (nil if never) and whether
// the user still exists. Cache failures fall through to the identity provider.
func (s *RevocationService) LastLogout(ctx context.Context, userID int64) (*time.Time, bool, error) {
	if s.cache != nil {
		ts, err := s.cache.GetLastLogout(ctx, userID)
		switch {
		case err == nil:
			s.metrics.RecordCacheLookup(true)
			return ts, true, nil
		case errors.Is(err, appErrors.ErrCacheMiss):
			s.metrics.RecordCacheLookup(false)
		default:
			s.metrics.RecordCacheLookup(false)
			logger.With(ctx, s.logger).Warn("revocation cache read failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	identity, err := s.identity.GetByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if identity == nil {
		return nil, false, nil
	}

	if s.cache != nil {
		if err := s.cache.SetLastLogoutIfAbsent(ctx, userID, identity.LastLogoutAt, s.ttl); err != nil {
			logger.With(ctx, s.logger).Warn("revocation cache fill failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return identity.LastLogoutAt, true, nil
}

// HandleJob is the jobs.Handler applying a LogoutStamp. The identity provider
// is stamped first; the cache is then overwritten, or dropped if that fails.
func (s *RevocationService) HandleJob(ctx context.Context, job jobs.Job) error {
	stamp, ok := job.Payload.(LogoutStamp)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.Type)
	}

	if err := s.identity.SetLastLogoutAt(ctx, stamp.UserID, stamp.At); err != nil {
		return err
	}

	if s.cache == nil {
		return nil
	}
	at := stamp.At.UTC()
	if err := s.cache.SetLastLogout(ctx, stamp.UserID, &at, s.ttl); err != nil {
		s.logger.Warn("revocation cache write failed", zap.Int64("user_id", stamp.UserID), zap.Error(err))
		if err := s.cache.Invalidate(ctx, stamp.UserID); err != nil {
			s.logger.Error("revocation cache invalidate failed", zap.Int64("user_id", stamp.UserID), zap.Error(err))
		}
	}
	return nil
}
