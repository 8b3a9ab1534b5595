package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/eventhub-auth/internal/models"
	appErrors "github.com/noah-isme/eventhub-auth/pkg/errors"
)

// IdentityProvider resolves user identities for the session subsystem. A nil
// identity with a nil error means the user does not exist or cannot sign in.
type IdentityProvider interface {
	ValidateCredentials(ctx context.Context, email, password string) (*models.UserIdentity, error)
	GetByID(ctx context.Context, id int64) (*models.UserIdentity, error)
	SetLastLogoutAt(ctx context.Context, id int64, ts time.Time) error
}

type identityUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	UpdateLastLogoutAt(ctx context.Context, id int64, ts time.Time) error
}

type secretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) error
}

// dummyPassword is hashed once at construction and compared against when the
// email is unknown, so both paths pay one bcrypt comparison.
const dummyPassword = "identity-service-dummy-password"

// IdentityService implements IdentityProvider over the users table.
type IdentityService struct {
	repo      identityUserRepository
	hasher    secretHasher
	dummyHash string
	logger    *zap.Logger
}

// NewIdentityService constructs an IdentityService instance.
func NewIdentityService(repo identityUserRepository, hasher secretHasher, logger *zap.Logger) (*IdentityService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}
	return &IdentityService{repo: repo, hasher: hasher, dummyHash: dummy, logger: logger}, nil
}

// ValidateCredentials returns the identity for email when password matches an
// active account.
func (s *IdentityService) ValidateCredentials(ctx context.Context, email, password string) (*models.UserIdentity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = s.hasher.Verify(password, s.dummyHash)
			return nil, nil
		}
		return nil, err
	}

	if err := s.hasher.Verify(password, user.PasswordHash); err != nil {
		return nil, nil
	}
	if !user.Active {
		s.logger.Info("login attempt on inactive account", zap.Int64("user_id", user.ID))
		return nil, nil
	}
	return user.Identity(), nil
}

// GetByID returns the identity for id, or nil when it is missing or inactive.
func (s *IdentityService) GetByID(ctx context.Context, id int64) (*models.UserIdentity, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !user.Active {
		return nil, nil
	}
	return user.Identity(), nil
}

// SetLastLogoutAt stamps the user's global logout time.
func (s *IdentityService) SetLastLogoutAt(ctx context.Context, id int64, ts time.Time) error {
	return s.repo.UpdateLastLogoutAt(ctx, id, ts.UTC())
}

// RetryConfig bounds identity provider calls.
type RetryConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
}

// RetryingIdentityProvider decorates an IdentityProvider with per-attempt
// timeouts and bounded exponential backoff on transient failures. Every
// failure it returns is ErrUpstreamUnavailable.
type RetryingIdentityProvider struct {
	next    IdentityProvider
	cfg     RetryConfig
	metrics *MetricsService
	logger  *zap.Logger
}

// NewRetryingIdentityProvider wraps next.
func NewRetryingIdentityProvider(next IdentityProvider, cfg RetryConfig, metrics *MetricsService, logger *zap.Logger) *RetryingIdentityProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 50 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingIdentityProvider{next: next, cfg: cfg, metrics: metrics, logger: logger}
}

// ValidateCredentials implements IdentityProvider.
func (p *RetryingIdentityProvider) ValidateCredentials(ctx context.Context, email, password string) (*models.UserIdentity, error) {
	var identity *models.UserIdentity
	err := p.do(ctx, "validate_credentials", func(ctx context.Context) error {
		var err error
		identity, err = p.next.ValidateCredentials(ctx, email, password)
		return err
	})
	return identity, err
}

// GetByID implements IdentityProvider.
func (p *RetryingIdentityProvider) GetByID(ctx context.Context, id int64) (*models.UserIdentity, error) {
	var identity *models.UserIdentity
	err := p.do(ctx, "get_by_id", func(ctx context.Context) error {
		var err error
		identity, err = p.next.GetByID(ctx, id)
		return err
	})
	return identity, err
}

// SetLastLogoutAt implements IdentityProvider.
func (p *RetryingIdentityProvider) SetLastLogoutAt(ctx context.Context, id int64, ts time.Time) error {
	return p.do(ctx, "set_last_logout_at", func(ctx context.Context) error {
		return p.next.SetLastLogoutAt(ctx, id, ts)
	})
}

func (p *RetryingIdentityProvider) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer func() { p.metrics.ObserveIdentityCall(op, time.Since(start)) }()

	delay := p.cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if !isTransient(err) {
			return appErrors.WrapAs(err, appErrors.ErrUpstreamUnavailable, "")
		}
		if attempt == p.cfg.MaxAttempts {
			break
		}

		p.logger.Warn("identity provider call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return appErrors.WrapAs(ctx.Err(), appErrors.ErrUpstreamUnavailable, "")
		case <-timer.C:
		}
		delay *= 2
	}
	return appErrors.WrapAs(lastErr, appErrors.ErrUpstreamUnavailable, "")
}

// isTransient reports whether err is worth retrying: broken connections,
// per-attempt timeouts and Postgres availability or serialization codes.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code.Class() == "08" {
			return true
		}
		switch pqErr.Code {
		case "57P01", "57P03", "57014", "53300", "40001", "40P01":
			return true
		}
	}
	return false
}
