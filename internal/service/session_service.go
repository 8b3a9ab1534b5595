package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/eventhub-auth/internal/models"
	"github.com/noah-isme/eventhub-auth/internal/repository"
	"github.com/noah-isme/eventhub-auth/internal/security"
	appErrors "github.com/noah-isme/eventhub-auth/pkg/errors"
	"github.com/noah-isme/eventhub-auth/pkg/jobs"
	"github.com/noah-isme/eventhub-auth/pkg/logger"
)

type refreshTokenStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	Insert(ctx context.Context, record *models.RefreshTokenRecord) error
	FindActive(ctx context.Context, lookupID string, now time.Time) (*models.RefreshTokenRecord, error)
	LockActive(ctx context.Context, id int64, now time.Time) (*models.RefreshTokenRecord, error)
	MarkRevoked(ctx context.Context, id int64, revokedAt time.Time, replacedBy *int64) error
}

type accessTokenSigner interface {
	Sign(identity *models.UserIdentity, ttl time.Duration) (string, *models.AccessTokenClaims, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// SessionConfig defines token lifetimes and store bounds.
type SessionConfig struct {
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
}

// SessionDeps groups the collaborators of SessionService. Audit, Queue and
// Metrics are optional.
type SessionDeps struct {
	Identity  IdentityProvider
	Store     refreshTokenStore
	Signer    accessTokenSigner
	Hasher    secretHasher
	Audit     auditWriter
	Queue     jobEnqueuer
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
}

// SessionService owns login, refresh rotation, logout and identity introspection.
type SessionService struct {
	identity  IdentityProvider
	store     refreshTokenStore
	signer    accessTokenSigner
	hasher    secretHasher
	audit     auditWriter
	queue     jobEnqueuer
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    SessionConfig
}

// NewSessionService constructs a SessionService instance.
func NewSessionService(deps SessionDeps, config SessionConfig) *SessionService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 3 * time.Second
	}
	return &SessionService{
		identity:  deps.Identity,
		store:     deps.Store,
		signer:    deps.Signer,
		hasher:    deps.Hasher,
		audit:     deps.Audit,
		queue:     deps.Queue,
		metrics:   deps.Metrics,
		validator: deps.Validator,
		logger:    deps.Logger,
		config:    config,
	}
}

// Login authenticates a user and issues an access token and a refresh token.
func (s *SessionService) Login(ctx context.Context, req models.LoginRequest) (*models.SessionResponse, error) {
	res, err := s.login(ctx, req)
	s.record(OpLogin, err)
	return res, err
}

func (s *SessionService) login(ctx context.Context, req models.LoginRequest) (*models.SessionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid login payload")
	}

	identity, err := s.identity.ValidateCredentials(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	now := s.now()
	var raw string
	err = s.withStore(ctx, func(ctx context.Context) error {
		record, token, err := s.newRecord(identity.ID, now, req.IP, req.UserAgent)
		if err != nil {
			return err
		}
		if err := s.store.Insert(ctx, record); err != nil {
			return appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "")
		}
		raw = token
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, err := s.session(identity, raw)
	if err != nil {
		return nil, err
	}

	s.writeAudit(ctx, identity.ID, models.AuditActionLogin, map[string]string{"status": "success"}, req.IP, req.UserAgent)
	return res, nil
}

// Refresh rotates a refresh token: a new record is inserted and the presented
// one is revoked with a link to it, in one transaction. Concurrent calls with
// the same token serialise on the record and at most one succeeds. The
// identity lookup runs before that transaction so no row lock or pooled
// connection is held across an identity provider call.
func (s *SessionService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.SessionResponse, error) {
	res, err := s.refresh(ctx, req)
	s.record(OpRefresh, err)
	return res, err
}

func (s *SessionService) refresh(ctx context.Context, req models.RefreshRequest) (*models.SessionResponse, error) {
	if strings.TrimSpace(req.RefreshToken) == "" {
		return nil, appErrors.Clone(appErrors.ErrMissingToken, "")
	}
	token, ok := security.ParseRefreshToken(req.RefreshToken)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
	}

	now := s.now()
	match, err := s.findMatch(ctx, token, now)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
	}

	identity, err := s.identity.GetByID(ctx, match.UserID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		if err := s.withStore(ctx, func(ctx context.Context) error {
			if err := s.lock(ctx, match.ID, now); err != nil {
				return err
			}
			return s.revoke(ctx, match.ID, now, nil)
		}); err != nil {
			return nil, err
		}
		logger.With(ctx, s.logger).Info("refresh for missing user, token revoked", zap.Int64("token_id", match.ID))
		return nil, appErrors.Clone(appErrors.ErrUserNotFound, "")
	}

	var raw string
	err = s.withStore(ctx, func(ctx context.Context) error {
		if err := s.lock(ctx, match.ID, now); err != nil {
			return err
		}
		next, nextRaw, err := s.newRecord(match.UserID, now, req.IP, req.UserAgent)
		if err != nil {
			return err
		}
		if err := s.store.Insert(ctx, next); err != nil {
			return appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "")
		}
		if err := s.revoke(ctx, match.ID, now, &next.ID); err != nil {
			return err
		}
		raw = nextRaw
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, err := s.session(identity, raw)
	if err != nil {
		return nil, err
	}

	s.writeAudit(ctx, identity.ID, models.AuditActionRefresh, map[string]interface{}{"rotated_from": match.ID}, req.IP, req.UserAgent)
	return res, nil
}

// Logout revokes the presented refresh token and schedules the user's global
// logout stamp. It never fails: unknown, empty or already revoked tokens and
// storage failures all report a zero count.
func (s *SessionService) Logout(ctx context.Context, req models.LogoutRequest) *models.LogoutResponse {
	count, err := s.logout(ctx, req)
	if err != nil {
		logger.With(ctx, s.logger).Error("logout failed", zap.Error(err))
		s.record(OpLogout, err)
	} else {
		s.metrics.RecordSession(OpLogout, outcomeFor(count))
	}
	return &models.LogoutResponse{RevokedCount: count}
}

func outcomeFor(count int) string {
	if count == 0 {
		return "noop"
	}
	return "ok"
}

func (s *SessionService) logout(ctx context.Context, req models.LogoutRequest) (int, error) {
	token, ok := security.ParseRefreshToken(req.RefreshToken)
	if !ok {
		return 0, nil
	}

	now := s.now()
	match, err := s.findMatch(ctx, token, now)
	if err != nil || match == nil {
		return 0, err
	}
	err = s.withStore(ctx, func(ctx context.Context) error {
		return s.revoke(ctx, match.ID, now, nil)
	})
	if err != nil {
		if errors.Is(err, appErrors.ErrInvalidOrExpiredToken) {
			return 0, nil
		}
		return 0, err
	}

	s.scheduleLogoutStamp(ctx, match.UserID, now)
	s.writeAudit(ctx, match.UserID, models.AuditActionLogout, map[string]string{"status": "logout"}, req.IP, req.UserAgent)
	return 1, nil
}

// Me returns the public projection of the user's current identity.
func (s *SessionService) Me(ctx context.Context, userID int64) (*models.UserInfo, error) {
	identity, err := s.identity.GetByID(ctx, userID)
	if err == nil && identity == nil {
		err = appErrors.Clone(appErrors.ErrUserNotFound, "")
	}
	s.record(OpMe, err)
	if err != nil {
		return nil, err
	}
	info := identity.Info()
	return &info, nil
}

func (s *SessionService) withStore(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	err := s.store.InTx(ctx, fn)
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "")
}

// findMatch returns the active record named by the token's lookup id when its
// hash verifies against the token secret. It runs outside any transaction.
func (s *SessionService) findMatch(ctx context.Context, token security.RefreshToken, now time.Time) (*models.RefreshTokenRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	record, err := s.store.FindActive(ctx, token.LookupID, now)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "")
	}
	if record == nil || s.hasher.Verify(token.Secret, record.TokenHash) != nil {
		return nil, nil
	}
	return record, nil
}

// lock re-reads the matched record under a row lock. A record rotated or
// revoked since findMatch yields InvalidOrExpiredToken.
func (s *SessionService) lock(ctx context.Context, id int64, now time.Time) error {
	record, err := s.store.LockActive(ctx, id, now)
	if err != nil {
		return appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "")
	}
	if record == nil {
		return appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
	}
	return nil
}

// revoke maps a lost race on the record to InvalidOrExpiredToken.
func (s *SessionService) revoke(ctx context.Context, id int64, at time.Time, replacedBy *int64) error {
	err := s.store.MarkRevoked(ctx, id, at, replacedBy)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrRecordAlreadyRevoked):
		return appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
	default:
		return appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "")
	}
}

func (s *SessionService) newRecord(userID int64, now time.Time, ip, userAgent string) (*models.RefreshTokenRecord, string, error) {
	token, err := security.GenerateRefreshToken()
	if err != nil {
		return nil, "", appErrors.WrapAs(err, appErrors.ErrInternal, "failed to create refresh token")
	}
	hash, err := s.hasher.Hash(token.Secret)
	if err != nil {
		return nil, "", appErrors.WrapAs(err, appErrors.ErrInternal, "failed to hash refresh token")
	}
	return &models.RefreshTokenRecord{
		UserID:    userID,
		LookupID:  token.LookupID,
		TokenHash: hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.RefreshTTL),
		ClientIP:  optional(ip),
		UserAgent: optional(userAgent),
	}, token.String(), nil
}

func (s *SessionService) session(identity *models.UserIdentity, refreshToken string) (*models.SessionResponse, error) {
	accessToken, claims, err := s.signer.Sign(identity, s.config.AccessTTL)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrInternal, "failed to create access token")
	}
	return &models.SessionResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    models.TokenTypeBearer,
		ExpiresIn:    int64(s.config.AccessTTL.Seconds()),
		IssuedAt:     claims.IssuedAtTime(),
		User:         identity.Info(),
	}, nil
}

func (s *SessionService) scheduleLogoutStamp(ctx context.Context, userID int64, at time.Time) {
	if s.queue == nil {
		return
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    JobTypeLogoutStamp,
		Payload: LogoutStamp{UserID: userID, At: at},
	}
	if err := s.queue.Enqueue(job); err != nil {
		logger.With(ctx, s.logger).Warn("logout stamp not scheduled", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (s *SessionService) writeAudit(ctx context.Context, userID int64, action string, values interface{}, ip, userAgent string) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(values)
	id := userID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:    &id,
		Action:    action,
		Resource:  "auth",
		NewValues: payload,
		IPAddress: ip,
		UserAgent: userAgent,
	}); err != nil {
		logger.With(ctx, s.logger).Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *SessionService) record(op string, err error) {
	if err == nil {
		s.metrics.RecordSession(op, "ok")
		return
	}
	s.metrics.RecordSession(op, appErrors.FromError(err).Code)
}

func (s *SessionService) now() time.Time {
	return s.config.Now().UTC()
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
