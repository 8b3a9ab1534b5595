package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/eventhub-auth/internal/models"
	appErrors "github.com/noah-isme/eventhub-auth/pkg/errors"
	"github.com/noah-isme/eventhub-auth/pkg/logger"
)

type accessTokenVerifier interface {
	Verify(token string) (*models.AccessTokenClaims, error)
}

type lastLogoutSource interface {
	LastLogout(ctx context.Context, userID int64) (*time.Time, bool, error)
}

// GuardConfig controls how the guard reacts when revocation state cannot be read.
type GuardConfig struct {
	// FailOpen accepts a validly signed token when the identity provider is
	// unavailable. When false such requests are rejected with UpstreamUnavailable.
	FailOpen bool
}

// AccessGuard authenticates access tokens and rejects tokens minted before
// the user's last logout.
type AccessGuard struct {
	verifier    accessTokenVerifier
	revocations lastLogoutSource
	metrics     *MetricsService
	logger      *zap.Logger
	config      GuardConfig
}

// NewAccessGuard constructs an AccessGuard instance.
func NewAccessGuard(verifier accessTokenVerifier, revocations lastLogoutSource, metrics *MetricsService, logger *zap.Logger, config GuardConfig) *AccessGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessGuard{verifier: verifier, revocations: revocations, metrics: metrics, logger: logger, config: config}
}

// Authenticate verifies token and checks it against the user's last logout.
// Tokens issued in the same second as the logout are still accepted.
func (g *AccessGuard) Authenticate(ctx context.Context, token string) (*models.AccessTokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		g.metrics.RecordGuardDecision(DecisionInvalid)
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing access token")
	}

	claims, err := g.verifier.Verify(token)
	if err != nil {
		if errors.Is(err, appErrors.ErrTokenExpired) {
			g.metrics.RecordGuardDecision(DecisionExpired)
		} else {
			g.metrics.RecordGuardDecision(DecisionInvalid)
		}
		return nil, err
	}

	userID, err := claims.UserID()
	if err != nil {
		g.metrics.RecordGuardDecision(DecisionInvalid)
		return nil, appErrors.WrapAs(err, appErrors.ErrInvalidSignature, "")
	}

	lastLogout, exists, err := g.revocations.LastLogout(ctx, userID)
	if err != nil {
		log := logger.With(ctx, g.logger).With(zap.Int64("user_id", userID), zap.Error(err))
		if g.config.FailOpen {
			g.metrics.RecordGuardDecision(DecisionFailOpen)
			log.Warn("revocation state unavailable, accepting token")
			return claims, nil
		}
		g.metrics.RecordGuardDecision(DecisionFailClosed)
		log.Warn("revocation state unavailable, rejecting token")
		if errors.Is(err, appErrors.ErrUpstreamUnavailable) {
			return nil, err
		}
		return nil, appErrors.WrapAs(err, appErrors.ErrUpstreamUnavailable, "")
	}
	if !exists {
		g.metrics.RecordGuardDecision(DecisionUnknownUser)
		return nil, appErrors.Clone(appErrors.ErrUserNotFound, "")
	}

	if Revoked(claims.IssuedAtTime(), lastLogout) {
		g.metrics.RecordGuardDecision(DecisionRevoked)
		return nil, appErrors.Clone(appErrors.ErrTokenRevoked, "")
	}

	g.metrics.RecordGuardDecision(DecisionAccepted)
	return claims, nil
}

// Revoked reports whether a token issued at issuedAt predates lastLogout,
// compared at one-second granularity.
func Revoked(issuedAt time.Time, lastLogout *time.Time) bool {
	if lastLogout == nil {
		return false
	}
	return issuedAt.Unix() < lastLogout.Unix()
}
