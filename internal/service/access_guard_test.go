package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/eventhub-auth/internal/models"
	"github.com/noah-isme/eventhub-auth/internal/security"
	appErrors "github.com/noah-isme/eventhub-auth/pkg/errors"
)

type stubLastLogout struct {
	at     *time.Time
	exists bool
	err    error
	calls  int
}

func (s *stubLastLogout) LastLogout(ctx context.Context, userID int64) (*time.Time, bool, error) {
	s.calls++
	return s.at, s.exists, s.err
}

func newGuardFixture(t *testing.T, source lastLogoutSource, failOpen bool) (*AccessGuard, *security.TokenCodec, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec, err := security.NewTokenCodec(security.TokenCodecConfig{Secret: "test-secret", Now: clock.Now})
	require.NoError(t, err)
	guard := NewAccessGuard(codec, source, NewMetricsService(), zap.NewNop(), GuardConfig{FailOpen: failOpen})
	return guard, codec, clock
}

func signAt(t *testing.T, codec *security.TokenCodec, clock *fakeClock, at time.Time) string {
	t.Helper()
	saved := clock.Now()
	clock.mu.Lock()
	clock.now = at
	clock.mu.Unlock()
	token, _, err := codec.Sign(&models.UserIdentity{ID: 1, Email: "a@x.com", Roles: []string{"student"}}, time.Hour)
	require.NoError(t, err)
	clock.mu.Lock()
	clock.now = saved
	clock.mu.Unlock()
	return token
}

func TestGuardRevocationWindow(t *testing.T) {
	logoutAt := time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC)
	source := &stubLastLogout{at: &logoutAt, exists: true}
	guard, codec, clock := newGuardFixture(t, source, false)

	cases := []struct {
		name     string
		issuedAt time.Time
		revoked  bool
	}{
		{"one second before logout", logoutAt.Add(-time.Second), true},
		{"same second as logout", logoutAt, false},
		{"later within the same second", logoutAt.Add(900 * time.Millisecond), false},
		{"after logout", logoutAt.Add(time.Minute), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token := signAt(t, codec, clock, tc.issuedAt)
			claims, err := guard.Authenticate(context.Background(), token)
			if tc.revoked {
				assert.ErrorIs(t, err, appErrors.ErrTokenRevoked)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "1", claims.Subject)
		})
	}
}

func TestGuardAcceptsUserWhoNeverLoggedOut(t *testing.T) {
	guard, codec, clock := newGuardFixture(t, &stubLastLogout{exists: true}, false)

	_, err := guard.Authenticate(context.Background(), signAt(t, codec, clock, clock.Now()))
	assert.NoError(t, err)
}

func TestGuardDistinguishesExpiredFromInvalid(t *testing.T) {
	source := &stubLastLogout{exists: true}
	guard, codec, clock := newGuardFixture(t, source, false)

	expired := signAt(t, codec, clock, clock.Now().Add(-2*time.Hour))
	_, err := guard.Authenticate(context.Background(), expired)
	assert.ErrorIs(t, err, appErrors.ErrTokenExpired)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "1",
		IssuedAt:  jwt.NewNumericDate(clock.Now()),
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = guard.Authenticate(context.Background(), forged)
	assert.ErrorIs(t, err, appErrors.ErrInvalidSignature)

	_, err = guard.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	assert.Zero(t, source.calls)
}

func TestGuardRejectsMissingUser(t *testing.T) {
	guard, codec, clock := newGuardFixture(t, &stubLastLogout{exists: false}, false)

	_, err := guard.Authenticate(context.Background(), signAt(t, codec, clock, clock.Now()))
	assert.ErrorIs(t, err, appErrors.ErrUserNotFound)
}

func TestGuardFailClosedByDefault(t *testing.T) {
	source := &stubLastLogout{err: appErrors.WrapAs(errors.New("timeout"), appErrors.ErrUpstreamUnavailable, "")}
	guard, codec, clock := newGuardFixture(t, source, false)

	_, err := guard.Authenticate(context.Background(), signAt(t, codec, clock, clock.Now()))
	assert.ErrorIs(t, err, appErrors.ErrUpstreamUnavailable)
}

func TestGuardFailOpenAcceptsSignedToken(t *testing.T) {
	source := &stubLastLogout{err: errors.New("timeout")}
	guard, codec, clock := newGuardFixture(t, source, true)

	claims, err := guard.Authenticate(context.Background(), signAt(t, codec, clock, clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, "1", claims.Subject)
}

func TestRevokedComparesWholeSeconds(t *testing.T) {
	logout := time.Unix(1000, 500)
	assert.False(t, Revoked(time.Unix(1000, 0), &logout))
	assert.True(t, Revoked(time.Unix(999, 999999999), &logout))
	assert.False(t, Revoked(time.Unix(1, 0), nil))
}

func TestLogoutRevokesEarlierAccessTokens(t *testing.T) {
	f := newSessionFixture(t)
	revocations := NewRevocationService(f.identity, nil, time.Minute, nil, zap.NewNop())
	f.queue.run = revocations.HandleJob
	guard := NewAccessGuard(f.codec, revocations, nil, zap.NewNop(), GuardConfig{})

	first := f.login(t)
	_, err := guard.Authenticate(context.Background(), first.AccessToken)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Second)
	f.svc.Logout(context.Background(), models.LogoutRequest{RefreshToken: first.RefreshToken})

	_, err = guard.Authenticate(context.Background(), first.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrTokenRevoked)

	second := f.login(t)
	_, err = guard.Authenticate(context.Background(), second.AccessToken)
	assert.NoError(t, err)
}
