//go:build devauth

package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/eventhub-auth/pkg/config"
)

func TestDevAutoAuthInjectsIdentity(t *testing.T) {
	claims, ok := devAutoAuthClaims(DevAuthConfig{Enabled: true, Env: config.EnvDevelopment, UserID: 3})
	require.True(t, ok)
	assert.Equal(t, "3", claims.Subject)
	assert.True(t, claims.HasRole("admin"))
}

func TestDevAutoAuthNeverInProduction(t *testing.T) {
	_, ok := devAutoAuthClaims(DevAuthConfig{Enabled: true, Env: config.EnvProduction, UserID: 3})
	assert.False(t, ok)

	_, ok = devAutoAuthClaims(DevAuthConfig{Enabled: false, Env: config.EnvDevelopment, UserID: 3})
	assert.False(t, ok)
}

func TestJWTInjectsDevIdentityWithoutHeader(t *testing.T) {
	devAuth := DevAuthConfig{Enabled: true, Env: config.EnvDevelopment, UserID: 1}
	w := doRequest(newRouterWithDevAuth(&stubGuard{}, devAuth), "/users/1", "")
	assert.Equal(t, 200, w.Code)
}
