//go:build devauth

package middleware

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/eventhub-auth/internal/models"
	"github.com/noah-isme/eventhub-auth/pkg/config"
)

func devAutoAuthClaims(cfg DevAuthConfig) (*models.AccessTokenClaims, bool) {
	if !cfg.Enabled || cfg.Env == config.EnvProduction || cfg.UserID <= 0 {
		return nil, false
	}
	email := cfg.Email
	if email == "" {
		email = "dev@localhost"
	}
	roles := cfg.Roles
	if len(roles) == 0 {
		roles = []string{models.RoleAdmin}
	}
	now := time.Now().UTC()
	return &models.AccessTokenClaims{
		Email: email,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(cfg.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}, true
}
