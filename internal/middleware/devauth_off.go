//go:build !devauth

package middleware

import "github.com/noah-isme/eventhub-auth/internal/models"

func devAutoAuthClaims(DevAuthConfig) (*models.AccessTokenClaims, bool) {
	return nil, false
}
