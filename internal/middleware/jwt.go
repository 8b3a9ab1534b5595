package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/eventhub-auth/internal/models"
	appErrors "github.com/noah-isme/eventhub-auth/pkg/errors"
	"github.com/noah-isme/eventhub-auth/pkg/response"
)

// ContextUserKey is the gin context key storing access token claims.
const ContextUserKey = "currentUser"

// Authenticator verifies bearer access tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.AccessTokenClaims, error)
}

// DevAuthConfig configures the development identity injected when a request
// carries no credentials. It only has an effect in binaries built with the
// devauth tag.
type DevAuthConfig struct {
	Enabled bool
	Env     string
	UserID  int64
	Email   string
	Roles   []string
}

// JWT protects routes by requiring a valid, unrevoked access token.
func JWT(guard Authenticator, devAuth DevAuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if claims, ok := devAutoAuthClaims(devAuth); ok {
				c.Set(ContextUserKey, claims)
				c.Next()
				return
			}
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing access token"))
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			return
		}

		claims, err := guard.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			response.Abort(c, guardError(err))
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// guardError collapses token failures into one unauthorized outcome. Expiry
// stays visible so clients know to refresh, and a vanished identity is
// reported as such to the holder of a valid token.
func guardError(err error) error {
	switch {
	case errors.Is(err, appErrors.ErrTokenExpired):
		return appErrors.Clone(appErrors.ErrTokenExpired, "")
	case errors.Is(err, appErrors.ErrUserNotFound):
		return appErrors.Clone(appErrors.ErrUserNotFound, "")
	case appErrors.IsAuthFailure(err):
		return appErrors.Clone(appErrors.ErrUnauthorized, "")
	default:
		return err
	}
}

// CurrentClaims returns the claims stored by JWT.
func CurrentClaims(c *gin.Context) (*models.AccessTokenClaims, bool) {
	v, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*models.AccessTokenClaims)
	return claims, ok && claims != nil
}
