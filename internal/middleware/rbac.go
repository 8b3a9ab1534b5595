package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/eventhub-auth/pkg/errors"
	"github.com/noah-isme/eventhub-auth/pkg/response"
)

// SelfRole lets the subject through when the :id route parameter is their own id.
const SelfRole = "SELF"

// RBAC enforces role-based access control for routes guarded by JWT.
func RBAC(allowed ...string) gin.HandlerFunc {
	allowSelf := false
	allowedRoles := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if a == SelfRole {
			allowSelf = true
			continue
		}
		allowedRoles[a] = struct{}{}
	}

	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}

		for _, role := range claims.Roles {
			if _, ok := allowedRoles[role]; ok {
				c.Next()
				return
			}
		}

		if allowSelf {
			if targetID := c.Param("id"); targetID != "" {
				if id, err := strconv.ParseInt(targetID, 10, 64); err == nil {
					if sub, err := claims.UserID(); err == nil && sub == id {
						c.Next()
						return
					}
				}
			}
		}

		response.Abort(c, appErrors.ErrForbidden)
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return RBAC(roles...)
}
