package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/kentiva/ops-api/internal/models"
	appErrors "github.com/kentiva/ops-api/pkg/errors"
	"github.com/kentiva/ops-api/pkg/response"
)

// RequireRoles enforces role-based access for routes. Both session and
// service-account identities carry a role; either kind passes when its role
// is in the allowed set.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(c *gin.Context) {
		role, ok := principalRole(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireScope blocks service-account requests missing an explicit capability
// grant. Session identities are not scoped and pass through.
func RequireScope(capability string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc, ok := CurrentService(c); ok && !svc.Scopes.Has(capability) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "token lacks required scope"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func principalRole(c *gin.Context) (models.UserRole, bool) {
	if user, ok := CurrentUser(c); ok {
		return user.Role, true
	}
	if svc, ok := CurrentService(c); ok {
		return svc.Role, true
	}
	return "", false
}
