package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/case-timeline-service/internal/domain"
	apperrors "github.com/spec-kit/case-timeline-service/pkg/util"
)

// RequireRole ensures the caller holds one of the allowed roles.
func RequireRole(allowed ...domain.UserRole) fiber.Handler {
	allowedSet := make(map[domain.UserRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		user, ok := PrincipalFromContext(c)
		if !ok || user == nil {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[user.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// RequireAdmin ensures the caller administers cases at some scope.
func RequireAdmin() fiber.Handler {
	return RequireRole(domain.RoleSuperAdmin, domain.RoleCompanyAdmin, domain.RoleBranchAdmin)
}
