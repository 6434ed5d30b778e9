package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// AuthMiddleware validates bearer tokens and resolves the caller's roles
// against the role catalog.
type AuthMiddleware struct {
	tokens  *TokenManager
	catalog *RoleCatalog
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, catalog *RoleCatalog) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, catalog: catalog}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthenticated("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthenticated("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthenticated("invalid token")
	}
	if err := claims.Scope.Validate(); err != nil {
		return apperrors.NewUnauthenticated("invalid token scope")
	}

	roles, err := m.catalog.Resolve(claims.Roles)
	if err != nil {
		return apperrors.NewUnauthenticated(err.Error())
	}

	c.Locals(principalKey, &domain.Principal{
		UserID: claims.SubjectID,
		Roles:  roles,
		Scope:  claims.Scope,
	})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated caller.
func PrincipalFromContext(c *fiber.Ctx) (*domain.Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*domain.Principal)
	return principal, ok
}
