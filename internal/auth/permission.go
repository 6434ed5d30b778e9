package auth

import (
	"strings"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

// Allow decides whether roles held at actorScope grant capability on a
// resource at targetScope. It is a pure function of its arguments.
//
// A capability is granted when some role lists it. It then applies when the
// capability is scope-unbounded (":all" suffix), when the actor holds
// admin:full-access, or when actorScope equals or is an ancestor of
// targetScope. A role listing "<capability>:all" grants the bounded form
// everywhere. Roles never inherit from each other.
func Allow(roles []domain.Role, capability string, targetScope, actorScope domain.Scope) bool {
	if capability == "" {
		return false
	}
	unbounded := strings.HasSuffix(capability, domain.UnboundedSuffix)

	var granted, fullAccess bool
	for _, role := range roles {
		if !unbounded && role.Has(capability+domain.UnboundedSuffix) {
			return true
		}
		if role.Has(capability) {
			granted = true
		}
		if role.Has(domain.CapAdminFullAccess) {
			fullAccess = true
		}
	}
	if !granted {
		return false
	}
	return unbounded || fullAccess || actorScope.Contains(targetScope)
}

// HoldsAnywhere reports whether any role lists capability, ignoring scope.
func HoldsAnywhere(roles []domain.Role, capability string) bool {
	for _, role := range roles {
		if role.Has(capability) || role.Has(capability+domain.UnboundedSuffix) {
			return true
		}
	}
	return false
}

// PermissionModel applies Allow to principals. The system principal bypasses
// every check.
type PermissionModel struct{}

// NewPermissionModel constructs the model.
func NewPermissionModel() *PermissionModel {
	return &PermissionModel{}
}

// Allowed reports whether the principal may use capability on target.
func (m *PermissionModel) Allowed(principal domain.Principal, capability string, target domain.Scope) bool {
	if principal.System {
		return true
	}
	return Allow(principal.Roles, capability, target, principal.Scope)
}

// Authorize returns an Unauthorized error when the check fails.
func (m *PermissionModel) Authorize(principal domain.Principal, capability string, target domain.Scope) error {
	if m.Allowed(principal, capability, target) {
		return nil
	}
	return apperrors.NewUnauthorized(capability, map[string]any{
		"actor_scope":  principal.Scope.String(),
		"target_scope": target.String(),
	})
}
