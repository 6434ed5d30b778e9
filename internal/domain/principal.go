package domain

// Capability is an atomic permission string such as "ticket:escalate".
type Capability = string

const (
	CapTicketCreate       Capability = "ticket:create"
	CapTicketRead         Capability = "ticket:read"
	CapTicketUpdate       Capability = "ticket:update"
	CapTicketAssign       Capability = "ticket:assign"
	CapTicketEscalate     Capability = "ticket:escalate"
	CapTicketResolve      Capability = "ticket:resolve"
	CapTicketClose        Capability = "ticket:close"
	CapTicketReopen       Capability = "ticket:reopen"
	CapTicketReply        Capability = "ticket:reply"
	CapTicketInternalNote Capability = "ticket:internal-note"

	// CapAdminFullAccess lifts the scope restriction on every capability the
	// holder's roles grant.
	CapAdminFullAccess Capability = "admin:full-access"

	// UnboundedSuffix marks a capability that applies regardless of scope.
	UnboundedSuffix = ":all"
)

// Role is an immutable named set of capabilities.
type Role struct {
	Name         string
	Capabilities map[Capability]struct{}
}

// Has reports whether the role grants capability verbatim.
func (r Role) Has(capability Capability) bool {
	_, ok := r.Capabilities[capability]
	return ok
}

// SystemActorID identifies transitions triggered by the platform itself.
const SystemActorID = "system"

// Principal is an authenticated caller with resolved roles and scope. The
// core never authenticates; it only reads these values.
type Principal struct {
	UserID string
	Roles  []Role
	Scope  Scope
	// System marks the platform actor that bypasses capability checks.
	System bool
}

// SystemPrincipal returns the actor used by automatic transitions.
func SystemPrincipal() Principal {
	return Principal{UserID: SystemActorID, System: true}
}

// RoleNames lists the principal's role names.
func (p Principal) RoleNames() []string {
	names := make([]string, 0, len(p.Roles))
	for _, role := range p.Roles {
		names = append(names, role.Name)
	}
	return names
}
