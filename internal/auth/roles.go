package auth

import (
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
)

//go:embed roles.yaml
var defaultRolesYAML []byte

type roleFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// RoleCatalog is the immutable role name → capability set mapping.
type RoleCatalog struct {
	roles map[string]domain.Role
}

// DefaultRoleCatalog parses the embedded role reference data.
func DefaultRoleCatalog() (*RoleCatalog, error) {
	return ParseRoleCatalog(defaultRolesYAML)
}

// LoadRoleCatalog reads role reference data from path, or the embedded
// defaults when path is empty.
func LoadRoleCatalog(path string) (*RoleCatalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRoleCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}
	return ParseRoleCatalog(data)
}

// ParseRoleCatalog builds a catalog from YAML.
func ParseRoleCatalog(data []byte) (*RoleCatalog, error) {
	var file roleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse roles: %w", err)
	}
	if len(file.Roles) == 0 {
		return nil, fmt.Errorf("parse roles: no roles defined")
	}
	catalog := &RoleCatalog{roles: make(map[string]domain.Role, len(file.Roles))}
	for name, caps := range file.Roles {
		key := normalizeRole(name)
		if key == "" {
			return nil, fmt.Errorf("parse roles: empty role name")
		}
		set := make(map[domain.Capability]struct{}, len(caps))
		for _, capability := range caps {
			capability = strings.TrimSpace(capability)
			if !strings.Contains(capability, ":") {
				return nil, fmt.Errorf("parse roles: role %s has malformed capability %q", key, capability)
			}
			set[capability] = struct{}{}
		}
		catalog.roles[key] = domain.Role{Name: key, Capabilities: set}
	}
	return catalog, nil
}

// Role returns a role by name.
func (c *RoleCatalog) Role(name string) (domain.Role, bool) {
	role, ok := c.roles[normalizeRole(name)]
	return role, ok
}

// Resolve maps role names onto roles; unknown names are an error.
func (c *RoleCatalog) Resolve(names []string) ([]domain.Role, error) {
	roles := make([]domain.Role, 0, len(names))
	for _, name := range names {
		role, ok := c.Role(name)
		if !ok {
			return nil, fmt.Errorf("unknown role %q", name)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// Names returns sorted role names.
func (c *RoleCatalog) Names() []string {
	names := make([]string, 0, len(c.roles))
	for name := range c.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeRole(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// RequireCapability ensures the principal holds capability in at least one
// role. Scope is checked later against the concrete ticket.
func RequireCapability(capability string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		if !HoldsAnywhere(principal.Roles, capability) {
			return fiber.NewError(http.StatusForbidden, "missing capability "+capability)
		}
		return c.Next()
	}
}

// RequireAnyRole ensures caller is authenticated.
func RequireAnyRole() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		return c.Next()
	}
}
