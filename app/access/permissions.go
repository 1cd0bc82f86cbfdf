// Package access maps actor roles to the capabilities they hold.
package access

import (
	"fmt"
	"slices"
)

type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

type Capability string

const (
	DraftRead    Capability = "draft:read"
	DraftWrite   Capability = "draft:write"
	DraftDelete  Capability = "draft:delete"
	DraftPublish Capability = "draft:publish"

	JobRead  Capability = "job:read"
	JobRetry Capability = "job:retry"

	HealthRead Capability = "health:read"

	EndpointRead   Capability = "endpoint:read"
	EndpointTest   Capability = "endpoint:test"
	EndpointManage Capability = "endpoint:manage"

	SettingsRead   Capability = "settings:read"
	SettingsManage Capability = "settings:manage"

	AuditRead Capability = "audit:read"

	UserRead   Capability = "user:read"
	UserManage Capability = "user:manage"
)

// AllCapabilities lists every capability known to the system.
var AllCapabilities = []Capability{
	DraftRead, DraftWrite, DraftDelete, DraftPublish,
	JobRead, JobRetry,
	HealthRead,
	EndpointRead, EndpointTest, EndpointManage,
	SettingsRead, SettingsManage,
	AuditRead,
	UserRead, UserManage,
}

var viewerCapabilities = []Capability{
	DraftRead,
	JobRead,
	HealthRead,
	EndpointRead,
	SettingsRead,
	AuditRead,
	UserRead,
}

var rolePermissions = map[Role]map[Capability]bool{
	RoleViewer: toSet(viewerCapabilities),
	RoleEditor: toSet(append(slices.Clone(viewerCapabilities),
		DraftWrite,
		DraftPublish,
		JobRetry,
		EndpointTest,
	)),
	RoleAdmin: toSet(AllCapabilities),
}

var roleLevels = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

func toSet(capabilities []Capability) map[Capability]bool {
	set := make(map[Capability]bool, len(capabilities))
	for _, c := range capabilities {
		set[c] = true
	}
	return set
}

// Actor is the identity a request runs as.
type Actor struct {
	ID   string
	Role Role
}

// Denial is returned when an actor lacks a capability or role.
// Exactly one of Capability and RequiredRole is set.
type Denial struct {
	Role         Role
	Capability   Capability
	RequiredRole Role
}

func (d *Denial) Error() string {
	if d.RequiredRole != "" {
		return fmt.Sprintf("insufficient role: required %s or higher", d.RequiredRole)
	}
	return fmt.Sprintf("insufficient permissions: required %s", d.Capability)
}

// Required names what was missing, for diagnostics.
func (d *Denial) Required() string {
	if d.RequiredRole != "" {
		return string(d.RequiredRole)
	}
	return string(d.Capability)
}

// Level returns the position of role in the viewer < editor < admin order.
// Unknown roles are 0.
func Level(role Role) int {
	return roleLevels[role]
}

// Valid reports whether role is one of the known roles.
func Valid(role Role) bool {
	_, ok := roleLevels[role]
	return ok
}

// Can reports whether role holds capability. Unknown roles hold nothing.
func Can(role Role, capability Capability) bool {
	return rolePermissions[role][capability]
}

// Authorize returns nil when role holds capability, otherwise a *Denial.
func Authorize(role Role, capability Capability) error {
	if Can(role, capability) {
		return nil
	}
	return &Denial{Role: role, Capability: capability}
}

// AtLeast returns nil when role ranks at or above required.
func AtLeast(role, required Role) error {
	if Level(role) > 0 && Level(role) >= Level(required) {
		return nil
	}
	return &Denial{Role: role, RequiredRole: required}
}

// Capabilities returns the sorted capability set held by role.
func Capabilities(role Role) []Capability {
	set := rolePermissions[role]
	result := make([]Capability, 0, len(set))
	for c := range set {
		result = append(result, c)
	}
	slices.Sort(result)
	return result
}
