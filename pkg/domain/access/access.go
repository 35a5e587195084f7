// Package access models who may act on a workspace and what they may do there.
package access

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vexscan/api/pkg/domain/shared"
)

// Role is an organization membership role.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// AllRoles returns all valid roles.
func AllRoles() []Role {
	return []Role{RoleOwner, RoleAdmin, RoleMember}
}

// IsValid checks if the role is valid.
func (r Role) IsValid() bool {
	return slices.Contains(AllRoles(), r)
}

// IsAdministrator reports whether the role can act on other members' evidence.
func (r Role) IsAdministrator() bool {
	return r == RoleOwner || r == RoleAdmin
}

// ParseRole parses a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("%w: invalid role: %q", shared.ErrValidation, s)
	}
	return r, nil
}

// Principal is the authenticated caller as known from the bearer token.
type Principal struct {
	UserID shared.ID
	Email  string
}

// User is the platform account state relevant to authorization.
type User struct {
	ID          shared.ID
	DisplayName string
	SuperAdmin  bool
	Active      bool
}

// Membership links a user to an organization.
type Membership struct {
	OrganizationID shared.ID `json:"organization_id"`
	UserID         shared.ID `json:"user_id"`
	Role           Role      `json:"role"`
	Active         bool      `json:"active"`
}

// Workspace is the containment scope a finding lives in.
type Workspace struct {
	ID             shared.ID
	OrganizationID shared.ID
	Name           string
}

// Decision is the capability computed once per request for one workspace.
type Decision struct {
	UserID         shared.ID
	WorkspaceID    shared.ID
	OrganizationID shared.ID
	Role           Role
	SuperAdmin     bool
	Allowed        bool
}

// Decide evaluates the access rule: an active super-admin, or an active user
// with an active membership in the workspace's organization.
func Decide(user User, ws Workspace, m *Membership) Decision {
	d := Decision{
		UserID:         user.ID,
		WorkspaceID:    ws.ID,
		OrganizationID: ws.OrganizationID,
		SuperAdmin:     user.Active && user.SuperAdmin,
	}
	if m != nil && m.Active && m.OrganizationID.Equals(ws.OrganizationID) && m.UserID.Equals(user.ID) {
		d.Role = m.Role
	}
	d.Allowed = d.SuperAdmin || (user.Active && d.Role != "")
	return d
}

// Permits reports whether the decision grants access to workspaceID.
func (d Decision) Permits(workspaceID shared.ID) bool {
	return d.Allowed && d.WorkspaceID.Equals(workspaceID)
}

// IsAdministrator reports platform or organization administrator rights.
func (d Decision) IsAdministrator() bool {
	return d.Allowed && (d.SuperAdmin || d.Role.IsAdministrator())
}

// CanModifyEvidence reports whether the caller may delete or edit evidence
// uploaded by uploader.
func (d Decision) CanModifyEvidence(uploader shared.ID) bool {
	if !d.Allowed {
		return false
	}
	return d.IsAdministrator() || d.UserID.Equals(uploader)
}

// Errors.
var (
	ErrDenied          = shared.NewDomainError("PERMISSION_DENIED", "not a member of the organization that owns this workspace", shared.ErrForbidden)
	ErrUserNotFound    = shared.NewDomainError("UNAUTHORIZED", "user not found", shared.ErrUnauthorized)
	ErrWorkspaceAbsent = shared.NewDomainError("NOT_FOUND", "workspace not found", shared.ErrNotFound)
)
