package security

import (
	"fmt"
	"sort"

	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

// RoleRegistry holds the static role hierarchy and the permission catalog.
// Both are immutable after construction so reads need no synchronization.
type RoleRegistry struct {
	roles       map[sec.RoleID]*sec.Role
	permissions map[string]*sec.Permission
	// rolePerms is the flattened permission set per role, precomputed at
	// construction so HasPermission is a single map lookup.
	rolePerms map[sec.RoleID]map[string]struct{}
}

// NewRoleRegistry builds a registry from the given roles and catalog.
// It rejects hierarchies where a role can manage a role of equal or higher
// level, and permissions referenced by a role but absent from the catalog.
func NewRoleRegistry(roles []*sec.Role, permissions []*sec.Permission) (*RoleRegistry, error) {
	r := &RoleRegistry{
		roles:       make(map[sec.RoleID]*sec.Role, len(roles)),
		permissions: make(map[string]*sec.Permission, len(permissions)),
		rolePerms:   make(map[sec.RoleID]map[string]struct{}, len(roles)),
	}

	for _, p := range permissions {
		if p.ID == "" {
			return nil, sec.NewError(sec.ErrorTypeConfiguration, "permission with empty id in catalog")
		}
		if _, dup := r.permissions[p.ID]; dup {
			return nil, sec.NewError(sec.ErrorTypeConfiguration, "duplicate permission id %q", p.ID)
		}
		r.permissions[p.ID] = p
	}

	for _, role := range roles {
		if _, dup := r.roles[role.ID]; dup {
			return nil, sec.NewError(sec.ErrorTypeConfiguration, "duplicate role %q", role.ID)
		}
		r.roles[role.ID] = role
	}

	for _, role := range roles {
		perms := make(map[string]struct{}, len(role.Permissions))
		for _, pid := range role.Permissions {
			if _, ok := r.permissions[pid]; !ok {
				return nil, sec.NewError(sec.ErrorTypeConfiguration,
					"role %q references unknown permission %q", role.ID, pid)
			}
			perms[pid] = struct{}{}
		}
		r.rolePerms[role.ID] = perms

		for _, managed := range role.ManageableRoles {
			target, ok := r.roles[managed]
			if !ok {
				return nil, sec.NewError(sec.ErrorTypeConfiguration,
					"role %q manages unknown role %q", role.ID, managed)
			}
			if target.Level >= role.Level {
				return nil, sec.NewError(sec.ErrorTypeConfiguration,
					"role %q (level %d) cannot manage %q (level %d)",
					role.ID, role.Level, managed, target.Level)
			}
		}
	}

	return r, nil
}

// HasPermission reports whether the role's flattened permission set contains
// permissionID. Unknown roles and unknown permissions yield false.
func (r *RoleRegistry) HasPermission(role sec.RoleID, permissionID string) bool {
	perms, ok := r.rolePerms[role]
	if !ok {
		return false
	}
	_, ok = perms[permissionID]
	return ok
}

// CanManageRole reports whether actor may administer target. A role never
// manages itself and never manages a role of equal or higher level.
func (r *RoleRegistry) CanManageRole(actor, target sec.RoleID) bool {
	role, ok := r.roles[actor]
	if !ok {
		return false
	}
	for _, m := range role.ManageableRoles {
		if m == target {
			return true
		}
	}
	return false
}

// PermissionsOf returns the role's permission ids. Unknown roles yield an
// empty slice, never nil dereferences.
func (r *RoleRegistry) PermissionsOf(role sec.RoleID) []string {
	ro, ok := r.roles[role]
	if !ok {
		return []string{}
	}
	out := make([]string, len(ro.Permissions))
	copy(out, ro.Permissions)
	return out
}

// Role returns the role definition or a NotFound error
func (r *RoleRegistry) Role(id sec.RoleID) (*sec.Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return nil, sec.NewError(sec.ErrorTypeNotFound, "role %q not found", id).WithSubject(string(id))
	}
	return role, nil
}

// Permission returns the catalog entry or a NotFound error
func (r *RoleRegistry) Permission(id string) (*sec.Permission, error) {
	p, ok := r.permissions[id]
	if !ok {
		return nil, sec.NewError(sec.ErrorTypeNotFound, "permission %q not found", id).WithSubject(id)
	}
	return p, nil
}

// Roles returns all roles ordered by descending level
func (r *RoleRegistry) Roles() []*sec.Role {
	out := make([]*sec.Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level > out[j].Level })
	return out
}

// DefaultRoles returns the platform's built-in seven-role hierarchy
func DefaultRoles() []*sec.Role {
	return []*sec.Role{
		{
			ID: sec.RoleSuperAdmin, Name: "Super Administrator", Level: 7,
			ManageableRoles: []sec.RoleID{sec.RoleOrgAdmin, sec.RoleAdmin, sec.RoleOrganizer, sec.RoleAssistant, sec.RoleCoordinator, sec.RoleViewer},
			Permissions:     permissionIDs(DefaultPermissions()),
		},
		{
			ID: sec.RoleOrgAdmin, Name: "Organization Administrator", Level: 6,
			ManageableRoles: []sec.RoleID{sec.RoleAdmin, sec.RoleOrganizer, sec.RoleAssistant, sec.RoleCoordinator, sec.RoleViewer},
			Permissions: []string{
				"users:read", "users:create", "users:update", "users:delete",
				"roles:assign", "events:read", "events:create", "events:update", "events:delete",
				"attendees:read", "attendees:update", "attendees:export",
				"rooms:assign", "buses:assign", "communications:send",
				"reports:read", "reports:export", "audit:read", "settings:update",
			},
		},
		{
			ID: sec.RoleAdmin, Name: "Administrator", Level: 5,
			ManageableRoles: []sec.RoleID{sec.RoleOrganizer, sec.RoleAssistant, sec.RoleCoordinator, sec.RoleViewer},
			Permissions: []string{
				"users:read", "users:create", "users:update",
				"roles:assign", "events:read", "events:create", "events:update",
				"attendees:read", "attendees:update", "attendees:export",
				"rooms:assign", "buses:assign", "communications:send",
				"reports:read", "reports:export", "audit:read",
			},
		},
		{
			ID: sec.RoleOrganizer, Name: "Event Organizer", Level: 4,
			ManageableRoles: []sec.RoleID{sec.RoleAssistant, sec.RoleCoordinator, sec.RoleViewer},
			Permissions: []string{
				"users:read", "events:read", "events:update",
				"attendees:read", "attendees:update",
				"rooms:assign", "buses:assign", "communications:send",
				"reports:read",
			},
		},
		{
			ID: sec.RoleAssistant, Name: "Organizer Assistant", Level: 3,
			ManageableRoles: []sec.RoleID{sec.RoleViewer},
			Permissions: []string{
				"events:read", "attendees:read", "attendees:update",
				"rooms:assign", "reports:read",
			},
		},
		{
			ID: sec.RoleCoordinator, Name: "Coordinator", Level: 2,
			ManageableRoles: []sec.RoleID{},
			Permissions: []string{
				"events:read", "attendees:read", "rooms:assign",
			},
		},
		{
			ID: sec.RoleViewer, Name: "Viewer", Level: 1,
			ManageableRoles: []sec.RoleID{},
			Permissions: []string{
				"events:read", "attendees:read",
			},
		},
	}
}

// DefaultPermissions returns the platform's built-in permission catalog
func DefaultPermissions() []*sec.Permission {
	mk := func(resource, action string, scope sec.PermissionScope) *sec.Permission {
		return &sec.Permission{
			ID:       fmt.Sprintf("%s:%s", resource, action),
			Resource: resource,
			Action:   action,
			Scope:    scope,
		}
	}
	return []*sec.Permission{
		mk("users", "read", sec.ScopeOrganization),
		mk("users", "create", sec.ScopeOrganization),
		mk("users", "update", sec.ScopeOrganization),
		mk("users", "delete", sec.ScopeOrganization),
		mk("roles", "assign", sec.ScopeOrganization),
		mk("events", "read", sec.ScopeEvent),
		mk("events", "create", sec.ScopeOrganization),
		mk("events", "update", sec.ScopeEvent),
		mk("events", "delete", sec.ScopeOrganization),
		mk("attendees", "read", sec.ScopeEvent),
		mk("attendees", "update", sec.ScopeEvent),
		mk("attendees", "export", sec.ScopeEvent),
		mk("rooms", "assign", sec.ScopeEvent),
		mk("buses", "assign", sec.ScopeEvent),
		mk("communications", "send", sec.ScopeEvent),
		mk("reports", "read", sec.ScopeOrganization),
		mk("reports", "export", sec.ScopeOrganization),
		mk("audit", "read", sec.ScopeGlobal),
		mk("settings", "update", sec.ScopeGlobal),
	}
}

func permissionIDs(perms []*sec.Permission) []string {
	ids := make([]string, len(perms))
	for i, p := range perms {
		ids[i] = p.ID
	}
	return ids
}
