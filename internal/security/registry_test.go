package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

func newTestRegistry(t *testing.T) *RoleRegistry {
	t.Helper()
	registry, err := NewRoleRegistry(DefaultRoles(), DefaultPermissions())
	require.NoError(t, err)
	return registry
}

func TestRoleRegistry_HasPermission(t *testing.T) {
	registry := newTestRegistry(t)

	assert.True(t, registry.HasPermission(sec.RoleSuperAdmin, "settings:update"))
	assert.True(t, registry.HasPermission(sec.RoleViewer, "events:read"))
	assert.False(t, registry.HasPermission(sec.RoleViewer, "events:delete"))
	assert.False(t, registry.HasPermission(sec.RoleCoordinator, "users:create"))
}

func TestRoleRegistry_UnknownRoleAndPermission(t *testing.T) {
	registry := newTestRegistry(t)

	assert.False(t, registry.HasPermission("ghost", "events:read"))
	assert.False(t, registry.HasPermission(sec.RoleAdmin, "events:teleport"))
	assert.Empty(t, registry.PermissionsOf("ghost"))

	_, err := registry.Role("ghost")
	assert.ErrorIs(t, err, sec.ErrNotFound)

	_, err = registry.Permission("events:teleport")
	assert.ErrorIs(t, err, sec.ErrNotFound)
}

func TestRoleRegistry_CanManageRole(t *testing.T) {
	registry := newTestRegistry(t)

	assert.True(t, registry.CanManageRole(sec.RoleOrgAdmin, sec.RoleViewer))
	assert.True(t, registry.CanManageRole(sec.RoleAdmin, sec.RoleOrganizer))

	// Never upward, never sideways, never self.
	assert.False(t, registry.CanManageRole(sec.RoleOrganizer, sec.RoleAdmin))
	assert.False(t, registry.CanManageRole(sec.RoleAdmin, sec.RoleAdmin))
	assert.False(t, registry.CanManageRole(sec.RoleViewer, sec.RoleViewer))
}

func TestRoleRegistry_RejectsInvertedHierarchy(t *testing.T) {
	perms := []*sec.Permission{
		{ID: "events:read", Resource: "events", Action: "read", Scope: sec.ScopeEvent},
	}
	roles := []*sec.Role{
		{ID: "low", Name: "Low", Level: 1, ManageableRoles: []sec.RoleID{"high"}, Permissions: []string{"events:read"}},
		{ID: "high", Name: "High", Level: 2, Permissions: []string{"events:read"}},
	}

	_, err := NewRoleRegistry(roles, perms)
	assert.ErrorIs(t, err, sec.ErrConfiguration)
}

func TestRoleRegistry_RejectsUnknownPermissionReference(t *testing.T) {
	roles := []*sec.Role{
		{ID: "viewer", Name: "Viewer", Level: 1, Permissions: []string{"does:not:exist"}},
	}

	_, err := NewRoleRegistry(roles, nil)
	assert.ErrorIs(t, err, sec.ErrConfiguration)
}

func TestRoleRegistry_RolesOrderedByLevel(t *testing.T) {
	registry := newTestRegistry(t)

	roles := registry.Roles()
	require.Len(t, roles, 7)
	for i := 1; i < len(roles); i++ {
		assert.GreaterOrEqual(t, roles[i-1].Level, roles[i].Level)
	}
	assert.Equal(t, sec.RoleSuperAdmin, roles[0].ID)
	assert.Equal(t, sec.RoleViewer, roles[6].ID)
}
