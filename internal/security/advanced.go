package security

import (
	"time"

	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

// DefaultAdvancedPermissions returns the built-in contextual permission set.
// Catalog entries without an advanced definition evaluate on role membership
// alone.
func DefaultAdvancedPermissions() []*sec.AdvancedPermission {
	return []*sec.AdvancedPermission{
		{
			Permission: sec.Permission{
				ID: "attendees:export", Resource: "attendees", Action: "export", Scope: sec.ScopeEvent,
			},
			MFARequired:  true,
			RiskLevel:    "high",
			RiskCategory: "data_exfiltration",
			Constraints: &sec.ConstraintSet{
				AccessLimits: &sec.AccessLimits{
					MaxRequestsPerHour: 10,
					MaxRequestsPerDay:  50,
					MaxDataExportMB:    500,
				},
			},
		},
		{
			Permission: sec.Permission{
				ID: "reports:export", Resource: "reports", Action: "export", Scope: sec.ScopeOrganization,
			},
			RiskLevel:    "medium",
			RiskCategory: "data_exfiltration",
			Constraints: &sec.ConstraintSet{
				AccessLimits: &sec.AccessLimits{
					MaxRequestsPerDay: 100,
					MaxDataExportMB:   1024,
				},
			},
		},
		{
			Permission: sec.Permission{
				ID: "roles:assign", Resource: "roles", Action: "assign", Scope: sec.ScopeOrganization,
			},
			MFARequired:  true,
			RiskLevel:    "high",
			RiskCategory: "privilege_change",
			Constraints: &sec.ConstraintSet{
				Device: &sec.DeviceConstraints{
					RequireTrustedDevice: true,
				},
			},
		},
		{
			Permission: sec.Permission{
				ID: "users:delete", Resource: "users", Action: "delete", Scope: sec.ScopeOrganization,
			},
			MFARequired:  true,
			RiskLevel:    "high",
			RiskCategory: "destructive",
			Constraints: &sec.ConstraintSet{
				Approval: &sec.ApprovalRequirement{
					Required:        true,
					ApproverRoles:   []sec.RoleID{sec.RoleSuperAdmin, sec.RoleOrgAdmin},
					MinApprovers:    1,
					MaxApprovalTime: 24 * time.Hour,
					Escalations: []sec.EscalationRule{
						{NotifyRoles: []sec.RoleID{sec.RoleSuperAdmin}},
					},
				},
			},
		},
		{
			Permission: sec.Permission{
				ID: "events:delete", Resource: "events", Action: "delete", Scope: sec.ScopeOrganization,
			},
			RiskLevel:    "high",
			RiskCategory: "destructive",
			Constraints: &sec.ConstraintSet{
				Approval: &sec.ApprovalRequirement{
					Required:        true,
					ApproverRoles:   []sec.RoleID{sec.RoleSuperAdmin, sec.RoleOrgAdmin},
					MinApprovers:    2,
					MaxApprovalTime: 48 * time.Hour,
					Escalations: []sec.EscalationRule{
						{NotifyRoles: []sec.RoleID{sec.RoleSuperAdmin}},
					},
				},
			},
		},
		{
			Permission: sec.Permission{
				ID: "settings:update", Resource: "settings", Action: "update", Scope: sec.ScopeGlobal,
			},
			MFARequired:  true,
			RiskLevel:    "high",
			RiskCategory: "configuration",
			Constraints: &sec.ConstraintSet{
				Device: &sec.DeviceConstraints{
					RequireTrustedDevice:  true,
					MaxConcurrentSessions: 2,
				},
			},
		},
	}
}
