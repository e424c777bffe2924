package security

import (
	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

type classification struct {
	severity sec.Severity
	category sec.Category
}

// actionClasses maps every audit action to its severity and category. The
// table is the single source of truth; callers never supply either field.
var actionClasses = map[sec.AuditAction]classification{
	sec.ActionLoginSuccess:       {sec.SeverityLow, sec.CategorySecurity},
	sec.ActionLoginFailed:        {sec.SeverityMedium, sec.CategorySecurity},
	sec.ActionLogout:             {sec.SeverityLow, sec.CategorySecurity},
	sec.ActionPasswordChanged:    {sec.SeverityMedium, sec.CategorySecurity},
	sec.ActionMFAChallengeFailed: {sec.SeverityHigh, sec.CategorySecurity},

	sec.ActionUserCreated:  {sec.SeverityMedium, sec.CategoryUserManagement},
	sec.ActionUserUpdated:  {sec.SeverityLow, sec.CategoryUserManagement},
	sec.ActionUserDeleted:  {sec.SeverityHigh, sec.CategoryUserManagement},
	sec.ActionRoleAssigned: {sec.SeverityHigh, sec.CategoryUserManagement},
	sec.ActionRoleRevoked:  {sec.SeverityHigh, sec.CategoryUserManagement},

	sec.ActionPermissionGranted: {sec.SeverityLow, sec.CategorySecurity},
	sec.ActionPermissionDenied:  {sec.SeverityMedium, sec.CategorySecurity},
	sec.ActionPermissionUpdated: {sec.SeverityHigh, sec.CategorySecurity},

	sec.ActionApprovalRequested: {sec.SeverityMedium, sec.CategoryCompliance},
	sec.ActionApprovalDecided:   {sec.SeverityMedium, sec.CategoryCompliance},
	sec.ActionApprovalExpired:   {sec.SeverityMedium, sec.CategoryCompliance},

	sec.ActionDataExported: {sec.SeverityHigh, sec.CategoryDataManagement},
	sec.ActionDataImported: {sec.SeverityMedium, sec.CategoryDataManagement},

	sec.ActionEventCreated:    {sec.SeverityLow, sec.CategoryDataManagement},
	sec.ActionEventUpdated:    {sec.SeverityLow, sec.CategoryDataManagement},
	sec.ActionEventDeleted:    {sec.SeverityHigh, sec.CategoryDataManagement},
	sec.ActionAttendeeUpdated: {sec.SeverityLow, sec.CategoryDataManagement},
	sec.ActionRoomAssigned:    {sec.SeverityLow, sec.CategoryDataManagement},
	sec.ActionBusAssigned:     {sec.SeverityLow, sec.CategoryDataManagement},

	sec.ActionCommunicationSent: {sec.SeverityLow, sec.CategoryCommunication},

	sec.ActionConfigurationChange: {sec.SeverityHigh, sec.CategorySystem},
	sec.ActionEmergencyAccess:     {sec.SeverityCritical, sec.CategorySecurity},
}

// Classify returns the severity and category for an action. Unknown actions
// classify as medium/system so nothing is silently dropped.
func Classify(action sec.AuditAction) (sec.Severity, sec.Category) {
	if c, ok := actionClasses[action]; ok {
		return c.severity, c.category
	}
	return sec.SeverityMedium, sec.CategorySystem
}
