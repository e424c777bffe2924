package security

// RoleID identifies a role in the platform's fixed hierarchy
type RoleID string

// Platform roles, ordered by hierarchy level (1..7)
const (
	RoleViewer      RoleID = "viewer"
	RoleCoordinator RoleID = "coordinator"
	RoleAssistant   RoleID = "assistant"
	RoleOrganizer   RoleID = "organizer"
	RoleAdmin       RoleID = "admin"
	RoleOrgAdmin    RoleID = "org_admin"
	RoleSuperAdmin  RoleID = "super_admin"
)

// PermissionScope defines the breadth over which a permission applies
type PermissionScope string

const (
	ScopeGlobal       PermissionScope = "global"
	ScopeOrganization PermissionScope = "organization"
	ScopeEvent        PermissionScope = "event"
	ScopeSelf         PermissionScope = "self"
)

// AuditAction identifies an action in the fixed audit taxonomy
type AuditAction string

const (
	ActionLoginSuccess        AuditAction = "login_success"
	ActionLoginFailed         AuditAction = "login_failed"
	ActionLogout              AuditAction = "logout"
	ActionPasswordChanged     AuditAction = "password_changed"
	ActionMFAChallengeFailed  AuditAction = "mfa_challenge_failed"
	ActionUserCreated         AuditAction = "user_created"
	ActionUserUpdated         AuditAction = "user_updated"
	ActionUserDeleted         AuditAction = "user_deleted"
	ActionRoleAssigned        AuditAction = "role_assigned"
	ActionRoleRevoked         AuditAction = "role_revoked"
	ActionPermissionGranted   AuditAction = "permission_granted"
	ActionPermissionDenied    AuditAction = "permission_denied"
	ActionPermissionUpdated   AuditAction = "permission_updated"
	ActionApprovalRequested   AuditAction = "approval_requested"
	ActionApprovalDecided     AuditAction = "approval_decided"
	ActionApprovalExpired     AuditAction = "approval_expired"
	ActionDataExported        AuditAction = "data_exported"
	ActionDataImported        AuditAction = "data_imported"
	ActionEventCreated        AuditAction = "event_created"
	ActionEventUpdated        AuditAction = "event_updated"
	ActionEventDeleted        AuditAction = "event_deleted"
	ActionAttendeeUpdated     AuditAction = "attendee_updated"
	ActionRoomAssigned        AuditAction = "room_assigned"
	ActionBusAssigned         AuditAction = "bus_assigned"
	ActionCommunicationSent   AuditAction = "communication_sent"
	ActionConfigurationChange AuditAction = "configuration_changed"
	ActionEmergencyAccess     AuditAction = "emergency_access"
)

// Severity classifies the impact of an audit entry
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is of equal or higher severity than floor.
// Unknown severities rank below low so malformed values never pass a floor.
func (s Severity) AtLeast(floor Severity) bool {
	sr, ok := severityRank[s]
	if !ok {
		sr = -1
	}
	fr, ok := severityRank[floor]
	if !ok {
		fr = 0
	}
	return sr >= fr
}

// Category groups audit entries for filtering and reporting
type Category string

const (
	CategorySecurity       Category = "security"
	CategoryUserManagement Category = "user_management"
	CategoryDataManagement Category = "data_management"
	CategorySystem         Category = "system"
	CategoryCompliance     Category = "compliance"
	CategoryCommunication  Category = "communication"
)

// Recurrence defines how a blackout period repeats
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceYearly  Recurrence = "yearly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceWeekly  Recurrence = "weekly"
)

// ApprovalStatus is the lifecycle state of an approval request
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

// DenyPolicy controls how a single deny decision affects an approval request
type DenyPolicy string

const (
	// DenyPolicySingleDeny finalizes the request as denied on the first deny.
	DenyPolicySingleDeny DenyPolicy = "single_deny"
	// DenyPolicyQuorum only finalizes denied once approval has become impossible.
	DenyPolicyQuorum DenyPolicy = "quorum"
)

// Constraint category names reported in EvaluationResult.ViolatedConstraints
const (
	ConstraintTime     = "time_constraints"
	ConstraintLocation = "location_constraints"
	ConstraintDevice   = "device_constraints"
	ConstraintAccess   = "access_limits"
)

// Deny reasons surfaced to callers. Route handlers map these to HTTP statuses.
const (
	ReasonRoleLacksPermission = "role lacks permission"
	ReasonUnknownPermission   = "unknown permission"
	ReasonConstraintViolation = "constraint violation"
	ReasonContextMissing      = "required context missing"
	ReasonMFARequired         = "MFA required"
	ReasonApprovalRequired    = "approval required"
	ReasonRiskTooHigh         = "risk score exceeds threshold"
)
