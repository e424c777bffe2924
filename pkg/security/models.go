package security

import (
	"time"
)

// Identity is the verified actor supplied by the authenticator. The engine
// trusts it and never re-verifies credentials.
type Identity struct {
	UserID         string `json:"user_id"`
	Email          string `json:"email,omitempty"`
	Role           RoleID `json:"role"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// Role is an entry in the static role hierarchy. Immutable at runtime.
type Role struct {
	ID              RoleID   `json:"id"`
	Name            string   `json:"name"`
	Level           int      `json:"level"`
	ManageableRoles []RoleID `json:"manageable_roles"`
	Permissions     []string `json:"permissions"`
}

// Permission is an immutable catalog entry
type Permission struct {
	ID       string          `json:"id"`
	Resource string          `json:"resource"`
	Action   string          `json:"action"`
	Scope    PermissionScope `json:"scope"`
}

// AdvancedPermission extends a Permission with contextual constraints and
// risk metadata. Read-mostly at evaluation time.
type AdvancedPermission struct {
	Permission
	Constraints  *ConstraintSet `json:"constraints,omitempty"`
	MFARequired  bool           `json:"mfa_required"`
	RiskLevel    string         `json:"risk_level,omitempty"`
	RiskCategory string         `json:"risk_category,omitempty"`
}

// ConstraintSet groups the optional constraint categories of an
// AdvancedPermission. A nil category means "no restriction".
type ConstraintSet struct {
	Time         *TimeConstraints     `json:"time,omitempty"`
	Location     *LocationConstraints `json:"location,omitempty"`
	Device       *DeviceConstraints   `json:"device,omitempty"`
	AccessLimits *AccessLimits        `json:"access_limits,omitempty"`
	Approval     *ApprovalRequirement `json:"approval,omitempty"`
}

// HourRange is an inclusive local time-of-day window, "HH:MM" on both ends
type HourRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// BlackoutPeriod is an interval during which access is always denied.
// Recurring periods are projected onto the evaluation instant's calendar
// before comparison.
type BlackoutPeriod struct {
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Recurrence Recurrence `json:"recurrence"`
	Label      string     `json:"label,omitempty"`
}

// TimeConstraints restrict when a permission may be exercised
type TimeConstraints struct {
	ValidFrom          *time.Time       `json:"valid_from,omitempty"`
	ValidUntil         *time.Time       `json:"valid_until,omitempty"`
	AllowedDays        []time.Weekday   `json:"allowed_days,omitempty"`
	AllowedHours       []HourRange      `json:"allowed_hours,omitempty"`
	Timezone           string           `json:"timezone,omitempty"`
	MaxSessionDuration time.Duration    `json:"max_session_duration,omitempty"`
	Cooldown           time.Duration    `json:"cooldown,omitempty"`
	BlackoutPeriods    []BlackoutPeriod `json:"blackout_periods,omitempty"`
}

// Geofence restricts access to a great-circle radius around a point
type Geofence struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RadiusKm  float64 `json:"radius_km"`
}

// LocationConstraints restrict where a permission may be exercised
type LocationConstraints struct {
	AllowedCountries []string  `json:"allowed_countries,omitempty"`
	BlockedCountries []string  `json:"blocked_countries,omitempty"`
	AllowedRegions   []string  `json:"allowed_regions,omitempty"`
	BlockedRegions   []string  `json:"blocked_regions,omitempty"`
	RequireVPN       bool      `json:"require_vpn"`
	Geofence         *Geofence `json:"geofence,omitempty"`
}

// DeviceConstraints restrict which devices may exercise a permission
type DeviceConstraints struct {
	AllowedDeviceTypes    []string `json:"allowed_device_types,omitempty"`
	RequireTrustedDevice  bool     `json:"require_trusted_device"`
	MaxConcurrentSessions int      `json:"max_concurrent_sessions,omitempty"`
}

// AccessLimits cap usage over sliding windows
type AccessLimits struct {
	MaxRequestsPerHour int     `json:"max_requests_per_hour,omitempty"`
	MaxRequestsPerDay  int     `json:"max_requests_per_day,omitempty"`
	MaxDataExportMB    float64 `json:"max_data_export_mb,omitempty"`
}

// EscalationRule names who gets notified when an approval request expires
// without quorum
type EscalationRule struct {
	NotifyRoles []RoleID `json:"notify_roles,omitempty"`
	NotifyUsers []string `json:"notify_users,omitempty"`
}

// ApprovalRequirement gates a permission behind a quorum of approvers
type ApprovalRequirement struct {
	Required        bool             `json:"required"`
	ApproverRoles   []RoleID         `json:"approver_roles,omitempty"`
	ApproverIDs     []string         `json:"approver_ids,omitempty"`
	MinApprovers    int              `json:"min_approvers"`
	MaxApprovalTime time.Duration    `json:"max_approval_time"`
	Escalations     []EscalationRule `json:"escalations,omitempty"`
}

// DeviceInfo describes the device attached to a session
type DeviceInfo struct {
	Type        string `json:"type"`
	Trusted     bool   `json:"trusted"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// GeoLocation is the resolved location of a session
type GeoLocation struct {
	Country   string  `json:"country"`
	Region    string  `json:"region,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// SessionInfo carries per-session metadata into the evaluation context
type SessionInfo struct {
	ID           string       `json:"id"`
	StartedAt    time.Time    `json:"started_at"`
	IPAddress    string       `json:"ip_address,omitempty"`
	UserAgent    string       `json:"user_agent,omitempty"`
	Device       *DeviceInfo  `json:"device,omitempty"`
	Location     *GeoLocation `json:"location,omitempty"`
	MFASatisfied bool         `json:"mfa_satisfied"`
	VPNDetected  bool         `json:"vpn_detected"`
}

// RequestInfo carries per-request metadata into the evaluation context
type RequestInfo struct {
	Timestamp    time.Time         `json:"timestamp"`
	Action       string            `json:"action,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	ExportSizeMB float64           `json:"export_size_mb,omitempty"`
}

// EnvironmentFlags carry process-wide signals into the evaluation context
type EnvironmentFlags struct {
	SystemLoad      float64         `json:"system_load,omitempty"`
	MaintenanceMode bool            `json:"maintenance_mode"`
	EmergencyMode   bool            `json:"emergency_mode"`
	FeatureFlags    map[string]bool `json:"feature_flags,omitempty"`
}

// PermissionContext is constructed per request and never persisted as-is;
// portions of it are copied into audit entries.
type PermissionContext struct {
	UserID         string           `json:"user_id"`
	UserEmail      string           `json:"user_email,omitempty"`
	Role           RoleID           `json:"role"`
	OrganizationID string           `json:"organization_id,omitempty"`
	EventID        string           `json:"event_id,omitempty"`
	Session        SessionInfo      `json:"session"`
	Request        RequestInfo      `json:"request"`
	Environment    EnvironmentFlags `json:"environment"`
}

// RiskFactorScore is one factor's contribution to a risk assessment
type RiskFactorScore struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Weight    float64 `json:"weight"`
	Amplified bool    `json:"amplified"`
}

// RiskAssessment is the aggregate risk of a request context, score in [0,1]
type RiskAssessment struct {
	Score   float64           `json:"score"`
	Factors []RiskFactorScore `json:"factors,omitempty"`
}

// EvaluationAuditInfo captures how an evaluation was made
type EvaluationAuditInfo struct {
	EvaluatedAt     time.Time         `json:"evaluated_at"`
	Duration        time.Duration     `json:"duration"`
	RulesApplied    []string          `json:"rules_applied,omitempty"`
	ContextSnapshot map[string]string `json:"context_snapshot,omitempty"`
}

// EvaluationResult is the unit all callers act on. Transient.
type EvaluationResult struct {
	Granted             bool                `json:"granted"`
	Reason              string              `json:"reason"`
	AppliedConstraints  []string            `json:"applied_constraints,omitempty"`
	ViolatedConstraints []string            `json:"violated_constraints,omitempty"`
	Risk                RiskAssessment      `json:"risk"`
	Audit               EvaluationAuditInfo `json:"audit"`
}

// ApprovalDecision records one approver's verdict on a request
type ApprovalDecision struct {
	ApproverID string    `json:"approver_id"`
	Approve    bool      `json:"approve"`
	Comments   string    `json:"comments,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// ApprovalRequest is the stateful record of a gated permission request.
// Immutable once it reaches a terminal status.
type ApprovalRequest struct {
	ID              string             `json:"id"`
	PermissionID    string             `json:"permission_id"`
	UserID          string             `json:"user_id"`
	OrganizationID  string             `json:"organization_id,omitempty"`
	Justification   string             `json:"justification,omitempty"`
	ContextSnapshot map[string]string  `json:"context_snapshot,omitempty"`
	ApproverRoles   []RoleID           `json:"approver_roles,omitempty"`
	ApproverIDs     []string           `json:"approver_ids,omitempty"`
	MinApprovers    int                `json:"min_approvers"`
	Escalations     []EscalationRule   `json:"escalations,omitempty"`
	Decisions       []ApprovalDecision `json:"decisions,omitempty"`
	Status          ApprovalStatus     `json:"status"`
	CreatedAt       time.Time          `json:"created_at"`
	ExpiresAt       time.Time          `json:"expires_at"`
	FinalizedAt     *time.Time         `json:"finalized_at,omitempty"`
	AuditEntryIDs   []string           `json:"audit_entry_ids,omitempty"`
}

// Approvals reports the distinct approver count so far
func (r *ApprovalRequest) Approvals() int {
	seen := make(map[string]struct{}, len(r.Decisions))
	for _, d := range r.Decisions {
		if d.Approve {
			seen[d.ApproverID] = struct{}{}
		}
	}
	return len(seen)
}

// AuditLogEntry is an append-only record of a security-relevant action.
// Severity and category are derived from the action, never supplied.
type AuditLogEntry struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	UserEmail      string            `json:"user_email,omitempty"`
	UserRole       RoleID            `json:"user_role,omitempty"`
	Action         AuditAction       `json:"action"`
	ResourceType   string            `json:"resource_type"`
	ResourceID     string            `json:"resource_id,omitempty"`
	Details        string            `json:"details,omitempty"`
	Before         map[string]any    `json:"before,omitempty"`
	After          map[string]any    `json:"after,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	SessionID      string            `json:"session_id,omitempty"`
	IPAddress      string            `json:"ip_address,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`
	EventID        string            `json:"event_id,omitempty"`
	Severity       Severity          `json:"severity"`
	Category       Category          `json:"category"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// AuditFilter selects audit entries for queries and summaries
type AuditFilter struct {
	UserID         string        `json:"user_id,omitempty"`
	Actions        []AuditAction `json:"actions,omitempty"`
	ResourceTypes  []string      `json:"resource_types,omitempty"`
	Severities     []Severity    `json:"severities,omitempty"`
	Categories     []Category    `json:"categories,omitempty"`
	From           time.Time     `json:"from,omitempty"`
	To             time.Time     `json:"to,omitempty"`
	OrganizationID string        `json:"organization_id,omitempty"`
	EventID        string        `json:"event_id,omitempty"`
	Limit          int           `json:"limit,omitempty"`
	Offset         int           `json:"offset,omitempty"`
	SortBy         string        `json:"sort_by,omitempty"` // "timestamp", "severity", "action"
	SortDesc       bool          `json:"sort_desc,omitempty"`
}

// UserActivity is a per-user entry in the audit summary
type UserActivity struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// AuditSummary aggregates audit entries for the admin dashboard
type AuditSummary struct {
	TotalLogs    int                 `json:"total_logs"`
	ByAction     map[AuditAction]int `json:"by_action"`
	BySeverity   map[Severity]int    `json:"by_severity"`
	ByCategory   map[Category]int    `json:"by_category"`
	TopUsers     []UserActivity      `json:"top_users"`
	RecentAlerts []*SecurityAlert    `json:"recent_alerts,omitempty"`
}

// AlertingRules control which audit entries raise alerts
type AlertingRules struct {
	Recipients      []string      `json:"recipients,omitempty"`
	MinSeverity     Severity      `json:"min_severity"`
	ActionAllowList []AuditAction `json:"action_allow_list,omitempty"`
}

// AnomalyThresholds configure the anomaly detector's sliding windows
type AnomalyThresholds struct {
	FailedLoginCount  int           `json:"failed_login_count"`
	FailedLoginWindow time.Duration `json:"failed_login_window"`
	RoleChangeCount   int           `json:"role_change_count"`
	RoleChangeWindow  time.Duration `json:"role_change_window"`
	ExportCount       int           `json:"export_count"`
	ExportWindow      time.Duration `json:"export_window"`
}

// AuditConfiguration is the process-wide, administrator-mutable audit policy.
// Applied to every subsequent log/evaluate call; last writer wins.
type AuditConfiguration struct {
	Enabled           bool              `json:"enabled"`
	RetentionDays     int               `json:"retention_days"`
	MinSeverity       Severity          `json:"min_severity"`
	EnabledCategories []Category        `json:"enabled_categories,omitempty"` // empty means all
	EnabledActions    []AuditAction     `json:"enabled_actions,omitempty"`    // empty means all
	Alerting          AlertingRules     `json:"alerting"`
	Anomaly           AnomalyThresholds `json:"anomaly"`
}

// CategoryEnabled reports whether entries in c should be recorded
func (a *AuditConfiguration) CategoryEnabled(c Category) bool {
	if len(a.EnabledCategories) == 0 {
		return true
	}
	for _, ec := range a.EnabledCategories {
		if ec == c {
			return true
		}
	}
	return false
}

// ActionEnabled reports whether entries for action should be recorded
func (a *AuditConfiguration) ActionEnabled(action AuditAction) bool {
	if len(a.EnabledActions) == 0 {
		return true
	}
	for _, ea := range a.EnabledActions {
		if ea == action {
			return true
		}
	}
	return false
}

// SecurityAlert is raised when the anomaly detector or alerting rules fire
type SecurityAlert struct {
	ID              string      `json:"id"`
	Type            string      `json:"type"`
	Severity        Severity    `json:"severity"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	UserID          string      `json:"user_id,omitempty"`
	Recipients      []string    `json:"recipients,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
	RelatedEntryIDs []string    `json:"related_entry_ids,omitempty"`
	Status          AlertStatus `json:"status"`
	AcknowledgedBy  string      `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time  `json:"acknowledged_at,omitempty"`
}

// AlertStatus tracks an alert's handling state
type AlertStatus string

const (
	AlertStatusNew          AlertStatus = "new"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)
