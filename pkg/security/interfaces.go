package security

import (
	"context"
	"time"
)

// AuditStore persists audit entries. Implementations must keep appends
// ordered per user so sliding-window scans see every entry committed before
// the read started.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditLogEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]*AuditLogEntry, error)
	// CountByUserSince counts entries for a user matching any of the given
	// actions at or after since. Used by the anomaly detector's hot path.
	CountByUserSince(ctx context.Context, userID string, actions []AuditAction, since time.Time) (int, error)
	// Purge removes entries strictly older than cutoff, skipping the
	// protected ids, and returns the number removed.
	Purge(ctx context.Context, cutoff time.Time, protected map[string]struct{}) (int, error)
}

// ApprovalStore persists approval requests
type ApprovalStore interface {
	Create(ctx context.Context, req *ApprovalRequest) error
	Get(ctx context.Context, id string) (*ApprovalRequest, error)
	Update(ctx context.Context, req *ApprovalRequest) error
	// FindByTuple returns the newest request for (userID, permissionID) in
	// one of the given statuses, or nil when none exists.
	FindByTuple(ctx context.Context, userID, permissionID string, statuses ...ApprovalStatus) (*ApprovalRequest, error)
	// ListOverdue returns pending requests whose deadline passed before now.
	ListOverdue(ctx context.Context, now time.Time) ([]*ApprovalRequest, error)
	// PendingAuditEntryIDs returns the audit entry ids referenced by
	// still-pending requests, which the purge operation must not remove.
	PendingAuditEntryIDs(ctx context.Context) (map[string]struct{}, error)
}

// AlertSink receives security alerts. Delivery is at-least-once.
type AlertSink interface {
	Send(alert *SecurityAlert) error
	ChannelType() string
	Enabled() bool
}
