package security

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

// AnomalyDetector scans a user's recent audit history for suspicious
// patterns. Rules count entries over sliding windows ending at the scan
// instant; a rule fires when its threshold is reached.
type AnomalyDetector struct {
	store sec.AuditStore
}

// NewAnomalyDetector creates a detector over the given store
func NewAnomalyDetector(store sec.AuditStore) *AnomalyDetector {
	return &AnomalyDetector{store: store}
}

type anomalyRule struct {
	name      string
	alertType string
	severity  sec.Severity
	actions   []sec.AuditAction
	count     int
	window    time.Duration
	title     string
}

func rules(t sec.AnomalyThresholds) []anomalyRule {
	return []anomalyRule{
		{
			name:      "failed_logins",
			alertType: "repeated_login_failures",
			severity:  sec.SeverityHigh,
			actions:   []sec.AuditAction{sec.ActionLoginFailed},
			count:     t.FailedLoginCount,
			window:    t.FailedLoginWindow,
			title:     "Repeated failed login attempts",
		},
		{
			name:      "role_churn",
			alertType: "rapid_role_changes",
			severity:  sec.SeverityHigh,
			actions:   []sec.AuditAction{sec.ActionRoleAssigned, sec.ActionRoleRevoked},
			count:     t.RoleChangeCount,
			window:    t.RoleChangeWindow,
			title:     "Rapid role changes",
		},
		{
			name:      "bulk_exports",
			alertType: "excessive_data_exports",
			severity:  sec.SeverityCritical,
			actions:   []sec.AuditAction{sec.ActionDataExported},
			count:     t.ExportCount,
			window:    t.ExportWindow,
			title:     "Excessive data exports",
		},
	}
}

// Detect scans userID's history as of now and returns one alert per fired
// rule, each carrying the ids of every entry inside the rule's window. Rules
// with a zero count or window never fire.
func (d *AnomalyDetector) Detect(ctx context.Context, userID string, thresholds sec.AnomalyThresholds, now time.Time) ([]*sec.SecurityAlert, error) {
	var alerts []*sec.SecurityAlert

	for _, rule := range rules(thresholds) {
		if rule.count <= 0 || rule.window <= 0 {
			continue
		}
		since := now.Add(-rule.window)
		n, err := d.store.CountByUserSince(ctx, userID, rule.actions, since)
		if err != nil {
			return alerts, sec.WrapError(sec.ErrorTypeStorage, err, "anomaly scan failed for rule %s", rule.name)
		}
		if n < rule.count {
			continue
		}

		entries, err := d.windowEntries(ctx, userID, rule, since, now)
		if err != nil {
			return alerts, err
		}
		related := make([]string, len(entries))
		for i, e := range entries {
			related[i] = e.ID
		}

		alerts = append(alerts, &sec.SecurityAlert{
			ID:       uuid.New().String(),
			Type:     rule.alertType,
			Severity: rule.severity,
			Title:    rule.title,
			Description: fmt.Sprintf("%d matching events for user %s within %s (threshold %d)",
				n, userID, rule.window, rule.count),
			UserID:          userID,
			Timestamp:       now,
			RelatedEntryIDs: related,
			Status:          sec.AlertStatusNew,
		})
	}

	return alerts, nil
}

// windowEntries fetches the entries inside a fired rule's window, oldest
// first. Only called once a rule fires, so the hot path stays a count query.
func (d *AnomalyDetector) windowEntries(ctx context.Context, userID string, rule anomalyRule, since, now time.Time) ([]*sec.AuditLogEntry, error) {
	entries, err := d.store.Query(ctx, sec.AuditFilter{
		UserID:  userID,
		Actions: rule.actions,
		From:    since,
		To:      now,
		SortBy:  "timestamp",
	})
	if err != nil {
		return nil, sec.WrapError(sec.ErrorTypeStorage, err, "anomaly entry lookup failed for rule %s", rule.name)
	}
	return entries, nil
}

// RuleNames lists the detector's rule names, used for metrics labels
func RuleNames() []string {
	names := make([]string, 0, 3)
	for _, r := range rules(sec.AnomalyThresholds{}) {
		names = append(names, r.name)
	}
	return names
}
