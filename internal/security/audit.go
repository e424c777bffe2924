package security

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/logger"
	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

// AuditEngine records security-relevant actions, applies the runtime audit
// configuration, and feeds the anomaly detector and alert manager. The
// configuration is swapped atomically so concurrent Log calls each see one
// coherent policy.
type AuditEngine struct {
	store    sec.AuditStore
	detector *AnomalyDetector
	alerts   *AlertManager
	logger   *logger.Logger
	metrics  *Metrics
	config   atomic.Pointer[sec.AuditConfiguration]

	// approvals provides the audit entry ids protected from purging.
	approvals sec.ApprovalStore
}

// LogParams carries the caller-supplied fields of an audit entry. Severity
// and category are derived, never accepted.
type LogParams struct {
	UserID         string
	UserEmail      string
	UserRole       sec.RoleID
	Action         sec.AuditAction
	ResourceType   string
	ResourceID     string
	Details        string
	Before         map[string]any
	After          map[string]any
	SessionID      string
	IPAddress      string
	UserAgent      string
	OrganizationID string
	EventID        string
	Metadata       map[string]string
}

// NewAuditEngine creates an audit engine with the given initial configuration
func NewAuditEngine(store sec.AuditStore, approvals sec.ApprovalStore, detector *AnomalyDetector, alerts *AlertManager, cfg *sec.AuditConfiguration, log *logger.Logger, metrics *Metrics) (*AuditEngine, error) {
	if err := validateAuditConfig(cfg); err != nil {
		return nil, err
	}
	e := &AuditEngine{
		store:     store,
		approvals: approvals,
		detector:  detector,
		alerts:    alerts,
		logger:    log,
		metrics:   metrics,
	}
	e.config.Store(cfg)
	return e, nil
}

// Config returns the current audit configuration
func (e *AuditEngine) Config() *sec.AuditConfiguration {
	return e.config.Load()
}

// UpdateConfiguration validates and atomically installs a new configuration.
// On validation failure the previous configuration stays in effect.
func (e *AuditEngine) UpdateConfiguration(cfg *sec.AuditConfiguration) error {
	if err := validateAuditConfig(cfg); err != nil {
		return err
	}
	e.config.Store(cfg)
	e.logger.WithFields(map[string]interface{}{
		"component":      "audit_engine",
		"retention_days": cfg.RetentionDays,
		"min_severity":   string(cfg.MinSeverity),
		"enabled":        cfg.Enabled,
	}).Info("Audit configuration updated")
	return nil
}

func validateAuditConfig(cfg *sec.AuditConfiguration) error {
	if cfg == nil {
		return sec.NewError(sec.ErrorTypeConfiguration, "audit configuration is nil")
	}
	if cfg.RetentionDays < 1 {
		return sec.NewError(sec.ErrorTypeConfiguration, "retention must be at least 1 day, got %d", cfg.RetentionDays)
	}
	if cfg.MinSeverity != "" && !validSeverity(cfg.MinSeverity) {
		return sec.NewError(sec.ErrorTypeConfiguration, "unknown minimum severity %q", cfg.MinSeverity)
	}
	if cfg.Alerting.MinSeverity != "" && !validSeverity(cfg.Alerting.MinSeverity) {
		return sec.NewError(sec.ErrorTypeConfiguration, "unknown alerting severity %q", cfg.Alerting.MinSeverity)
	}
	return nil
}

func validSeverity(s sec.Severity) bool {
	switch s {
	case sec.SeverityLow, sec.SeverityMedium, sec.SeverityHigh, sec.SeverityCritical:
		return true
	}
	return false
}

// Log classifies and records an action. Entries filtered out by the current
// configuration are dropped before persistence. Returns the stored entry, or
// nil when the entry was filtered.
func (e *AuditEngine) Log(ctx context.Context, p LogParams) (*sec.AuditLogEntry, error) {
	severity, category := Classify(p.Action)
	cfg := e.config.Load()

	entry := &sec.AuditLogEntry{
		ID:             uuid.New().String(),
		UserID:         p.UserID,
		UserEmail:      p.UserEmail,
		UserRole:       p.UserRole,
		Action:         p.Action,
		ResourceType:   p.ResourceType,
		ResourceID:     p.ResourceID,
		Details:        p.Details,
		Before:         p.Before,
		After:          p.After,
		Timestamp:      time.Now(),
		SessionID:      p.SessionID,
		IPAddress:      p.IPAddress,
		UserAgent:      p.UserAgent,
		OrganizationID: p.OrganizationID,
		EventID:        p.EventID,
		Severity:       severity,
		Category:       category,
		Metadata:       p.Metadata,
	}

	if !e.shouldRecord(cfg, entry) {
		if e.metrics != nil {
			e.metrics.AuditDropped.Inc()
		}
		return nil, nil
	}

	if err := e.append(ctx, entry); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.AuditEntries.WithLabelValues(string(category), string(severity)).Inc()
	}

	e.maybeAlert(cfg, entry)
	e.scanForAnomalies(ctx, cfg, entry)

	return entry, nil
}

func (e *AuditEngine) shouldRecord(cfg *sec.AuditConfiguration, entry *sec.AuditLogEntry) bool {
	if !cfg.Enabled {
		return false
	}
	if cfg.MinSeverity != "" && !entry.Severity.AtLeast(cfg.MinSeverity) {
		return false
	}
	if !cfg.CategoryEnabled(entry.Category) {
		return false
	}
	return cfg.ActionEnabled(entry.Action)
}

// append persists the entry. Critical entries retry with backoff and fall
// back to the structured log so they are never silently lost.
func (e *AuditEngine) append(ctx context.Context, entry *sec.AuditLogEntry) error {
	err := e.store.Append(ctx, entry)
	if err == nil {
		return nil
	}

	if entry.Severity != sec.SeverityCritical {
		return sec.WrapError(sec.ErrorTypeStorage, err, "failed to append audit entry").WithUser(entry.UserID)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		time.Sleep(time.Duration(attempt*50) * time.Millisecond)
		if err = e.store.Append(ctx, entry); err == nil {
			return nil
		}
	}

	e.logger.Security("audit_store_failure", entry.UserID, map[string]interface{}{
		"entry_id": entry.ID,
		"action":   string(entry.Action),
		"severity": string(entry.Severity),
		"details":  entry.Details,
		"error":    err.Error(),
	})
	return sec.WrapError(sec.ErrorTypeStorage, err, "failed to append critical audit entry after retries").WithUser(entry.UserID)
}

func (e *AuditEngine) maybeAlert(cfg *sec.AuditConfiguration, entry *sec.AuditLogEntry) {
	if e.alerts == nil {
		return
	}

	trigger := false
	if cfg.Alerting.MinSeverity != "" && entry.Severity.AtLeast(cfg.Alerting.MinSeverity) {
		trigger = true
	}
	for _, a := range cfg.Alerting.ActionAllowList {
		if a == entry.Action {
			trigger = true
			break
		}
	}
	if !trigger {
		return
	}

	e.alerts.Raise(&sec.SecurityAlert{
		ID:              uuid.New().String(),
		Type:            "audit_" + string(entry.Action),
		Severity:        entry.Severity,
		Title:           "Security-relevant action recorded",
		Description:     entry.Details,
		UserID:          entry.UserID,
		Recipients:      cfg.Alerting.Recipients,
		Timestamp:       entry.Timestamp,
		RelatedEntryIDs: []string{entry.ID},
		Status:          sec.AlertStatusNew,
	})
}

func (e *AuditEngine) scanForAnomalies(ctx context.Context, cfg *sec.AuditConfiguration, entry *sec.AuditLogEntry) {
	if e.detector == nil || entry.UserID == "" {
		return
	}

	alerts, err := e.detector.Detect(ctx, entry.UserID, cfg.Anomaly, entry.Timestamp)
	if err != nil {
		e.logger.WithFields(map[string]interface{}{
			"component": "audit_engine",
			"user_id":   entry.UserID,
			"error":     err.Error(),
		}).Error("Anomaly scan failed")
	}
	for _, alert := range alerts {
		alert.Recipients = cfg.Alerting.Recipients
		// The triggering entry is normally already inside the rule's window.
		if !containsString(alert.RelatedEntryIDs, entry.ID) {
			alert.RelatedEntryIDs = append(alert.RelatedEntryIDs, entry.ID)
		}
		if e.metrics != nil {
			e.metrics.AnomaliesDetected.WithLabelValues(alert.Type).Inc()
		}
		if e.alerts != nil {
			e.alerts.Raise(alert)
		}
	}
}

// GetLogs returns audit entries matching the filter
func (e *AuditEngine) GetLogs(ctx context.Context, filter sec.AuditFilter) ([]*sec.AuditLogEntry, error) {
	return e.store.Query(ctx, filter)
}

// GetSummary aggregates all entries matching the filter. Pagination fields
// on the filter are ignored; aggregates always cover the full match set.
func (e *AuditEngine) GetSummary(ctx context.Context, filter sec.AuditFilter) (*sec.AuditSummary, error) {
	filter.Limit = 0
	filter.Offset = 0

	entries, err := e.store.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	summary := &sec.AuditSummary{
		TotalLogs:  len(entries),
		ByAction:   make(map[sec.AuditAction]int),
		BySeverity: make(map[sec.Severity]int),
		ByCategory: make(map[sec.Category]int),
	}

	userCounts := make(map[string]int)
	for _, entry := range entries {
		summary.ByAction[entry.Action]++
		summary.BySeverity[entry.Severity]++
		summary.ByCategory[entry.Category]++
		if entry.UserID != "" {
			userCounts[entry.UserID]++
		}
	}

	for userID, count := range userCounts {
		summary.TopUsers = append(summary.TopUsers, sec.UserActivity{UserID: userID, Count: count})
	}
	sort.Slice(summary.TopUsers, func(i, j int) bool {
		if summary.TopUsers[i].Count != summary.TopUsers[j].Count {
			return summary.TopUsers[i].Count > summary.TopUsers[j].Count
		}
		return summary.TopUsers[i].UserID < summary.TopUsers[j].UserID
	})
	if len(summary.TopUsers) > 10 {
		summary.TopUsers = summary.TopUsers[:10]
	}

	if e.alerts != nil {
		summary.RecentAlerts = e.alerts.Recent(10)
	}

	return summary, nil
}

// PurgeOldLogs removes entries older than the given retention, keeping every
// entry referenced by a still-pending approval request. Returns the number
// removed.
func (e *AuditEngine) PurgeOldLogs(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 1 {
		return 0, sec.NewError(sec.ErrorTypeConfiguration, "retention must be at least 1 day, got %d", retentionDays)
	}

	protected := map[string]struct{}{}
	if e.approvals != nil {
		var err error
		protected, err = e.approvals.PendingAuditEntryIDs(ctx)
		if err != nil {
			return 0, sec.WrapError(sec.ErrorTypeStorage, err, "failed to collect protected audit entries")
		}
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed, err := e.store.Purge(ctx, cutoff, protected)
	if err != nil {
		return 0, sec.WrapError(sec.ErrorTypeStorage, err, "audit purge failed")
	}

	e.logger.WithFields(map[string]interface{}{
		"component":      "audit_engine",
		"removed":        removed,
		"retention_days": retentionDays,
		"protected":      len(protected),
	}).Info("Audit log purge completed")
	return removed, nil
}
