package security

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/logger"
	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

// Config holds the engine's tuning parameters
type Config struct {
	MaxRiskScore          float64
	DenyPolicy            sec.DenyPolicy
	ApprovalSweepInterval time.Duration
	AlertQueueSize        int
	AuditConfig           *sec.AuditConfiguration
}

// Service bundles the engine components behind one lifecycle
type Service struct {
	Evaluator *Evaluator
	Audit     *AuditEngine
	Approvals *ApprovalEngine
	Alerts    *AlertManager
	Counters  *UsageCounters
	Metrics   *Metrics

	logger *logger.Logger
}

// NewService wires the full engine. auditStore and approvalStore choose the
// persistence backends; sinks receive alerts in addition to the built-in log
// sink.
func NewService(cfg Config, auditStore sec.AuditStore, approvalStore sec.ApprovalStore, sinks []sec.AlertSink, registry *RoleRegistry, advanced []*sec.AdvancedPermission, log *logger.Logger, reg prometheus.Registerer) (*Service, error) {
	if cfg.AuditConfig == nil {
		cfg.AuditConfig = DefaultAuditConfiguration()
	}

	metrics := NewMetrics(reg)

	allSinks := append([]sec.AlertSink{&LogSink{Logger: log}}, sinks...)
	alerts := NewAlertManager(allSinks, cfg.AlertQueueSize, log, metrics)

	detector := NewAnomalyDetector(auditStore)

	audit, err := NewAuditEngine(auditStore, approvalStore, detector, alerts, cfg.AuditConfig, log, metrics)
	if err != nil {
		return nil, err
	}

	approvals := NewApprovalEngine(approvalStore, cfg.DenyPolicy, cfg.ApprovalSweepInterval, log, metrics)
	counters := NewUsageCounters()
	risk := NewRiskAssessor()

	evaluator := NewEvaluator(registry, advanced, counters, risk, approvals, audit, cfg.MaxRiskScore, log, metrics)

	svc := &Service{
		Evaluator: evaluator,
		Audit:     audit,
		Approvals: approvals,
		Alerts:    alerts,
		Counters:  counters,
		Metrics:   metrics,
		logger:    log,
	}

	approvals.SetExpiryCallback(svc.onApprovalExpired)
	return svc, nil
}

// Start launches the background workers
func (s *Service) Start() {
	s.Alerts.Start()
	s.Approvals.Start()
	s.logger.WithComponent("security_service").Info("Security engine started")
}

// Stop terminates the background workers in reverse start order
func (s *Service) Stop() {
	s.Approvals.Stop()
	s.Alerts.Stop()
	s.logger.WithComponent("security_service").Info("Security engine stopped")
}

// onApprovalExpired audits and escalates a request the sweep expired
func (s *Service) onApprovalExpired(req *sec.ApprovalRequest) {
	if _, err := s.Audit.Log(context.Background(), LogParams{
		UserID:         req.UserID,
		Action:         sec.ActionApprovalExpired,
		ResourceType:   "approval_request",
		ResourceID:     req.ID,
		Details:        "approval request expired without reaching quorum",
		OrganizationID: req.OrganizationID,
	}); err != nil {
		s.logger.WithComponent("security_service").WithField("request_id", req.ID).
			Error("Failed to audit expired approval request")
	}

	s.Alerts.Raise(&sec.SecurityAlert{
		ID:          req.ID + "-expired",
		Type:        "approval_expired",
		Severity:    sec.SeverityMedium,
		Title:       "Approval request expired",
		Description: "request " + req.ID + " for permission " + req.PermissionID + " expired without quorum",
		UserID:      req.UserID,
		Recipients:  escalationRecipients(req.Escalations),
		Timestamp:   time.Now(),
		Status:      sec.AlertStatusNew,
	})
}

// escalationRecipients resolves a request's escalation rules into alert
// recipients. Roles are addressed as "role:<id>"; duplicates collapse.
func escalationRecipients(rules []sec.EscalationRule) []string {
	seen := make(map[string]struct{})
	var recipients []string
	add := func(r string) {
		if _, dup := seen[r]; dup {
			return
		}
		seen[r] = struct{}{}
		recipients = append(recipients, r)
	}
	for _, rule := range rules {
		for _, role := range rule.NotifyRoles {
			add("role:" + string(role))
		}
		for _, user := range rule.NotifyUsers {
			add(user)
		}
	}
	return recipients
}

// DefaultAuditConfiguration is the policy installed when none is supplied
func DefaultAuditConfiguration() *sec.AuditConfiguration {
	return &sec.AuditConfiguration{
		Enabled:       true,
		RetentionDays: 90,
		MinSeverity:   sec.SeverityLow,
		Alerting: sec.AlertingRules{
			MinSeverity: sec.SeverityHigh,
		},
		Anomaly: sec.AnomalyThresholds{
			FailedLoginCount:  5,
			FailedLoginWindow: 15 * time.Minute,
			RoleChangeCount:   3,
			RoleChangeWindow:  10 * time.Minute,
			ExportCount:       5,
			ExportWindow:      10 * time.Minute,
		},
	}
}
