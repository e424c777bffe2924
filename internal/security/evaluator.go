package security

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/logger"
	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

// permissionSnapshot is the immutable rule set an evaluation runs against.
// Administrative updates install a fresh snapshot; in-flight evaluations keep
// the one they loaded.
type permissionSnapshot struct {
	registry *RoleRegistry
	advanced map[string]*sec.AdvancedPermission
}

// Evaluator is the permission evaluation orchestrator. Evaluate never
// returns an error; every failure mode resolves to a well-formed denial.
type Evaluator struct {
	snapshot  atomic.Pointer[permissionSnapshot]
	counters  *UsageCounters
	risk      *RiskAssessor
	approvals *ApprovalEngine
	audit     *AuditEngine
	logger    *logger.Logger
	metrics   *Metrics

	maxRiskScore float64
}

// NewEvaluator wires the orchestrator together
func NewEvaluator(registry *RoleRegistry, advanced []*sec.AdvancedPermission, counters *UsageCounters, risk *RiskAssessor, approvals *ApprovalEngine, audit *AuditEngine, maxRiskScore float64, log *logger.Logger, metrics *Metrics) *Evaluator {
	if maxRiskScore <= 0 || maxRiskScore > 1 {
		maxRiskScore = 0.75
	}
	e := &Evaluator{
		counters:     counters,
		risk:         risk,
		approvals:    approvals,
		audit:        audit,
		logger:       log,
		metrics:      metrics,
		maxRiskScore: maxRiskScore,
	}
	e.install(registry, advanced)
	return e
}

// UpdateRules atomically replaces the registry and advanced permission set
func (e *Evaluator) UpdateRules(registry *RoleRegistry, advanced []*sec.AdvancedPermission) {
	e.install(registry, advanced)
}

func (e *Evaluator) install(registry *RoleRegistry, advanced []*sec.AdvancedPermission) {
	snap := &permissionSnapshot{
		registry: registry,
		advanced: make(map[string]*sec.AdvancedPermission, len(advanced)),
	}
	for _, ap := range advanced {
		snap.advanced[ap.ID] = ap
	}
	e.snapshot.Store(snap)
}

// Registry returns the currently installed role registry
func (e *Evaluator) Registry() *RoleRegistry {
	return e.snapshot.Load().registry
}

// Evaluate decides whether ctx may exercise permissionID. The decision, its
// reasons, and the applied constraints come back in one result; an audit
// entry is written for every evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, permissionID string, pctx *sec.PermissionContext) *sec.EvaluationResult {
	start := time.Now()
	snap := e.snapshot.Load()

	// The evaluation instant is the request timestamp when the caller set
	// one, so constraint decisions stay reproducible.
	instant := start
	if pctx != nil && !pctx.Request.Timestamp.IsZero() {
		instant = pctx.Request.Timestamp
	}

	result, pendingApproval := e.decide(ctx, snap, permissionID, pctx, instant)

	result.Audit.EvaluatedAt = instant
	result.Audit.Duration = time.Since(start)

	entry := e.record(ctx, permissionID, pctx, result)
	if entry != nil && pendingApproval != "" {
		if err := e.approvals.LinkAuditEntry(ctx, pendingApproval, entry.ID); err != nil {
			e.logger.WithFields(map[string]interface{}{
				"component":  "evaluator",
				"request_id": pendingApproval,
				"entry_id":   entry.ID,
				"error":      err.Error(),
			}).Error("Failed to link audit entry to approval request")
		}
	}

	if e.metrics != nil {
		outcome := "denied"
		if result.Granted {
			outcome = "granted"
		}
		e.metrics.Evaluations.WithLabelValues(outcome, metricReason(result)).Inc()
		e.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}
	return result
}

// metricReason collapses a result onto a bounded label set. Constraint
// denials report the violation class; per-request detail stays in the result
// and the audit trail.
func metricReason(result *sec.EvaluationResult) string {
	if result.Granted {
		return "granted"
	}
	if len(result.ViolatedConstraints) > 0 {
		return sec.ReasonConstraintViolation
	}
	return result.Reason
}

// decide runs the evaluation chain. The second return value is the id of the
// pending approval request the evaluation opened or rejoined, if any.
func (e *Evaluator) decide(ctx context.Context, snap *permissionSnapshot, permissionID string, pctx *sec.PermissionContext, now time.Time) (*sec.EvaluationResult, string) {
	if pctx == nil || pctx.UserID == "" || pctx.Role == "" {
		return deny(sec.ReasonContextMissing), ""
	}

	// Every evaluation keeps the session's liveness current so concurrent
	// session limits see real counts.
	sessions := e.counters.ObserveSession(pctx.UserID, pctx.Session.ID, now)

	if _, err := snap.registry.Permission(permissionID); err != nil {
		return deny(sec.ReasonUnknownPermission), ""
	}
	if !snap.registry.HasPermission(pctx.Role, permissionID) {
		return deny(sec.ReasonRoleLacksPermission), ""
	}

	ap := snap.advanced[permissionID]
	if ap == nil || (ap.Constraints == nil && !ap.MFARequired) {
		result := grant()
		result.Risk = e.risk.Assess(pctx)
		return result, ""
	}

	result := grant()
	cs := ap.Constraints

	if cs != nil {
		usage := e.counters.Snapshot(pctx.UserID, permissionID, now)

		var violations []*ConstraintViolation
		check := func(name string, v *ConstraintViolation) {
			result.AppliedConstraints = append(result.AppliedConstraints, name)
			if v != nil {
				violations = append(violations, v)
			}
		}

		if cs.Time != nil {
			check(sec.ConstraintTime, CheckTime(cs.Time, now, usage, pctx.Session.StartedAt))
		}
		if cs.Location != nil {
			check(sec.ConstraintLocation, CheckLocation(cs.Location, pctx.Session.Location, pctx.Session.VPNDetected))
		}
		if cs.Device != nil {
			check(sec.ConstraintDevice, CheckDevice(cs.Device, pctx.Session.Device, sessions))
		}
		if cs.AccessLimits != nil {
			check(sec.ConstraintAccess, CheckAccessLimits(cs.AccessLimits, usage, pctx.Request.ExportSizeMB))
		}

		if len(violations) > 0 {
			reasons := make([]string, len(violations))
			for i, v := range violations {
				result.ViolatedConstraints = append(result.ViolatedConstraints, v.Category)
				reasons[i] = v.Reason
			}
			result.Granted = false
			result.Reason = fmt.Sprintf("%s: %s", sec.ReasonConstraintViolation, strings.Join(reasons, "; "))
			result.Risk = e.risk.Assess(pctx)
			return result, ""
		}
	}

	if ap.MFARequired && !pctx.Session.MFASatisfied {
		result.Granted = false
		result.Reason = sec.ReasonMFARequired
		result.Risk = e.risk.Assess(pctx)
		return result, ""
	}

	if cs != nil && cs.Approval != nil && cs.Approval.Required {
		approved, err := e.approvals.ApprovedRequest(ctx, pctx.UserID, permissionID, now)
		if err != nil {
			e.logger.WithFields(map[string]interface{}{
				"component":     "evaluator",
				"user_id":       pctx.UserID,
				"permission_id": permissionID,
				"error":         err.Error(),
			}).Error("Approval lookup failed")
		}
		if approved == nil {
			pending, reqErr := e.approvals.RequestApproval(ctx, pctx, permissionID, cs.Approval, pctx.Request.Action)
			if reqErr != nil {
				e.logger.WithFields(map[string]interface{}{
					"component":     "evaluator",
					"user_id":       pctx.UserID,
					"permission_id": permissionID,
					"error":         reqErr.Error(),
				}).Error("Failed to open approval request")
			}
			result.Granted = false
			result.Reason = sec.ReasonApprovalRequired
			result.Risk = e.risk.Assess(pctx)
			if pending != nil {
				return result, pending.ID
			}
			return result, ""
		}
		result.Audit.RulesApplied = append(result.Audit.RulesApplied, "approval:"+approved.ID)
	}

	result.Risk = e.risk.Assess(pctx)
	if result.Risk.Score > e.maxRiskScore {
		result.Granted = false
		result.Reason = sec.ReasonRiskTooHigh
		return result, ""
	}

	return result, ""
}

// record writes the evaluation's audit entry and, on grant, advances the
// usage counters. Returns the stored entry, or nil when it was filtered or
// the write failed.
func (e *Evaluator) record(ctx context.Context, permissionID string, pctx *sec.PermissionContext, result *sec.EvaluationResult) *sec.AuditLogEntry {
	action := sec.ActionPermissionDenied
	if result.Granted {
		action = sec.ActionPermissionGranted
	}

	params := LogParams{
		Action:       action,
		ResourceType: "permission",
		ResourceID:   permissionID,
		Details:      result.Reason,
		Metadata: map[string]string{
			"risk_score": fmt.Sprintf("%.2f", result.Risk.Score),
		},
	}
	if pctx != nil {
		params.UserID = pctx.UserID
		params.UserEmail = pctx.UserEmail
		params.UserRole = pctx.Role
		params.SessionID = pctx.Session.ID
		params.IPAddress = pctx.Session.IPAddress
		params.UserAgent = pctx.Session.UserAgent
		params.OrganizationID = pctx.OrganizationID
		params.EventID = pctx.EventID
	}
	if len(result.ViolatedConstraints) > 0 {
		params.Metadata["violated_constraints"] = strings.Join(result.ViolatedConstraints, ",")
	}

	entry, err := e.audit.Log(ctx, params)
	if err != nil {
		e.logger.WithFields(map[string]interface{}{
			"component":     "evaluator",
			"permission_id": permissionID,
			"error":         err.Error(),
		}).Error("Failed to record evaluation audit entry")
	}

	if result.Granted && pctx != nil {
		e.counters.RecordGrant(pctx.UserID, permissionID, result.Audit.EvaluatedAt, pctx.Request.ExportSizeMB)
	}
	return entry
}

func grant() *sec.EvaluationResult {
	return &sec.EvaluationResult{Granted: true, Reason: "granted"}
}

func deny(reason string) *sec.EvaluationResult {
	return &sec.EvaluationResult{Granted: false, Reason: reason}
}
