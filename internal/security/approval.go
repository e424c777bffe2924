package security

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/logger"
	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

// ApprovalEngine manages the lifecycle of quorum-gated permission requests.
// State transitions are serialized under a single mutex so a request reaches
// a terminal status exactly once regardless of concurrent deciders.
type ApprovalEngine struct {
	store      sec.ApprovalStore
	denyPolicy sec.DenyPolicy
	logger     *logger.Logger
	metrics    *Metrics

	// onExpired is invoked for each request the sweep expires, outside the
	// engine mutex.
	onExpired func(req *sec.ApprovalRequest)

	mu sync.Mutex

	sweepInterval time.Duration
	stopChan      chan struct{}
	doneChan      chan struct{}
	startOnce     sync.Once
	stopOnce      sync.Once
}

// NewApprovalEngine creates an approval engine over the given store
func NewApprovalEngine(store sec.ApprovalStore, denyPolicy sec.DenyPolicy, sweepInterval time.Duration, log *logger.Logger, metrics *Metrics) *ApprovalEngine {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	if denyPolicy == "" {
		denyPolicy = sec.DenyPolicySingleDeny
	}
	return &ApprovalEngine{
		store:         store,
		denyPolicy:    denyPolicy,
		sweepInterval: sweepInterval,
		logger:        log,
		metrics:       metrics,
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}
}

// SetExpiryCallback registers the callback invoked when the sweep expires a
// request. Must be called before Start.
func (e *ApprovalEngine) SetExpiryCallback(fn func(req *sec.ApprovalRequest)) {
	e.onExpired = fn
}

// RequestApproval creates a pending request for (userID, permissionID), or
// returns the existing pending one. Idempotent: concurrent duplicate requests
// collapse onto a single pending record.
func (e *ApprovalEngine) RequestApproval(ctx context.Context, pctx *sec.PermissionContext, permissionID string, requirement *sec.ApprovalRequirement, justification string) (*sec.ApprovalRequest, error) {
	if requirement == nil || !requirement.Required {
		return nil, sec.NewError(sec.ErrorTypeConfiguration, "permission %q does not require approval", permissionID).WithSubject(permissionID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.store.FindByTuple(ctx, pctx.UserID, permissionID, sec.ApprovalPending)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	req := &sec.ApprovalRequest{
		ID:             uuid.New().String(),
		PermissionID:   permissionID,
		UserID:         pctx.UserID,
		OrganizationID: pctx.OrganizationID,
		Justification:  justification,
		ContextSnapshot: map[string]string{
			"role":       string(pctx.Role),
			"session_id": pctx.Session.ID,
			"ip_address": pctx.Session.IPAddress,
		},
		ApproverRoles: requirement.ApproverRoles,
		ApproverIDs:   requirement.ApproverIDs,
		MinApprovers:  requirement.MinApprovers,
		Escalations:   requirement.Escalations,
		Status:        sec.ApprovalPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(requirement.MaxApprovalTime),
	}
	if req.MinApprovers < 1 {
		req.MinApprovers = 1
	}

	if err := e.store.Create(ctx, req); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ApprovalRequests.WithLabelValues(string(sec.ApprovalPending)).Inc()
	}
	e.logger.WithFields(map[string]interface{}{
		"component":     "approval_engine",
		"request_id":    req.ID,
		"user_id":       req.UserID,
		"permission_id": req.PermissionID,
		"expires_at":    req.ExpiresAt,
	}).Info("Approval request created")

	return req, nil
}

// LinkAuditEntry attaches an audit entry id to a pending request so the
// purge operation keeps the entry while the request is open. Linking against
// a finalized request is a no-op.
func (e *ApprovalEngine) LinkAuditEntry(ctx context.Context, requestID, entryID string) error {
	if entryID == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	req, err := e.store.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != sec.ApprovalPending {
		return nil
	}
	for _, id := range req.AuditEntryIDs {
		if id == entryID {
			return nil
		}
	}
	req.AuditEntryIDs = append(req.AuditEntryIDs, entryID)
	return e.store.Update(ctx, req)
}

// Decide records one approver's verdict. Duplicate verdicts from the same
// approver replace nothing and do not increase the quorum count. Deciding a
// finalized request returns AlreadyFinalized.
func (e *ApprovalEngine) Decide(ctx context.Context, requestID, approverID string, approverRole sec.RoleID, approve bool, comments string) (*sec.ApprovalRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, err := e.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if req.Status != sec.ApprovalPending {
		return req, sec.NewError(sec.ErrorTypeAlreadyFinalized,
			"approval request %q already %s", requestID, req.Status).WithSubject(requestID)
	}

	if time.Now().After(req.ExpiresAt) {
		e.finalizeLocked(ctx, req, sec.ApprovalExpired)
		return req, sec.NewError(sec.ErrorTypeAlreadyFinalized,
			"approval request %q expired", requestID).WithSubject(requestID)
	}

	if approverID == req.UserID {
		return nil, sec.NewError(sec.ErrorTypeUnauthorized,
			"requester cannot approve their own request").WithUser(approverID).WithSubject(requestID)
	}
	if !e.authorized(req, approverID, approverRole) {
		return nil, sec.NewError(sec.ErrorTypeUnauthorized,
			"user is not an eligible approver for request %q", requestID).WithUser(approverID).WithSubject(requestID)
	}

	for _, d := range req.Decisions {
		if d.ApproverID == approverID {
			return nil, sec.NewError(sec.ErrorTypeAlreadyFinalized,
				"approver %q already decided on request %q", approverID, requestID).WithUser(approverID).WithSubject(requestID)
		}
	}

	req.Decisions = append(req.Decisions, sec.ApprovalDecision{
		ApproverID: approverID,
		Approve:    approve,
		Comments:   comments,
		DecidedAt:  time.Now(),
	})

	switch {
	case !approve && e.denyPolicy == sec.DenyPolicySingleDeny:
		e.finalizeLocked(ctx, req, sec.ApprovalDenied)
	case !approve && e.quorumImpossible(req):
		e.finalizeLocked(ctx, req, sec.ApprovalDenied)
	case req.Approvals() >= req.MinApprovers:
		e.finalizeLocked(ctx, req, sec.ApprovalApproved)
	default:
		if err := e.store.Update(ctx, req); err != nil {
			return nil, err
		}
	}

	return req, nil
}

// quorumImpossible reports whether enough denies have accumulated that the
// quorum can no longer be reached by the remaining eligible approvers. With
// an open approver set (role-based), quorum stays possible until expiry.
func (e *ApprovalEngine) quorumImpossible(req *sec.ApprovalRequest) bool {
	if len(req.ApproverRoles) > 0 || len(req.ApproverIDs) == 0 {
		return false
	}
	denies := 0
	for _, d := range req.Decisions {
		if !d.Approve {
			denies++
		}
	}
	return len(req.ApproverIDs)-denies < req.MinApprovers
}

func (e *ApprovalEngine) authorized(req *sec.ApprovalRequest, approverID string, approverRole sec.RoleID) bool {
	for _, id := range req.ApproverIDs {
		if id == approverID {
			return true
		}
	}
	for _, role := range req.ApproverRoles {
		if role == approverRole {
			return true
		}
	}
	return false
}

// finalizeLocked moves the request to a terminal status. Caller holds e.mu.
func (e *ApprovalEngine) finalizeLocked(ctx context.Context, req *sec.ApprovalRequest, status sec.ApprovalStatus) {
	now := time.Now()
	req.Status = status
	req.FinalizedAt = &now
	if err := e.store.Update(ctx, req); err != nil {
		e.logger.WithFields(map[string]interface{}{
			"component":  "approval_engine",
			"request_id": req.ID,
			"error":      err.Error(),
		}).Error("Failed to persist approval finalization")
		return
	}
	if e.metrics != nil {
		e.metrics.ApprovalRequests.WithLabelValues(string(status)).Inc()
	}
	e.logger.WithFields(map[string]interface{}{
		"component":  "approval_engine",
		"request_id": req.ID,
		"user_id":    req.UserID,
		"status":     string(status),
		"decisions":  len(req.Decisions),
	}).Info("Approval request finalized")
}

// Get returns a request by id
func (e *ApprovalEngine) Get(ctx context.Context, requestID string) (*sec.ApprovalRequest, error) {
	return e.store.Get(ctx, requestID)
}

// ApprovedRequest returns the user's unexpired approved request for a
// permission, or nil
func (e *ApprovalEngine) ApprovedRequest(ctx context.Context, userID, permissionID string, now time.Time) (*sec.ApprovalRequest, error) {
	req, err := e.store.FindByTuple(ctx, userID, permissionID, sec.ApprovalApproved)
	if err != nil {
		return nil, err
	}
	if req == nil || now.After(req.ExpiresAt) {
		return nil, nil
	}
	return req, nil
}

// Start launches the background sweep that expires overdue requests
func (e *ApprovalEngine) Start() {
	e.startOnce.Do(func() {
		go e.sweepLoop()
	})
}

// Stop terminates the background sweep and waits for it to exit
func (e *ApprovalEngine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
		<-e.doneChan
	})
}

func (e *ApprovalEngine) sweepLoop() {
	defer close(e.doneChan)
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.ExpireOverdue(context.Background(), time.Now())
		case <-e.stopChan:
			return
		}
	}
}

// ExpireOverdue finalizes every pending request whose deadline has passed and
// returns how many were expired
func (e *ApprovalEngine) ExpireOverdue(ctx context.Context, now time.Time) int {
	e.mu.Lock()
	overdue, err := e.store.ListOverdue(ctx, now)
	if err != nil {
		e.mu.Unlock()
		e.logger.WithFields(map[string]interface{}{
			"component": "approval_engine",
			"error":     err.Error(),
		}).Error("Failed to list overdue approval requests")
		return 0
	}

	expired := make([]*sec.ApprovalRequest, 0, len(overdue))
	for _, req := range overdue {
		if req.Status != sec.ApprovalPending {
			continue
		}
		e.finalizeLocked(ctx, req, sec.ApprovalExpired)
		expired = append(expired, req)
	}
	e.mu.Unlock()

	if e.onExpired != nil {
		for _, req := range expired {
			e.onExpired(req)
		}
	}
	return len(expired)
}
