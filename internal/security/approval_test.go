package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/logger"
	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

func testLogger() *logger.Logger {
	return logger.New("error")
}

func quorumRequirement(minApprovers int) *sec.ApprovalRequirement {
	return &sec.ApprovalRequirement{
		Required:        true,
		ApproverRoles:   []sec.RoleID{sec.RoleOrgAdmin, sec.RoleSuperAdmin},
		MinApprovers:    minApprovers,
		MaxApprovalTime: time.Hour,
	}
}

func requesterContext() *sec.PermissionContext {
	return &sec.PermissionContext{
		UserID: "requester",
		Role:   sec.RoleOrganizer,
	}
}

func newTestApprovalEngine(policy sec.DenyPolicy) *ApprovalEngine {
	return NewApprovalEngine(NewMemoryApprovalStore(), policy, time.Minute, testLogger(), nil)
}

func TestApprovalEngine_RequestIdempotent(t *testing.T) {
	engine := newTestApprovalEngine(sec.DenyPolicySingleDeny)
	ctx := context.Background()

	first, err := engine.RequestApproval(ctx, requesterContext(), "users:delete", quorumRequirement(2), "cleanup")
	require.NoError(t, err)

	second, err := engine.RequestApproval(ctx, requesterContext(), "users:delete", quorumRequirement(2), "cleanup again")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, sec.ApprovalPending, second.Status)
}

func TestApprovalEngine_QuorumApproves(t *testing.T) {
	engine := newTestApprovalEngine(sec.DenyPolicySingleDeny)
	ctx := context.Background()

	req, err := engine.RequestApproval(ctx, requesterContext(), "users:delete", quorumRequirement(2), "")
	require.NoError(t, err)

	updated, err := engine.Decide(ctx, req.ID, "approver-1", sec.RoleOrgAdmin, true, "ok")
	require.NoError(t, err)
	assert.Equal(t, sec.ApprovalPending, updated.Status)

	updated, err = engine.Decide(ctx, req.ID, "approver-2", sec.RoleSuperAdmin, true, "ok")
	require.NoError(t, err)
	assert.Equal(t, sec.ApprovalApproved, updated.Status)
	require.NotNil(t, updated.FinalizedAt)
}

func TestApprovalEngine_SingleDenyFinalizes(t *testing.T) {
	engine := newTestApprovalEngine(sec.DenyPolicySingleDeny)
	ctx := context.Background()

	req, err := engine.RequestApproval(ctx, requesterContext(), "users:delete", quorumRequirement(3), "")
	require.NoError(t, err)

	updated, err := engine.Decide(ctx, req.ID, "approver-1", sec.RoleOrgAdmin, false, "not justified")
	require.NoError(t, err)
	assert.Equal(t, sec.ApprovalDenied, updated.Status)

	// Further decisions hit the finalized request.
	_, err = engine.Decide(ctx, req.ID, "approver-2", sec.RoleOrgAdmin, true, "")
	assert.ErrorIs(t, err, sec.ErrAlreadyFinalized)
}

func TestApprovalEngine_QuorumPolicyToleratesOneDeny(t *testing.T) {
	engine := newTestApprovalEngine(sec.DenyPolicyQuorum)
	ctx := context.Background()

	req, err := engine.RequestApproval(ctx, requesterContext(), "users:delete", quorumRequirement(2), "")
	require.NoError(t, err)

	updated, err := engine.Decide(ctx, req.ID, "approver-1", sec.RoleOrgAdmin, false, "hesitant")
	require.NoError(t, err)
	assert.Equal(t, sec.ApprovalPending, updated.Status)

	_, err = engine.Decide(ctx, req.ID, "approver-2", sec.RoleOrgAdmin, true, "")
	require.NoError(t, err)
	updated, err = engine.Decide(ctx, req.ID, "approver-3", sec.RoleSuperAdmin, true, "")
	require.NoError(t, err)
	assert.Equal(t, sec.ApprovalApproved, updated.Status)
}

func TestApprovalEngine_UnauthorizedApprovers(t *testing.T) {
	engine := newTestApprovalEngine(sec.DenyPolicySingleDeny)
	ctx := context.Background()

	req, err := engine.RequestApproval(ctx, requesterContext(), "users:delete", quorumRequirement(1), "")
	require.NoError(t, err)

	// Wrong role.
	_, err = engine.Decide(ctx, req.ID, "someone", sec.RoleViewer, true, "")
	assert.ErrorIs(t, err, sec.ErrUnauthorized)

	// Requester cannot self-approve even with the right role.
	_, err = engine.Decide(ctx, req.ID, "requester", sec.RoleOrgAdmin, true, "")
	assert.ErrorIs(t, err, sec.ErrUnauthorized)
}

func TestApprovalEngine_DuplicateApproverRejected(t *testing.T) {
	engine := newTestApprovalEngine(sec.DenyPolicySingleDeny)
	ctx := context.Background()

	req, err := engine.RequestApproval(ctx, requesterContext(), "users:delete", quorumRequirement(2), "")
	require.NoError(t, err)

	_, err = engine.Decide(ctx, req.ID, "approver-1", sec.RoleOrgAdmin, true, "")
	require.NoError(t, err)

	_, err = engine.Decide(ctx, req.ID, "approver-1", sec.RoleOrgAdmin, true, "again")
	assert.ErrorIs(t, err, sec.ErrAlreadyFinalized)

	got, err := engine.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Approvals())
}

func TestApprovalEngine_ConcurrentDecisionsApproveExactlyOnce(t *testing.T) {
	engine := newTestApprovalEngine(sec.DenyPolicySingleDeny)
	ctx := context.Background()

	req, err := engine.RequestApproval(ctx, requesterContext(), "events:delete", quorumRequirement(2), "")
	require.NoError(t, err)

	approvers := []string{"approver-1", "approver-2", "approver-3"}
	transitions := make([]sec.ApprovalStatus, len(approvers))

	var wg sync.WaitGroup
	for i, approver := range approvers {
		wg.Add(1)
		go func(i int, approver string) {
			defer wg.Done()
			updated, err := engine.Decide(ctx, req.ID, approver, sec.RoleOrgAdmin, true, "")
			if err == nil && updated.Status == sec.ApprovalApproved {
				transitions[i] = updated.Status
			}
		}(i, approver)
	}
	wg.Wait()

	// Exactly one decision call observes the transition to approved.
	approvedSeen := 0
	for _, s := range transitions {
		if s == sec.ApprovalApproved {
			approvedSeen++
		}
	}
	assert.Equal(t, 1, approvedSeen)

	final, err := engine.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, sec.ApprovalApproved, final.Status)
	assert.Equal(t, 2, final.Approvals())
	require.NotNil(t, final.FinalizedAt)
}

func TestApprovalEngine_ExpireOverdue(t *testing.T) {
	store := NewMemoryApprovalStore()
	engine := NewApprovalEngine(store, sec.DenyPolicySingleDeny, time.Minute, testLogger(), nil)

	var expiredIDs []string
	engine.SetExpiryCallback(func(req *sec.ApprovalRequest) {
		expiredIDs = append(expiredIDs, req.ID)
	})

	ctx := context.Background()
	requirement := quorumRequirement(2)
	requirement.MaxApprovalTime = time.Millisecond

	req, err := engine.RequestApproval(ctx, requesterContext(), "users:delete", requirement, "")
	require.NoError(t, err)

	expired := engine.ExpireOverdue(ctx, time.Now().Add(time.Second))
	assert.Equal(t, 1, expired)
	assert.Equal(t, []string{req.ID}, expiredIDs)

	got, err := engine.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, sec.ApprovalExpired, got.Status)

	// Deciding after expiry fails.
	_, err = engine.Decide(ctx, req.ID, "approver-1", sec.RoleOrgAdmin, true, "")
	assert.ErrorIs(t, err, sec.ErrAlreadyFinalized)
}

func TestApprovalExpiry_EscalatesToConfiguredRecipients(t *testing.T) {
	registry, err := NewRoleRegistry(DefaultRoles(), DefaultPermissions())
	require.NoError(t, err)

	svc, err := NewService(Config{
		MaxRiskScore:          0.75,
		DenyPolicy:            sec.DenyPolicySingleDeny,
		ApprovalSweepInterval: time.Hour,
		AlertQueueSize:        16,
	}, NewMemoryAuditStore(), NewMemoryApprovalStore(), nil, registry, nil, testLogger(), prometheus.NewRegistry())
	require.NoError(t, err)

	requirement := quorumRequirement(2)
	requirement.MaxApprovalTime = time.Millisecond
	requirement.Escalations = []sec.EscalationRule{
		{NotifyRoles: []sec.RoleID{sec.RoleSuperAdmin}, NotifyUsers: []string{"secops"}},
	}

	ctx := context.Background()
	req, err := svc.Approvals.RequestApproval(ctx, requesterContext(), "users:delete", requirement, "cleanup")
	require.NoError(t, err)

	expired := svc.Approvals.ExpireOverdue(ctx, time.Now().Add(time.Second))
	require.Equal(t, 1, expired)

	var alert *sec.SecurityAlert
	for _, a := range svc.Alerts.Recent(10) {
		if a.Type == "approval_expired" {
			alert = a
		}
	}
	require.NotNil(t, alert, "expiry should raise an alert")
	assert.Equal(t, req.ID+"-expired", alert.ID)
	assert.ElementsMatch(t, []string{"role:super_admin", "secops"}, alert.Recipients)
}

func TestApprovalEngine_ApprovedRequestLookup(t *testing.T) {
	engine := newTestApprovalEngine(sec.DenyPolicySingleDeny)
	ctx := context.Background()

	req, err := engine.RequestApproval(ctx, requesterContext(), "users:delete", quorumRequirement(1), "")
	require.NoError(t, err)

	// Pending requests do not satisfy the lookup.
	got, err := engine.ApprovedRequest(ctx, "requester", "users:delete", time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = engine.Decide(ctx, req.ID, "approver-1", sec.RoleOrgAdmin, true, "")
	require.NoError(t, err)

	got, err = engine.ApprovedRequest(ctx, "requester", "users:delete", time.Now())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, req.ID, got.ID)

	// An approval past its expiry no longer satisfies the lookup.
	got, err = engine.ApprovedRequest(ctx, "requester", "users:delete", time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got)
}
