package security

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/internal/authn"
	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

type handlerFixture struct {
	service   *Service
	validator *authn.TokenValidator
	router    *mux.Router
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	registry, err := NewRoleRegistry(DefaultRoles(), DefaultPermissions())
	require.NoError(t, err)

	service, err := NewService(Config{
		MaxRiskScore:          0.75,
		DenyPolicy:            sec.DenyPolicySingleDeny,
		ApprovalSweepInterval: time.Minute,
		AlertQueueSize:        16,
	}, NewMemoryAuditStore(), NewMemoryApprovalStore(), nil, registry,
		DefaultAdvancedPermissions(), testLogger(), prometheus.NewRegistry())
	require.NoError(t, err)

	validator := authn.NewTokenValidator("handler-test-secret", "")
	router := mux.NewRouter()
	NewHandlers(service, validator, testLogger()).RegisterRoutes(router)

	return &handlerFixture{service: service, validator: validator, router: router}
}

func (f *handlerFixture) token(t *testing.T, userID string, role sec.RoleID) string {
	t.Helper()
	token, err := f.validator.Issue(&sec.Identity{
		UserID:         userID,
		Role:           role,
		OrganizationID: "org-1",
	}, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *handlerFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_HealthNeedsNoAuth(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlers_RejectsMissingAndInvalidTokens(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, "POST", "/security/evaluate", "", map[string]string{"permission_id": "events:read"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, "POST", "/security/evaluate", "not-a-token", map[string]string{"permission_id": "events:read"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlers_EvaluateGrantsBasePermission(t *testing.T) {
	f := newHandlerFixture(t)
	token := f.token(t, "u1", sec.RoleViewer)

	rec := f.do(t, "POST", "/security/evaluate", token, map[string]interface{}{
		"permission_id": "events:read",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result sec.EvaluationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Granted)
}

func TestHandlers_EvaluateUsesTokenIdentityNotPayload(t *testing.T) {
	f := newHandlerFixture(t)
	token := f.token(t, "u1", sec.RoleViewer)

	// The payload claims super_admin but the token says viewer; the viewer
	// cannot delete users.
	rec := f.do(t, "POST", "/security/evaluate", token, map[string]interface{}{
		"permission_id": "users:delete",
		"context": map[string]interface{}{
			"user_id": "someone-else",
			"role":    "super_admin",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result sec.EvaluationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Granted)
	assert.Equal(t, sec.ReasonRoleLacksPermission, result.Reason)
}

func TestHandlers_EvaluateRequiresPermissionID(t *testing.T) {
	f := newHandlerFixture(t)
	token := f.token(t, "u1", sec.RoleViewer)

	rec := f.do(t, "POST", "/security/evaluate", token, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_ApprovalLifecycle(t *testing.T) {
	f := newHandlerFixture(t)
	requester := f.token(t, "requester", sec.RoleOrgAdmin)
	approver := f.token(t, "approver", sec.RoleSuperAdmin)

	rec := f.do(t, "POST", "/security/approvals", requester, map[string]string{
		"permission_id": "users:delete",
		"justification": "offboarding",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created sec.ApprovalRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, sec.ApprovalPending, created.Status)

	rec = f.do(t, "GET", "/security/approvals/"+created.ID, requester, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "POST", "/security/approvals/"+created.ID+"/decision", approver, map[string]interface{}{
		"approve":  true,
		"comments": "verified with HR",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var decided sec.ApprovalRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decided))
	assert.Equal(t, sec.ApprovalApproved, decided.Status)
}

func TestHandlers_ApprovalForPermissionWithoutRequirement(t *testing.T) {
	f := newHandlerFixture(t)
	token := f.token(t, "u1", sec.RoleOrgAdmin)

	rec := f.do(t, "POST", "/security/approvals", token, map[string]string{
		"permission_id": "events:read",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_GetApprovalNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	token := f.token(t, "u1", sec.RoleOrgAdmin)

	rec := f.do(t, "GET", "/security/approvals/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_AuditEndpointsRequireAuditRead(t *testing.T) {
	f := newHandlerFixture(t)
	viewer := f.token(t, "u1", sec.RoleViewer)
	admin := f.token(t, "u2", sec.RoleAdmin)

	rec := f.do(t, "GET", "/security/audit/logs", viewer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, "GET", "/security/audit/logs", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "GET", "/security/audit/summary", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlers_AuditLogsReturnsRecordedEntries(t *testing.T) {
	f := newHandlerFixture(t)
	admin := f.token(t, "admin", sec.RoleAdmin)

	_, err := f.service.Audit.Log(context.Background(), LogParams{
		UserID:       "u1",
		Action:       sec.ActionLoginFailed,
		ResourceType: "session",
	})
	require.NoError(t, err)

	rec := f.do(t, "GET", "/security/audit/logs?actions=login_failed", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Entries []*sec.AuditLogEntry `json:"entries"`
		Count   int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 1, payload.Count)
	assert.Equal(t, sec.ActionLoginFailed, payload.Entries[0].Action)
}

func TestHandlers_AuditLogsRejectsBadFilter(t *testing.T) {
	f := newHandlerFixture(t)
	admin := f.token(t, "admin", sec.RoleAdmin)

	rec := f.do(t, "GET", "/security/audit/logs?from=yesterday", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_AuditConfigRoundTrip(t *testing.T) {
	f := newHandlerFixture(t)
	orgAdmin := f.token(t, "admin", sec.RoleOrgAdmin)
	viewer := f.token(t, "viewer", sec.RoleViewer)

	rec := f.do(t, "GET", "/security/audit/config", viewer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, "GET", "/security/audit/config", orgAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg sec.AuditConfiguration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))

	cfg.RetentionDays = 30
	rec = f.do(t, "PUT", "/security/audit/config", orgAdmin, cfg)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, f.service.Audit.Config().RetentionDays)

	cfg.RetentionDays = 0
	rec = f.do(t, "PUT", "/security/audit/config", orgAdmin, cfg)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 30, f.service.Audit.Config().RetentionDays)
}

func TestHandlers_AcknowledgeAlert(t *testing.T) {
	f := newHandlerFixture(t)
	admin := f.token(t, "admin", sec.RoleAdmin)

	f.service.Alerts.Raise(&sec.SecurityAlert{
		ID:       "alert-1",
		Type:     "test_alert",
		Severity: sec.SeverityHigh,
	})

	rec := f.do(t, "GET", "/security/alerts", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "POST", "/security/alerts/alert-1/acknowledge", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "POST", "/security/alerts/missing/acknowledge", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
