package security

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/internal/authn"
	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/logger"
	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

type contextKey string

const identityKey contextKey = "identity"

func contextWithIdentity(ctx context.Context, identity *sec.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func identityFromContext(ctx context.Context) *sec.Identity {
	if id, ok := ctx.Value(identityKey).(*sec.Identity); ok {
		return id
	}
	return &sec.Identity{}
}

// Handlers provides the HTTP surface of the security engine
type Handlers struct {
	service   *Service
	validator *authn.TokenValidator
	logger    *logger.Logger
}

// NewHandlers creates the HTTP handlers
func NewHandlers(service *Service, validator *authn.TokenValidator, log *logger.Logger) *Handlers {
	return &Handlers{
		service:   service,
		validator: validator,
		logger:    log,
	}
}

// RegisterRoutes registers all routes with the router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods("GET")

	api := router.PathPrefix("/security").Subrouter()
	api.Use(h.authMiddleware)

	api.HandleFunc("/evaluate", h.Evaluate).Methods("POST")

	api.HandleFunc("/approvals", h.CreateApprovalRequest).Methods("POST")
	api.HandleFunc("/approvals/{requestID}", h.GetApprovalRequest).Methods("GET")
	api.HandleFunc("/approvals/{requestID}/decision", h.DecideApproval).Methods("POST")

	api.HandleFunc("/audit/logs", h.GetAuditLogs).Methods("GET")
	api.HandleFunc("/audit/summary", h.GetAuditSummary).Methods("GET")
	api.HandleFunc("/audit/config", h.GetAuditConfig).Methods("GET")
	api.HandleFunc("/audit/config", h.UpdateAuditConfig).Methods("PUT")
	api.HandleFunc("/audit/purge", h.PurgeAuditLogs).Methods("POST")

	api.HandleFunc("/alerts", h.GetRecentAlerts).Methods("GET")
	api.HandleFunc("/alerts/{alertID}/acknowledge", h.AcknowledgeAlert).Methods("POST")
}

// authMiddleware validates the bearer token and attaches the identity
func (h *Handlers) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			h.writeErrorResponse(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}

		identity, err := h.validator.Validate(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			h.writeErrorResponse(w, http.StatusUnauthorized, "Invalid token", err)
			return
		}

		ctx := contextWithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Health reports service liveness
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "security-service",
		"timestamp": time.Now(),
	})
}

type evaluateRequest struct {
	PermissionID string                 `json:"permission_id"`
	Context      *sec.PermissionContext `json:"context"`
}

// Evaluate runs a permission evaluation for the supplied context. The
// authenticated identity overrides the actor fields of the context so callers
// cannot evaluate as someone else.
func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload", err)
		return
	}
	if req.PermissionID == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "permission_id is required", nil)
		return
	}
	if req.Context == nil {
		req.Context = &sec.PermissionContext{}
	}

	identity := identityFromContext(r.Context())
	req.Context.UserID = identity.UserID
	req.Context.UserEmail = identity.Email
	req.Context.Role = identity.Role
	if req.Context.OrganizationID == "" {
		req.Context.OrganizationID = identity.OrganizationID
	}
	if req.Context.Request.Timestamp.IsZero() {
		req.Context.Request.Timestamp = time.Now()
	}

	result := h.service.Evaluator.Evaluate(r.Context(), req.PermissionID, req.Context)
	h.writeJSONResponse(w, http.StatusOK, result)
}

type createApprovalRequest struct {
	PermissionID  string `json:"permission_id"`
	Justification string `json:"justification"`
}

// CreateApprovalRequest opens (or returns the existing) pending approval
// request for the caller and permission
func (h *Handlers) CreateApprovalRequest(w http.ResponseWriter, r *http.Request) {
	var req createApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload", err)
		return
	}

	identity := identityFromContext(r.Context())

	snap := h.service.Evaluator.snapshot.Load()
	ap, ok := snap.advanced[req.PermissionID]
	if !ok || ap.Constraints == nil || ap.Constraints.Approval == nil {
		h.writeErrorResponse(w, http.StatusNotFound, "Permission does not require approval", nil)
		return
	}

	pctx := &sec.PermissionContext{
		UserID:         identity.UserID,
		UserEmail:      identity.Email,
		Role:           identity.Role,
		OrganizationID: identity.OrganizationID,
	}

	created, err := h.service.Approvals.RequestApproval(r.Context(), pctx, req.PermissionID, ap.Constraints.Approval, req.Justification)
	if err != nil {
		h.writeEngineError(w, "Failed to create approval request", err)
		return
	}

	entry, logErr := h.service.Audit.Log(r.Context(), LogParams{
		UserID:         identity.UserID,
		UserEmail:      identity.Email,
		UserRole:       identity.Role,
		Action:         sec.ActionApprovalRequested,
		ResourceType:   "approval_request",
		ResourceID:     created.ID,
		Details:        req.Justification,
		OrganizationID: identity.OrganizationID,
	})
	if logErr != nil {
		h.logger.WithComponent("handlers").WithField("request_id", created.ID).
			Error("Failed to audit approval request creation")
	} else if entry != nil {
		if linkErr := h.service.Approvals.LinkAuditEntry(r.Context(), created.ID, entry.ID); linkErr != nil {
			h.logger.WithComponent("handlers").WithField("request_id", created.ID).
				Error("Failed to link audit entry to approval request")
		}
	}

	h.writeJSONResponse(w, http.StatusCreated, created)
}

// GetApprovalRequest returns an approval request by id
func (h *Handlers) GetApprovalRequest(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestID"]

	req, err := h.service.Approvals.Get(r.Context(), requestID)
	if err != nil {
		h.writeEngineError(w, "Failed to load approval request", err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, req)
}

type decisionRequest struct {
	Approve  bool   `json:"approve"`
	Comments string `json:"comments,omitempty"`
}

// DecideApproval records the caller's verdict on a request
func (h *Handlers) DecideApproval(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestID"]

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload", err)
		return
	}

	identity := identityFromContext(r.Context())

	updated, err := h.service.Approvals.Decide(r.Context(), requestID, identity.UserID, identity.Role, req.Approve, req.Comments)
	if err != nil {
		h.writeEngineError(w, "Failed to record decision", err)
		return
	}

	if _, logErr := h.service.Audit.Log(r.Context(), LogParams{
		UserID:       identity.UserID,
		UserEmail:    identity.Email,
		UserRole:     identity.Role,
		Action:       sec.ActionApprovalDecided,
		ResourceType: "approval_request",
		ResourceID:   requestID,
		Details:      decisionDetails(req.Approve, updated.Status),
	}); logErr != nil {
		h.logger.WithComponent("handlers").WithField("request_id", requestID).
			Error("Failed to audit approval decision")
	}

	h.writeJSONResponse(w, http.StatusOK, updated)
}

func decisionDetails(approve bool, status sec.ApprovalStatus) string {
	verdict := "denied"
	if approve {
		verdict = "approved"
	}
	return "decision: " + verdict + ", request status: " + string(status)
}

// GetAuditLogs returns audit entries matching the query parameters
func (h *Handlers) GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if !h.service.Evaluator.Registry().HasPermission(identity.Role, "audit:read") {
		h.writeErrorResponse(w, http.StatusForbidden, "Insufficient permissions", nil)
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid filter parameters", err)
		return
	}

	entries, err := h.service.Audit.GetLogs(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, "Failed to query audit log", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetAuditSummary returns aggregates over the matching entries
func (h *Handlers) GetAuditSummary(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if !h.service.Evaluator.Registry().HasPermission(identity.Role, "audit:read") {
		h.writeErrorResponse(w, http.StatusForbidden, "Insufficient permissions", nil)
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid filter parameters", err)
		return
	}

	summary, err := h.service.Audit.GetSummary(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, "Failed to build audit summary", err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, summary)
}

// GetAuditConfig returns the current audit configuration
func (h *Handlers) GetAuditConfig(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if !h.service.Evaluator.Registry().HasPermission(identity.Role, "settings:update") {
		h.writeErrorResponse(w, http.StatusForbidden, "Insufficient permissions", nil)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, h.service.Audit.Config())
}

// UpdateAuditConfig installs a new audit configuration
func (h *Handlers) UpdateAuditConfig(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if !h.service.Evaluator.Registry().HasPermission(identity.Role, "settings:update") {
		h.writeErrorResponse(w, http.StatusForbidden, "Insufficient permissions", nil)
		return
	}

	var cfg sec.AuditConfiguration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON payload", err)
		return
	}

	previous := h.service.Audit.Config()
	if err := h.service.Audit.UpdateConfiguration(&cfg); err != nil {
		h.writeEngineError(w, "Configuration rejected", err)
		return
	}

	if _, logErr := h.service.Audit.Log(r.Context(), LogParams{
		UserID:       identity.UserID,
		UserEmail:    identity.Email,
		UserRole:     identity.Role,
		Action:       sec.ActionConfigurationChange,
		ResourceType: "audit_configuration",
		Details:      "audit configuration updated",
		Before:       map[string]any{"retention_days": previous.RetentionDays, "min_severity": previous.MinSeverity},
		After:        map[string]any{"retention_days": cfg.RetentionDays, "min_severity": cfg.MinSeverity},
	}); logErr != nil {
		h.logger.WithComponent("handlers").Error("Failed to audit configuration change")
	}

	h.writeJSONResponse(w, http.StatusOK, h.service.Audit.Config())
}

// PurgeAuditLogs removes entries beyond the configured retention
func (h *Handlers) PurgeAuditLogs(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if !h.service.Evaluator.Registry().HasPermission(identity.Role, "settings:update") {
		h.writeErrorResponse(w, http.StatusForbidden, "Insufficient permissions", nil)
		return
	}

	removed, err := h.service.Audit.PurgeOldLogs(r.Context(), h.service.Audit.Config().RetentionDays)
	if err != nil {
		h.writeEngineError(w, "Purge failed", err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

// GetRecentAlerts returns the most recent alerts
func (h *Handlers) GetRecentAlerts(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if !h.service.Evaluator.Registry().HasPermission(identity.Role, "audit:read") {
		h.writeErrorResponse(w, http.StatusForbidden, "Insufficient permissions", nil)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"alerts": h.service.Alerts.Recent(limit),
	})
}

// AcknowledgeAlert marks an alert as handled
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if !h.service.Evaluator.Registry().HasPermission(identity.Role, "audit:read") {
		h.writeErrorResponse(w, http.StatusForbidden, "Insufficient permissions", nil)
		return
	}

	alertID := mux.Vars(r)["alertID"]
	if err := h.service.Alerts.Acknowledge(alertID, identity.UserID); err != nil {
		h.writeEngineError(w, "Failed to acknowledge alert", err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"acknowledged": alertID})
}

func parseAuditFilter(r *http.Request) (sec.AuditFilter, error) {
	q := r.URL.Query()
	filter := sec.AuditFilter{
		UserID:         q.Get("user_id"),
		OrganizationID: q.Get("organization_id"),
		EventID:        q.Get("event_id"),
		SortBy:         q.Get("sort_by"),
		SortDesc:       q.Get("sort_desc") == "true",
	}

	for _, a := range splitParam(q.Get("actions")) {
		filter.Actions = append(filter.Actions, sec.AuditAction(a))
	}
	for _, s := range splitParam(q.Get("severities")) {
		filter.Severities = append(filter.Severities, sec.Severity(s))
	}
	for _, c := range splitParam(q.Get("categories")) {
		filter.Categories = append(filter.Categories, sec.Category(c))
	}
	filter.ResourceTypes = splitParam(q.Get("resource_types"))

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, err
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, err
		}
		filter.Offset = n
	}

	return filter, nil
}

func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// writeEngineError maps engine error types to HTTP statuses
func (h *Handlers) writeEngineError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sec.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sec.ErrAlreadyFinalized):
		status = http.StatusConflict
	case errors.Is(err, sec.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, sec.ErrConfiguration), errors.Is(err, sec.ErrInvalidContext):
		status = http.StatusBadRequest
	}
	h.writeErrorResponse(w, status, message, err)
}

func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	entry := h.logger.WithComponent("handlers")
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	entry.Warn(message)

	response := map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	}

	var engineErr *sec.Error
	if errors.As(err, &engineErr) {
		response["error_type"] = engineErr.Type
		if engineErr.Subject != "" {
			response["subject"] = engineErr.Subject
		}
	}

	h.writeJSONResponse(w, statusCode, response)
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithComponent("handlers").WithField("error", err.Error()).Error("Failed to encode JSON response")
	}
}
