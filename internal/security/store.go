package security

import (
	"context"
	"sort"
	"sync"
	"time"

	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

// MemoryAuditStore is an in-memory AuditStore used for development and tests,
// and as the fallback when no database is configured.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*sec.AuditLogEntry
	byUser  map[string][]*sec.AuditLogEntry
}

// NewMemoryAuditStore creates an empty in-memory audit store
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{
		byUser: make(map[string][]*sec.AuditLogEntry),
	}
}

// Append stores a copy of the entry
func (s *MemoryAuditStore) Append(_ context.Context, entry *sec.AuditLogEntry) error {
	cp := *entry
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &cp)
	s.byUser[cp.UserID] = append(s.byUser[cp.UserID], &cp)
	return nil
}

// Query returns entries matching filter, sorted and paginated. Limit 0 means
// no limit.
func (s *MemoryAuditStore) Query(_ context.Context, filter sec.AuditFilter) ([]*sec.AuditLogEntry, error) {
	s.mu.RLock()
	source := s.entries
	if filter.UserID != "" {
		source = s.byUser[filter.UserID]
	}
	matched := make([]*sec.AuditLogEntry, 0, len(source))
	for _, e := range source {
		if matchesFilter(e, &filter) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sortEntries(matched, filter.SortBy, filter.SortDesc)

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*sec.AuditLogEntry{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*sec.AuditLogEntry, len(matched))
	for i, e := range matched {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// CountByUserSince counts a user's entries matching any action at or after
// since
func (s *MemoryAuditStore) CountByUserSince(_ context.Context, userID string, actions []sec.AuditAction, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.byUser[userID] {
		if e.Timestamp.Before(since) {
			continue
		}
		for _, a := range actions {
			if e.Action == a {
				count++
				break
			}
		}
	}
	return count, nil
}

// Purge removes entries strictly older than cutoff, keeping protected ids
func (s *MemoryAuditStore) Purge(_ context.Context, cutoff time.Time, protected map[string]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		_, keep := protected[e.ID]
		if keep || !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		} else {
			removed++
		}
	}
	s.entries = kept

	s.byUser = make(map[string][]*sec.AuditLogEntry, len(s.byUser))
	for _, e := range s.entries {
		s.byUser[e.UserID] = append(s.byUser[e.UserID], e)
	}
	return removed, nil
}

func matchesFilter(e *sec.AuditLogEntry, f *sec.AuditFilter) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.OrganizationID != "" && e.OrganizationID != f.OrganizationID {
		return false
	}
	if f.EventID != "" && e.EventID != f.EventID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if len(f.Actions) > 0 && !containsAction(f.Actions, e.Action) {
		return false
	}
	if len(f.ResourceTypes) > 0 && !containsString(f.ResourceTypes, e.ResourceType) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if len(f.Categories) > 0 && !containsCategory(f.Categories, e.Category) {
		return false
	}
	return true
}

func sortEntries(entries []*sec.AuditLogEntry, sortBy string, desc bool) {
	var less func(a, b *sec.AuditLogEntry) bool
	switch sortBy {
	case "severity":
		less = func(a, b *sec.AuditLogEntry) bool {
			if a.Severity != b.Severity {
				return !a.Severity.AtLeast(b.Severity)
			}
			return a.Timestamp.Before(b.Timestamp)
		}
	case "action":
		less = func(a, b *sec.AuditLogEntry) bool {
			if a.Action != b.Action {
				return a.Action < b.Action
			}
			return a.Timestamp.Before(b.Timestamp)
		}
	default:
		less = func(a, b *sec.AuditLogEntry) bool {
			return a.Timestamp.Before(b.Timestamp)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if desc {
			return less(entries[j], entries[i])
		}
		return less(entries[i], entries[j])
	})
}

func containsAction(list []sec.AuditAction, v sec.AuditAction) bool {
	for _, a := range list {
		if a == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsSeverity(list []sec.Severity, v sec.Severity) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsCategory(list []sec.Category, v sec.Category) bool {
	for _, c := range list {
		if c == v {
			return true
		}
	}
	return false
}

// MemoryApprovalStore is an in-memory ApprovalStore
type MemoryApprovalStore struct {
	mu       sync.RWMutex
	requests map[string]*sec.ApprovalRequest
	// order preserves insertion order so FindByTuple returns the newest
	order []string
}

// NewMemoryApprovalStore creates an empty in-memory approval store
func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{
		requests: make(map[string]*sec.ApprovalRequest),
	}
}

// Create stores a new request
func (s *MemoryApprovalStore) Create(_ context.Context, req *sec.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return sec.NewError(sec.ErrorTypeStorage, "approval request %q already exists", req.ID)
	}
	cp := cloneRequest(req)
	s.requests[req.ID] = cp
	s.order = append(s.order, req.ID)
	return nil
}

// Get returns a copy of the request or a NotFound error
func (s *MemoryApprovalStore) Get(_ context.Context, id string) (*sec.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, sec.NewError(sec.ErrorTypeNotFound, "approval request %q not found", id).WithSubject(id)
	}
	return cloneRequest(req), nil
}

// Update overwrites an existing request
func (s *MemoryApprovalStore) Update(_ context.Context, req *sec.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return sec.NewError(sec.ErrorTypeNotFound, "approval request %q not found", req.ID).WithSubject(req.ID)
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

// FindByTuple returns the newest request for (userID, permissionID) in one of
// the given statuses, or nil
func (s *MemoryApprovalStore) FindByTuple(_ context.Context, userID, permissionID string, statuses ...sec.ApprovalStatus) (*sec.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		req := s.requests[s.order[i]]
		if req.UserID != userID || req.PermissionID != permissionID {
			continue
		}
		for _, st := range statuses {
			if req.Status == st {
				return cloneRequest(req), nil
			}
		}
	}
	return nil, nil
}

// ListOverdue returns pending requests whose deadline passed before now
func (s *MemoryApprovalStore) ListOverdue(_ context.Context, now time.Time) ([]*sec.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*sec.ApprovalRequest
	for _, id := range s.order {
		req := s.requests[id]
		if req.Status == sec.ApprovalPending && req.ExpiresAt.Before(now) {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

// PendingAuditEntryIDs returns audit entry ids referenced by pending requests
func (s *MemoryApprovalStore) PendingAuditEntryIDs(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{})
	for _, req := range s.requests {
		if req.Status != sec.ApprovalPending {
			continue
		}
		for _, id := range req.AuditEntryIDs {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func cloneRequest(req *sec.ApprovalRequest) *sec.ApprovalRequest {
	cp := *req
	cp.Decisions = append([]sec.ApprovalDecision(nil), req.Decisions...)
	cp.AuditEntryIDs = append([]string(nil), req.AuditEntryIDs...)
	cp.ApproverRoles = append([]sec.RoleID(nil), req.ApproverRoles...)
	cp.ApproverIDs = append([]string(nil), req.ApproverIDs...)
	cp.Escalations = append([]sec.EscalationRule(nil), req.Escalations...)
	if req.ContextSnapshot != nil {
		cp.ContextSnapshot = make(map[string]string, len(req.ContextSnapshot))
		for k, v := range req.ContextSnapshot {
			cp.ContextSnapshot[k] = v
		}
	}
	return &cp
}
