package security

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/logger"
	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

// PostgresAuditStore persists audit entries in PostgreSQL
type PostgresAuditStore struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewPostgresAuditStore creates the store and ensures its tables exist
func NewPostgresAuditStore(db *sql.DB, log *logger.Logger) (*PostgresAuditStore, error) {
	store := &PostgresAuditStore{db: db, logger: log}
	if err := store.initializeTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit tables: %w", err)
	}
	return store, nil
}

func (s *PostgresAuditStore) initializeTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS security_audit_log (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			user_email VARCHAR(255),
			user_role VARCHAR(64),
			action VARCHAR(64) NOT NULL,
			resource_type VARCHAR(128) NOT NULL,
			resource_id VARCHAR(255),
			details TEXT,
			before_state JSONB,
			after_state JSONB,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			session_id VARCHAR(255),
			ip_address INET,
			user_agent TEXT,
			organization_id VARCHAR(255),
			event_id VARCHAR(255),
			severity VARCHAR(16) NOT NULL,
			category VARCHAR(32) NOT NULL,
			metadata JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_security_audit_user_id ON security_audit_log(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_security_audit_timestamp ON security_audit_log(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_security_audit_action ON security_audit_log(action)`,
		`CREATE INDEX IF NOT EXISTS idx_security_audit_severity ON security_audit_log(severity)`,
		`CREATE INDEX IF NOT EXISTS idx_security_audit_user_action_ts ON security_audit_log(user_id, action, timestamp)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	return nil
}

// Append inserts an audit entry
func (s *PostgresAuditStore) Append(ctx context.Context, entry *sec.AuditLogEntry) error {
	beforeJSON, err := marshalNullable(entry.Before)
	if err != nil {
		return fmt.Errorf("failed to marshal before state: %w", err)
	}
	afterJSON, err := marshalNullable(entry.After)
	if err != nil {
		return fmt.Errorf("failed to marshal after state: %w", err)
	}
	metadataJSON, err := marshalNullable(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO security_audit_log (
			id, user_id, user_email, user_role, action, resource_type,
			resource_id, details, before_state, after_state, timestamp,
			session_id, ip_address, user_agent, organization_id, event_id,
			severity, category, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			NULLIF($13, '')::inet, $14, $15, $16, $17, $18, $19)`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.UserEmail,
		string(entry.UserRole),
		string(entry.Action),
		entry.ResourceType,
		entry.ResourceID,
		entry.Details,
		beforeJSON,
		afterJSON,
		entry.Timestamp,
		entry.SessionID,
		entry.IPAddress,
		entry.UserAgent,
		entry.OrganizationID,
		entry.EventID,
		string(entry.Severity),
		string(entry.Category),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Query retrieves audit entries matching the filter
func (s *PostgresAuditStore) Query(ctx context.Context, filter sec.AuditFilter) ([]*sec.AuditLogEntry, error) {
	query := `
		SELECT id, user_id, user_email, user_role, action, resource_type,
		       resource_id, details, before_state, after_state, timestamp,
		       session_id, ip_address, user_agent, organization_id, event_id,
		       severity, category, metadata
		FROM security_audit_log
		WHERE 1=1`

	args := []interface{}{}
	argIndex := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, filter.UserID)
		argIndex++
	}
	if filter.OrganizationID != "" {
		query += fmt.Sprintf(" AND organization_id = $%d", argIndex)
		args = append(args, filter.OrganizationID)
		argIndex++
	}
	if filter.EventID != "" {
		query += fmt.Sprintf(" AND event_id = $%d", argIndex)
		args = append(args, filter.EventID)
		argIndex++
	}
	if len(filter.Actions) > 0 {
		query += fmt.Sprintf(" AND action = ANY($%d)", argIndex)
		args = append(args, actionStrings(filter.Actions))
		argIndex++
	}
	if len(filter.ResourceTypes) > 0 {
		query += fmt.Sprintf(" AND resource_type = ANY($%d)", argIndex)
		args = append(args, stringArray(filter.ResourceTypes))
		argIndex++
	}
	if len(filter.Severities) > 0 {
		vals := make([]string, len(filter.Severities))
		for i, v := range filter.Severities {
			vals[i] = string(v)
		}
		query += fmt.Sprintf(" AND severity = ANY($%d)", argIndex)
		args = append(args, stringArray(vals))
		argIndex++
	}
	if len(filter.Categories) > 0 {
		vals := make([]string, len(filter.Categories))
		for i, v := range filter.Categories {
			vals[i] = string(v)
		}
		query += fmt.Sprintf(" AND category = ANY($%d)", argIndex)
		args = append(args, stringArray(vals))
		argIndex++
	}
	if !filter.From.IsZero() {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIndex)
		args = append(args, filter.From)
		argIndex++
	}
	if !filter.To.IsZero() {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIndex)
		args = append(args, filter.To)
		argIndex++
	}

	query += orderClause(filter.SortBy, filter.SortDesc)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*sec.AuditLogEntry
	for rows.Next() {
		entry, err := s.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func orderClause(sortBy string, desc bool) string {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	switch sortBy {
	case "severity":
		return fmt.Sprintf(
			" ORDER BY CASE severity WHEN 'low' THEN 0 WHEN 'medium' THEN 1 WHEN 'high' THEN 2 WHEN 'critical' THEN 3 END %s, timestamp %s",
			dir, dir)
	case "action":
		return fmt.Sprintf(" ORDER BY action %s, timestamp %s", dir, dir)
	default:
		return fmt.Sprintf(" ORDER BY timestamp %s", dir)
	}
}

func (s *PostgresAuditStore) scanEntry(rows *sql.Rows) (*sec.AuditLogEntry, error) {
	entry := &sec.AuditLogEntry{}
	var userEmail, userRole, resourceID, details sql.NullString
	var sessionID, ipAddress, userAgent, orgID, eventID sql.NullString
	var action, severity, category string
	var beforeJSON, afterJSON, metadataJSON []byte

	err := rows.Scan(
		&entry.ID,
		&entry.UserID,
		&userEmail,
		&userRole,
		&action,
		&entry.ResourceType,
		&resourceID,
		&details,
		&beforeJSON,
		&afterJSON,
		&entry.Timestamp,
		&sessionID,
		&ipAddress,
		&userAgent,
		&orgID,
		&eventID,
		&severity,
		&category,
		&metadataJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	entry.UserEmail = userEmail.String
	entry.UserRole = sec.RoleID(userRole.String)
	entry.Action = sec.AuditAction(action)
	entry.ResourceID = resourceID.String
	entry.Details = details.String
	entry.SessionID = sessionID.String
	entry.IPAddress = ipAddress.String
	entry.UserAgent = userAgent.String
	entry.OrganizationID = orgID.String
	entry.EventID = eventID.String
	entry.Severity = sec.Severity(severity)
	entry.Category = sec.Category(category)

	if len(beforeJSON) > 0 {
		if err := json.Unmarshal(beforeJSON, &entry.Before); err != nil {
			s.logger.WithComponent("audit_store").WithField("entry_id", entry.ID).Warn("Failed to unmarshal before state")
		}
	}
	if len(afterJSON) > 0 {
		if err := json.Unmarshal(afterJSON, &entry.After); err != nil {
			s.logger.WithComponent("audit_store").WithField("entry_id", entry.ID).Warn("Failed to unmarshal after state")
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			s.logger.WithComponent("audit_store").WithField("entry_id", entry.ID).Warn("Failed to unmarshal metadata")
		}
	}

	return entry, nil
}

// CountByUserSince counts entries for a user matching any action at or after
// since. Served by the composite (user_id, action, timestamp) index.
func (s *PostgresAuditStore) CountByUserSince(ctx context.Context, userID string, actions []sec.AuditAction, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM security_audit_log
		WHERE user_id = $1 AND action = ANY($2) AND timestamp >= $3`

	var count int
	err := s.db.QueryRowContext(ctx, query, userID, actionStrings(actions), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// Purge removes entries strictly older than cutoff, keeping protected ids
func (s *PostgresAuditStore) Purge(ctx context.Context, cutoff time.Time, protected map[string]struct{}) (int, error) {
	ids := make([]string, 0, len(protected))
	for id := range protected {
		ids = append(ids, id)
	}

	query := `DELETE FROM security_audit_log WHERE timestamp < $1 AND NOT (id = ANY($2))`
	result, err := s.db.ExecContext(ctx, query, cutoff, stringArray(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit log: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge row count: %w", err)
	}
	return int(affected), nil
}

func marshalNullable(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case map[string]any:
		if len(m) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(m) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func actionStrings(actions []sec.AuditAction) interface{} {
	vals := make([]string, len(actions))
	for i, a := range actions {
		vals[i] = string(a)
	}
	return stringArray(vals)
}

func stringArray(vals []string) interface{} {
	return pq.Array(vals)
}
