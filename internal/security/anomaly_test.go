package security

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sec "github.com/Sam-Ezzat/conference-accommodation-app-sub001/pkg/security"
)

func seedEntries(t *testing.T, store *MemoryAuditStore, userID string, action sec.AuditAction, times []time.Time) []string {
	t.Helper()
	ids := make([]string, 0, len(times))
	for _, ts := range times {
		severity, category := Classify(action)
		entry := &sec.AuditLogEntry{
			ID:           uuid.New().String(),
			UserID:       userID,
			Action:       action,
			ResourceType: "test",
			Timestamp:    ts,
			Severity:     severity,
			Category:     category,
		}
		require.NoError(t, store.Append(context.Background(), entry))
		ids = append(ids, entry.ID)
	}
	return ids
}

func defaultThresholds() sec.AnomalyThresholds {
	return sec.AnomalyThresholds{
		FailedLoginCount:  5,
		FailedLoginWindow: 15 * time.Minute,
		RoleChangeCount:   3,
		RoleChangeWindow:  10 * time.Minute,
		ExportCount:       5,
		ExportWindow:      10 * time.Minute,
	}
}

func TestAnomalyDetector_FailedLoginThreshold(t *testing.T) {
	store := NewMemoryAuditStore()
	detector := NewAnomalyDetector(store)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	// Four failures inside the window do not fire.
	times := []time.Time{
		now.Add(-14 * time.Minute),
		now.Add(-10 * time.Minute),
		now.Add(-5 * time.Minute),
		now.Add(-1 * time.Minute),
	}
	ids := seedEntries(t, store, "attacker", sec.ActionLoginFailed, times)

	alerts, err := detector.Detect(context.Background(), "attacker", defaultThresholds(), now)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	// The fifth failure fires.
	ids = append(ids, seedEntries(t, store, "attacker", sec.ActionLoginFailed, []time.Time{now})...)

	alerts, err = detector.Detect(context.Background(), "attacker", defaultThresholds(), now)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "repeated_login_failures", alerts[0].Type)
	assert.Equal(t, sec.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, "attacker", alerts[0].UserID)

	// The alert names every failure in the window, not just the trigger.
	assert.ElementsMatch(t, ids, alerts[0].RelatedEntryIDs)
}

func TestAnomalyDetector_WindowExcludesOldEntries(t *testing.T) {
	store := NewMemoryAuditStore()
	detector := NewAnomalyDetector(store)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	// Five failures, but one is outside the 15 minute window.
	times := []time.Time{
		now.Add(-20 * time.Minute),
		now.Add(-12 * time.Minute),
		now.Add(-8 * time.Minute),
		now.Add(-4 * time.Minute),
		now,
	}
	seedEntries(t, store, "u1", sec.ActionLoginFailed, times)

	alerts, err := detector.Detect(context.Background(), "u1", defaultThresholds(), now)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAnomalyDetector_RoleChurnCombinesAssignAndRevoke(t *testing.T) {
	store := NewMemoryAuditStore()
	detector := NewAnomalyDetector(store)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	seedEntries(t, store, "admin", sec.ActionRoleAssigned, []time.Time{
		now.Add(-8 * time.Minute), now.Add(-4 * time.Minute),
	})
	seedEntries(t, store, "admin", sec.ActionRoleRevoked, []time.Time{now})

	alerts, err := detector.Detect(context.Background(), "admin", defaultThresholds(), now)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "rapid_role_changes", alerts[0].Type)
}

func TestAnomalyDetector_ExportBurst(t *testing.T) {
	store := NewMemoryAuditStore()
	detector := NewAnomalyDetector(store)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	times := make([]time.Time, 5)
	for i := range times {
		times[i] = now.Add(-time.Duration(i) * time.Minute)
	}
	seedEntries(t, store, "u1", sec.ActionDataExported, times)

	alerts, err := detector.Detect(context.Background(), "u1", defaultThresholds(), now)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "excessive_data_exports", alerts[0].Type)
	assert.Equal(t, sec.SeverityCritical, alerts[0].Severity)
}

func TestAnomalyDetector_ScopedPerUser(t *testing.T) {
	store := NewMemoryAuditStore()
	detector := NewAnomalyDetector(store)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		seedEntries(t, store, "u1", sec.ActionLoginFailed, []time.Time{now.Add(-time.Duration(i) * time.Minute)})
		seedEntries(t, store, "u2", sec.ActionLoginFailed, []time.Time{now.Add(-time.Duration(i) * time.Minute)})
	}

	// Six failures total, but only three per user. No rule fires.
	alerts, err := detector.Detect(context.Background(), "u1", defaultThresholds(), now)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAnomalyDetector_ZeroThresholdsDisabled(t *testing.T) {
	store := NewMemoryAuditStore()
	detector := NewAnomalyDetector(store)
	now := time.Now()

	times := make([]time.Time, 20)
	for i := range times {
		times[i] = now.Add(-time.Duration(i) * time.Second)
	}
	seedEntries(t, store, "u1", sec.ActionLoginFailed, times)

	alerts, err := detector.Detect(context.Background(), "u1", sec.AnomalyThresholds{}, now)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAuditEngine_LogTriggersAnomalyAlert(t *testing.T) {
	store := NewMemoryAuditStore()
	alerts := NewAlertManager(nil, 10, testLogger(), nil)
	engine, err := NewAuditEngine(store, nil, NewAnomalyDetector(store), alerts, DefaultAuditConfiguration(), testLogger(), nil)
	require.NoError(t, err)

	bg := context.Background()
	for i := 0; i < 5; i++ {
		_, err := engine.Log(bg, LogParams{UserID: "attacker", Action: sec.ActionLoginFailed, ResourceType: "session"})
		require.NoError(t, err)
	}

	recent := alerts.Recent(20)
	var alert *sec.SecurityAlert
	for _, a := range recent {
		if a.Type == "repeated_login_failures" {
			alert = a
		}
	}
	require.NotNil(t, alert, "fifth failed login should raise an anomaly alert")
	assert.Len(t, alert.RelatedEntryIDs, 5, "the alert should reference all five failures")
}
