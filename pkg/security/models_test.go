package security

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityAtLeast(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityLow))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.True(t, SeverityMedium.AtLeast(SeverityLow))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
	assert.False(t, SeverityMedium.AtLeast(SeverityCritical))
}

func TestSeverityAtLeast_UnknownValues(t *testing.T) {
	// Malformed severities never pass any floor.
	assert.False(t, Severity("extreme").AtLeast(SeverityLow))

	// An unknown floor falls back to low.
	assert.True(t, SeverityLow.AtLeast(Severity("bogus")))
	assert.True(t, SeverityCritical.AtLeast(Severity("bogus")))
	assert.False(t, Severity("extreme").AtLeast(Severity("bogus")))
}

func TestApprovalRequestApprovals_CountsDistinctApprovers(t *testing.T) {
	req := &ApprovalRequest{
		Decisions: []ApprovalDecision{
			{ApproverID: "a1", Approve: true},
			{ApproverID: "a1", Approve: true},
			{ApproverID: "a2", Approve: true},
			{ApproverID: "a3", Approve: false},
		},
	}
	assert.Equal(t, 2, req.Approvals())

	empty := &ApprovalRequest{}
	assert.Equal(t, 0, empty.Approvals())
}

func TestAuditConfiguration_EmptyListsMeanAll(t *testing.T) {
	cfg := &AuditConfiguration{Enabled: true}

	assert.True(t, cfg.CategoryEnabled(CategorySecurity))
	assert.True(t, cfg.CategoryEnabled(CategoryDataManagement))
	assert.True(t, cfg.ActionEnabled(ActionLoginFailed))
	assert.True(t, cfg.ActionEnabled(ActionDataExported))
}

func TestAuditConfiguration_ExplicitListsFilter(t *testing.T) {
	cfg := &AuditConfiguration{
		Enabled:           true,
		EnabledCategories: []Category{CategorySecurity},
		EnabledActions:    []AuditAction{ActionLoginFailed},
	}

	assert.True(t, cfg.CategoryEnabled(CategorySecurity))
	assert.False(t, cfg.CategoryEnabled(CategoryDataManagement))
	assert.True(t, cfg.ActionEnabled(ActionLoginFailed))
	assert.False(t, cfg.ActionEnabled(ActionLoginSuccess))
}

func TestErrorSentinelMapping(t *testing.T) {
	cases := []struct {
		errType  ErrorType
		sentinel error
	}{
		{ErrorTypeNotFound, ErrNotFound},
		{ErrorTypeInvalidContext, ErrInvalidContext},
		{ErrorTypeAlreadyFinalized, ErrAlreadyFinalized},
		{ErrorTypeConfiguration, ErrConfiguration},
		{ErrorTypeUnauthorized, ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(string(tc.errType), func(t *testing.T) {
			err := NewError(tc.errType, "boom")
			assert.ErrorIs(t, err, tc.sentinel)
			assert.NotErrorIs(t, err, errors.New("boom"))
		})
	}
}

func TestErrorWrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := WrapError(ErrorTypeStorage, cause, "append failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "append failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestErrorBuilders(t *testing.T) {
	err := NewError(ErrorTypeNotFound, "role %q not found", "organizer").
		WithSubject("organizer").
		WithUser("u1")

	assert.Equal(t, "organizer", err.Subject)
	assert.Equal(t, "u1", err.UserID)
	assert.Contains(t, err.Error(), `role "organizer" not found`)
}

func TestWrapErrorStillMatchesSentinel(t *testing.T) {
	cause := fmt.Errorf("signature invalid")
	err := WrapError(ErrorTypeUnauthorized, cause, "failed to parse token")

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, cause)
}
