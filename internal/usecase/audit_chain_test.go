package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/logger"
)

func newTestChain(repo *memoryAuditRepo, guard *MockAuditGuard) *AuditChain {
	if guard == nil {
		return NewAuditChain(repo, nil, logger.NewNop())
	}
	return NewAuditChain(repo, guard, logger.NewNop())
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(s string) *string  { return &s }

func TestAuditChain_WriteAndVerify_Untouched(t *testing.T) {
	for _, n := range []int{1, 2, 5, 25} {
		t.Run(fmt.Sprintf("%d records", n), func(t *testing.T) {
			repo := &memoryAuditRepo{}
			chain := newTestChain(repo, nil)
			ctx := context.Background()

			for i := 0; i < n; i++ {
				chain.LogPHIAccess(ctx,
					domain.Actor{UserID: int64Ptr(int64(i + 1)), Role: strPtr("nurse")},
					domain.Origin{IPAddress: "10.0.0.1", Method: "GET", Path: "/patients/1"},
					"view",
					domain.Resource{Type: "patient", ID: fmt.Sprintf("%d", i)},
					map[string]interface{}{"fields": []string{"name", "dob"}, "n": i},
				)
			}

			res, err := chain.Verify(ctx)
			require.NoError(t, err)
			assert.True(t, res.IsValid)
			assert.Equal(t, n, res.TotalLogs)
			assert.Equal(t, res.TotalLogs, res.VerifiedLogs)
			assert.Empty(t, res.TamperedLogs)
		})
	}
}

func TestAuditChain_FirstRecordHasEmptyPreviousHash(t *testing.T) {
	repo := &memoryAuditRepo{}
	chain := newTestChain(repo, nil)

	chain.Write(context.Background(), domain.AuditEvent{Action: domain.ActionAuthLogout})

	rec := repo.last()
	require.NotNil(t, rec)
	require.NotNil(t, rec.PreviousHash)
	assert.Equal(t, "", *rec.PreviousHash)
	assert.Equal(t, domain.OutcomeSuccess, rec.Status)
}

func TestAuditChain_MutationDetectedAtNextRecord(t *testing.T) {
	repo := &memoryAuditRepo{}
	chain := newTestChain(repo, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		chain.LogDataExport(ctx, domain.Actor{UserID: int64Ptr(3)}, domain.Origin{}, "patients", 10*i, "csv")
	}

	// Simulate a bypass of the immutability guard on record 3.
	repo.records[2].Action = "phi.view"

	res, err := chain.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	require.Len(t, res.TamperedLogs, 1)
	assert.Equal(t, int64(4), res.TamperedLogs[0].LogID)
	assert.Equal(t, domain.IssueChainBroken, res.TamperedLogs[0].Issue)
	assert.Equal(t, 4, res.VerifiedLogs)
}

func TestAuditChain_ReplacedPreviousHash(t *testing.T) {
	repo := &memoryAuditRepo{}
	chain := newTestChain(repo, nil)
	ctx := context.Background()

	chain.Write(ctx, domain.AuditEvent{Action: "generic.a"})
	chain.Write(ctx, domain.AuditEvent{Action: "generic.b"})

	res, err := chain.Verify(ctx)
	require.NoError(t, err)
	require.True(t, res.IsValid)

	repo.records[1].PreviousHash = strPtr("deadbeef")

	res, err = chain.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	require.Len(t, res.TamperedLogs, 1)
	assert.Equal(t, int64(2), res.TamperedLogs[0].LogID)
	assert.Equal(t, "Hash chain broken", res.TamperedLogs[0].Issue)
	assert.Equal(t, "deadbeef", res.TamperedLogs[0].StoredHash)
}

func TestAuditChain_EmptyChainIsValid(t *testing.T) {
	chain := newTestChain(&memoryAuditRepo{}, nil)

	res, err := chain.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Equal(t, 0, res.TotalLogs)
	assert.Contains(t, res.Message, "No audit logs")
}

func TestAuditChain_WriteSwallowsStorageErrors(t *testing.T) {
	repo := &memoryAuditRepo{failErr: errors.New("connection refused")}
	chain := newTestChain(repo, nil)

	assert.NotPanics(t, func() {
		chain.Write(context.Background(), domain.AuditEvent{Action: domain.ActionAuthLogin})
	})
	assert.Nil(t, repo.last())
}

func TestAuditChain_WriteDropsEventWithoutAction(t *testing.T) {
	repo := &memoryAuditRepo{}
	chain := newTestChain(repo, nil)

	chain.Write(context.Background(), domain.AuditEvent{})
	assert.Nil(t, repo.last())
}

func TestAuditChain_LogAuthenticationStripsPasswords(t *testing.T) {
	repo := &memoryAuditRepo{}
	chain := newTestChain(repo, nil)

	chain.LogAuthentication(context.Background(), AuthOutcome{
		Actor:        domain.Actor{Email: strPtr("nurse@clinic.test")},
		Origin:       domain.Origin{IPAddress: "203.0.113.9"},
		Success:      false,
		ErrorCode:    "AUTH_FAILED",
		ErrorMessage: "bad credentials",
		RequestBody: map[string]interface{}{
			"email":    "nurse@clinic.test",
			"password": "hunter2",
			"mfa":      map[string]interface{}{"otp": "123456", "recoveryToken": "abc"},
		},
	})

	rec := repo.last()
	require.NotNil(t, rec)
	assert.Equal(t, domain.ActionAuthLogin, rec.Action)
	assert.Equal(t, domain.OutcomeFailure, rec.Status)

	body, ok := rec.Metadata["request"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "nurse@clinic.test", body["email"])
	assert.NotContains(t, body, "password")
	mfa := body["mfa"].(map[string]interface{})
	assert.Contains(t, mfa, "otp")
	assert.NotContains(t, mfa, "recoveryToken")
}

func TestAuditChain_ConvenienceVariants(t *testing.T) {
	repo := &memoryAuditRepo{}
	chain := newTestChain(repo, nil)
	ctx := context.Background()
	admin := domain.Actor{UserID: int64Ptr(1), Role: strPtr("admin")}

	chain.LogPrivilegeChange(ctx, admin, domain.Origin{}, 42, "nurse", "admin")
	rec := repo.last()
	assert.Equal(t, domain.ActionPrivilegeChange, rec.Action)
	assert.Equal(t, "42", *rec.ResourceID)
	assert.Equal(t, "admin", rec.Metadata["newRole"])

	chain.LogAccessDenied(ctx, domain.Actor{}, domain.Origin{Path: "/admin"}, domain.Resource{Type: "route"}, "missing role")
	rec = repo.last()
	assert.Equal(t, domain.ActionAccessDenied, rec.Action)
	assert.Equal(t, domain.OutcomeFailure, rec.Status)
	assert.Equal(t, "missing role", *rec.ErrorMessage)
	assert.Nil(t, rec.UserID)

	chain.LogPHIAccess(ctx, admin, domain.Origin{}, "", domain.Resource{Type: "patient", ID: "9"}, nil)
	assert.Equal(t, domain.ActionPHIView, repo.last().Action)

	res, err := chain.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Equal(t, 3, res.VerifiedLogs)
}

func TestAuditChain_ConcurrentWritesAreAllRecorded(t *testing.T) {
	repo := &memoryAuditRepo{}
	chain := newTestChain(repo, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chain.Write(ctx, domain.AuditEvent{Action: "generic.write", Metadata: map[string]interface{}{"i": i}})
		}(i)
	}
	wg.Wait()

	res, err := chain.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Equal(t, 20, res.TotalLogs)
}

func TestAuditChain_ImmutabilityStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("fully protected", func(t *testing.T) {
		guard := new(MockAuditGuard)
		guard.On("States", ctx).Return(domain.ProtectionActive, domain.ProtectionActive, nil)

		st := newTestChain(&memoryAuditRepo{}, guard).ImmutabilityStatus(ctx)
		assert.True(t, st.IsFullyProtected)
		guard.AssertExpectations(t)
	})

	t.Run("update guard missing", func(t *testing.T) {
		guard := new(MockAuditGuard)
		guard.On("States", ctx).Return(domain.ProtectionActive, domain.ProtectionMissing, nil)

		st := newTestChain(&memoryAuditRepo{}, guard).ImmutabilityStatus(ctx)
		assert.False(t, st.IsFullyProtected)
		assert.Equal(t, domain.ProtectionMissing, st.UpdateProtection)
	})

	t.Run("errors downgrade to unknown", func(t *testing.T) {
		guard := new(MockAuditGuard)
		guard.On("States", ctx).Return(domain.ProtectionActive, domain.ProtectionActive, errors.New("permission denied"))

		st := newTestChain(&memoryAuditRepo{}, guard).ImmutabilityStatus(ctx)
		assert.Equal(t, domain.ProtectionUnknown, st.DeleteProtection)
		assert.Equal(t, domain.ProtectionUnknown, st.UpdateProtection)
		assert.False(t, st.IsFullyProtected)
	})
}

func TestAuditChain_EnsureImmutabilityNeverFails(t *testing.T) {
	ctx := context.Background()
	guard := new(MockAuditGuard)
	guard.On("Install", ctx).Return(errors.New("must be owner of table audit_logs"))

	chain := newTestChain(&memoryAuditRepo{}, guard)
	assert.NotPanics(t, func() { chain.EnsureImmutability(ctx) })
	assert.Error(t, chain.InstallImmutability(ctx))
	guard.AssertNumberOfCalls(t, "Install", 2)
}
