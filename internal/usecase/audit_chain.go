package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/logger"
	"github.com/clinicops/secobs/internal/metrics"
	"github.com/clinicops/secobs/internal/ports"
)

// AuditChain writes and verifies the tamper-evident audit log
type AuditChain struct {
	repo  ports.AuditRepository
	guard ports.AuditGuard
	log   logger.Logger
}

// NewAuditChain creates a new audit chain use case. guard may be nil when
// the backing store has no immutability support.
func NewAuditChain(repo ports.AuditRepository, guard ports.AuditGuard, log logger.Logger) *AuditChain {
	return &AuditChain{
		repo:  repo,
		guard: guard,
		log:   log.WithFields(map[string]interface{}{"component": "audit_chain"}),
	}
}

// Write appends event to the chain. It never fails the caller: storage
// errors are logged and dropped so auditing cannot block the audited action.
func (c *AuditChain) Write(ctx context.Context, event domain.AuditEvent) {
	if strings.TrimSpace(event.Action) == "" {
		c.log.Warn(ctx, "Dropping audit event without action", nil)
		return
	}

	record := event.ToRecord()
	record.Metadata = domain.StripSensitive(record.Metadata)

	err := c.repo.Append(ctx, record)
	metrics.RecordAuditWrite(record.Action, err)
	if err != nil {
		c.log.Error(ctx, "Failed to write audit log", err, map[string]interface{}{
			"action": record.Action,
			"status": string(record.Status),
		})
		return
	}

	c.log.Debug(ctx, "Audit log written", map[string]interface{}{
		"audit_id": record.ID,
		"action":   record.Action,
	})
}

// AuthOutcome describes an authentication attempt
type AuthOutcome struct {
	// Action defaults to auth.login
	Action       string
	Actor        domain.Actor
	Origin       domain.Origin
	Success      bool
	ErrorCode    string
	ErrorMessage string
	// RequestBody is the raw request payload; password-like fields are removed
	// before it is embedded.
	RequestBody map[string]interface{}
}

// LogAuthentication records an authentication outcome
func (c *AuditChain) LogAuthentication(ctx context.Context, outcome AuthOutcome) {
	action := outcome.Action
	if action == "" {
		action = domain.ActionAuthLogin
	}

	status := domain.OutcomeSuccess
	if !outcome.Success {
		status = domain.OutcomeFailure
	}

	var metadata map[string]interface{}
	if body := domain.StripSensitive(outcome.RequestBody); len(body) > 0 {
		metadata = map[string]interface{}{"request": body}
	}

	c.Write(ctx, domain.AuditEvent{
		Actor:        outcome.Actor,
		Action:       action,
		Resource:     domain.Resource{Type: "session"},
		Origin:       outcome.Origin,
		Status:       status,
		ErrorCode:    outcome.ErrorCode,
		ErrorMessage: outcome.ErrorMessage,
		Metadata:     metadata,
	})
}

// LogPHIAccess records access to protected health information. operation is
// the verb suffix (view, update, print ...).
func (c *AuditChain) LogPHIAccess(ctx context.Context, actor domain.Actor, origin domain.Origin, operation string, resource domain.Resource, metadata map[string]interface{}) {
	if operation == "" {
		operation = "view"
	}
	c.Write(ctx, domain.AuditEvent{
		Actor:    actor,
		Action:   domain.ActionPHIPrefix + operation,
		Resource: resource,
		Origin:   origin,
		Metadata: metadata,
	})
}

// LogPrivilegeChange records a role change of targetUserID
func (c *AuditChain) LogPrivilegeChange(ctx context.Context, actor domain.Actor, origin domain.Origin, targetUserID int64, oldRole, newRole string) {
	c.Write(ctx, domain.AuditEvent{
		Actor:    actor,
		Action:   domain.ActionPrivilegeChange,
		Resource: domain.Resource{Type: "user", ID: fmt.Sprintf("%d", targetUserID)},
		Origin:   origin,
		Metadata: map[string]interface{}{
			"oldRole": oldRole,
			"newRole": newRole,
		},
	})
}

// LogAccessDenied records a rejected request
func (c *AuditChain) LogAccessDenied(ctx context.Context, actor domain.Actor, origin domain.Origin, resource domain.Resource, reason string) {
	c.Write(ctx, domain.AuditEvent{
		Actor:        actor,
		Action:       domain.ActionAccessDenied,
		Resource:     resource,
		Origin:       origin,
		Status:       domain.OutcomeFailure,
		ErrorCode:    "ACCESS_DENIED",
		ErrorMessage: reason,
	})
}

// LogDataExport records a bulk export
func (c *AuditChain) LogDataExport(ctx context.Context, actor domain.Actor, origin domain.Origin, resourceType string, recordCount int, format string) {
	c.Write(ctx, domain.AuditEvent{
		Actor:    actor,
		Action:   domain.ActionDataExport,
		Resource: domain.Resource{Type: resourceType},
		Origin:   origin,
		Metadata: map[string]interface{}{
			"recordCount": recordCount,
			"format":      format,
		},
	})
}

// Verify re-derives the whole chain from storage and reports every broken link
func (c *AuditChain) Verify(ctx context.Context) (*domain.ChainVerification, error) {
	started := time.Now()
	verifier := domain.NewChainVerifier()

	err := c.repo.Iterate(ctx, func(r *domain.AuditRecord) error {
		verifier.Add(r)
		return nil
	})
	if err != nil {
		metrics.RecordVerification(0, err)
		c.log.Error(ctx, "Audit chain verification failed", err, nil)
		return nil, domain.ErrPersistence.WithDetail("read audit chain").WithCause(err)
	}

	result := verifier.Result()
	metrics.RecordVerification(len(result.TamperedLogs), nil)
	logger.LogPerformance(ctx, c.log, "audit_chain_verify", time.Since(started), map[string]interface{}{
		"total_logs": result.TotalLogs,
	})

	if !result.IsValid {
		logger.LogSecurityEvent(ctx, c.log, "audit_chain_tampered", "high", map[string]interface{}{
			"tampered_count": len(result.TamperedLogs),
			"first_log_id":   result.TamperedLogs[0].LogID,
		})
	}
	if len(result.LegacyRecords) > 0 {
		c.log.Warn(ctx, "Audit chain starts with a legacy record written before chaining", map[string]interface{}{
			"log_id": result.LegacyRecords[0].LogID,
		})
	}

	return &result, nil
}

// InstallImmutability installs the storage guard and returns any failure
func (c *AuditChain) InstallImmutability(ctx context.Context) error {
	if c.guard == nil {
		return fmt.Errorf("audit immutability guard is not supported by this store")
	}
	return c.guard.Install(ctx)
}

// EnsureImmutability installs the guard at startup; failures are logged, never fatal
func (c *AuditChain) EnsureImmutability(ctx context.Context) {
	if err := c.InstallImmutability(ctx); err != nil {
		c.log.Error(ctx, "Failed to enable audit log immutability", err, nil)
		return
	}
	c.log.Info(ctx, "Audit log immutability enabled", nil)
}

// ImmutabilityStatus reports the guard state, degrading to UNKNOWN on error
func (c *AuditChain) ImmutabilityStatus(ctx context.Context) domain.ImmutabilityStatus {
	if c.guard == nil {
		return domain.NewImmutabilityStatus(domain.ProtectionUnknown, domain.ProtectionUnknown)
	}
	del, upd, err := c.guard.States(ctx)
	if err != nil {
		c.log.Error(ctx, "Failed to inspect audit immutability guards", err, nil)
		return domain.NewImmutabilityStatus(domain.ProtectionUnknown, domain.ProtectionUnknown)
	}
	return domain.NewImmutabilityStatus(del, upd)
}
