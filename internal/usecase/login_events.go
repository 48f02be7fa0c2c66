package usecase

import (
	"context"
	"time"

	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/logger"
	"github.com/clinicops/secobs/internal/ports"
)

// LoginEventRequest is an authentication outcome reported by the auth service
type LoginEventRequest struct {
	// User identifies the account; for failed logins it may not resolve.
	User          string                 `json:"user"`
	Role          string                 `json:"role,omitempty"`
	Success       bool                   `json:"success"`
	IPAddress     string                 `json:"ipAddress,omitempty"`
	UserAgent     string                 `json:"userAgent,omitempty"`
	Timestamp     *time.Time             `json:"timestamp,omitempty"`
	FailureReason string                 `json:"failureReason,omitempty"`
	RequestBody   map[string]interface{} `json:"requestBody,omitempty"`
}

// LoginEventResult reports what was recorded for one login event
type LoginEventResult struct {
	UserID    *int64                   `json:"userId,omitempty"`
	Anomalies []*domain.AnomalyFinding `json:"anomalies"`
}

// LoginEventUseCase records authentication outcomes and screens successful
// logins for anomalies
type LoginEventUseCase struct {
	audit    *AuditChain
	resolver *IdentityResolver
	detector ports.AnomalyDetector
	log      logger.Logger
}

// NewLoginEventUseCase creates a new login event use case
func NewLoginEventUseCase(audit *AuditChain, resolver *IdentityResolver, detector ports.AnomalyDetector, log logger.Logger) *LoginEventUseCase {
	return &LoginEventUseCase{
		audit:    audit,
		resolver: resolver,
		detector: detector,
		log:      log.WithFields(map[string]interface{}{"component": "login_events"}),
	}
}

// Record writes the authentication audit record and, for successful logins,
// runs anomaly detection. Only malformed input is returned as an error.
func (uc *LoginEventUseCase) Record(ctx context.Context, req LoginEventRequest) (*LoginEventResult, error) {
	ref, err := domain.ParseUserRef(req.User)
	if err != nil {
		return nil, err
	}

	result := &LoginEventResult{Anomalies: []*domain.AnomalyFinding{}}

	actor := domain.Actor{}
	if req.Role != "" {
		role := req.Role
		actor.Role = &role
	}
	if ref.IsEmail() {
		email := ref.Email()
		actor.Email = &email
	}

	userID, resolveErr := uc.resolver.Resolve(ctx, ref)
	if resolveErr == nil {
		actor.UserID = &userID
		result.UserID = &userID
	} else if domain.KindOf(resolveErr) != domain.KindNotFound {
		uc.log.Warn(ctx, "Could not resolve login user", map[string]interface{}{
			"user":  ref.String(),
			"error": resolveErr.Error(),
		})
	}

	outcome := AuthOutcome{
		Actor:       actor,
		Origin:      domain.Origin{IPAddress: req.IPAddress, UserAgent: req.UserAgent},
		Success:     req.Success,
		RequestBody: req.RequestBody,
	}
	if !req.Success {
		outcome.ErrorCode = "AUTH_FAILED"
		outcome.ErrorMessage = req.FailureReason
	}
	uc.audit.LogAuthentication(ctx, outcome)

	if !req.Success || result.UserID == nil || uc.detector == nil {
		return result, nil
	}

	ts := req.Timestamp
	if ts == nil {
		now := time.Now().UTC()
		ts = &now
	}
	findings := uc.detector.Detect(ctx, userID, domain.LoginEvent{
		IPAddress: req.IPAddress,
		Timestamp: ts,
		EventType: domain.ActionAuthLogin,
	})
	if findings != nil {
		result.Anomalies = findings
	}
	return result, nil
}
