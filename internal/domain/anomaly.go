package domain

import (
	"strconv"
	"strings"
	"time"
)

// AnomalyStatus is the review state of a finding
type AnomalyStatus string

const (
	AnomalyStatusNew       AnomalyStatus = "new"
	AnomalyStatusReviewed  AnomalyStatus = "reviewed"
	AnomalyStatusDismissed AnomalyStatus = "dismissed"
	AnomalyStatusEscalated AnomalyStatus = "escalated"
)

// ParseAnomalyStatus validates a raw status value.
func ParseAnomalyStatus(raw string) (AnomalyStatus, error) {
	switch s := AnomalyStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case AnomalyStatusNew, AnomalyStatusReviewed, AnomalyStatusDismissed, AnomalyStatusEscalated:
		return s, nil
	}
	return "", ErrInvalidStatus.WithDetail("%q (expected new, reviewed, dismissed or escalated)", raw)
}

// MarksReview reports whether moving to s stamps reviewed_at.
func (s AnomalyStatus) MarksReview() bool {
	return s != AnomalyStatusNew
}

// AnomalySeverity is the detector-assigned severity
type AnomalySeverity string

const (
	SeverityLow    AnomalySeverity = "low"
	SeverityMedium AnomalySeverity = "medium"
	SeverityHigh   AnomalySeverity = "high"
)

// ParseAnomalySeverity validates a raw severity value.
func ParseAnomalySeverity(raw string) (AnomalySeverity, error) {
	switch s := AnomalySeverity(strings.ToLower(strings.TrimSpace(raw))); s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return s, nil
	}
	return "", ErrInvalidArgument.WithDetail("severity %q", raw)
}

// AnomalyType tags which check produced a finding
type AnomalyType string

const (
	AnomalyUnusualLocation AnomalyType = "unusual_location"
	AnomalyUnusualTime     AnomalyType = "unusual_time"
	AnomalyUnusualAction   AnomalyType = "unusual_access_pattern"
)

// AnomalyFinding is a detected deviation from a user's baseline
type AnomalyFinding struct {
	ID               int64                  `json:"id"`
	UserID           int64                  `json:"userId"`
	Type             AnomalyType            `json:"anomalyType"`
	Severity         AnomalySeverity        `json:"severity"`
	Details          map[string]interface{} `json:"details"`
	DetectedAt       time.Time              `json:"detectedAt"`
	Status           AnomalyStatus          `json:"status"`
	ReviewedBy       *int64                 `json:"reviewedBy,omitempty"`
	ReviewedAt       *time.Time             `json:"reviewedAt,omitempty"`
	UserEmail        string                 `json:"userEmail,omitempty"`
	BreachIncidentID *int64                 `json:"breachIncidentId,omitempty"`
}

// NewAnomalyFinding creates an unsaved finding in the initial status
func NewAnomalyFinding(userID int64, t AnomalyType, severity AnomalySeverity, details map[string]interface{}, at time.Time) *AnomalyFinding {
	return &AnomalyFinding{
		UserID:     userID,
		Type:       t,
		Severity:   severity,
		Details:    details,
		DetectedAt: at,
		Status:     AnomalyStatusNew,
	}
}

// AnomalyView selects which side of the breach-incident link to list
type AnomalyView string

const (
	// ViewOpen lists findings with no linked breach incident
	ViewOpen AnomalyView = "open"
	// ViewNotified lists findings linked to a breach incident
	ViewNotified AnomalyView = "notified"
)

const (
	DefaultAnomalyLimit = 50
	MaxAnomalyLimit     = 500
)

// AnomalyFilter represents filters for listing anomalies
type AnomalyFilter struct {
	View      AnomalyView      `json:"view"`
	Status    *AnomalyStatus   `json:"status,omitempty"`
	Severity  *AnomalySeverity `json:"severity,omitempty"`
	UserID    *int64           `json:"userId,omitempty"`
	StartDate *time.Time       `json:"startDate,omitempty"`
	EndDate   *time.Time       `json:"endDate,omitempty"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
}

// Normalize applies default pagination and view.
func (f *AnomalyFilter) Normalize() {
	if f.View == "" {
		f.View = ViewOpen
	}
	if f.Limit <= 0 {
		f.Limit = DefaultAnomalyLimit
	}
	if f.Limit > MaxAnomalyLimit {
		f.Limit = MaxAnomalyLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// AnomalyPage is one page of findings plus the unpaged total
type AnomalyPage struct {
	Anomalies []*AnomalyFinding `json:"anomalies"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// AnomalyStatistics aggregates counts over all findings
type AnomalyStatistics struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"byStatus"`
	BySeverity map[string]int `json:"bySeverity"`
	ByType     map[string]int `json:"byType"`
	Last7Days  int            `json:"last7Days"`
}

// ParseID parses a positive integer identifier.
func ParseID(field, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidArgument.WithDetail("%s must be a positive integer, got %q", field, raw)
	}
	return id, nil
}

// LoginEvent is a live event inspected by the detector. Any field may be
// empty, in which case the corresponding check is skipped.
type LoginEvent struct {
	IPAddress string     `json:"ipAddress,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	EventType string     `json:"eventType,omitempty"`
}
