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

// DetectorSettings tunes the anomaly checks
type DetectorSettings struct {
	// RareActionRatio flags an already-seen action as low severity when its
	// share of the user's actions is below this ratio. Zero disables it.
	RareActionRatio float64
	// Location is used for hour-of-day when a time profile carries no timezone
	Location *time.Location
}

// Severity thresholds for the time check, in hours of circular distance.
const (
	timeLowMaxDistance    = 4
	timeMediumMaxDistance = 8
	// Known-location count at which a new address is treated as high severity
	establishedLocationCount = 3
)

// Detector compares live events against stored baselines
type Detector struct {
	baselines ports.BaselineRepository
	anomalies ports.AnomalyRepository
	settings  DetectorSettings
	log       logger.Logger
	now       func() time.Time
}

// NewDetector creates a new anomaly detector
func NewDetector(baselines ports.BaselineRepository, anomalies ports.AnomalyRepository, settings DetectorSettings, log logger.Logger) *Detector {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	return &Detector{
		baselines: baselines,
		anomalies: anomalies,
		settings:  settings,
		log:       log.WithFields(map[string]interface{}{"component": "anomaly_detector"}),
		now:       time.Now,
	}
}

// Detect runs every applicable check for event and persists the findings.
// It returns nil when the user has no baselines or when anything fails;
// detection never propagates errors to the observed action.
func (d *Detector) Detect(ctx context.Context, userID int64, event domain.LoginEvent) []*domain.AnomalyFinding {
	fields := map[string]interface{}{"user_id": userID}

	baselines, err := d.baselines.FindByUser(ctx, userID)
	if err != nil {
		d.log.Error(ctx, "Anomaly detection skipped: cannot load baselines", err, fields)
		return nil
	}
	if len(baselines) == 0 {
		return nil
	}

	detectedAt := d.now().UTC()
	findings := make([]*domain.AnomalyFinding, 0, 3)

	for _, b := range baselines {
		var f *domain.AnomalyFinding
		var err error
		switch b.Type {
		case domain.BaselineLocation:
			f, err = d.checkLocation(userID, b, event, detectedAt)
		case domain.BaselineTime:
			f, err = d.checkTime(userID, b, event, detectedAt)
		case domain.BaselineAccessPattern:
			f, err = d.checkAccess(userID, b, event, detectedAt)
		}
		if err != nil {
			d.log.Warn(ctx, "Skipping unreadable baseline", map[string]interface{}{
				"user_id":       userID,
				"baseline_type": string(b.Type),
				"error":         err.Error(),
			})
			continue
		}
		if f != nil {
			findings = append(findings, f)
		}
	}

	if len(findings) == 0 {
		return findings
	}

	if err := d.anomalies.CreateBatch(ctx, findings); err != nil {
		d.log.Error(ctx, "Failed to persist anomaly findings", err, map[string]interface{}{
			"user_id":  userID,
			"findings": len(findings),
		})
		return nil
	}

	for _, f := range findings {
		metrics.RecordAnomaly(string(f.Type), string(f.Severity))
		logger.LogSecurityEvent(ctx, d.log, string(f.Type), string(f.Severity), map[string]interface{}{
			"user_id":    userID,
			"anomaly_id": f.ID,
		})
	}
	return findings
}

func (d *Detector) checkLocation(userID int64, b *domain.BehaviorBaseline, event domain.LoginEvent, at time.Time) (*domain.AnomalyFinding, error) {
	if event.IPAddress == "" {
		return nil, nil
	}
	var p domain.LocationProfile
	if err := domain.DecodeProfile(b, &p); err != nil {
		return nil, err
	}
	if len(p.Locations) == 0 || p.KnowsAddress(event.IPAddress) {
		return nil, nil
	}

	severity := domain.SeverityMedium
	if len(p.Locations) >= establishedLocationCount {
		severity = domain.SeverityHigh
	}
	return domain.NewAnomalyFinding(userID, domain.AnomalyUnusualLocation, severity, map[string]interface{}{
		"observed": event.IPAddress,
		"expected": p.Addresses(),
		"message":  fmt.Sprintf("Login from unrecognized address %s", event.IPAddress),
	}, at), nil
}

func (d *Detector) checkTime(userID int64, b *domain.BehaviorBaseline, event domain.LoginEvent, at time.Time) (*domain.AnomalyFinding, error) {
	if event.Timestamp == nil {
		return nil, nil
	}
	var p domain.TimeProfile
	if err := domain.DecodeProfile(b, &p); err != nil {
		return nil, err
	}
	if len(p.CommonHours) == 0 {
		return nil, nil
	}

	loc := d.settings.Location
	if p.Timezone != "" {
		if l, err := time.LoadLocation(p.Timezone); err == nil {
			loc = l
		}
	}
	hour := event.Timestamp.In(loc).Hour()
	if p.IsCommonHour(hour) {
		return nil, nil
	}

	distance := p.DistanceToCommon(hour)
	severity := domain.SeverityHigh
	switch {
	case distance <= timeLowMaxDistance:
		severity = domain.SeverityLow
	case distance <= timeMediumMaxDistance:
		severity = domain.SeverityMedium
	}

	return domain.NewAnomalyFinding(userID, domain.AnomalyUnusualTime, severity, map[string]interface{}{
		"observed":      hour,
		"expected":      p.CommonHours,
		"distanceHours": distance,
		"message":       fmt.Sprintf("Login at hour %d is outside common hours", hour),
	}, at), nil
}

func (d *Detector) checkAccess(userID int64, b *domain.BehaviorBaseline, event domain.LoginEvent, at time.Time) (*domain.AnomalyFinding, error) {
	if event.EventType == "" {
		return nil, nil
	}
	var p domain.AccessPatternProfile
	if err := domain.DecodeProfile(b, &p); err != nil {
		return nil, err
	}
	if p.TotalActions == 0 {
		return nil, nil
	}

	count := p.CountFor(event.EventType)
	var severity domain.AnomalySeverity
	var message string
	switch {
	case count == 0:
		severity = domain.SeverityMedium
		if isSensitiveAction(event.EventType) {
			severity = domain.SeverityHigh
		}
		message = fmt.Sprintf("Action %s has never been performed by this user", event.EventType)
	case float64(count)/float64(p.TotalActions) < d.settings.RareActionRatio:
		severity = domain.SeverityLow
		message = fmt.Sprintf("Action %s is rare for this user", event.EventType)
	default:
		return nil, nil
	}

	return domain.NewAnomalyFinding(userID, domain.AnomalyUnusualAction, severity, map[string]interface{}{
		"observed":      event.EventType,
		"expected":      p.ActionNames(),
		"observedCount": count,
		"totalActions":  p.TotalActions,
		"message":       message,
	}, at), nil
}

func isSensitiveAction(action string) bool {
	return strings.HasPrefix(action, "privilege.") || strings.HasPrefix(action, domain.ActionDataExport)
}
