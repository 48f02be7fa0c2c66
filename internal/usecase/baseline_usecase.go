package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/logger"
	"github.com/clinicops/secobs/internal/metrics"
	"github.com/clinicops/secobs/internal/ports"
)

// BaselineSettings tunes baseline aggregation
type BaselineSettings struct {
	WindowDays int
	Location   *time.Location
}

// BaselineUseCase builds and serves behavioral baselines
type BaselineUseCase struct {
	resolver  *IdentityResolver
	users     ports.UserDirectory
	activity  ports.ActivityReader
	baselines ports.BaselineRepository
	geo       ports.GeoLocator
	settings  BaselineSettings
	log       logger.Logger
	now       func() time.Time
}

// NewBaselineUseCase creates a new baseline use case. geo may be nil.
func NewBaselineUseCase(
	resolver *IdentityResolver,
	users ports.UserDirectory,
	activity ports.ActivityReader,
	baselines ports.BaselineRepository,
	geo ports.GeoLocator,
	settings BaselineSettings,
	log logger.Logger,
) *BaselineUseCase {
	if settings.WindowDays <= 0 {
		settings.WindowDays = 30
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	return &BaselineUseCase{
		resolver:  resolver,
		users:     users,
		activity:  activity,
		baselines: baselines,
		geo:       geo,
		settings:  settings,
		log:       log.WithFields(map[string]interface{}{"component": "baseline"}),
		now:       time.Now,
	}
}

// Calculate recomputes one baseline type for a user and stores it
func (uc *BaselineUseCase) Calculate(ctx context.Context, ref domain.UserRef, baselineType domain.BaselineType) (*domain.BehaviorBaseline, error) {
	t, err := domain.ParseBaselineType(string(baselineType))
	if err != nil {
		return nil, err
	}

	userID, err := uc.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	return uc.calculateForUser(ctx, userID, t)
}

// CalculateAll recomputes every baseline type for a user
func (uc *BaselineUseCase) CalculateAll(ctx context.Context, ref domain.UserRef) ([]*domain.BehaviorBaseline, error) {
	userID, err := uc.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.BehaviorBaseline, 0, len(domain.AllBaselineTypes))
	for _, t := range domain.AllBaselineTypes {
		b, err := uc.calculateForUser(ctx, userID, t)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// GetBaselines returns the stored baselines for a user
func (uc *BaselineUseCase) GetBaselines(ctx context.Context, ref domain.UserRef) ([]*domain.BehaviorBaseline, error) {
	userID, err := uc.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	baselines, err := uc.baselines.FindByUser(ctx, userID)
	if err != nil {
		return nil, wrapPersistence("load baselines", err)
	}
	return baselines, nil
}

// RecalculateAll recomputes all baseline types for every active user.
// Per-(user, type) failures are collected in the summary; only a failure to
// enumerate users is returned as an error.
func (uc *BaselineUseCase) RecalculateAll(ctx context.Context) (*domain.RecalculationSummary, error) {
	summary := &domain.RecalculationSummary{
		RunID:     uuid.NewString(),
		StartedAt: uc.now().UTC(),
		Errors:    []domain.RecalculationError{},
	}
	runLog := uc.log.WithFields(map[string]interface{}{"run_id": summary.RunID})

	users, err := uc.users.ListActive(ctx)
	if err != nil {
		runLog.Error(ctx, "Baseline recalculation aborted: cannot list active users", err, nil)
		return nil, wrapPersistence("list active users", err)
	}
	summary.TotalUsers = len(users)
	runLog.Info(ctx, "Baseline recalculation started", map[string]interface{}{"users": len(users)})

	for _, u := range users {
		if err := ctx.Err(); err != nil {
			runLog.Warn(ctx, "Baseline recalculation cancelled", map[string]interface{}{
				"processed": summary.SuccessCount + summary.ErrorCount,
			})
			break
		}
		for _, t := range domain.AllBaselineTypes {
			if _, err := uc.calculateForUser(ctx, u.ID, t); err != nil {
				summary.ErrorCount++
				summary.Errors = append(summary.Errors, domain.RecalculationError{
					UserID:       u.ID,
					Email:        u.Email,
					BaselineType: t,
					Error:        err.Error(),
				})
				runLog.Error(ctx, "Baseline recalculation failed for user", err, map[string]interface{}{
					"user_id":       u.ID,
					"baseline_type": string(t),
				})
				continue
			}
			summary.SuccessCount++
		}
	}

	summary.FinishedAt = uc.now().UTC()
	duration := summary.FinishedAt.Sub(summary.StartedAt)
	metrics.BaselineRecalcDuration.Observe(duration.Seconds())
	logger.LogPerformance(ctx, runLog, "baseline_recalculation", duration, map[string]interface{}{
		"total_users":   summary.TotalUsers,
		"success_count": summary.SuccessCount,
		"error_count":   summary.ErrorCount,
	})

	return summary, nil
}

func (uc *BaselineUseCase) calculateForUser(ctx context.Context, userID int64, t domain.BaselineType) (*domain.BehaviorBaseline, error) {
	since := uc.now().UTC().AddDate(0, 0, -uc.settings.WindowDays)

	var (
		profile interface{}
		err     error
	)
	switch t {
	case domain.BaselineLocation:
		profile, err = uc.locationProfile(ctx, userID, since)
	case domain.BaselineTime:
		profile, err = uc.timeProfile(ctx, userID, since)
	case domain.BaselineAccessPattern:
		profile, err = uc.accessProfile(ctx, userID, since)
	default:
		err = domain.ErrInvalidBaselineType.WithDetail("%q", t)
	}
	if err != nil {
		metrics.RecordBaseline(string(t), err)
		return nil, err
	}

	data, err := json.Marshal(profile)
	if err != nil {
		metrics.RecordBaseline(string(t), err)
		return nil, fmt.Errorf("failed to encode %s baseline: %w", t, err)
	}

	stored, err := uc.baselines.Upsert(ctx, userID, t, data)
	metrics.RecordBaseline(string(t), err)
	if err != nil {
		return nil, wrapPersistence("store baseline", err)
	}
	return stored, nil
}

func (uc *BaselineUseCase) locationProfile(ctx context.Context, userID int64, since time.Time) (*domain.LocationProfile, error) {
	entries, err := uc.activity.LoginsByAddress(ctx, userID, since, domain.MaxTrackedLocations)
	if err != nil {
		return nil, wrapPersistence("aggregate logins by address", err)
	}

	profile := &domain.LocationProfile{
		Version:    domain.ProfileVersion,
		WindowDays: uc.settings.WindowDays,
		Locations:  make([]domain.LocationEntry, 0, len(entries)),
	}

	var places map[string]*domain.Place
	if uc.geo != nil && len(entries) > 0 {
		ips := make([]string, 0, len(entries))
		for _, e := range entries {
			ips = append(ips, e.IPAddress)
		}
		places = uc.geo.LookupBatch(ctx, ips)
	}

	for _, e := range entries {
		if p, ok := places[e.IPAddress]; ok && p != nil {
			e.Place = p
			e.Location = p.Label()
		}
		profile.TotalLogins += e.LoginCount
		profile.Locations = append(profile.Locations, e)
	}
	profile.UniqueLocations = len(profile.Locations)
	if profile.TotalLogins == 0 {
		profile.Message = fmt.Sprintf("No login history in the last %d days", uc.settings.WindowDays)
	}
	return profile, nil
}

func (uc *BaselineUseCase) timeProfile(ctx context.Context, userID int64, since time.Time) (*domain.TimeProfile, error) {
	dist, err := uc.activity.LoginsByHour(ctx, userID, since, uc.settings.Location)
	if err != nil {
		return nil, wrapPersistence("aggregate logins by hour", err)
	}
	p := domain.NewTimeProfile(dist, uc.settings.WindowDays, uc.settings.Location.String())
	return &p, nil
}

func (uc *BaselineUseCase) accessProfile(ctx context.Context, userID int64, since time.Time) (*domain.AccessPatternProfile, error) {
	counts, err := uc.activity.ActionCounts(ctx, userID, since)
	if err != nil {
		return nil, wrapPersistence("aggregate actions", err)
	}

	profile := &domain.AccessPatternProfile{
		Version:    domain.ProfileVersion,
		WindowDays: uc.settings.WindowDays,
		Actions:    counts,
	}
	if profile.Actions == nil {
		profile.Actions = []domain.ActionCount{}
	}
	for _, c := range profile.Actions {
		profile.TotalActions += c.Count
	}
	profile.UniqueActions = len(profile.Actions)
	return profile, nil
}
