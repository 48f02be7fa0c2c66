package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/logger"
)

func newTestDetector(baselines *memoryBaselineRepo, anomalies *MockAnomalyRepository) *Detector {
	return NewDetector(baselines, anomalies, DetectorSettings{RareActionRatio: 0.05, Location: time.UTC}, logger.NewNop())
}

func fixedClock() func() time.Time {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func at(hour int) *time.Time {
	ts := time.Date(2024, 6, 1, hour, 15, 0, 0, time.UTC)
	return &ts
}

func TestDetector_TimeAnomalyScenario(t *testing.T) {
	ctx := context.Background()
	baselines := newMemoryBaselineRepo(fixedClock())
	baselines.put(7, domain.BaselineTime, domain.TimeProfile{
		Version:     domain.ProfileVersion,
		WindowDays:  30,
		Timezone:    "UTC",
		CommonHours: []int{9, 10, 14},
		TotalLogins: 40,
	})

	anomalies := new(MockAnomalyRepository)
	anomalies.On("CreateBatch", ctx, mock.AnythingOfType("[]*domain.AnomalyFinding")).Return(nil)

	findings := newTestDetector(baselines, anomalies).Detect(ctx, 7, domain.LoginEvent{
		IPAddress: "198.51.100.4",
		Timestamp: at(3),
		EventType: domain.ActionAuthLogin,
	})

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, domain.AnomalyUnusualTime, f.Type)
	assert.Equal(t, int64(7), f.UserID)
	assert.Equal(t, domain.AnomalyStatusNew, f.Status)
	assert.Equal(t, 3, f.Details["observed"])
	assert.Equal(t, []int{9, 10, 14}, f.Details["expected"])
	assert.Equal(t, 6, f.Details["distanceHours"])
	assert.Equal(t, domain.SeverityMedium, f.Severity)
	anomalies.AssertExpectations(t)
}

func TestDetector_NoBaselinesNeverFlags(t *testing.T) {
	ctx := context.Background()
	anomalies := new(MockAnomalyRepository)

	events := []domain.LoginEvent{
		{},
		{IPAddress: "1.2.3.4"},
		{IPAddress: "1.2.3.4", Timestamp: at(3), EventType: "privilege.change"},
	}
	d := newTestDetector(newMemoryBaselineRepo(fixedClock()), anomalies)
	for _, ev := range events {
		assert.Nil(t, d.Detect(ctx, 99, ev))
	}
	anomalies.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
}

func TestDetector_EmptyProfilesNeverFlag(t *testing.T) {
	ctx := context.Background()
	baselines := newMemoryBaselineRepo(fixedClock())
	baselines.put(4, domain.BaselineLocation, domain.LocationProfile{
		Version:    domain.ProfileVersion,
		WindowDays: 30,
		Locations:  []domain.LocationEntry{},
		Message:    "no login history",
	})
	baselines.put(4, domain.BaselineAccessPattern, domain.AccessPatternProfile{
		Version:    domain.ProfileVersion,
		WindowDays: 30,
		Actions:    []domain.ActionCount{},
	})
	anomalies := new(MockAnomalyRepository)

	findings := newTestDetector(baselines, anomalies).Detect(ctx, 4, domain.LoginEvent{
		IPAddress: "203.0.113.9",
		EventType: "privilege.change",
	})

	assert.Empty(t, findings)
	anomalies.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
}

func TestDetector_TimeSeverityByDistance(t *testing.T) {
	tests := []struct {
		hour     int
		want     domain.AnomalySeverity
		distance int
	}{
		{hour: 12, want: domain.SeverityLow, distance: 2},
		{hour: 6, want: domain.SeverityLow, distance: 3},
		{hour: 18, want: domain.SeverityLow, distance: 4},
		{hour: 22, want: domain.SeverityMedium, distance: 8},
		{hour: 2, want: domain.SeverityMedium, distance: 7},
	}

	for _, tt := range tests {
		ctx := context.Background()
		baselines := newMemoryBaselineRepo(fixedClock())
		baselines.put(1, domain.BaselineTime, domain.NewTimeProfile([]domain.HourCount{
			{Hour: 9, Count: 5}, {Hour: 10, Count: 4}, {Hour: 14, Count: 3},
		}, 30, "UTC"))
		anomalies := new(MockAnomalyRepository)
		anomalies.On("CreateBatch", ctx, mock.Anything).Return(nil)

		findings := newTestDetector(baselines, anomalies).Detect(ctx, 1, domain.LoginEvent{Timestamp: at(tt.hour)})
		require.Len(t, findings, 1, "hour %d", tt.hour)
		assert.Equal(t, tt.want, findings[0].Severity, "hour %d", tt.hour)
		assert.Equal(t, tt.distance, findings[0].Details["distanceHours"], "hour %d", tt.hour)
	}
}

func TestDetector_HighSeverityFarFromCommonHours(t *testing.T) {
	ctx := context.Background()
	baselines := newMemoryBaselineRepo(fixedClock())
	baselines.put(1, domain.BaselineTime, domain.NewTimeProfile([]domain.HourCount{{Hour: 12, Count: 9}}, 30, "UTC"))
	anomalies := new(MockAnomalyRepository)
	anomalies.On("CreateBatch", ctx, mock.Anything).Return(nil)

	findings := newTestDetector(baselines, anomalies).Detect(ctx, 1, domain.LoginEvent{Timestamp: at(0)})
	require.Len(t, findings, 1)
	assert.Equal(t, domain.SeverityHigh, findings[0].Severity)
}

func TestDetector_CommonHourProducesNothing(t *testing.T) {
	ctx := context.Background()
	baselines := newMemoryBaselineRepo(fixedClock())
	baselines.put(1, domain.BaselineTime, domain.NewTimeProfile([]domain.HourCount{{Hour: 9, Count: 9}}, 30, "UTC"))
	anomalies := new(MockAnomalyRepository)

	findings := newTestDetector(baselines, anomalies).Detect(ctx, 1, domain.LoginEvent{Timestamp: at(9)})
	assert.NotNil(t, findings)
	assert.Empty(t, findings)
	anomalies.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
}

func TestDetector_LocationCheck(t *testing.T) {
	ctx := context.Background()

	profile := func(ips ...string) domain.LocationProfile {
		p := domain.LocationProfile{Version: domain.ProfileVersion, WindowDays: 30}
		for _, ip := range ips {
			p.Locations = append(p.Locations, domain.LocationEntry{IPAddress: ip, LoginCount: 3})
			p.TotalLogins += 3
		}
		return p
	}

	t.Run("known address", func(t *testing.T) {
		baselines := newMemoryBaselineRepo(fixedClock())
		baselines.put(1, domain.BaselineLocation, profile("10.0.0.1"))
		findings := newTestDetector(baselines, new(MockAnomalyRepository)).Detect(ctx, 1, domain.LoginEvent{IPAddress: "10.0.0.1"})
		assert.Empty(t, findings)
	})

	t.Run("new address with few known locations", func(t *testing.T) {
		baselines := newMemoryBaselineRepo(fixedClock())
		baselines.put(1, domain.BaselineLocation, profile("10.0.0.1"))
		anomalies := new(MockAnomalyRepository)
		anomalies.On("CreateBatch", ctx, mock.Anything).Return(nil)

		findings := newTestDetector(baselines, anomalies).Detect(ctx, 1, domain.LoginEvent{IPAddress: "203.0.113.50"})
		require.Len(t, findings, 1)
		assert.Equal(t, domain.AnomalyUnusualLocation, findings[0].Type)
		assert.Equal(t, domain.SeverityMedium, findings[0].Severity)
		assert.Equal(t, "203.0.113.50", findings[0].Details["observed"])
		assert.Equal(t, []string{"10.0.0.1"}, findings[0].Details["expected"])
	})

	t.Run("new address with established pattern", func(t *testing.T) {
		baselines := newMemoryBaselineRepo(fixedClock())
		baselines.put(1, domain.BaselineLocation, profile("10.0.0.1", "10.0.0.2", "10.0.0.3"))
		anomalies := new(MockAnomalyRepository)
		anomalies.On("CreateBatch", ctx, mock.Anything).Return(nil)

		findings := newTestDetector(baselines, anomalies).Detect(ctx, 1, domain.LoginEvent{IPAddress: "203.0.113.50"})
		require.Len(t, findings, 1)
		assert.Equal(t, domain.SeverityHigh, findings[0].Severity)
	})

	t.Run("empty location baseline is skipped", func(t *testing.T) {
		baselines := newMemoryBaselineRepo(fixedClock())
		baselines.put(1, domain.BaselineLocation, profile())
		findings := newTestDetector(baselines, new(MockAnomalyRepository)).Detect(ctx, 1, domain.LoginEvent{IPAddress: "203.0.113.50"})
		assert.Empty(t, findings)
	})
}

func TestDetector_AccessPatternCheck(t *testing.T) {
	ctx := context.Background()
	profile := domain.AccessPatternProfile{
		Version:    domain.ProfileVersion,
		WindowDays: 30,
		Actions: []domain.ActionCount{
			{Action: "phi.view", Count: 97},
			{Action: "auth.login", Count: 2},
			{Action: "phi.print", Count: 1},
		},
		TotalActions:  100,
		UniqueActions: 3,
	}

	tests := []struct {
		name   string
		action string
		want   domain.AnomalySeverity
	}{
		{"never seen", "phi.delete", domain.SeverityMedium},
		{"never seen privilege", "privilege.change", domain.SeverityHigh},
		{"never seen export", "data.export", domain.SeverityHigh},
		{"rare", "phi.print", domain.SeverityLow},
		{"common", "phi.view", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baselines := newMemoryBaselineRepo(fixedClock())
			baselines.put(1, domain.BaselineAccessPattern, profile)
			anomalies := new(MockAnomalyRepository)
			anomalies.On("CreateBatch", ctx, mock.Anything).Return(nil)

			findings := newTestDetector(baselines, anomalies).Detect(ctx, 1, domain.LoginEvent{EventType: tt.action})
			if tt.want == "" {
				assert.Empty(t, findings)
				return
			}
			require.Len(t, findings, 1)
			assert.Equal(t, domain.AnomalyUnusualAction, findings[0].Type)
			assert.Equal(t, tt.want, findings[0].Severity)
			assert.Equal(t, tt.action, findings[0].Details["observed"])
		})
	}
}

func TestDetector_MultipleFindingsPersistedTogether(t *testing.T) {
	ctx := context.Background()
	baselines := newMemoryBaselineRepo(fixedClock())
	baselines.put(7, domain.BaselineLocation, domain.LocationProfile{
		Version: domain.ProfileVersion, Locations: []domain.LocationEntry{{IPAddress: "10.0.0.1", LoginCount: 5}}, TotalLogins: 5,
	})
	baselines.put(7, domain.BaselineTime, domain.NewTimeProfile([]domain.HourCount{{Hour: 9, Count: 5}}, 30, "UTC"))

	anomalies := new(MockAnomalyRepository)
	anomalies.On("CreateBatch", ctx, mock.MatchedBy(func(f []*domain.AnomalyFinding) bool {
		return len(f) == 2
	})).Run(func(args mock.Arguments) {
		for i, f := range args.Get(1).([]*domain.AnomalyFinding) {
			f.ID = int64(100 + i)
		}
	}).Return(nil).Once()

	findings := newTestDetector(baselines, anomalies).Detect(ctx, 7, domain.LoginEvent{IPAddress: "198.51.100.9", Timestamp: at(21)})
	require.Len(t, findings, 2)
	assert.Equal(t, int64(100), findings[0].ID)
	assert.Equal(t, int64(101), findings[1].ID)
	anomalies.AssertExpectations(t)
}

func TestDetector_PersistenceFailureReturnsNil(t *testing.T) {
	ctx := context.Background()
	baselines := newMemoryBaselineRepo(fixedClock())
	baselines.put(7, domain.BaselineTime, domain.NewTimeProfile([]domain.HourCount{{Hour: 9, Count: 5}}, 30, "UTC"))

	anomalies := new(MockAnomalyRepository)
	anomalies.On("CreateBatch", ctx, mock.Anything).Return(errors.New("deadlock detected"))

	assert.Nil(t, newTestDetector(baselines, anomalies).Detect(ctx, 7, domain.LoginEvent{Timestamp: at(3)}))
}

func TestDetector_BaselineLoadFailureReturnsNil(t *testing.T) {
	baselines := newMemoryBaselineRepo(fixedClock())
	baselines.err = errors.New("too many connections")

	assert.Nil(t, newTestDetector(baselines, new(MockAnomalyRepository)).Detect(context.Background(), 7, domain.LoginEvent{Timestamp: at(3)}))
}

func TestDetector_UnknownProfileVersionSkipped(t *testing.T) {
	ctx := context.Background()
	baselines := newMemoryBaselineRepo(fixedClock())
	baselines.put(7, domain.BaselineTime, map[string]interface{}{"version": 99, "commonHours": []int{9}})

	findings := newTestDetector(baselines, new(MockAnomalyRepository)).Detect(ctx, 7, domain.LoginEvent{Timestamp: at(3)})
	assert.Empty(t, findings)
}
