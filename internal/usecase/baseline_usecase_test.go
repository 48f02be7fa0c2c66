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

type baselineFixture struct {
	users     *MockUserDirectory
	activity  *MockActivityReader
	geo       *MockGeoLocator
	baselines *memoryBaselineRepo
	clock     time.Time
	uc        *BaselineUseCase
}

func newBaselineFixture(t *testing.T) *baselineFixture {
	t.Helper()
	f := &baselineFixture{
		users:    new(MockUserDirectory),
		activity: new(MockActivityReader),
		geo:      new(MockGeoLocator),
		clock:    time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC),
	}
	f.baselines = newMemoryBaselineRepo(func() time.Time { return f.clock })
	resolver := NewIdentityResolver(f.users, staticHasher{})
	f.uc = NewBaselineUseCase(resolver, f.users, f.activity, f.baselines, f.geo,
		BaselineSettings{WindowDays: 30, Location: time.UTC}, logger.NewNop())
	f.uc.now = func() time.Time { return f.clock }
	return f
}

func TestBaselineUseCase_InvalidType(t *testing.T) {
	f := newBaselineFixture(t)

	_, err := f.uc.Calculate(context.Background(), domain.ByID(7), "weekday")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidBaselineType)
	f.users.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
}

func TestBaselineUseCase_UnknownUser(t *testing.T) {
	f := newBaselineFixture(t)
	ctx := context.Background()

	f.users.On("Exists", ctx, int64(404)).Return(false, nil)
	f.users.On("FindIDByEmail", ctx, "h:ghost@clinic.test", "ghost@clinic.test").Return(int64(0), domain.ErrUserNotFound)

	_, err := f.uc.Calculate(ctx, domain.ByID(404), domain.BaselineTime)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = f.uc.Calculate(ctx, domain.ByEmail("Ghost@Clinic.test "), domain.BaselineTime)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestBaselineUseCase_LocationEnrichedBestEffort(t *testing.T) {
	f := newBaselineFixture(t)
	ctx := context.Background()
	since := f.clock.AddDate(0, 0, -30)

	f.users.On("FindIDByEmail", ctx, "h:dr@clinic.test", "dr@clinic.test").Return(int64(7), nil)
	f.activity.On("LoginsByAddress", ctx, int64(7), since, domain.MaxTrackedLocations).Return([]domain.LocationEntry{
		{IPAddress: "198.51.100.4", LoginCount: 12},
		{IPAddress: "203.0.113.7", LoginCount: 3},
	}, nil)
	// Second address fails to resolve and is kept without a place.
	f.geo.On("LookupBatch", ctx, []string{"198.51.100.4", "203.0.113.7"}).Return(map[string]*domain.Place{
		"198.51.100.4": {City: "Lyon", Country: "France"},
	})

	b, err := f.uc.Calculate(ctx, domain.ByEmail("dr@clinic.test"), domain.BaselineLocation)
	require.NoError(t, err)

	var p domain.LocationProfile
	require.NoError(t, domain.DecodeProfile(b, &p))
	assert.Equal(t, 15, p.TotalLogins)
	assert.Equal(t, 2, p.UniqueLocations)
	assert.Equal(t, "Lyon, France", p.Locations[0].Location)
	assert.Nil(t, p.Locations[1].Place)
	assert.Equal(t, "203.0.113.7", p.Locations[1].IPAddress)
	assert.Empty(t, p.Message)
}

func TestBaselineUseCase_LocationNoHistory(t *testing.T) {
	f := newBaselineFixture(t)
	ctx := context.Background()

	f.users.On("Exists", ctx, int64(7)).Return(true, nil)
	f.activity.On("LoginsByAddress", ctx, int64(7), mock.Anything, domain.MaxTrackedLocations).Return([]domain.LocationEntry{}, nil)

	b, err := f.uc.Calculate(ctx, domain.ByID(7), domain.BaselineLocation)
	require.NoError(t, err)

	var p domain.LocationProfile
	require.NoError(t, domain.DecodeProfile(b, &p))
	assert.Equal(t, 0, p.TotalLogins)
	assert.Contains(t, p.Message, "No login history")
	f.geo.AssertNotCalled(t, "LookupBatch", mock.Anything, mock.Anything)
}

func TestBaselineUseCase_TimeProfile(t *testing.T) {
	f := newBaselineFixture(t)
	ctx := context.Background()

	f.users.On("Exists", ctx, int64(7)).Return(true, nil)
	f.activity.On("LoginsByHour", ctx, int64(7), mock.Anything, time.UTC).Return([]domain.HourCount{
		{Hour: 9, Count: 10}, {Hour: 14, Count: 4}, {Hour: 10, Count: 6}, {Hour: 22, Count: 1},
	}, nil)

	b, err := f.uc.Calculate(ctx, domain.ByID(7), domain.BaselineTime)
	require.NoError(t, err)

	var p domain.TimeProfile
	require.NoError(t, domain.DecodeProfile(b, &p))
	assert.Equal(t, []int{9, 10, 14}, p.CommonHours)
	require.NotNil(t, p.AverageLoginHour)
	// (9*10 + 14*4 + 10*6 + 22*1) / 21 = 10.86
	assert.Equal(t, 11, *p.AverageLoginHour)
	assert.Equal(t, 21, p.TotalLogins)
}

func TestBaselineUseCase_CalculatedAtPreserved(t *testing.T) {
	f := newBaselineFixture(t)
	ctx := context.Background()

	f.users.On("Exists", ctx, int64(7)).Return(true, nil)
	f.activity.On("ActionCounts", ctx, int64(7), mock.Anything).Return([]domain.ActionCount{
		{Action: "phi.view", Count: 40}, {Action: "auth.login", Count: 20},
	}, nil)

	first, err := f.uc.Calculate(ctx, domain.ByID(7), domain.BaselineAccessPattern)
	require.NoError(t, err)

	f.clock = f.clock.Add(24 * time.Hour)
	second, err := f.uc.Calculate(ctx, domain.ByID(7), domain.BaselineAccessPattern)
	require.NoError(t, err)

	assert.Equal(t, first.CalculatedAt, second.CalculatedAt)
	assert.True(t, second.LastUpdated.After(first.LastUpdated))

	var p domain.AccessPatternProfile
	require.NoError(t, domain.DecodeProfile(second, &p))
	assert.Equal(t, 60, p.TotalActions)
	assert.Equal(t, 2, p.UniqueActions)
}

func TestBaselineUseCase_PersistenceErrorsPropagate(t *testing.T) {
	f := newBaselineFixture(t)
	ctx := context.Background()

	f.users.On("Exists", ctx, int64(7)).Return(true, nil)
	f.activity.On("ActionCounts", ctx, int64(7), mock.Anything).Return(nil, errors.New("connection reset"))

	_, err := f.uc.Calculate(ctx, domain.ByID(7), domain.BaselineAccessPattern)
	require.Error(t, err)
	assert.Equal(t, domain.KindPersistence, domain.KindOf(err))
}

func TestBaselineUseCase_RecalculateAllContinuesPastFailures(t *testing.T) {
	f := newBaselineFixture(t)
	ctx := context.Background()

	f.users.On("ListActive", ctx).Return([]domain.UserSummary{
		{ID: 1, Email: "a@clinic.test"},
		{ID: 2, Email: "b@clinic.test"},
	}, nil)
	f.activity.On("LoginsByAddress", ctx, mock.Anything, mock.Anything, mock.Anything).Return([]domain.LocationEntry{}, nil)
	f.activity.On("LoginsByHour", ctx, int64(1), mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
	f.activity.On("LoginsByHour", ctx, int64(2), mock.Anything, mock.Anything).Return([]domain.HourCount{{Hour: 8, Count: 1}}, nil)
	f.activity.On("ActionCounts", ctx, mock.Anything, mock.Anything).Return([]domain.ActionCount{}, nil)

	summary, err := f.uc.RecalculateAll(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 2, summary.TotalUsers)
	assert.Equal(t, 5, summary.SuccessCount)
	assert.Equal(t, 1, summary.ErrorCount)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, int64(1), summary.Errors[0].UserID)
	assert.Equal(t, "a@clinic.test", summary.Errors[0].Email)
	assert.Equal(t, domain.BaselineTime, summary.Errors[0].BaselineType)

	stored, err := f.baselines.FindByUser(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestBaselineUseCase_RecalculateAllCannotListUsers(t *testing.T) {
	f := newBaselineFixture(t)
	ctx := context.Background()

	f.users.On("ListActive", ctx).Return(nil, errors.New("database is down"))

	summary, err := f.uc.RecalculateAll(ctx)
	assert.Nil(t, summary)
	assert.Error(t, err)
}

func TestBaselineUseCase_GetBaselines(t *testing.T) {
	f := newBaselineFixture(t)
	ctx := context.Background()

	f.users.On("Exists", ctx, int64(7)).Return(true, nil)
	f.baselines.put(7, domain.BaselineTime, domain.NewTimeProfile([]domain.HourCount{{Hour: 9, Count: 1}}, 30, "UTC"))

	got, err := f.uc.GetBaselines(ctx, domain.ByID(7))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.BaselineTime, got[0].Type)
}
