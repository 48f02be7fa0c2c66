package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/clinicops/secobs/internal/domain"
)

// Mock implementations

type MockUserDirectory struct {
	mock.Mock
}

func (m *MockUserDirectory) FindIDByEmail(ctx context.Context, emailHash, email string) (int64, error) {
	args := m.Called(ctx, emailHash, email)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUserDirectory) Exists(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserDirectory) ListActive(ctx context.Context) ([]domain.UserSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.UserSummary), args.Error(1)
}

type MockActivityReader struct {
	mock.Mock
}

func (m *MockActivityReader) LoginsByAddress(ctx context.Context, userID int64, since time.Time, limit int) ([]domain.LocationEntry, error) {
	args := m.Called(ctx, userID, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LocationEntry), args.Error(1)
}

func (m *MockActivityReader) LoginsByHour(ctx context.Context, userID int64, since time.Time, loc *time.Location) ([]domain.HourCount, error) {
	args := m.Called(ctx, userID, since, loc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.HourCount), args.Error(1)
}

func (m *MockActivityReader) ActionCounts(ctx context.Context, userID int64, since time.Time) ([]domain.ActionCount, error) {
	args := m.Called(ctx, userID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ActionCount), args.Error(1)
}

type MockAnomalyRepository struct {
	mock.Mock
}

func (m *MockAnomalyRepository) CreateBatch(ctx context.Context, findings []*domain.AnomalyFinding) error {
	args := m.Called(ctx, findings)
	return args.Error(0)
}

func (m *MockAnomalyRepository) List(ctx context.Context, filter domain.AnomalyFilter) ([]*domain.AnomalyFinding, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*domain.AnomalyFinding), args.Int(1), args.Error(2)
}

func (m *MockAnomalyRepository) UpdateStatus(ctx context.Context, id int64, status domain.AnomalyStatus, reviewedBy *int64, stampReview bool, at time.Time) (*domain.AnomalyFinding, error) {
	args := m.Called(ctx, id, status, reviewedBy, stampReview, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AnomalyFinding), args.Error(1)
}

func (m *MockAnomalyRepository) Statistics(ctx context.Context, since time.Time) (*domain.AnomalyStatistics, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AnomalyStatistics), args.Error(1)
}

type MockGeoLocator struct {
	mock.Mock
}

func (m *MockGeoLocator) Lookup(ctx context.Context, ip string) (*domain.Place, bool) {
	args := m.Called(ctx, ip)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*domain.Place), args.Bool(1)
}

func (m *MockGeoLocator) LookupBatch(ctx context.Context, ips []string) map[string]*domain.Place {
	args := m.Called(ctx, ips)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(map[string]*domain.Place)
}

type MockAuditGuard struct {
	mock.Mock
}

func (m *MockAuditGuard) Install(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockAuditGuard) States(ctx context.Context) (domain.ProtectionState, domain.ProtectionState, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.ProtectionState), args.Get(1).(domain.ProtectionState), args.Error(2)
}

type staticHasher struct{}

func (staticHasher) Hash(email string) string { return "h:" + email }

// memoryAuditRepo is a mutex-serialized in-memory chain used to exercise
// the write and verify paths together.
type memoryAuditRepo struct {
	mu      sync.Mutex
	records []*domain.AuditRecord
	failErr error
	clock   time.Time
}

func (r *memoryAuditRepo) Append(_ context.Context, record *domain.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}

	prev := ""
	if n := len(r.records); n > 0 {
		h, err := domain.ChainHash(r.records[n-1])
		if err != nil {
			return err
		}
		prev = h
	}
	if r.clock.IsZero() {
		r.clock = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	r.clock = r.clock.Add(time.Second)

	// Round-trip metadata the way a JSONB column would.
	if record.Metadata != nil {
		b, err := json.Marshal(record.Metadata)
		if err != nil {
			return err
		}
		var m map[string]interface{}
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		record.Metadata = m
	}

	record.ID = int64(len(r.records) + 1)
	record.Timestamp = r.clock
	record.PreviousHash = &prev
	stored := *record
	r.records = append(r.records, &stored)
	return nil
}

func (r *memoryAuditRepo) Iterate(_ context.Context, fn func(*domain.AuditRecord) error) error {
	r.mu.Lock()
	snapshot := append([]*domain.AuditRecord(nil), r.records...)
	r.mu.Unlock()
	for _, rec := range snapshot {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *memoryAuditRepo) last() *domain.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil
	}
	return r.records[len(r.records)-1]
}

// memoryBaselineRepo upserts with calculated_at preserved on conflict.
type memoryBaselineRepo struct {
	mu     sync.Mutex
	rows   map[int64]map[domain.BaselineType]*domain.BehaviorBaseline
	nextID int64
	now    func() time.Time
	err    error
}

func newMemoryBaselineRepo(now func() time.Time) *memoryBaselineRepo {
	return &memoryBaselineRepo{rows: map[int64]map[domain.BaselineType]*domain.BehaviorBaseline{}, now: now}
}

func (r *memoryBaselineRepo) Upsert(_ context.Context, userID int64, t domain.BaselineType, data json.RawMessage) (*domain.BehaviorBaseline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	ts := r.now()
	byType, ok := r.rows[userID]
	if !ok {
		byType = map[domain.BaselineType]*domain.BehaviorBaseline{}
		r.rows[userID] = byType
	}
	if existing, ok := byType[t]; ok {
		existing.Data = data
		existing.LastUpdated = ts
		cp := *existing
		return &cp, nil
	}
	r.nextID++
	b := &domain.BehaviorBaseline{ID: r.nextID, UserID: userID, Type: t, Data: data, CalculatedAt: ts, LastUpdated: ts}
	byType[t] = b
	cp := *b
	return &cp, nil
}

func (r *memoryBaselineRepo) FindByUser(_ context.Context, userID int64) ([]*domain.BehaviorBaseline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []*domain.BehaviorBaseline
	for _, t := range domain.AllBaselineTypes {
		if b, ok := r.rows[userID][t]; ok {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryBaselineRepo) put(userID int64, t domain.BaselineType, profile interface{}) {
	data, err := json.Marshal(profile)
	if err != nil {
		panic(err)
	}
	if _, err := r.Upsert(context.Background(), userID, t, data); err != nil {
		panic(err)
	}
}
