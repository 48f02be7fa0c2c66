package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clinicops/secobs/internal/domain"
)

// AuditRepository defines the interface for the hash-chained audit log
type AuditRepository interface {
	// Append extends the chain with record. Implementations must serialize
	// appends so that reading the predecessor, hashing it and inserting the
	// new row happen atomically. On success record.ID, Timestamp and
	// PreviousHash are populated.
	Append(ctx context.Context, record *domain.AuditRecord) error

	// Iterate streams every record in ascending id order. Returning an error
	// from fn stops iteration and is returned as is.
	Iterate(ctx context.Context, fn func(*domain.AuditRecord) error) error
}

// AuditGuard manages the storage-level immutability guard
type AuditGuard interface {
	// Install idempotently prepares the schema and installs the guard.
	Install(ctx context.Context) error

	// States reports delete and update protection.
	States(ctx context.Context) (deleteState, updateState domain.ProtectionState, err error)
}

// ActivityReader aggregates historical audit activity for one user
type ActivityReader interface {
	// LoginsByAddress returns successful login counts per source IP since the
	// given time, ordered by count descending, capped at limit.
	LoginsByAddress(ctx context.Context, userID int64, since time.Time, limit int) ([]domain.LocationEntry, error)

	// LoginsByHour returns successful login counts per hour of day in loc.
	LoginsByHour(ctx context.Context, userID int64, since time.Time, loc *time.Location) ([]domain.HourCount, error)

	// ActionCounts returns audit action counts ordered by count descending.
	ActionCounts(ctx context.Context, userID int64, since time.Time) ([]domain.ActionCount, error)
}

// BaselineRepository defines the interface for baseline persistence
type BaselineRepository interface {
	// Upsert stores data for (userID, type). calculated_at is preserved on
	// conflict, last_updated is always refreshed.
	Upsert(ctx context.Context, userID int64, t domain.BaselineType, data json.RawMessage) (*domain.BehaviorBaseline, error)

	// FindByUser returns all stored baselines for a user
	FindByUser(ctx context.Context, userID int64) ([]*domain.BehaviorBaseline, error)
}

// AnomalyRepository defines the interface for anomaly finding persistence
type AnomalyRepository interface {
	// CreateBatch inserts findings in one transaction and assigns their IDs
	CreateBatch(ctx context.Context, findings []*domain.AnomalyFinding) error

	// List returns one page of findings matching filter plus the unpaged total
	List(ctx context.Context, filter domain.AnomalyFilter) ([]*domain.AnomalyFinding, int, error)

	// UpdateStatus changes a finding's status. When stampReview is true,
	// reviewed_at is set to at. Returns domain.ErrAnomalyNotFound when no row matches.
	UpdateStatus(ctx context.Context, id int64, status domain.AnomalyStatus, reviewedBy *int64, stampReview bool, at time.Time) (*domain.AnomalyFinding, error)

	// Statistics aggregates counts over all findings; Last7Days counts
	// findings detected at or after since.
	Statistics(ctx context.Context, since time.Time) (*domain.AnomalyStatistics, error)
}

// UserDirectory is the read-only view of the user store
type UserDirectory interface {
	// FindIDByEmail matches the searchable hash or a case-insensitive literal email.
	FindIDByEmail(ctx context.Context, emailHash, email string) (int64, error)

	// Exists reports whether a user with id exists
	Exists(ctx context.Context, id int64) (bool, error)

	// ListActive returns all active users
	ListActive(ctx context.Context) ([]domain.UserSummary, error)
}
