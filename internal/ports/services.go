package ports

import (
	"context"
	"time"

	"github.com/clinicops/secobs/internal/domain"
)

// GeoLocator resolves IP addresses to places. Lookups are best effort: any
// failure is reported as (nil, false), never as an error.
type GeoLocator interface {
	Lookup(ctx context.Context, ip string) (*domain.Place, bool)

	// LookupBatch resolves many addresses with bounded concurrency. Addresses
	// that could not be resolved are absent from the result.
	LookupBatch(ctx context.Context, ips []string) map[string]*domain.Place
}

// EmailHasher computes the deterministic searchable hash of an email address
type EmailHasher interface {
	Hash(email string) string
}

// RunLock guards a job against concurrent execution across processes
type RunLock interface {
	// TryAcquire returns a release func when the lock was taken, or
	// ok=false when someone else holds it.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// AnomalyDetector inspects a live event for deviations
type AnomalyDetector interface {
	Detect(ctx context.Context, userID int64, event domain.LoginEvent) []*domain.AnomalyFinding
}
