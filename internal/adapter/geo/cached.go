package geo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/clinicops/secobs/internal/adapter/cache"
	"github.com/clinicops/secobs/internal/config"
	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/logger"
	"github.com/clinicops/secobs/internal/metrics"
	"github.com/clinicops/secobs/internal/ports"
)

// CachedLocator decorates a GeoLocator with a TTL cache. Only successful
// lookups are cached; cache errors fall through to the wrapped locator.
type CachedLocator struct {
	next  ports.GeoLocator
	store cache.Store
	ttl   time.Duration
	log   logger.Logger
}

// NewCachedLocator wraps next with store
func NewCachedLocator(next ports.GeoLocator, store cache.Store, ttl time.Duration, log logger.Logger) *CachedLocator {
	return &CachedLocator{next: next, store: store, ttl: ttl, log: log}
}

var _ ports.GeoLocator = (*CachedLocator)(nil)

func (c *CachedLocator) Lookup(ctx context.Context, ip string) (*domain.Place, bool) {
	if place, ok := c.get(ctx, ip); ok {
		return place, true
	}
	place, ok := c.next.Lookup(ctx, ip)
	if ok {
		c.put(ctx, ip, place)
	}
	return place, ok
}

// LookupBatch serves cached addresses directly and sends only misses to the
// wrapped locator, preserving its rate limiting.
func (c *CachedLocator) LookupBatch(ctx context.Context, ips []string) map[string]*domain.Place {
	out := make(map[string]*domain.Place, len(ips))
	var misses []string
	for _, ip := range dedupe(ips) {
		if place, ok := c.get(ctx, ip); ok {
			out[ip] = place
			continue
		}
		misses = append(misses, ip)
	}
	if len(misses) == 0 {
		return out
	}

	for ip, place := range c.next.LookupBatch(ctx, misses) {
		out[ip] = place
		c.put(ctx, ip, place)
	}
	return out
}

func (c *CachedLocator) get(ctx context.Context, ip string) (*domain.Place, bool) {
	raw, err := c.store.Get(ctx, ip)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			c.log.Warn(ctx, "Geolocation cache read failed", map[string]interface{}{"error": err.Error()})
		}
		return nil, false
	}

	var place domain.Place
	if err := json.Unmarshal(raw, &place); err != nil {
		return nil, false
	}
	metrics.RecordGeoLookup("cache", "hit")
	return &place, true
}

func (c *CachedLocator) put(ctx context.Context, ip string, place *domain.Place) {
	raw, err := json.Marshal(place)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, ip, raw, c.ttl); err != nil {
		c.log.Warn(ctx, "Geolocation cache write failed", map[string]interface{}{"error": err.Error()})
	}
}

// New builds the configured locator chain. store may be nil when Redis is
// not configured.
func New(cfg config.GeoConfig, store cache.Store, log logger.Logger) ports.GeoLocator {
	if cfg.ProviderURL == "" {
		return NewOfflineLocator()
	}

	var locator ports.GeoLocator = NewIPAPILocator(cfg, log)
	if cfg.CacheEnabled && store != nil {
		locator = NewCachedLocator(locator, store, cfg.CacheTTL, log)
	}
	return locator
}
