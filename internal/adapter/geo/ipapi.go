// Package geo resolves IP addresses to coarse places for location baselines.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/clinicops/secobs/internal/config"
	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/logger"
	"github.com/clinicops/secobs/internal/metrics"
	"github.com/clinicops/secobs/internal/ports"
)

const ipAPIFields = "status,message,country,regionName,city,lat,lon"

// LocalNetwork labels private, loopback and link-local addresses
const LocalNetwork = "Local Network"

// IPAPILocator implements GeoLocator against an ip-api.com compatible endpoint
type IPAPILocator struct {
	baseURL    string
	client     *http.Client
	batchSize  int
	batchDelay time.Duration
	log        logger.Logger
}

// NewIPAPILocator creates a locator with the configured timeout and batching
func NewIPAPILocator(cfg config.GeoConfig, log logger.Logger) *IPAPILocator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	return &IPAPILocator{
		baseURL:    strings.TrimRight(cfg.ProviderURL, "/"),
		client:     &http.Client{Timeout: timeout},
		batchSize:  batchSize,
		batchDelay: cfg.BatchDelay,
		log:        log,
	}
}

var _ ports.GeoLocator = (*IPAPILocator)(nil)

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

// Lookup resolves ip. Local addresses are answered without a network call;
// every failure degrades to (nil, false).
func (l *IPAPILocator) Lookup(ctx context.Context, ip string) (*domain.Place, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		metrics.RecordGeoLookup("provider", "invalid")
		return nil, false
	}
	if IsLocal(addr) {
		metrics.RecordGeoLookup("local", "hit")
		return &domain.Place{Country: LocalNetwork}, true
	}

	place, err := l.fetch(ctx, addr)
	if err != nil {
		metrics.RecordGeoLookup("provider", "error")
		l.log.Debug(ctx, "Geolocation lookup failed", map[string]interface{}{
			"ip":    addr.String(),
			"error": err.Error(),
		})
		return nil, false
	}
	metrics.RecordGeoLookup("provider", "hit")
	return place, true
}

// LookupBatch resolves ips in groups of batchSize concurrent requests
func (l *IPAPILocator) LookupBatch(ctx context.Context, ips []string) map[string]*domain.Place {
	return lookupBatch(ctx, ips, l.batchSize, l.batchDelay, l.Lookup)
}

func (l *IPAPILocator) fetch(ctx context.Context, addr netip.Addr) (*domain.Place, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=%s", l.baseURL, url.PathEscape(addr.String()), ipAPIFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call geolocation provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geolocation provider returned status: %d", resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("geolocation provider rejected lookup: %s", body.Message)
	}

	return &domain.Place{
		City:      body.City,
		Region:    body.RegionName,
		Country:   body.Country,
		Latitude:  body.Lat,
		Longitude: body.Lon,
	}, nil
}

// IsLocal reports whether addr never leaves the local network
func IsLocal(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}
