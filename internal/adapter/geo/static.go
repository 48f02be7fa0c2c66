package geo

import (
	"context"
	"net/netip"
	"strings"

	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/ports"
)

// OfflineLocator answers local addresses and nothing else. It is used when no
// provider URL is configured, so baselines still record bare addresses.
type OfflineLocator struct{}

// NewOfflineLocator creates a locator that never calls out
func NewOfflineLocator() *OfflineLocator {
	return &OfflineLocator{}
}

var _ ports.GeoLocator = (*OfflineLocator)(nil)

func (OfflineLocator) Lookup(_ context.Context, ip string) (*domain.Place, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil || !IsLocal(addr) {
		return nil, false
	}
	return &domain.Place{Country: LocalNetwork}, true
}

func (o OfflineLocator) LookupBatch(ctx context.Context, ips []string) map[string]*domain.Place {
	out := make(map[string]*domain.Place)
	for _, ip := range dedupe(ips) {
		if place, ok := o.Lookup(ctx, ip); ok {
			out[ip] = place
		}
	}
	return out
}
