package geo

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clinicops/secobs/internal/domain"
)

type lookupFunc func(ctx context.Context, ip string) (*domain.Place, bool)

// lookupBatch deduplicates ips and resolves them in chunks of size, running
// each chunk concurrently and pausing delay between chunks. A cancelled
// context returns whatever was resolved so far.
func lookupBatch(ctx context.Context, ips []string, size int, delay time.Duration, lookup lookupFunc) map[string]*domain.Place {
	out := make(map[string]*domain.Place, len(ips))
	unique := dedupe(ips)
	if size <= 0 {
		size = 1
	}

	var mu sync.Mutex
	for start := 0; start < len(unique); start += size {
		end := start + size
		if end > len(unique) {
			end = len(unique)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, ip := range unique[start:end] {
			ip := ip
			g.Go(func() error {
				if place, ok := lookup(gctx, ip); ok {
					mu.Lock()
					out[ip] = place
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()

		if end < len(unique) && delay > 0 {
			select {
			case <-ctx.Done():
				return out
			case <-time.After(delay):
			}
		}
	}
	return out
}

func dedupe(ips []string) []string {
	seen := make(map[string]struct{}, len(ips))
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		if ip == "" {
			continue
		}
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	return out
}
