package plex

import (
	"context"
	"strings"

	"github.com/farmaplex/wsp-bot-go/internal/domain"
	"github.com/farmaplex/wsp-bot-go/internal/infra/cache"
	"github.com/farmaplex/wsp-bot-go/internal/infra/observability"
	"github.com/farmaplex/wsp-bot-go/internal/port"
)

// CachedDirectory memoizes successful directory lookups. PLEX person records
// change rarely within a conversation, and the auth flow re-queries the same
// phone or document on every resumed turn.
type CachedDirectory struct {
	next    port.Directory
	cache   port.Cache[domain.LookupOutcome]
	metrics *observability.Metrics
}

// NewCachedDirectory wraps a directory with a lookup cache.
func NewCachedDirectory(next port.Directory, c *cache.InMemory[domain.LookupOutcome], metrics *observability.Metrics) *CachedDirectory {
	return &CachedDirectory{next: next, cache: c, metrics: metrics}
}

func (d *CachedDirectory) SearchCustomer(ctx context.Context, q domain.DirectoryQuery) (domain.LookupOutcome, error) {
	key := cacheKey(q)
	if out, ok := d.cache.Get(key); ok {
		d.metrics.IncrCacheHit("directory")
		return out, nil
	}
	d.metrics.IncrCacheMiss("directory")

	out, err := d.next.SearchCustomer(ctx, q)
	if err != nil {
		return out, err
	}
	d.cache.Set(key, out)
	return out, nil
}

func cacheKey(q domain.DirectoryQuery) string {
	return strings.Join([]string{q.Document, q.CustomerID, q.Phone}, "|")
}
