package cache

import (
	"strings"
	"time"

	"github.com/smallbiznis/featuregate/internal/config"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
)

// CatalogEntry is a feature together with the provider that backs it.
type CatalogEntry struct {
	Feature  featuredomain.Feature
	Provider providerdomain.Provider
}

// CatalogCache stores resolver lookups keyed by feature code.
type CatalogCache interface {
	GetFeature(code string) (CatalogEntry, bool)
	SetFeature(code string, entry CatalogEntry)
	InvalidateFeature(code string)
	InvalidateAll()
}

type catalogCache struct {
	entries Cache[string, CatalogEntry]
	cfg     *config.GatewayConfigHolder
}

// NewCatalogCache returns an in-memory catalog cache whose TTL follows the gateway config.
func NewCatalogCache(cfg *config.GatewayConfigHolder) CatalogCache {
	return &catalogCache{
		entries: NewTTLCache[string, CatalogEntry](),
		cfg:     cfg,
	}
}

// NewNoopCatalogCache never caches.
func NewNoopCatalogCache() CatalogCache {
	return &catalogCache{entries: NoopCache[string, CatalogEntry]{}}
}

func (c *catalogCache) GetFeature(code string) (CatalogEntry, bool) {
	return c.entries.Get(cacheKey(code))
}

func (c *catalogCache) SetFeature(code string, entry CatalogEntry) {
	if entry.Feature.ID == 0 {
		return
	}
	ttl := c.ttl()
	if ttl <= 0 {
		return
	}
	c.entries.Set(cacheKey(code), entry, ttl)
}

func (c *catalogCache) InvalidateFeature(code string) {
	c.entries.Delete(cacheKey(code))
}

func (c *catalogCache) InvalidateAll() {
	c.entries.Clear()
}

func (c *catalogCache) ttl() time.Duration {
	if c.cfg == nil {
		return config.DefaultGatewayConfig().CatalogCacheTTL
	}
	return c.cfg.Get().CatalogCacheTTL
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
