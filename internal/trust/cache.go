package trust

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/metrics"
	"github.com/agentpay/agentpay-go/internal/storage"
)

const cacheCollection = "trust_cache"

// Cache entry TTLs. Identity changes rarely, reputation moves fastest.
const (
	identityTTL   = 5 * time.Minute
	reputationTTL = 2 * time.Minute
	metadataTTL   = 10 * time.Minute
)

// Cache is a TTL cache for trust lookups over the storage backend.
// Keys follow trust:{chain}:{address}:{kind}.
type Cache struct {
	store   storage.Backend
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewCache creates a trust cache.
func NewCache(store storage.Backend, met *metrics.Metrics, log zerolog.Logger) *Cache {
	return &Cache{
		store:   store,
		metrics: met,
		log:     log.With().Str("component", "trust_cache").Logger(),
		now:     time.Now,
	}
}

func cacheKey(chain, address, kind string) string {
	return "trust:" + chain + ":" + strings.ToLower(address) + ":" + kind
}

func ttlFor(kind string) time.Duration {
	switch kind {
	case "reputation":
		return reputationTTL
	case "metadata":
		return metadataTTL
	default:
		return identityTTL
	}
}

// Get returns the cached document for a key, nil on miss or expiry.
// Expired entries are deleted on read.
func (c *Cache) Get(ctx context.Context, chain, address, kind string) (storage.Document, error) {
	key := cacheKey(chain, address, kind)
	entry, err := c.store.Get(ctx, cacheCollection, key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStorageError, "read trust cache", err)
	}
	if entry == nil {
		c.observe(kind, false)
		return nil, nil
	}

	if expiresAt, ok := entry["_expires_at"].(float64); !ok || c.now().Unix() > int64(expiresAt) {
		_, _ = c.store.Delete(ctx, cacheCollection, key)
		c.observe(kind, false)
		return nil, nil
	}

	data, _ := entry["data"].(map[string]any)
	c.observe(kind, true)
	return data, nil
}

// Set stores a document under the kind's default TTL.
func (c *Cache) Set(ctx context.Context, chain, address, kind string, data storage.Document) error {
	err := c.store.Save(ctx, cacheCollection, cacheKey(chain, address, kind), storage.Document{
		"data":        map[string]any(data),
		"_expires_at": float64(c.now().Add(ttlFor(kind)).Unix()),
		"_data_type":  kind,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStorageError, "write trust cache", err)
	}
	return nil
}

// Invalidate drops cached entries for an address. An empty kind drops
// all kinds.
func (c *Cache) Invalidate(ctx context.Context, chain, address, kind string) error {
	kinds := []string{kind}
	if kind == "" {
		kinds = []string{"identity", "reputation", "metadata"}
	}
	for _, k := range kinds {
		if _, err := c.store.Delete(ctx, cacheCollection, cacheKey(chain, address, k)); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeStorageError, "invalidate trust cache", err)
		}
	}
	return nil
}

// GetOrFetch returns the cached document or calls fetch and stores the
// result. The boolean reports a cache hit. A nil fetch result is not
// cached.
func (c *Cache) GetOrFetch(ctx context.Context, chain, address, kind string, fetch func(context.Context) (storage.Document, error)) (storage.Document, bool, error) {
	cached, err := c.Get(ctx, chain, address, kind)
	if err != nil {
		return nil, false, err
	}
	if cached != nil {
		return cached, true, nil
	}

	data, err := fetch(ctx)
	if err != nil {
		return nil, false, err
	}
	if data != nil {
		if err := c.Set(ctx, chain, address, kind, data); err != nil {
			c.log.Warn().Err(err).Str("kind", kind).Msg("trust cache write failed")
		}
	}
	return data, false, nil
}

func (c *Cache) observe(kind string, hit bool) {
	if c.metrics != nil {
		c.metrics.ObserveTrustCache(kind, hit)
	}
}
