// Package cache implements an optional redis-backed read-through cache in
// front of idempotency-key lookups (spec.md §4.8). It is never the source
// of truth: a cache miss or a disabled cache always falls back to the
// backing ArtifactStore.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/errs"
	"github.com/specforge/specforge/internal/store"
)

// IdempotencyLookup is satisfied by internal/store.ArtifactStore's
// CheckIdempotencyKey method, kept minimal so IdempotencyCache needs only
// that one lookup.
type IdempotencyLookup interface {
	CheckIdempotencyKey(ctx context.Context, key string) (*domain.IdempotencyKeyRecord, error)
}

// IdempotencyCache wraps an IdempotencyLookup with a redis read-through
// layer. Disabled by default; the zero value is usable and simply
// delegates to the backing lookup.
type IdempotencyCache struct {
	backing IdempotencyLookup
	client  *redis.Client
	ttl     time.Duration
	enabled bool
}

// New returns a disabled cache. Call Enable to wire a redis client.
func New(backing IdempotencyLookup) *IdempotencyCache {
	return &IdempotencyCache{backing: backing, ttl: 5 * time.Minute}
}

// Enable wires client and turns read-through caching on.
func (c *IdempotencyCache) Enable(client *redis.Client, ttl time.Duration) {
	c.client = client
	c.ttl = ttl
	c.enabled = true
}

func cacheKey(key string) string { return "idempotency:" + key }

// CheckIdempotencyKey returns the cached record when present and
// unexpired; otherwise queries the backing store and populates the cache
// on a hit. A redis error is treated as a cache miss, never surfaced to
// the caller — the cache is an optimization, not a dependency.
func (c *IdempotencyCache) CheckIdempotencyKey(ctx context.Context, key string) (*domain.IdempotencyKeyRecord, error) {
	if !c.enabled {
		return c.backing.CheckIdempotencyKey(ctx, key)
	}

	if raw, err := c.client.Get(ctx, cacheKey(key)).Result(); err == nil {
		var rec domain.IdempotencyKeyRecord
		if json.Unmarshal([]byte(raw), &rec) == nil {
			return &rec, nil
		}
	}

	rec, err := c.backing.CheckIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	if encoded, err := json.Marshal(rec); err == nil {
		c.client.Set(ctx, cacheKey(key), encoded, c.ttl)
	}
	return rec, nil
}

// Invalidate evicts key's cache entry, called on every idempotency state
// transition so the cache never outlives the state it mirrors.
func (c *IdempotencyCache) Invalidate(ctx context.Context, key string) error {
	if !c.enabled {
		return nil
	}
	if err := c.client.Del(ctx, cacheKey(key)).Err(); err != nil {
		return errs.Wrap(errs.KindStoreBackendError, "invalidating idempotency cache entry", err)
	}
	return nil
}

// CachedStore wraps a store.ArtifactStore, routing CheckIdempotencyKey
// through an IdempotencyCache while delegating every other method (and the
// authoritative StoreArtifact protocol) straight to the backing store.
// Every call that can change a key's state invalidates its cache entry
// first, so a cache hit never observes a stale pending/failed record.
type CachedStore struct {
	store.ArtifactStore
	idempotency *IdempotencyCache
}

// NewCachedStore wraps backing with an idempotency-key read-through cache.
// The returned store is always safe to use: when cfg hasn't called Enable
// on the cache, every call simply delegates to backing.
func NewCachedStore(backing store.ArtifactStore, idempotency *IdempotencyCache) *CachedStore {
	return &CachedStore{ArtifactStore: backing, idempotency: idempotency}
}

func (c *CachedStore) CheckIdempotencyKey(ctx context.Context, key string) (*domain.IdempotencyKeyRecord, error) {
	return c.idempotency.CheckIdempotencyKey(ctx, key)
}

func (c *CachedStore) StoreArtifact(ctx context.Context, artifact domain.Artifact, idempotencyKey string) (*domain.Artifact, error) {
	_ = c.idempotency.Invalidate(ctx, idempotencyKey)
	return c.ArtifactStore.StoreArtifact(ctx, artifact, idempotencyKey)
}
