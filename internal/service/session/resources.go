package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/ports"
)

// Resource types used as the first half of resource cache keys.
const (
	ResourceChargePoint = "charge_point"
	ResourceTransaction = "transaction"
	ResourceMeterValues = "meter_values"
)

// CachedResource is the stored form of one fetched resource.
type CachedResource struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	FetchedAt time.Time       `json:"fetched_at"`
	Value     json.RawMessage `json:"value"`
}

// ResourceCache keeps the last fetched copy of each (type, id).
type ResourceCache struct {
	cache ports.Cache
	ttl   time.Duration
	clock clockwork.Clock
	log   *zap.Logger
}

func NewResourceCache(cache ports.Cache, ttl time.Duration, clock clockwork.Clock, log *zap.Logger) *ResourceCache {
	return &ResourceCache{cache: cache, ttl: ttl, clock: clock, log: log}
}

func resourceKey(kind, id string) string {
	return "sigec:resource:" + kind + ":" + id
}

// Put stores v under (kind, id). Failures are logged and otherwise ignored.
func (r *ResourceCache) Put(ctx context.Context, kind, id string, v interface{}) {
	if r == nil || r.cache == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		r.log.Warn("Failed to encode cached resource", zap.String("type", kind), zap.Error(err))
		return
	}
	entry := CachedResource{Type: kind, ID: id, FetchedAt: r.clock.Now(), Value: raw}
	if err := r.cache.Set(ctx, resourceKey(kind, id), entry, r.ttl); err != nil {
		r.log.Warn("Failed to write resource cache",
			zap.String("type", kind),
			zap.String("id", id),
			zap.Error(err),
		)
	}
}

// Get returns the cached entry of (kind, id), or ports.ErrCacheMiss.
func (r *ResourceCache) Get(ctx context.Context, kind, id string) (*CachedResource, error) {
	if r == nil || r.cache == nil {
		return nil, ports.ErrCacheMiss
	}
	raw, err := r.cache.Get(ctx, resourceKey(kind, id))
	if err != nil {
		if errors.Is(err, ports.ErrCacheMiss) {
			return nil, ports.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read resource cache: %w", err)
	}
	var entry CachedResource
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cached resource: %w", err)
	}
	return &entry, nil
}

// Invalidate drops (kind, id) so the next read goes to the backend.
func (r *ResourceCache) Invalidate(ctx context.Context, kind, id string) {
	if r == nil || r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, resourceKey(kind, id)); err != nil {
		r.log.Warn("Failed to invalidate resource cache", zap.String("type", kind), zap.String("id", id), zap.Error(err))
	}
}
