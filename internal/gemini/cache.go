package gemini

import (
	"context"
	"sync"
	"time"
)

// ModelLister lists the models available for generation.
type ModelLister interface {
	GenerativeModels(ctx context.Context) ([]Model, error)
}

// ModelCache wraps a ModelLister with a TTL-based in-memory cache.
type ModelCache struct {
	base ModelLister
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	models  []Model
	expires time.Time
}

// NewModelCache returns a lister that caches the model list for the provided TTL.
func NewModelCache(base ModelLister, ttl time.Duration) *ModelCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ModelCache{
		base: base,
		ttl:  ttl,
		now:  time.Now,
	}
}

// GenerativeModels returns the cached list when it is fresh, otherwise it
// delegates to the underlying lister and stores the result. Failed lookups are
// not cached.
func (c *ModelCache) GenerativeModels(ctx context.Context) ([]Model, error) {
	now := c.now()

	c.mu.RLock()
	models, expires := c.models, c.expires
	c.mu.RUnlock()
	if models != nil && now.Before(expires) {
		return models, nil
	}

	models, err := c.base.GenerativeModels(ctx)
	if err != nil {
		return nil, err
	}
	if models == nil {
		models = []Model{}
	}

	c.mu.Lock()
	c.models = models
	c.expires = now.Add(c.ttl)
	c.mu.Unlock()

	return models, nil
}

var _ ModelLister = (*ModelCache)(nil)
var _ ModelLister = (*Client)(nil)
