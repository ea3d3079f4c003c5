// Package cache wraps a catalog.Reader with a short-lived product cache.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/catalog"
)

const DefaultTTL = 30 * time.Second

type entry struct {
	product   catalog.Product
	expiresAt time.Time
}

// CachedReader serves products from memory for ttl and collapses concurrent misses into one
// lookup. Users are never cached since their role gates authorization.
type CachedReader struct {
	next  catalog.Reader
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu    sync.RWMutex
	items map[string]entry
}

func NewCachedReader(next catalog.Reader, ttl time.Duration) *CachedReader {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedReader{next: next, ttl: ttl, now: time.Now, items: make(map[string]entry)}
}

func (c *CachedReader) lookup(id string) (*catalog.Product, bool) {
	c.mu.RLock()
	e, ok := c.items[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.items, id)
		c.mu.Unlock()
		return nil, false
	}
	p := e.product
	return &p, true
}

func (c *CachedReader) Product(ctx context.Context, id string) (*catalog.Product, error) {
	if p, ok := c.lookup(id); ok {
		return p, nil
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		if p, ok := c.lookup(id); ok {
			return p, nil
		}
		p, err := c.next.Product(ctx, id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.items[id] = entry{product: *p, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	p := *v.(*catalog.Product)
	return &p, nil
}

func (c *CachedReader) User(ctx context.Context, id string) (*catalog.User, error) {
	return c.next.User(ctx, id)
}

// Invalidate drops a cached product, e.g. after a price change.
func (c *CachedReader) Invalidate(id string) {
	c.mu.Lock()
	delete(c.items, id)
	c.mu.Unlock()
}
