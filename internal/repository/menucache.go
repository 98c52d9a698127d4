package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"station-system/internal/domain"
)

// CachedCatalog is a read-through redis cache in front of a Catalog. Menu
// items change rarely and are read on every fulfillment attempt.
type CachedCatalog struct {
	rdb  *redis.Client
	next Catalog
	ttl  time.Duration
}

func NewCachedCatalog(rdb *redis.Client, next Catalog, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{rdb: rdb, next: next, ttl: ttl}
}

func menuKey(name string) string { return "menu:" + name }

func (c *CachedCatalog) MenuItem(ctx context.Context, name string) (domain.MenuItem, error) {
	raw, err := c.rdb.Get(ctx, menuKey(name)).Bytes()
	if err == nil {
		var it domain.MenuItem
		if json.Unmarshal(raw, &it) == nil {
			return it, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		// cache unavailable: fall through to the source
		return c.next.MenuItem(ctx, name)
	}

	it, err := c.next.MenuItem(ctx, name)
	if err != nil {
		return domain.MenuItem{}, err
	}
	if b, err := json.Marshal(it); err == nil {
		_ = c.rdb.Set(ctx, menuKey(name), b, c.ttl).Err()
	}
	return it, nil
}

// Invalidate drops a cached menu item after an external menu change.
func (c *CachedCatalog) Invalidate(ctx context.Context, name string) error {
	return c.rdb.Del(ctx, menuKey(name)).Err()
}
