package fetcher

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"kilometers.ai/pluginhost/internal/core/domain"
	"kilometers.ai/pluginhost/internal/core/ports"
)

// CachingFetcher keeps the most recently fetched modules keyed by
// ModuleLocation.CacheKey. Failures are never cached and concurrent fetches of the same
// module share one request.
type CachingFetcher struct {
	next   ports.ModuleFetcher
	cache  *lru.Cache[string, *domain.Module]
	flight singleflight.Group
}

// NewCachingFetcher wraps next with an LRU of size entries
func NewCachingFetcher(next ports.ModuleFetcher, size int) (*CachingFetcher, error) {
	if next == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	cache, err := lru.New[string, *domain.Module](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create module cache: %w", err)
	}
	return &CachingFetcher{next: next, cache: cache}, nil
}

// Fetch implements ports.ModuleFetcher
func (c *CachingFetcher) Fetch(ctx context.Context, loc domain.ModuleLocation) (*domain.Module, error) {
	key := loc.CacheKey()
	if module, ok := c.cache.Get(key); ok {
		return module, nil
	}

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		module, err := c.next.Fetch(ctx, loc)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, module)
		return module, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Module), nil
}

// Len returns the number of cached modules
func (c *CachingFetcher) Len() int {
	return c.cache.Len()
}

// Purge drops every cached module
func (c *CachingFetcher) Purge() {
	c.cache.Purge()
}
