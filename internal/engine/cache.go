package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/pattern"
	"golang.org/x/sync/singleflight"
)

// RunCache memoizes retrieval results for the lifetime of one run.
// Concurrent lookups of the same key share one search.
type RunCache struct {
	entries map[string]*model.RetrievalResult
	group   singleflight.Group
	mu      sync.RWMutex
	hits    int
	misses  int
}

// NewRunCache creates an empty cache.
func NewRunCache() *RunCache {
	return &RunCache{entries: make(map[string]*model.RetrievalResult)}
}

// CacheKey is strategy | normalized vendor | product type or category.
// Records with neither fall back to their description keywords.
func CacheKey(strategy model.Strategy, rec model.Record) string {
	return string(strategy) + "|" + pattern.NormalizeVendor(rec.Vendor) + "|" + subject(rec)
}

func subject(rec model.Record) string {
	switch {
	case strings.TrimSpace(rec.ProductType) != "":
		return strings.ToLower(strings.TrimSpace(rec.ProductType))
	case strings.TrimSpace(rec.Category) != "":
		return strings.ToLower(strings.TrimSpace(rec.Category))
	default:
		return pattern.Signature(pattern.ExtractKeywords(rec.Description))
	}
}

// Get returns the cached result for key or runs fetch once for all
// concurrent callers. Failed fetches are not cached.
func (c *RunCache) Get(ctx context.Context, key string, fetch func(context.Context) (*model.RetrievalResult, error)) (*model.RetrievalResult, error) {
	c.mu.RLock()
	if res, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		c.count(true)
		return res, nil
	}
	c.mu.RUnlock()

	fetched := false
	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		res, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return res, nil
		}

		fetched = true
		res, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = res
		c.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	c.count(!fetched)
	return v.(*model.RetrievalResult), nil
}

func (c *RunCache) count(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

// Stats returns hit and miss counts since the last Clear.
func (c *RunCache) Stats() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Len returns the number of cached results.
func (c *RunCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every entry and resets the counters.
func (c *RunCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*model.RetrievalResult)
	c.hits = 0
	c.misses = 0
}
