package feeds

import (
	"context"
	"sync"
	"time"

	"cyberbrief/internal/core"
	"cyberbrief/internal/logger"

	"golang.org/x/sync/errgroup"
)

// Cache is a process-wide parse cache keyed by source URL. Entries hold
// articles without a source ID; readers re-tag them. Staleness is checked on
// read.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	articles []core.Article
	storedAt time.Time
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached articles for a URL if the entry is still fresh.
func (c *Cache) Get(url string) ([]core.Article, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[url]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, url)
		return nil, false
	}
	return entry.articles, true
}

// Put stores a parse result.
func (c *Cache) Put(url string, articles []core.Article) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = cacheEntry{articles: articles, storedAt: c.now()}
}

// Len returns the number of cached entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// PreWarm fetches the union of URLs in parallel so per-user scrapes hit the
// cache. Individual failures are logged and do not abort peers.
func (s *Scraper) PreWarm(ctx context.Context, urls []string, parallel int) {
	if parallel <= 0 {
		parallel = 32
	}

	seen := make(map[string]bool, len(urls))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for _, url := range urls {
		if seen[url] {
			continue
		}
		seen[url] = true
		url := url
		g.Go(func() error {
			if err := s.Warm(ctx, url); err != nil {
				logger.Warn("pre-warm fetch failed", "url", url, "reason", err.Error())
			}
			return nil
		})
	}
	_ = g.Wait()
}
