package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/SonGiHyeon/CV-API/internal/database"
	"github.com/SonGiHyeon/CV-API/internal/similarity"
)

const corpusKey = "corpus:eligible"

// DefaultTTL bounds how stale the cached corpus may get without an invalidation
const DefaultTTL = 5 * time.Minute

// Loader reads the eligible corpus from storage
type Loader interface {
	ListEligibleFragments(ctx context.Context) ([]database.Fragment, error)
}

// Metrics receives hit/miss notifications
type Metrics interface {
	IncrementCacheHit()
	IncrementCacheMiss()
}

// Logger receives load and invalidation events
type Logger interface {
	CacheLogger(operation, key string, hit bool, itemCount int)
}

// Entry is one eligible fragment with its pre-computed n-gram profile
type Entry struct {
	Fragment database.Fragment
	Profile  *similarity.Profile
}

// Stats reports cache effectiveness
type Stats struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Loads       int64     `json:"loads"`
	Size        int       `json:"size"`
	LastLoad    time.Time `json:"last_load"`
	Invalidated int64     `json:"invalidated"`
}

// CorpusCache holds the eligible fragment corpus in memory. Concurrent misses
// share a single storage load. Invalidate drops the cached corpus and any
// load that started before the call.
type CorpusCache struct {
	store   *gocache.Cache
	loader  Loader
	metrics Metrics
	logger  Logger
	group   singleflight.Group

	mu         sync.Mutex
	generation uint64
	lastLoad   time.Time

	hits, misses, loads, invalidated atomic.Int64
}

// NewCorpusCache creates a corpus cache; ttl <= 0 uses DefaultTTL
func NewCorpusCache(loader Loader, ttl time.Duration, metrics Metrics) *CorpusCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CorpusCache{
		store:   gocache.New(ttl, 2*ttl),
		loader:  loader,
		metrics: metrics,
	}
}

// WithLogger reports loads and invalidations to l
func (c *CorpusCache) WithLogger(l Logger) *CorpusCache {
	c.logger = l
	return c
}

// Eligible returns the eligible corpus, loading it on a miss. The returned
// slice is shared and must not be modified.
func (c *CorpusCache) Eligible(ctx context.Context) ([]Entry, error) {
	if v, ok := c.store.Get(corpusKey); ok {
		c.hits.Add(1)
		if c.metrics != nil {
			c.metrics.IncrementCacheHit()
		}
		return v.([]Entry), nil
	}

	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.IncrementCacheMiss()
	}

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	// waiters share this load, so it ignores the first caller's cancellation
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(corpusKey, func() (interface{}, error) {
		fragments, err := c.loader.ListEligibleFragments(loadCtx)
		if err != nil {
			return nil, err
		}

		entries := make([]Entry, 0, len(fragments))
		for _, f := range fragments {
			entries = append(entries, Entry{Fragment: f, Profile: similarity.NewProfile(f.Text)})
		}
		c.loads.Add(1)
		if c.logger != nil {
			c.logger.CacheLogger("load", corpusKey, false, len(entries))
		}

		c.mu.Lock()
		if c.generation == gen {
			c.store.SetDefault(corpusKey, entries)
			c.lastLoad = time.Now()
		}
		c.mu.Unlock()

		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Entry), nil
}

// Invalidate drops the cached corpus; call after any fragment write
func (c *CorpusCache) Invalidate() {
	c.mu.Lock()
	c.generation++
	c.store.Delete(corpusKey)
	c.mu.Unlock()

	c.group.Forget(corpusKey)
	c.invalidated.Add(1)
	if c.logger != nil {
		c.logger.CacheLogger("invalidate", corpusKey, false, 0)
	}
}

// Stats returns cache statistics
func (c *CorpusCache) Stats() Stats {
	size := 0
	if v, ok := c.store.Get(corpusKey); ok {
		size = len(v.([]Entry))
	}

	c.mu.Lock()
	lastLoad := c.lastLoad
	c.mu.Unlock()

	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Loads:       c.loads.Load(),
		Size:        size,
		LastLoad:    lastLoad,
		Invalidated: c.invalidated.Load(),
	}
}
