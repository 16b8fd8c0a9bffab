package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/metrics"
)

// entry is one cached embedding. Entries live on the LRU list; the front is
// most recently used.
type entry struct {
	key          string
	vector       []float32
	model        string
	createdAt    time.Time
	lastAccessed time.Time
	hits         int64
}

// LRU is the in-process embedding cache: fixed capacity, uniform TTL, a
// background sweeper for expired entries. Get mutates recency, so every
// lookup serializes on the mutex.
type LRU struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List               // *entry values, MRU at front
	items   map[string]*list.Element // key → element on order

	hits   int64
	misses int64

	done     chan struct{}
	stopOnce sync.Once

	// now is swapped in tests to drive TTL expiry.
	now func() time.Time
}

// NewLRU builds the cache and starts its sweeper.
func NewLRU(maxSize int, ttl time.Duration) *LRU {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &LRU{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		items:   make(map[string]*list.Element),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go c.sweepLoop()
	return c
}

// Get returns the cached vector and model. Expired entries are evicted
// synchronously and reported as misses. A hit moves the key to MRU.
func (c *LRU) Get(_ context.Context, key string) ([]float32, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		metrics.RecordCacheMiss()
		return nil, "", false
	}

	e := el.Value.(*entry)
	if c.now().Sub(e.createdAt) > c.ttl {
		c.removeLocked(el)
		c.misses++
		metrics.RecordCacheMiss()
		return nil, "", false
	}

	e.lastAccessed = c.now()
	e.hits++
	c.order.MoveToFront(el)
	c.hits++
	metrics.RecordCacheHit()
	return e.vector, e.model, true
}

// Put stores a vector at the MRU position. At capacity the LRU entry is
// evicted first. An existing key is refreshed in place.
func (c *LRU) Put(_ context.Context, key string, vector []float32, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.vector = vector
		e.model = model
		e.createdAt = now
		e.lastAccessed = now
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
		}
	}

	el := c.order.PushFront(&entry{
		key:          key,
		vector:       vector,
		model:        model,
		createdAt:    now,
		lastAccessed: now,
	})
	c.items[key] = el
}

// removeLocked unlinks an element. Must be called under lock.
func (c *LRU) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.items, e.key)
}

// Clear drops every entry.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Stats reports occupancy and counters.
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var bytes int64
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		bytes += int64(4*len(e.vector) + len(e.model) + len(e.key))
	}
	return Stats{
		Entries:   c.order.Len(),
		MaxSize:   c.maxSize,
		SizeBytes: bytes,
		Hits:      c.hits,
		Misses:    c.misses,
		TTL:       c.ttl,
	}
}

// Close stops the sweeper.
func (c *LRU) Close() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *LRU) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if n := c.sweep(); n > 0 {
				logging.Op().Debug("evicted expired cache entries", "count", n)
			}
		}
	}
}

// sweep evicts every expired entry and returns how many went.
func (c *LRU) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if now.Sub(el.Value.(*entry).createdAt) > c.ttl {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}
