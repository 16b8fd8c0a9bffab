package cache

import (
	"context"
	"time"

	"github.com/oriys/embedstar/internal/logging"
)

// Tiered layers the in-process LRU (L1) over Redis (L2). Reads check L1
// first, fall through to L2 and repopulate L1 on a hit. Writes go to both
// levels; L2 failures are logged and tolerated, since L1 alone already
// satisfies the cache contract.
type Tiered struct {
	l1    *LRU
	l2    *Redis
	l2TTL time.Duration
}

// NewTiered builds the two-level cache. l2TTL bounds the shared entries.
func NewTiered(l1 *LRU, l2 *Redis, l2TTL time.Duration) *Tiered {
	if l2TTL <= 0 {
		l2TTL = DefaultTTL
	}
	return &Tiered{l1: l1, l2: l2, l2TTL: l2TTL}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]float32, string, bool) {
	if vector, model, ok := t.l1.Get(ctx, key); ok {
		return vector, model, true
	}

	vector, model, err := t.l2.Get(ctx, key)
	if err != nil {
		if err != ErrNotFound {
			logging.Op().Warn("l2 cache read failed", "key", key, "error", err)
		}
		return nil, "", false
	}

	t.l1.Put(ctx, key, vector, model)
	return vector, model, true
}

func (t *Tiered) Put(ctx context.Context, key string, vector []float32, model string) {
	t.l1.Put(ctx, key, vector, model)
	if err := t.l2.Set(ctx, key, vector, model, t.l2TTL); err != nil {
		logging.Op().Warn("l2 cache write failed", "key", key, "error", err)
	}
}

// Stats reports the L1 counters; L2 occupancy belongs to Redis.
func (t *Tiered) Stats() Stats { return t.l1.Stats() }

func (t *Tiered) Clear() { t.l1.Clear() }

func (t *Tiered) Close() {
	t.l1.Close()
	if err := t.l2.Close(); err != nil {
		logging.Op().Warn("l2 cache close failed", "error", err)
	}
}
