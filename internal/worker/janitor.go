package worker

import (
	"context"
	"time"

	"github.com/oriys/embedstar/internal/cache"
	"github.com/oriys/embedstar/internal/lock"
	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/metrics"
	"github.com/oriys/embedstar/internal/shutdown"
	"github.com/oriys/embedstar/internal/store"
)

const (
	// lockSweepInterval paces expired-lease reclamation.
	lockSweepInterval = 5 * time.Minute
	// statsInterval paces the gauge refresh.
	statsInterval = 60 * time.Second
)

// Janitor runs the pipeline's maintenance loops: reclaiming expired
// processing locks and refreshing the pending/pool gauges.
type Janitor struct {
	store *store.Store
	locks *lock.Manager
	cache cache.EmbeddingCache
	ctrl  *shutdown.Controller
}

func NewJanitor(s *store.Store, locks *lock.Manager, c cache.EmbeddingCache, ctrl *shutdown.Controller) *Janitor {
	return &Janitor{store: s, locks: locks, cache: c, ctrl: ctrl}
}

// Start launches both maintenance loops.
func (j *Janitor) Start(ctx context.Context) {
	lockDone := j.ctrl.Register("lock-janitor")
	go func() {
		defer lockDone()
		j.runLockSweep(ctx)
	}()

	statsDone := j.ctrl.Register("stats-reporter")
	go func() {
		defer statsDone()
		j.runStats(ctx)
	}()
}

func (j *Janitor) runLockSweep(ctx context.Context) {
	ticker := time.NewTicker(lockSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctrl.Done():
			return
		case <-ticker.C:
		}

		if err := j.locks.CleanupExpired(ctx); err != nil {
			logging.Op().Error("expired lock cleanup failed", "error", err)
			continue
		}
		held, err := j.locks.ActiveLockCount(ctx)
		if err != nil {
			logging.Op().Warn("active lock count failed", "error", err)
			continue
		}
		logging.Op().Debug("lock sweep complete", "held_by_instance", held)
	}
}

func (j *Janitor) runStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctrl.Done():
			return
		case <-ticker.C:
		}

		pending, err := j.store.PendingRepoCount(ctx)
		if err != nil {
			logging.Op().Warn("pending count failed", "error", err)
		} else {
			metrics.SetPendingRepos(int64(pending))
		}

		ps := j.store.Pool().Stats()
		metrics.SetPoolConnections(ps.Size-ps.Available, ps.Available, ps.Waiting)

		cs := j.cache.Stats()
		logging.Op().Info("pipeline stats",
			"pending", pending,
			"pool_size", ps.Size,
			"pool_available", ps.Available,
			"pool_waiting", ps.Waiting,
			"cache_entries", cs.Entries,
			"cache_hits", cs.Hits,
			"cache_misses", cs.Misses)
	}
}
