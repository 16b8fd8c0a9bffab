package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oriys/embedstar/internal/cache"
	"github.com/oriys/embedstar/internal/circuitbreaker"
	"github.com/oriys/embedstar/internal/embedder"
	"github.com/oriys/embedstar/internal/embederr"
	"github.com/oriys/embedstar/internal/lock"
	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/observability"
	"github.com/oriys/embedstar/internal/ratelimit"
	"github.com/oriys/embedstar/internal/retry"
	"github.com/oriys/embedstar/internal/shutdown"
	"github.com/oriys/embedstar/internal/store"
)

// Config sizes the worker pool and its batches.
type Config struct {
	Workers    int
	BatchSize  int
	BatchDelay time.Duration
	Retry      retry.Config
}

// Pool owns the consuming side of the discovery channel: workers gather
// batches, run the per-record lifecycle and issue one batched write per
// batch.
type Pool struct {
	store    *store.Store
	locks    *lock.Manager
	cache    cache.EmbeddingCache
	limiter  *ratelimit.Limiter
	breakers *circuitbreaker.Registry
	embedder *embedder.Embedder
	ctrl     *shutdown.Controller
	in       <-chan store.Repo
	cfg      Config
}

// NewPool wires the lifecycle collaborators together.
func NewPool(
	s *store.Store,
	locks *lock.Manager,
	c cache.EmbeddingCache,
	limiter *ratelimit.Limiter,
	breakers *circuitbreaker.Registry,
	e *embedder.Embedder,
	ctrl *shutdown.Controller,
	in <-chan store.Repo,
	cfg Config,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	return &Pool{
		store:    s,
		locks:    locks,
		cache:    c,
		limiter:  limiter,
		breakers: breakers,
		embedder: e,
		ctrl:     ctrl,
		in:       in,
		cfg:      cfg,
	}
}

// Start launches the workers. Each drains its in-flight batch on shutdown
// before announcing exit.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		done := p.ctrl.Register(fmt.Sprintf("worker-%d", i))
		go func(id int) {
			defer done()
			p.run(ctx, id)
		}(i)
	}
	logging.Op().Info("worker pool started",
		"workers", p.cfg.Workers, "batch_size", p.cfg.BatchSize, "batch_delay", p.cfg.BatchDelay)
}

func (p *Pool) run(ctx context.Context, id int) {
	for {
		batch, more := p.fillBatch()
		if len(batch) > 0 {
			p.processBatch(ctx, batch)
		}
		if !more {
			logging.Op().Info("worker exiting", "worker", id)
			return
		}
	}
}

// fillBatch gathers up to BatchSize records. The inter-batch timer starts
// with the first record, so a quiet channel never holds a partial batch
// hostage. more=false means the worker should exit after this batch.
func (p *Pool) fillBatch() (batch []store.Repo, more bool) {
	// Block for the first record; nothing to time out against yet.
	select {
	case r, ok := <-p.in:
		if !ok {
			return nil, false
		}
		batch = append(batch, r)
	case <-p.ctrl.Done():
		// Drain whatever is already buffered, then stop.
		for {
			select {
			case r, ok := <-p.in:
				if !ok || len(batch) >= p.cfg.BatchSize {
					return batch, false
				}
				batch = append(batch, r)
			default:
				return batch, false
			}
		}
	}

	timer := time.NewTimer(p.cfg.BatchDelay)
	defer timer.Stop()

	for len(batch) < p.cfg.BatchSize {
		select {
		case r, ok := <-p.in:
			if !ok {
				return batch, false
			}
			batch = append(batch, r)
		case <-timer.C:
			return batch, true
		case <-p.ctrl.Done():
			return batch, false
		}
	}
	return batch, true
}

// staged is one record that survived the lifecycle and awaits write-back.
type staged struct {
	update store.EmbeddingUpdate
	guard  *lock.Guard
}

// processBatch runs the lifecycle for every record, issues one batched
// write for the survivors and settles every held lease.
func (p *Pool) processBatch(ctx context.Context, batch []store.Repo) {
	batchID := uuid.NewString()[:8]
	start := time.Now()

	ctx, span := observability.Tracer().Start(ctx, "worker.batch")
	span.SetAttributes(
		attribute.String("batch_id", batchID),
		attribute.Int("batch_size", len(batch)),
	)
	defer span.End()

	var succeeded []staged
	var failed []*lock.Guard

	for _, repo := range batch {
		st, guard, err := p.processRecord(ctx, repo, batchID)
		switch {
		case err != nil && guard != nil:
			logging.Op().Error("record lifecycle failed",
				"record_name", repo.FullName, "batch_id", batchID, "error", err)
			failed = append(failed, guard)
		case err != nil:
			// Lock was never held; the record stays eligible for a later
			// cycle.
			logging.Op().Warn("record skipped",
				"record_name", repo.FullName, "batch_id", batchID, "error", err)
		case st != nil:
			succeeded = append(succeeded, *st)
		}
	}

	if len(succeeded) > 0 {
		updates := make([]store.EmbeddingUpdate, len(succeeded))
		for i, s := range succeeded {
			updates[i] = s.update
		}

		result, err := p.store.BatchUpdateEmbeddings(ctx, updates)
		if err != nil {
			logging.Op().Error("batch write-back failed entirely",
				"batch_id", batchID, "count", len(updates), "error", err)
			for _, s := range succeeded {
				failed = append(failed, s.guard)
			}
			succeeded = nil
		} else if result.Failed > 0 {
			logging.Op().Warn("batch write-back partially failed",
				"batch_id", batchID, "successful", result.Successful, "failed", result.Failed)
		}
	}

	for _, s := range succeeded {
		if err := s.guard.Release(ctx, lock.StatusCompleted); err != nil {
			logging.Op().Warn("lease release failed",
				"record", s.guard.RecordID(), "status", lock.StatusCompleted, "error", err)
		}
	}
	for _, g := range failed {
		if err := g.Release(ctx, lock.StatusFailed); err != nil {
			logging.Op().Warn("lease release failed",
				"record", g.RecordID(), "status", lock.StatusFailed, "error", err)
		}
	}

	logging.Op().Info("batch processed",
		"batch_id", batchID,
		"records", len(batch),
		"written", len(succeeded),
		"failed", len(failed),
		"duration", time.Since(start))
}

// processRecord runs the per-record lifecycle. A nil guard in the return
// means no lease is held (lost race or lock error) and nothing to settle;
// a non-nil guard with an error must be released as failed by the caller.
func (p *Pool) processRecord(ctx context.Context, repo store.Repo, batchID string) (*staged, *lock.Guard, error) {
	ctx, span := observability.Tracer().Start(ctx, "worker.record")
	span.SetAttributes(
		attribute.String("record_name", repo.FullName),
		attribute.String("batch_id", batchID),
	)
	defer span.End()

	guard, err := p.locks.Acquire(ctx, repo.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire lock: %w", err)
	}
	if guard == nil {
		// Another instance owns the record.
		logging.Op().Debug("record locked elsewhere, skipping",
			"record_name", repo.FullName, "batch_id", batchID)
		return nil, nil, nil
	}

	key := cache.Key(repo.FullName, p.embedder.ModelName())
	if vector, model, ok := p.cache.Get(ctx, key); ok {
		logging.Op().Debug("embedding served from cache",
			"record_name", repo.FullName, "batch_id", batchID)
		return &staged{
			update: store.EmbeddingUpdate{RecordID: repo.ID, Embedding: vector, Model: model},
			guard:  guard,
		}, guard, nil
	}

	provider := p.embedder.ProviderName()
	if err := p.limiter.Wait(ctx, provider); err != nil {
		return nil, guard, fmt.Errorf("rate admission: %w", err)
	}

	text := repo.EmbeddingText()
	breaker := p.breakers.Get(provider)

	vector, err := retry.Do(ctx, "generate_embedding_"+repo.FullName, p.cfg.Retry, func() ([]float32, error) {
		if !breaker.ShouldAllow() {
			return nil, embederr.New(embederr.ServiceUnavailable,
				"circuit breaker open for %s", provider)
		}
		vec, genErr := p.embedder.Generate(ctx, text, repo.FullName)
		if genErr != nil {
			breaker.RecordFailure()
			return nil, genErr
		}
		breaker.RecordSuccess()
		return vec, nil
	})
	if err != nil {
		return nil, guard, fmt.Errorf("generate embedding: %w", err)
	}

	p.cache.Put(ctx, key, vector, p.embedder.ModelName())
	return &staged{
		update: store.EmbeddingUpdate{RecordID: repo.ID, Embedding: vector, Model: p.embedder.ModelName()},
		guard:  guard,
	}, guard, nil
}
