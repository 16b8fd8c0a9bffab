package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/metrics"
)

var (
	// ErrAcquireTimeout is returned when no session frees up within the
	// configured wait timeout.
	ErrAcquireTimeout = errors.New("db: acquire timed out")
	// ErrPoolClosed is returned for any acquire after Close.
	ErrPoolClosed = errors.New("db: pool closed")
)

// PoolConfig sizes the session pool.
type PoolConfig struct {
	Conn Config

	// Size is the pre-warm target, MaxSize the hard session cap.
	Size    int
	MaxSize int

	WaitTimeout    time.Duration
	CreateTimeout  time.Duration
	RecycleTimeout time.Duration
}

// Stats is a point-in-time view of pool occupancy.
type Stats struct {
	Size      int `json:"size"`
	Available int `json:"available"`
	Waiting   int `json:"waiting"`
	MaxSize   int `json:"max_size"`
}

// Pool hands out authenticated sessions up to MaxSize. Idle sessions are
// reused oldest-first and revalidated with a trivial probe before reuse.
type Pool struct {
	cfg PoolConfig

	// slots is the lease semaphore: a token is held between Acquire and
	// Release, so leased sessions never exceed MaxSize.
	slots   chan struct{}
	waiting atomic.Int64

	mu     sync.Mutex
	idle   []*Session
	total  int
	closed bool

	done chan struct{}
}

// NewPool builds the pool. Sessions are opened lazily; call Prewarm to
// populate the idle queue up front.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.Size > cfg.MaxSize {
		cfg.Size = cfg.MaxSize
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = 30 * time.Second
	}
	if cfg.RecycleTimeout <= 0 {
		cfg.RecycleTimeout = 30 * time.Second
	}

	slots := make(chan struct{}, cfg.MaxSize)
	for i := 0; i < cfg.MaxSize; i++ {
		slots <- struct{}{}
	}

	return &Pool{
		cfg:   cfg,
		slots: slots,
		done:  make(chan struct{}),
	}
}

// Prewarm opens up to Size sessions in parallel. Failures are logged and
// tolerated; the pool serves from whatever warmed up.
func (p *Pool) Prewarm(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*p.cfg.CreateTimeout)
	defer cancel()

	logging.Op().Info("pre-warming session pool", "target", p.cfg.Size)

	var g errgroup.Group
	for i := 0; i < p.cfg.Size; i++ {
		g.Go(func() error {
			s, err := p.open(ctx)
			if err != nil {
				logging.Op().Warn("pre-warm session failed", "error", err)
				return nil
			}

			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				return nil
			}
			p.idle = append(p.idle, s)
			p.total++
			p.mu.Unlock()
			return nil
		})
	}
	g.Wait()

	p.mu.Lock()
	warmed := len(p.idle)
	p.mu.Unlock()
	logging.Op().Info("session pool ready", "warmed", warmed, "max", p.cfg.MaxSize)
}

func (p *Pool) open(ctx context.Context) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CreateTimeout)
	defer cancel()

	start := time.Now()
	s, err := Open(ctx, p.cfg.Conn)
	if err != nil {
		metrics.IncPoolConnectionErrors()
		return nil, fmt.Errorf("create session: %w", err)
	}
	metrics.IncPoolConnectionsCreated()
	logging.Op().Debug("session created", "session", s.ID(), "elapsed", time.Since(start))
	return s, nil
}

// Acquire leases a session, blocking up to the wait timeout for a free
// slot. Idle sessions are probed before reuse; a failing probe discards the
// session and a replacement is created in its place.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	default:
	}

	timer := time.NewTimer(p.cfg.WaitTimeout)
	defer timer.Stop()

	p.waiting.Add(1)
	select {
	case <-p.slots:
		p.waiting.Add(-1)
	case <-timer.C:
		p.waiting.Add(-1)
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		p.waiting.Add(-1)
		return nil, ctx.Err()
	case <-p.done:
		p.waiting.Add(-1)
		return nil, ErrPoolClosed
	}

	// Token held from here: on error paths it must be returned.
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.slots <- struct{}{}
			return nil, ErrPoolClosed
		}
		var s *Session
		if len(p.idle) > 0 {
			s = p.idle[0]
			p.idle = p.idle[1:]
		}
		p.mu.Unlock()

		if s == nil {
			fresh, err := p.open(ctx)
			if err != nil {
				p.slots <- struct{}{}
				return nil, err
			}
			p.mu.Lock()
			p.total++
			p.mu.Unlock()
			return fresh, nil
		}

		probeCtx, cancel := context.WithTimeout(ctx, p.cfg.RecycleTimeout)
		err := s.Ping(probeCtx)
		cancel()
		if err == nil {
			metrics.IncPoolConnectionsRecycled()
			return s, nil
		}

		metrics.IncPoolHealthCheckFailures()
		logging.Op().Warn("session failed liveness probe, discarding",
			"session", s.ID(), "age", s.Age(), "error", err)
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
	}
}

// Release returns a session to the idle queue. The session must not be used
// after release.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.total--
		p.mu.Unlock()
		p.slots <- struct{}{}
		return
	}
	// Queue before freeing the slot so the next acquirer sees the session;
	// this keeps the live session count at or below MaxSize.
	p.idle = append(p.idle, s)
	p.mu.Unlock()

	p.slots <- struct{}{}
}

// Health leases a session and runs the liveness probe, reporting round-trip
// latency.
func (p *Pool) Health(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	s, err := p.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer p.Release(s)

	if err := s.Ping(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Stats reports the current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:      p.total,
		Available: len(p.idle),
		Waiting:   int(p.waiting.Load()),
		MaxSize:   p.cfg.MaxSize,
	}
}

// Close stops the pool. Sessions still leased are abandoned to their
// holders; idle sessions are dropped.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.total -= len(p.idle)
	p.idle = nil
	p.mu.Unlock()

	close(p.done)
	logging.Op().Info("session pool closed")
}
