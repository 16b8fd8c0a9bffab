// Package circuitbreaker isolates failing embedding providers so the
// worker pool stops hammering a service that is already down.
//
// # State machine
//
// The breaker follows the standard three-state model:
//
//	Closed ──(consecutive failures ≥ FailureThreshold
//	          OR total ≥ MinRequests AND rate ≥ FailureRateThreshold)──► Open
//	  ▲                                                                    │
//	  │ SuccessThreshold consecutive                                       │ Timeout elapsed,
//	  │ successes in HalfOpen                                              │ next admission
//	  │                                                                    ▼
//	  └───────────────────────────── HalfOpen ◄────────────────────────────
//	            any failure in HalfOpen reopens immediately
//
// # Concurrency
//
// All public methods are safe for concurrent use; each acquires the
// breaker's mutex, so observers see a consistent snapshot per call. The
// Registry uses a separate read-write mutex so the common read path (an
// existing service's breaker) does not contend with registration.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/metrics"
)

// State is the breaker position.
type State int

const (
	StateClosed   State = iota // normal operation, requests pass through
	StateOpen                  // requests are rejected
	StateHalfOpen              // probe requests are allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the trip and recovery thresholds.
type Config struct {
	// FailureThreshold opens the breaker after this many consecutive
	// failures, regardless of volume.
	FailureThreshold int
	// Timeout is how long the breaker stays open before the next admission
	// attempt transitions it to half-open.
	Timeout time.Duration
	// SuccessThreshold closes a half-open breaker after this many
	// consecutive probe successes.
	SuccessThreshold int
	// FailureRateThreshold opens the breaker when the failure rate reaches
	// this fraction, but only once MinRequests calls have been observed.
	FailureRateThreshold float64
	MinRequests          int
}

// DefaultConfig matches the stock breaker used when no provider-specific
// tuning applies.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:     5,
		Timeout:              60 * time.Second,
		SuccessThreshold:     3,
		FailureRateThreshold: 0.5,
		MinRequests:          10,
	}
}

func (c Config) normalized() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 0.5
	}
	if c.MinRequests <= 0 {
		c.MinRequests = 10
	}
	return c
}

// Snapshot is a consistent view of one breaker's counters, surfaced for
// health inquiries.
type Snapshot struct {
	Service             string    `json:"service"`
	State               string    `json:"state"`
	TotalRequests       int64     `json:"total_requests"`
	FailedRequests      int64     `json:"failed_requests"`
	SuccessfulRequests  int64     `json:"successful_requests"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	LastStateChange     time.Time `json:"last_state_change"`
}

// Breaker is the per-service failure isolator.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	service string
	state   State

	total               int64
	failed              int64
	successful          int64
	consecutiveFailures int
	halfOpenSuccesses   int

	lastFailure     time.Time
	lastStateChange time.Time
}

// New creates a breaker for one service.
func New(service string, cfg Config) *Breaker {
	return &Breaker{
		cfg:             cfg.normalized(),
		service:         service,
		lastStateChange: time.Now(),
	}
}

// transition moves the breaker to a new state. A transition to the same
// state is a no-op. Must be called under lock.
func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.lastStateChange = now
	if to == StateHalfOpen {
		b.halfOpenSuccesses = 0
	}

	metrics.RecordCircuitBreakerState(b.service, to.String())
	logging.Op().Info("circuit breaker state changed",
		"service", b.service, "from", from.String(), "to", to.String())
}

// ShouldAllow reports whether a request may proceed. In the open state the
// first admission attempt after Timeout flips the breaker to half-open and
// is itself admitted as the probe.
func (b *Breaker) ShouldAllow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.lastStateChange) >= b.cfg.Timeout {
			b.transition(StateHalfOpen, now)
			return true
		}
		return false
	case StateHalfOpen:
		return true
	}
	return true
}

// RecordSuccess notes a completed call. In half-open, enough consecutive
// successes close the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	b.successful++
	b.consecutiveFailures = 0

	if b.state == StateHalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.transition(StateClosed, time.Now())
		}
	}
}

// RecordFailure notes a failed call. In closed it may trip the breaker; in
// half-open it reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.total++
	b.failed++
	b.consecutiveFailures++
	b.lastFailure = now

	switch b.state {
	case StateClosed:
		// The consecutive-failure trip fires first; the rate trip needs
		// MinRequests of volume before it is trusted.
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			logging.Op().Warn("circuit breaker tripped on consecutive failures",
				"service", b.service, "consecutive", b.consecutiveFailures)
			b.transition(StateOpen, now)
			return
		}
		if b.total >= int64(b.cfg.MinRequests) {
			rate := float64(b.failed) / float64(b.total)
			if rate >= b.cfg.FailureRateThreshold {
				logging.Op().Warn("circuit breaker tripped on failure rate",
					"service", b.service, "rate", rate, "total", b.total)
				b.transition(StateOpen, now)
			}
		}
	case StateHalfOpen:
		logging.Op().Warn("circuit breaker probe failed, reopening", "service", b.service)
		b.transition(StateOpen, now)
	}
}

// State returns the current position, applying the open→half-open timeout
// transition if it is due.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.lastStateChange) >= b.cfg.Timeout {
		b.transition(StateHalfOpen, time.Now())
	}
	return b.state
}

// Snapshot captures the counters for monitoring.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Service:             b.service,
		State:               b.state.String(),
		TotalRequests:       b.total,
		FailedRequests:      b.failed,
		SuccessfulRequests:  b.successful,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailure:         b.lastFailure,
		LastStateChange:     b.lastStateChange,
	}
}

// Registry holds per-service breakers.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
}

// NewRegistry creates a registry whose unregistered services get defaults.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults.normalized(),
	}
}

// Register installs a breaker with service-specific thresholds, replacing
// any existing one.
func (r *Registry) Register(service string, cfg Config) *Breaker {
	b := New(service, cfg)
	r.mu.Lock()
	r.breakers[service] = b
	r.mu.Unlock()
	return b
}

// Get returns the breaker for a service, creating one with the registry
// defaults on first use.
func (r *Registry) Get(service string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double check
	if b, ok := r.breakers[service]; ok {
		return b
	}
	b = New(service, r.defaults)
	r.breakers[service] = b
	return b
}

// Snapshots returns every breaker's counters for observability.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
