// Package worker drives the embedding pipeline: discovery of records
// needing work, the per-record lifecycle, batched write-back and the
// maintenance janitor.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/oriys/embedstar/internal/logging"
	"github.com/oriys/embedstar/internal/shutdown"
	"github.com/oriys/embedstar/internal/store"
)

const (
	// backlogLimit sizes the initial catch-up scans.
	backlogLimit = 100
	// backlogIdleSleep paces consecutive non-empty backlog scans.
	backlogIdleSleep = 100 * time.Millisecond
	// backlogErrorSleep backs off after a failed backlog scan.
	backlogErrorSleep = 5 * time.Second

	// pollLimit sizes the periodic change scans.
	pollLimit = 50
	// pollInterval paces the change poller.
	pollInterval = 5 * time.Second

	// seenCapacity bounds the poller's recently-enqueued set.
	seenCapacity = 10000
	// seenClearTicks forces a periodic reset of the seen set so records
	// that failed processing become eligible again.
	seenClearTicks = 100
)

// Discovery feeds record summaries from the database into one bounded
// channel. Two producers run: a backlog scanner that drains the initial
// pile and exits on the first empty result, and a change poller that runs
// for the process lifetime.
type Discovery struct {
	store *store.Store
	ctrl  *shutdown.Controller
	ch    chan store.Repo
	wg    sync.WaitGroup

	// pacing, overridable in tests
	idleSleep    time.Duration
	errorSleep   time.Duration
	pollInterval time.Duration
}

// NewDiscovery builds the sources with the given channel bound.
func NewDiscovery(s *store.Store, ctrl *shutdown.Controller, buffer int) *Discovery {
	if buffer <= 0 {
		buffer = 64
	}
	return &Discovery{
		store:        s,
		ctrl:         ctrl,
		ch:           make(chan store.Repo, buffer),
		idleSleep:    backlogIdleSleep,
		errorSleep:   backlogErrorSleep,
		pollInterval: pollInterval,
	}
}

// Channel is the consumer side. It closes once both producers have exited.
func (d *Discovery) Channel() <-chan store.Repo { return d.ch }

// Start launches both producers. The channel closes when they finish.
func (d *Discovery) Start(ctx context.Context) {
	d.wg.Add(2)
	backlogDone := d.ctrl.Register("backlog-scanner")
	pollerDone := d.ctrl.Register("change-poller")

	go func() {
		defer d.wg.Done()
		defer backlogDone()
		d.runBacklog(ctx)
	}()
	go func() {
		defer d.wg.Done()
		defer pollerDone()
		d.runPoller(ctx)
	}()

	go func() {
		d.wg.Wait()
		close(d.ch)
	}()
}

// enqueue sends one record, racing the shutdown broadcast. False means the
// pipeline is stopping.
func (d *Discovery) enqueue(r store.Repo) bool {
	select {
	case d.ch <- r:
		return true
	case <-d.ctrl.Done():
		return false
	}
}

// sleep waits the duration unless shutdown fires first. False on shutdown.
func (d *Discovery) sleep(dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-d.ctrl.Done():
		return false
	}
}

// runBacklog drains the initial pile of records needing embeddings. It
// terminates on the first empty scan; the poller owns liveness from there.
func (d *Discovery) runBacklog(ctx context.Context) {
	logging.Op().Info("backlog scanner started", "limit", backlogLimit)

	total := 0
	for {
		if d.ctrl.Triggered() {
			return
		}

		repos, err := d.store.ReposNeedingEmbeddings(ctx, backlogLimit)
		if err != nil {
			logging.Op().Error("backlog scan failed", "error", err)
			if !d.sleep(d.errorSleep) {
				return
			}
			continue
		}

		if len(repos) == 0 {
			logging.Op().Info("backlog drained", "enqueued", total)
			return
		}

		for _, r := range repos {
			if !d.enqueue(r) {
				return
			}
			total++
		}

		if !d.sleep(d.idleSleep) {
			return
		}
	}
}

// runPoller watches for changed records every pollInterval for the process
// lifetime. A bounded seen set keeps one noisy record from flooding the
// channel between write-backs.
func (d *Discovery) runPoller(ctx context.Context) {
	logging.Op().Info("change poller started", "interval", d.pollInterval, "limit", pollLimit)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	seen := make(map[string]struct{}, seenCapacity)
	ticks := 0

	for {
		select {
		case <-d.ctrl.Done():
			logging.Op().Info("change poller stopped")
			return
		case <-ticker.C:
		}

		ticks++
		if ticks%seenClearTicks == 0 || len(seen) > seenCapacity {
			seen = make(map[string]struct{}, seenCapacity)
		}

		repos, err := d.store.ReposNeedingEmbeddings(ctx, pollLimit)
		if err != nil {
			logging.Op().Error("change poll failed", "error", err)
			continue
		}

		for _, r := range repos {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			if !d.enqueue(r) {
				return
			}
		}
	}
}
