package lock

import (
	"context"

	"github.com/oriys/embedstar/internal/logging"
)

// Terminal lease statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Guard binds one acquired lease to an explicit release. Release is a
// lifecycle step, not a destructor: a guard that is never released is a
// bug upstream, bounded by the lease TTL.
type Guard struct {
	m        *Manager
	recordID string
	released bool
}

// Acquire attempts to lock a record and returns a guard on success. A nil
// guard with nil error means another instance holds the record.
func (m *Manager) Acquire(ctx context.Context, recordID string) (*Guard, error) {
	acquired, err := m.TryAcquire(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, nil
	}
	return &Guard{m: m, recordID: recordID}, nil
}

// RecordID identifies the guarded record.
func (g *Guard) RecordID() string { return g.recordID }

// Release ends the lease with a terminal status. Calling it again is a
// logged no-op.
func (g *Guard) Release(ctx context.Context, status string) error {
	if g.released {
		logging.Op().Warn("lease guard released twice", "record", g.recordID)
		return nil
	}
	g.released = true
	return g.m.Release(ctx, g.recordID, status)
}

// Released reports whether the guard has been explicitly released.
func (g *Guard) Released() bool { return g.released }
