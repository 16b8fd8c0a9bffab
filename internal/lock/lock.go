// Package lock coordinates record ownership across pipeline instances via
// database-backed processing locks.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/embedstar/internal/db"
	"github.com/oriys/embedstar/internal/embederr"
	"github.com/oriys/embedstar/internal/logging"
)

// DefaultDuration is the lease length granted on acquisition. Expired leases
// are reclaimable by any instance, so crashed holders stall a record for at
// most this long.
const DefaultDuration = 300 * time.Second

const instancePrefix = "embed_star_"

// ProcessingLock is one lock row, surfaced for monitoring.
type ProcessingLock struct {
	ID               string    `json:"id"`
	RepoID           string    `json:"repo_id"`
	InstanceID       string    `json:"instance_id"`
	LockedAt         time.Time `json:"locked_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	ProcessingStatus string    `json:"processing_status"`
}

// Manager owns this process's lock identity.
type Manager struct {
	pool       *db.Pool
	instanceID string
	duration   time.Duration
}

// NewManager mints a fresh instance identity.
func NewManager(pool *db.Pool) *Manager {
	m := &Manager{
		pool:       pool,
		instanceID: instancePrefix + uuid.NewString(),
		duration:   DefaultDuration,
	}
	logging.Op().Info("lock manager ready", "instance_id", m.instanceID)
	return m
}

// InstanceID returns this process's lock identity.
func (m *Manager) InstanceID() string { return m.instanceID }

func (m *Manager) query(ctx context.Context, sql string, vars map[string]any) (*db.Response, error) {
	sess, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, embederr.Wrap(embederr.Database, fmt.Errorf("acquire session: %w", err))
	}
	defer m.pool.Release(sess)

	resp, err := sess.Query(ctx, sql, vars)
	if err != nil {
		return nil, embederr.Wrap(embederr.Database, err)
	}
	return resp, nil
}

// TryAcquire attempts to lock a record for this instance. False means
// another live instance holds it.
func (m *Manager) TryAcquire(ctx context.Context, recordID string) (bool, error) {
	resp, err := m.query(ctx,
		"RETURN fn::acquire_processing_lock($repo_id, $instance_id, $duration)",
		map[string]any{
			"repo_id":     recordID,
			"instance_id": m.instanceID,
			"duration":    int64(m.duration.Seconds()),
		})
	if err != nil {
		return false, err
	}

	var acquired bool
	if err := resp.Take(0, &acquired); err != nil {
		return false, embederr.Wrap(embederr.Database, err)
	}

	if acquired {
		logging.Op().Debug("acquired processing lock", "record", recordID)
	} else {
		logging.Op().Debug("record already locked elsewhere", "record", recordID)
	}
	return acquired, nil
}

// Release ends this instance's lease with a terminal status
// ("completed" or "failed").
func (m *Manager) Release(ctx context.Context, recordID, status string) error {
	_, err := m.query(ctx,
		"RETURN fn::release_processing_lock($repo_id, $instance_id, $status)",
		map[string]any{
			"repo_id":     recordID,
			"instance_id": m.instanceID,
			"status":      status,
		})
	if err != nil {
		return err
	}

	logging.Op().Debug("released processing lock", "record", recordID, "status", status)
	return nil
}

// Extend lengthens a still-owned lease. False means the lease expired or
// changed hands.
func (m *Manager) Extend(ctx context.Context, recordID string, additional time.Duration) (bool, error) {
	resp, err := m.query(ctx,
		"RETURN fn::extend_processing_lock($repo_id, $instance_id, $additional_seconds)",
		map[string]any{
			"repo_id":            recordID,
			"instance_id":        m.instanceID,
			"additional_seconds": int64(additional.Seconds()),
		})
	if err != nil {
		return false, err
	}

	var raw json.RawMessage
	if err := resp.Take(0, &raw); err != nil {
		return false, embederr.Wrap(embederr.Database, err)
	}

	extended := len(raw) > 0 && string(raw) != "null"
	if !extended {
		logging.Op().Warn("could not extend lock, lease may have expired", "record", recordID)
	}
	return extended, nil
}

// CleanupExpired removes every lapsed lease, regardless of owner.
func (m *Manager) CleanupExpired(ctx context.Context) error {
	if _, err := m.query(ctx, "RETURN fn::cleanup_expired_locks()", nil); err != nil {
		return err
	}
	logging.Op().Debug("cleaned up expired processing locks")
	return nil
}

// ActiveLockCount counts live leases held by this instance.
func (m *Manager) ActiveLockCount(ctx context.Context) (int, error) {
	resp, err := m.query(ctx,
		"SELECT count() FROM processing_lock WHERE instance_id = $instance_id AND expires_at > time::now() GROUP ALL",
		map[string]any{"instance_id": m.instanceID})
	if err != nil {
		return 0, err
	}

	var row struct {
		Count int `json:"count"`
	}
	found, err := resp.TakeFirst(0, &row)
	if err != nil {
		return 0, embederr.Wrap(embederr.Database, err)
	}
	if !found {
		return 0, nil
	}
	return row.Count, nil
}

// ActiveLocks lists every live lease, newest first, for monitoring.
func (m *Manager) ActiveLocks(ctx context.Context) ([]ProcessingLock, error) {
	resp, err := m.query(ctx,
		"SELECT * FROM processing_lock WHERE expires_at > time::now() ORDER BY locked_at DESC", nil)
	if err != nil {
		return nil, err
	}

	var locks []ProcessingLock
	if err := resp.Take(0, &locks); err != nil {
		return nil, embederr.Wrap(embederr.Database, err)
	}
	return locks, nil
}
