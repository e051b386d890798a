package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/planwright/planwright/internal/types"
)

// RegisterInstance records a running engine instance
func (s *SQLiteStorage) RegisterInstance(ctx context.Context, instance *types.EngineInstance) error {
	now := time.Now().UTC()
	if instance.StartedAt.IsZero() {
		instance.StartedAt = now
	}
	if instance.LastHeartbeat.IsZero() {
		instance.LastHeartbeat = now
	}
	if instance.Status == "" {
		instance.Status = "running"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_instances (instance_id, hostname, pid, status, started_at, last_heartbeat, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		instance.InstanceID, instance.Hostname, instance.PID, instance.Status,
		epoch(instance.StartedAt), epoch(instance.LastHeartbeat), instance.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to register instance %s: %w", instance.InstanceID, err)
	}
	return nil
}

// UpdateHeartbeat refreshes an instance's liveness timestamp
func (s *SQLiteStorage) UpdateHeartbeat(ctx context.Context, instanceID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE engine_instances SET last_heartbeat = ? WHERE instance_id = ?`,
		epoch(time.Now().UTC()), instanceID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat for %s: %w", instanceID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	return nil
}

// CleanupStaleInstances marks instances without a recent heartbeat as stopped.
// Returns the number of instances cleaned up.
func (s *SQLiteStorage) CleanupStaleInstances(ctx context.Context, staleSeconds int) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(staleSeconds) * time.Second)
	res, err := s.db.ExecContext(ctx,
		`UPDATE engine_instances SET status = 'stopped' WHERE status = 'running' AND last_heartbeat < ?`,
		epoch(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup stale instances: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned instances: %w", err)
	}
	return int(n), nil
}
