package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/planwright/planwright/internal/audit"
)

// LastChainEntry returns the highest-sequence entry for a tenant, or nil
func (s *SQLiteStorage) LastChainEntry(ctx context.Context, tenantID string) (*audit.ChainEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, seq, event_type, payload, prev_hash, hash, created_at
		FROM audit_chain WHERE tenant_id = ? ORDER BY seq DESC LIMIT 1`, tenantID)
	e, err := scanChainEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chain head for tenant %s: %w", tenantID, err)
	}
	return e, nil
}

// AppendChainEntry inserts one chain entry. The (tenant_id, seq) primary key
// rejects duplicate sequence numbers outright.
func (s *SQLiteStorage) AppendChainEntry(ctx context.Context, entry *audit.ChainEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_chain (tenant_id, seq, event_type, payload, prev_hash, hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.TenantID, entry.Seq, entry.EventType, entry.Payload,
		entry.PrevHash, entry.Hash, epoch(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append chain entry seq=%d: %w", entry.Seq, err)
	}
	return nil
}

// ListChainEntries retrieves entries from a sequence number onward, in order
func (s *SQLiteStorage) ListChainEntries(ctx context.Context, tenantID string, fromSeq int64, limit int) ([]*audit.ChainEntry, error) {
	query := `
		SELECT tenant_id, seq, event_type, payload, prev_hash, hash, created_at
		FROM audit_chain WHERE tenant_id = ? AND seq >= ? ORDER BY seq`
	args := []interface{}{tenantID, fromSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chain entries for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var entries []*audit.ChainEntry
	for rows.Next() {
		e, err := scanChainEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chain entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanChainEntry(scan func(dest ...interface{}) error) (*audit.ChainEntry, error) {
	var e audit.ChainEntry
	var created int64
	err := scan(&e.TenantID, &e.Seq, &e.EventType, &e.Payload, &e.PrevHash, &e.Hash, &created)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = fromEpoch(created)
	return &e, nil
}

// RecordOperatorLog inserts one operator audit log row
func (s *SQLiteStorage) RecordOperatorLog(ctx context.Context, entry *audit.OperatorLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	success := 0
	if entry.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operator_audit_log (id, user_id, tenant_id, action, resource_type, resource_id, metadata, ip, user_agent, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.TenantID, entry.Action, entry.Resource,
		entry.ResourceID, entry.Metadata, entry.IP, entry.UserAgent, success,
		entry.Error, epoch(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record operator log for %s: %w", entry.UserID, err)
	}
	return nil
}

// ListOperatorLog retrieves operator log rows for a tenant, newest first
func (s *SQLiteStorage) ListOperatorLog(ctx context.Context, tenantID string, limit int) ([]*audit.OperatorLogEntry, error) {
	query := `
		SELECT id, user_id, tenant_id, action, resource_type, resource_id, metadata, ip, user_agent, success, error, created_at
		FROM operator_audit_log WHERE tenant_id = ? ORDER BY created_at DESC, id DESC`
	args := []interface{}{tenantID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operator log for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var entries []*audit.OperatorLogEntry
	for rows.Next() {
		var e audit.OperatorLogEntry
		var success int
		var created int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.TenantID, &e.Action, &e.Resource,
			&e.ResourceID, &e.Metadata, &e.IP, &e.UserAgent, &success, &e.Error, &created); err != nil {
			return nil, fmt.Errorf("failed to scan operator log entry: %w", err)
		}
		e.Success = success == 1
		e.CreatedAt = fromEpoch(created)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
