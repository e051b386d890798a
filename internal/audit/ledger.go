// Package audit implements the hash-chained action ledger and the operator
// audit log. Chain entries are append-only; each hash commits to the previous
// entry's hash, so any out-of-band edit is detectable by re-walking the chain.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// GenesisHash is the fixed previous-hash sentinel for the first entry of
// every tenant's chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ChainEntry is one immutable link in a tenant's audit chain
type ChainEntry struct {
	TenantID  string    `json:"tenant_id"`
	Seq       int64     `json:"seq"`
	EventType EventType `json:"event_type"`
	Payload   string    `json:"payload"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// OperatorLogEntry is one row per privileged action attempt, success or failure
type OperatorLogEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	TenantID   string    `json:"tenant_id"`
	Action     string    `json:"action"`
	Resource   string    `json:"resource_type"`
	ResourceID string    `json:"resource_id"`
	Metadata   string    `json:"metadata,omitempty"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the persistence surface the ledger needs. Implemented by the
// sqlite storage backend.
type Store interface {
	LastChainEntry(ctx context.Context, tenantID string) (*ChainEntry, error)
	AppendChainEntry(ctx context.Context, entry *ChainEntry) error
	ListChainEntries(ctx context.Context, tenantID string, fromSeq int64, limit int) ([]*ChainEntry, error)
	RecordOperatorLog(ctx context.Context, entry *OperatorLogEntry) error
}

// ComputeHash digests prevHash ‖ eventType ‖ payload ‖ timestamp with SHA-256.
// The timestamp is the entry's creation time in epoch seconds.
func ComputeHash(prevHash, eventType, payload string, createdAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(eventType))
	h.Write([]byte(payload))
	h.Write([]byte(strconv.FormatInt(createdAt.Unix(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Ledger appends governed state changes to a per-tenant hash chain.
// Sequence and hash assignment is serialized per tenant so concurrent appends
// cannot produce duplicate or out-of-order sequence numbers.
type Ledger struct {
	store Store

	mu      sync.Mutex
	tenants map[string]*sync.Mutex
}

// NewLedger creates a ledger over the given store
func NewLedger(store Store) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Ledger{
		store:   store,
		tenants: make(map[string]*sync.Mutex),
	}, nil
}

func (l *Ledger) tenantLock(tenantID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.tenants[tenantID]
	if !ok {
		m = &sync.Mutex{}
		l.tenants[tenantID] = m
	}
	return m
}

// Append adds one entry to the tenant's chain. The payload is serialized to
// JSON and committed into the hash.
func (l *Ledger) Append(ctx context.Context, tenantID string, eventType EventType, payload interface{}) (*ChainEntry, error) {
	if tenantID == "" {
		tenantID = "default"
	}
	if eventType == "" {
		return nil, fmt.Errorf("event type is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	lock := l.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := l.store.LastChainEntry(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain head for tenant %s: %w", tenantID, err)
	}

	prevHash := GenesisHash
	var seq int64 = 1
	if prev != nil {
		prevHash = prev.Hash
		seq = prev.Seq + 1
	}

	now := time.Now().UTC().Truncate(time.Second)
	entry := &ChainEntry{
		TenantID:  tenantID,
		Seq:       seq,
		EventType: eventType,
		Payload:   string(data),
		PrevHash:  prevHash,
		Hash:      ComputeHash(prevHash, string(eventType), string(data), now),
		CreatedAt: now,
	}

	if err := l.store.AppendChainEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append chain entry seq=%d for tenant %s: %w", seq, tenantID, err)
	}
	return entry, nil
}

// RecordOperator writes one operator audit log row. Failures of privileged
// actions are recorded the same way as successes, with Success=false.
func (l *Ledger) RecordOperator(ctx context.Context, entry *OperatorLogEntry) error {
	if entry.TenantID == "" {
		entry.TenantID = "default"
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := l.store.RecordOperatorLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to record operator audit log: %w", err)
	}
	return nil
}

// VerifyResult reports the outcome of a chain verification walk
type VerifyResult struct {
	TenantID   string `json:"tenant_id"`
	Entries    int    `json:"entries"`
	Valid      bool   `json:"valid"`
	BrokenSeq  int64  `json:"broken_seq,omitempty"`
	BrokenNote string `json:"broken_note,omitempty"`
}

// Verify re-walks the tenant's chain from the genesis sentinel, recomputing
// each hash. The first divergence marks the entry (or an ancestor) as altered.
func (l *Ledger) Verify(ctx context.Context, tenantID string) (*VerifyResult, error) {
	if tenantID == "" {
		tenantID = "default"
	}
	result := &VerifyResult{TenantID: tenantID, Valid: true}

	const batch = 500
	prevHash := GenesisHash
	var expectSeq int64 = 1

	for {
		entries, err := l.store.ListChainEntries(ctx, tenantID, expectSeq, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to list chain entries for tenant %s: %w", tenantID, err)
		}
		if len(entries) == 0 {
			return result, nil
		}
		for _, e := range entries {
			result.Entries++
			if e.Seq != expectSeq {
				result.Valid = false
				result.BrokenSeq = e.Seq
				result.BrokenNote = fmt.Sprintf("sequence gap: expected %d, found %d", expectSeq, e.Seq)
				return result, nil
			}
			if e.PrevHash != prevHash {
				result.Valid = false
				result.BrokenSeq = e.Seq
				result.BrokenNote = "previous-hash link does not match prior entry"
				return result, nil
			}
			recomputed := ComputeHash(e.PrevHash, string(e.EventType), e.Payload, e.CreatedAt)
			if recomputed != e.Hash {
				result.Valid = false
				result.BrokenSeq = e.Seq
				result.BrokenNote = "stored hash does not match recomputed hash"
				return result, nil
			}
			prevHash = e.Hash
			expectSeq++
		}
		if len(entries) < batch {
			return result, nil
		}
	}
}
