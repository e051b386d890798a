package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for ledger tests
type memStore struct {
	mu     sync.Mutex
	chains map[string][]*ChainEntry
	oplog  []*OperatorLogEntry
}

func newMemStore() *memStore {
	return &memStore{chains: make(map[string][]*ChainEntry)}
}

func (m *memStore) LastChainEntry(ctx context.Context, tenantID string) (*ChainEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.chains[tenantID]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1], nil
}

func (m *memStore) AppendChainEntry(ctx context.Context, entry *ChainEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[entry.TenantID] = append(m.chains[entry.TenantID], entry)
	return nil
}

func (m *memStore) ListChainEntries(ctx context.Context, tenantID string, fromSeq int64, limit int) ([]*ChainEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ChainEntry
	for _, e := range m.chains[tenantID] {
		if e.Seq >= fromSeq {
			out = append(out, e)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) RecordOperatorLog(ctx context.Context, entry *OperatorLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oplog = append(m.oplog, entry)
	return nil
}

func TestLedgerAppendAndVerify(t *testing.T) {
	store := newMemStore()
	ledger, err := NewLedger(store)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		entry, err := ledger.Append(ctx, "default", "phase_advanced", map[string]any{"step": i})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), entry.Seq)
	}

	// The first entry links to the genesis sentinel
	assert.Equal(t, GenesisHash, store.chains["default"][0].PrevHash)

	result, err := ledger.Verify(ctx, "default")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 5, result.Entries)
}

func TestLedgerDetectsTamperedPayload(t *testing.T) {
	store := newMemStore()
	ledger, err := NewLedger(store)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := ledger.Append(ctx, "default", "review_recorded", map[string]any{"n": i})
		require.NoError(t, err)
	}

	// Flip one byte of a stored payload out-of-band
	store.chains["default"][1].Payload = `{"n":9}`

	result, err := ledger.Verify(ctx, "default")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, int64(2), result.BrokenSeq)
}

func TestLedgerDetectsBrokenLink(t *testing.T) {
	store := newMemStore()
	ledger, err := NewLedger(store)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := ledger.Append(ctx, "default", "handoff_created", nil)
		require.NoError(t, err)
	}

	// Rewriting one hash breaks the link for the following entry
	e := store.chains["default"][1]
	e.Hash = ComputeHash(e.PrevHash, string(e.EventType), `{"forged":true}`, e.CreatedAt)

	result, err := ledger.Verify(ctx, "default")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, int64(2), result.BrokenSeq)
}

func TestLedgerTenantsAreIndependent(t *testing.T) {
	store := newMemStore()
	ledger, err := NewLedger(store)
	require.NoError(t, err)

	ctx := context.Background()
	a, err := ledger.Append(ctx, "tenant-a", "run_created", nil)
	require.NoError(t, err)
	b, err := ledger.Append(ctx, "tenant-b", "run_created", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.Seq)
	assert.Equal(t, int64(1), b.Seq)
	assert.Equal(t, GenesisHash, a.PrevHash)
	assert.Equal(t, GenesisHash, b.PrevHash)
}

func TestLedgerConcurrentAppends(t *testing.T) {
	store := newMemStore()
	ledger, err := NewLedger(store)
	require.NoError(t, err)

	ctx := context.Background()
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.Append(ctx, "default", "concurrent", map[string]any{"i": i})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	result, err := ledger.Verify(ctx, "default")
	require.NoError(t, err)
	assert.True(t, result.Valid, "broken at seq %d: %s", result.BrokenSeq, result.BrokenNote)
	assert.Equal(t, n, result.Entries)
}

func TestRecordOperatorDefaultsTenant(t *testing.T) {
	store := newMemStore()
	ledger, err := NewLedger(store)
	require.NoError(t, err)

	err = ledger.RecordOperator(context.Background(), &OperatorLogEntry{
		UserID:  "op-1",
		Action:  "review.approve",
		Success: false,
		Error:   "permission denied",
	})
	require.NoError(t, err)
	require.Len(t, store.oplog, 1)
	assert.Equal(t, "default", store.oplog[0].TenantID)
	assert.False(t, store.oplog[0].Success)
}
