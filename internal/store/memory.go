package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fabriksoft/fabrikd/internal/types"
)

// Memory is the in-memory storage backend. It serves two roles: the sole
// backend when no durable configuration is present, and the live secondary
// that absorbs call-level fallback writes when the durable backend fails.
//
// All methods are safe for concurrent use. Data does not survive a restart.
type Memory struct {
	mu         sync.RWMutex
	partitions map[Partition]map[string]json.RawMessage
	changes    []types.ChangeRecord
	changeIDs  map[string]struct{}
	retention  int
	lastUpdate time.Time
}

// NewMemory creates an empty in-memory backend keeping at most retention
// change records. A retention of zero or less uses DefaultRetention.
func NewMemory(retention int) *Memory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Memory{
		partitions: make(map[Partition]map[string]json.RawMessage),
		changeIDs:  make(map[string]struct{}),
		retention:  retention,
	}
}

// GetPartition returns a copy of the stored map for the partition.
func (m *Memory) GetPartition(_ context.Context, p Partition) (map[string]json.RawMessage, error) {
	if !validPartition(p) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartition, p)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc := make(map[string]json.RawMessage, len(m.partitions[p]))
	for k, v := range m.partitions[p] {
		doc[k] = v
	}
	return doc, nil
}

// SetPartition replaces the stored entries for every key present in doc.
func (m *Memory) SetPartition(_ context.Context, p Partition, doc map[string]json.RawMessage) error {
	if !validPartition(p) {
		return fmt.Errorf("%w: %s", ErrUnknownPartition, p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.partitions[p]
	if stored == nil {
		stored = make(map[string]json.RawMessage, len(doc))
		m.partitions[p] = stored
	}
	for k, v := range doc {
		stored[k] = v
	}
	return nil
}

// AppendChange appends a change record, ignoring duplicates by ID and
// evicting the oldest records beyond the retention cap. Insertion order is
// preserved so that trimming always drops the oldest entries first.
func (m *Memory) AppendChange(_ context.Context, rec types.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.changeIDs[rec.ID]; dup {
		return nil
	}

	m.changes = append(m.changes, rec)
	m.changeIDs[rec.ID] = struct{}{}
	m.lastUpdate = time.Now().UTC()

	if excess := len(m.changes) - m.retention; excess > 0 {
		for _, old := range m.changes[:excess] {
			delete(m.changeIDs, old.ID)
		}
		m.changes = append([]types.ChangeRecord(nil), m.changes[excess:]...)
	}
	return nil
}

// QueryChanges filters and returns records newest-first.
func (m *Memory) QueryChanges(_ context.Context, since *time.Time, batchNumber string, limit int) ([]types.ChangeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]types.ChangeRecord, 0, len(m.changes))
	for _, rec := range m.changes {
		if since != nil && !rec.Timestamp.After(*since) {
			continue
		}
		if batchNumber != "" && rec.BatchNumber != batchNumber {
			continue
		}
		matched = append(matched, rec)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// LastUpdate returns the time of the most recent append, or now when the
// log is empty.
func (m *Memory) LastUpdate(_ context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastUpdate.IsZero() {
		return time.Now().UTC(), nil
	}
	return m.lastUpdate, nil
}

// Name identifies the backend in health responses and logs.
func (m *Memory) Name() string { return "memory" }

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error { return nil }
