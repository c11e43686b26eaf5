package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fabriksoft/fabrikd/internal/types"
)

// Fallback pairs a durable backend with a live in-memory secondary. Writes
// always land in the in-memory map first, so a durable failure on a later
// read can still be served from it; a failed durable call is logged and
// downgraded to the in-memory result for that call only. The durable backend
// is never retried at this layer and never re-initialized before a restart.
type Fallback struct {
	durable Backend
	memory  *Memory
}

// NewFallback wraps a durable backend with an in-memory secondary.
func NewFallback(durable Backend, memory *Memory) *Fallback {
	return &Fallback{durable: durable, memory: memory}
}

// Select chooses the process-wide storage backend exactly once at startup.
// An empty connection string, or a durable backend that fails to initialize,
// selects the in-memory backend for the process lifetime with a one-time
// warning that data will not survive a restart.
func Select(connString string, retention int) Backend {
	memory := NewMemory(retention)

	if connString == "" {
		slog.Warn("database connection string not set, using in-memory storage (data will be lost on restart)")
		return memory
	}

	durable, err := NewPostgres(connString, retention)
	if err != nil {
		slog.Warn("durable backend initialization failed, using in-memory storage (data will be lost on restart)",
			"error", err)
		return memory
	}

	slog.Info("durable storage backend selected", "backend", durable.Name())
	return NewFallback(durable, memory)
}

// GetPartition reads from the durable backend, falling back to the
// in-memory secondary for this call on error.
func (f *Fallback) GetPartition(ctx context.Context, p Partition) (map[string]json.RawMessage, error) {
	doc, err := f.durable.GetPartition(ctx, p)
	if err != nil {
		slog.Error("durable read failed, serving from memory", "partition", string(p), "error", err)
		return f.memory.GetPartition(ctx, p)
	}
	return doc, nil
}

// SetPartition writes to the in-memory secondary unconditionally, then to
// the durable backend. A durable failure is logged and not surfaced.
func (f *Fallback) SetPartition(ctx context.Context, p Partition, doc map[string]json.RawMessage) error {
	if err := f.memory.SetPartition(ctx, p, doc); err != nil {
		return err
	}
	if err := f.durable.SetPartition(ctx, p, doc); err != nil {
		slog.Error("durable write failed, kept in memory", "partition", string(p), "error", err)
	}
	return nil
}

// AppendChange appends to both stores; a durable failure is logged and the
// in-memory copy stands in for this call.
func (f *Fallback) AppendChange(ctx context.Context, rec types.ChangeRecord) error {
	if err := f.memory.AppendChange(ctx, rec); err != nil {
		return err
	}
	if err := f.durable.AppendChange(ctx, rec); err != nil {
		slog.Error("durable change append failed, kept in memory", "change_id", rec.ID, "error", err)
	}
	return nil
}

// QueryChanges queries the durable backend, falling back to memory on error.
func (f *Fallback) QueryChanges(ctx context.Context, since *time.Time, batchNumber string, limit int) ([]types.ChangeRecord, error) {
	changes, err := f.durable.QueryChanges(ctx, since, batchNumber, limit)
	if err != nil {
		slog.Error("durable change query failed, serving from memory", "error", err)
		return f.memory.QueryChanges(ctx, since, batchNumber, limit)
	}
	return changes, nil
}

// LastUpdate reads the durable cursor, falling back to memory on error.
func (f *Fallback) LastUpdate(ctx context.Context) (time.Time, error) {
	last, err := f.durable.LastUpdate(ctx)
	if err != nil {
		slog.Error("durable last-update query failed, serving from memory", "error", err)
		return f.memory.LastUpdate(ctx)
	}
	return last, nil
}

// Name identifies the backend pair in health responses and logs.
func (f *Fallback) Name() string { return f.durable.Name() + "+memory" }

// Close closes the durable backend.
func (f *Fallback) Close() error { return f.durable.Close() }
