package store

import (
	"context"
	"time"

	"github.com/fabriksoft/fabrikd/internal/types"
	"github.com/oklog/ulid/v2"
)

// ChangeLog is the capped, append-only, idempotent-insert event history used
// for cursor-based convergence between independent clients.
type ChangeLog struct {
	backend Backend
}

// NewChangeLog creates a change log over the given backend.
func NewChangeLog(backend Backend) *ChangeLog {
	return &ChangeLog{backend: backend}
}

// Append stores a change record and returns its ID. A missing ID is assigned
// a fresh ULID, a zero timestamp becomes now, and an empty source becomes
// "unknown". Appending an ID that already exists is a no-op.
func (l *ChangeLog) Append(ctx context.Context, rec types.ChangeRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Source == "" {
		rec.Source = "unknown"
	}

	if err := l.backend.AppendChange(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Query returns records newest-first, excluding records with
// Timestamp <= since and, when batchNumber is set, other batches.
// At most DefaultRetention records are returned.
func (l *ChangeLog) Query(ctx context.Context, since *time.Time, batchNumber string) ([]types.ChangeRecord, error) {
	return l.backend.QueryChanges(ctx, since, batchNumber, DefaultRetention)
}

// LastUpdate returns the cursor position of the newest record.
func (l *ChangeLog) LastUpdate(ctx context.Context) (time.Time, error) {
	return l.backend.LastUpdate(ctx)
}
