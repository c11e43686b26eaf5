package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fabriksoft/fabrikd/internal/types"
)

// Partition identifies one of the closed set of logical storage partitions.
type Partition string

const (
	PartitionQuality  Partition = "quality"
	PartitionShipment Partition = "shipment"
)

// DefaultRetention is the number of change records kept before the oldest
// are evicted, and also the maximum number returned by a single query.
const DefaultRetention = 1000

var (
	// ErrNotFound is returned when a batch has no stored record.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownPartition is returned for a partition outside the closed set.
	ErrUnknownPartition = errors.New("unknown partition")
)

// Backend is the uniform storage contract shared by the durable and the
// in-memory implementations. A partition value is the complete keyed map for
// that partition; SetPartition replaces the stored entries for every key
// present in the map.
//
// AppendChange is idempotent on the record ID: appending a record whose ID
// already exists is a no-op, never an error. Implementations enforce the
// retention cap by evicting the oldest records after an append.
type Backend interface {
	GetPartition(ctx context.Context, p Partition) (map[string]json.RawMessage, error)
	SetPartition(ctx context.Context, p Partition, doc map[string]json.RawMessage) error

	AppendChange(ctx context.Context, rec types.ChangeRecord) error
	// QueryChanges returns records newest-first, excluding records with
	// Timestamp <= since (when since is non-nil) and, when batchNumber is
	// non-empty, records for other batches. At most limit records are
	// returned.
	QueryChanges(ctx context.Context, since *time.Time, batchNumber string, limit int) ([]types.ChangeRecord, error)
	// LastUpdate returns the timestamp of the most recent change record,
	// or the current time when the log is empty.
	LastUpdate(ctx context.Context) (time.Time, error)

	Name() string
	Close() error
}

func validPartition(p Partition) bool {
	return p == PartitionQuality || p == PartitionShipment
}
