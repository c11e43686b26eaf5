// Package sync drains the local mutation journal to the remote store. One
// drain runs at a time; each queue item is applied independently so a single
// bad item cannot block the rest of the queue.
package sync

import (
	"context"
	"errors"

	"github.com/fabriksoft/fabrikd/internal/localdb"
)

var (
	// ErrDrainInProgress is returned when a drain is requested while another
	// one is still running.
	ErrDrainInProgress = errors.New("sync already in progress")

	// ErrRemoteUnavailable is returned when the remote store cannot be
	// reached. Queued items are left untouched for the next cycle.
	ErrRemoteUnavailable = errors.New("remote store unavailable")
)

// Queue is the journal the engine drains.
type Queue interface {
	QueueItems(ctx context.Context) ([]localdb.QueueItem, error)
	RemoveQueueItem(ctx context.Context, id int64) error
	RecordQueueFailure(ctx context.Context, id int64, message string) error
	MarkSynced(ctx context.Context, table, recordID string) error
}

// Applier replays one queued mutation against the remote store.
type Applier interface {
	Ping(ctx context.Context) error
	Apply(ctx context.Context, item localdb.QueueItem) error
}

// ItemError describes one queue item that failed to apply.
type ItemError struct {
	Table string `json:"table"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

// DrainResult summarizes one drain cycle.
type DrainResult struct {
	Synced int         `json:"synced"`
	Failed int         `json:"failed"`
	Dead   int         `json:"dead"`
	Errors []ItemError `json:"errors,omitempty"`
}
