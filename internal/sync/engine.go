package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
)

// DefaultMaxAttempts is the dead-letter threshold: items that failed this
// many times are skipped by later drains.
const DefaultMaxAttempts = 10

// Engine drains the local sync queue to the remote store.
type Engine struct {
	queue       Queue
	remote      Applier
	maxAttempts int

	mu stdsync.Mutex
}

// NewEngine creates a drain engine. remote may be nil when no remote store
// is configured; drains then fail with ErrRemoteUnavailable.
func NewEngine(queue Queue, remote Applier, maxAttempts int) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Engine{
		queue:       queue,
		remote:      remote,
		maxAttempts: maxAttempts,
	}
}

// Drain replays every queued mutation against the remote store in enqueue
// order. Items that fail stay queued with their attempt counter bumped;
// items past the attempt threshold are skipped and counted as dead. Only
// one drain runs at a time.
func (e *Engine) Drain(ctx context.Context) (*DrainResult, error) {
	if !e.mu.TryLock() {
		return nil, ErrDrainInProgress
	}
	defer e.mu.Unlock()

	if e.remote == nil {
		return nil, ErrRemoteUnavailable
	}
	if err := e.remote.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	items, err := e.queue.QueueItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sync queue: %w", err)
	}

	slog.Info("sync drain started",
		"component", "sync",
		"action", "drain_started",
		"queued", len(items),
	)

	result := &DrainResult{}
	for _, item := range items {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if item.Attempts >= e.maxAttempts {
			result.Dead++
			continue
		}

		if err := e.remote.Apply(ctx, item); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{
				Table: item.Table,
				ID:    item.RecordID,
				Error: err.Error(),
			})
			slog.Warn("sync item failed",
				"component", "sync",
				"action", "item_failed",
				"table", item.Table,
				"record_id", item.RecordID,
				"error", err,
			)

			if err := e.queue.RecordQueueFailure(ctx, item.ID, err.Error()); err != nil {
				slog.Error("failed to record sync failure",
					"component", "sync",
					"action", "record_failure_failed",
					"item_id", item.ID,
					"error", err,
				)
			}
			continue
		}

		if err := e.queue.MarkSynced(ctx, item.Table, item.RecordID); err != nil {
			slog.Error("failed to mark record synced",
				"component", "sync",
				"action", "mark_synced_failed",
				"table", item.Table,
				"record_id", item.RecordID,
				"error", err,
			)
		}
		if err := e.queue.RemoveQueueItem(ctx, item.ID); err != nil {
			// The mutation reached the remote. Leaving the row behind only
			// means one redundant, idempotent replay next cycle.
			slog.Error("failed to remove queue item",
				"component", "sync",
				"action", "remove_item_failed",
				"item_id", item.ID,
				"error", err,
			)
		}
		result.Synced++
	}

	slog.Info("sync drain finished",
		"component", "sync",
		"action", "drain_finished",
		"synced", result.Synced,
		"failed", result.Failed,
		"dead", result.Dead,
	)

	return result, nil
}
