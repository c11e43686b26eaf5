package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	fabsync "github.com/fabriksoft/fabrikd/internal/sync"
)

// Drainer runs one sync drain cycle.
// This interface allows testing with mock implementations.
type Drainer interface {
	Drain(ctx context.Context) (*fabsync.DrainResult, error)
}

// SyncCoordinator periodically drains the local sync queue to the remote
// store.
type SyncCoordinator struct {
	engine   Drainer
	interval time.Duration
}

// NewSyncCoordinator creates a coordinator that drains the queue on the
// given interval.
func NewSyncCoordinator(engine Drainer, interval time.Duration) *SyncCoordinator {
	return &SyncCoordinator{
		engine:   engine,
		interval: interval,
	}
}

// Run starts the coordinator loop.
func (c *SyncCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "sync-coordinator",
		"action", "worker_started",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Drain immediately on start to flush anything left from the last run
	c.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "sync-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.drain(ctx)
		}
	}
}

func (c *SyncCoordinator) drain(ctx context.Context) {
	result, err := c.engine.Drain(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown, don't log as error
		}
		switch {
		case errors.Is(err, fabsync.ErrDrainInProgress):
			slog.Debug("drain already in progress",
				"component", "worker",
				"worker", "sync-coordinator",
				"action", "drain_skipped",
			)
		case errors.Is(err, fabsync.ErrRemoteUnavailable):
			slog.Warn("remote store unavailable, keeping queue",
				"component", "worker",
				"worker", "sync-coordinator",
				"action", "drain_deferred",
				"error", err,
			)
		default:
			slog.Error("sync drain failed",
				"component", "worker",
				"worker", "sync-coordinator",
				"action", "drain_failed",
				"error", err,
			)
		}
		return
	}

	// Log summary only when the cycle actually moved something
	if result.Synced > 0 || result.Failed > 0 || result.Dead > 0 {
		slog.Info("sync cycle completed",
			"component", "worker",
			"worker", "sync-coordinator",
			"action", "cycle_complete",
			"synced", result.Synced,
			"failed", result.Failed,
			"dead", result.Dead,
		)
	}
}
