package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	fabsync "github.com/fabriksoft/fabrikd/internal/sync"
)

type countingDrainer struct {
	calls atomic.Int32
	err   error
}

func (d *countingDrainer) Drain(context.Context) (*fabsync.DrainResult, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return &fabsync.DrainResult{}, nil
}

func TestSyncCoordinator_DrainsOnStartAndOnTick(t *testing.T) {
	// Given: A coordinator with a short interval
	drainer := &countingDrainer{}
	coordinator := NewSyncCoordinator(drainer, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		coordinator.Run(ctx)
	}()

	// When: Letting a few ticks pass
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	// Then: It drained immediately and again on ticks
	if calls := drainer.calls.Load(); calls < 2 {
		t.Errorf("expected at least 2 drains, got %d", calls)
	}
}

func TestSyncCoordinator_KeepsRunningWhenRemoteIsDown(t *testing.T) {
	// Given: A drainer that always reports the remote unavailable
	drainer := &countingDrainer{err: fabsync.ErrRemoteUnavailable}
	coordinator := NewSyncCoordinator(drainer, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		coordinator.Run(ctx)
	}()

	// Then: The loop keeps retrying instead of exiting
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if calls := drainer.calls.Load(); calls < 2 {
		t.Errorf("expected repeated drain attempts, got %d", calls)
	}
}
