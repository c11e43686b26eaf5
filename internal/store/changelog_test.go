package store

import (
	"context"
	"testing"
	"time"

	"github.com/fabriksoft/fabrikd/internal/types"
)

func TestChangeLog_AppendAssignsDefaults(t *testing.T) {
	// Given: A record with no ID, timestamp, or source
	log := NewChangeLog(NewMemory(0))
	ctx := context.Background()

	// When: Appending it
	id, err := log.Append(ctx, types.ChangeRecord{
		Kind:        types.KindQuality,
		BatchNumber: "B-100",
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	// Then: An ID was assigned and defaults filled in
	if id == "" {
		t.Fatal("expected a generated change ID")
	}
	changes, err := log.Query(ctx, nil, "")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	if changes[0].ID != id {
		t.Errorf("expected stored ID %q, got %q", id, changes[0].ID)
	}
	if changes[0].Source != "unknown" {
		t.Errorf("expected default source, got %q", changes[0].Source)
	}
	if changes[0].Timestamp.IsZero() {
		t.Error("expected a timestamp to be assigned")
	}
}

func TestChangeLog_AppendKeepsCallerID(t *testing.T) {
	// Given: A record carrying its own ID
	log := NewChangeLog(NewMemory(0))
	ctx := context.Background()

	id, err := log.Append(ctx, types.ChangeRecord{
		ID:          "client-chg-1",
		Kind:        types.KindShipment,
		BatchNumber: "B-100",
		Source:      "mobile",
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	// Then: The caller's ID is kept, making retried registrations idempotent
	if id != "client-chg-1" {
		t.Errorf("expected caller ID kept, got %q", id)
	}

	if _, err := log.Append(ctx, types.ChangeRecord{
		ID:          "client-chg-1",
		Kind:        types.KindShipment,
		BatchNumber: "B-100",
	}); err != nil {
		t.Fatalf("duplicate append failed: %v", err)
	}
	changes, _ := log.Query(ctx, nil, "")
	if len(changes) != 1 {
		t.Errorf("expected duplicate to be a no-op, got %d changes", len(changes))
	}
}

func TestChangeLog_QueryCapsAtRetention(t *testing.T) {
	// Given: A backend retaining only 3 records
	backend := NewMemory(3)
	log := NewChangeLog(backend)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, types.ChangeRecord{
			Kind:        types.KindQuality,
			BatchNumber: "B-100",
			Timestamp:   base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	// Then: Only the newest 3 survive
	changes, err := log.Query(ctx, nil, "")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	if !changes[0].Timestamp.After(changes[2].Timestamp) {
		t.Error("expected newest-first ordering")
	}
}
