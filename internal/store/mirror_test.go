package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fabriksoft/fabrikd/internal/types"
)

func strPtr(s string) *string { return &s }

func TestMirror_QualityRoundTrip(t *testing.T) {
	// Given: An empty mirror
	m := NewMirror(NewMemory(0))
	ctx := context.Background()

	// When: Writing a quality record for a batch
	now := time.Now().UTC().Truncate(time.Second)
	rec := types.QualityRecord{
		Status:      "passed",
		Notes:       strPtr("all good"),
		CheckedBy:   strPtr("inspector"),
		CheckedDate: now,
		UpdatedAt:   now,
	}
	if err := m.SetQuality(ctx, "B-100", rec); err != nil {
		t.Fatalf("set quality failed: %v", err)
	}

	// Then: The record reads back field for field
	got, err := m.Quality(ctx, "B-100")
	if err != nil {
		t.Fatalf("get quality failed: %v", err)
	}
	if got.Status != "passed" || *got.Notes != "all good" || *got.CheckedBy != "inspector" {
		t.Errorf("record mismatch: %+v", got)
	}
	if !got.CheckedDate.Equal(now) {
		t.Errorf("expected checked date %v, got %v", now, got.CheckedDate)
	}
}

func TestMirror_UnknownBatchIsNotFound(t *testing.T) {
	m := NewMirror(NewMemory(0))

	if _, err := m.Quality(context.Background(), "B-404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.Shipment(context.Background(), "B-404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMirror_WriteIsFullReplacement(t *testing.T) {
	// Given: A batch with notes stored
	m := NewMirror(NewMemory(0))
	ctx := context.Background()
	now := time.Now().UTC()
	if err := m.SetQuality(ctx, "B-100", types.QualityRecord{
		Status: "failed", Notes: strPtr("scratched"), CheckedDate: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("set quality failed: %v", err)
	}

	// When: Writing the batch again without notes
	if err := m.SetQuality(ctx, "B-100", types.QualityRecord{
		Status: "passed", CheckedDate: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("second set failed: %v", err)
	}

	// Then: The earlier notes are gone, not merged
	got, err := m.Quality(ctx, "B-100")
	if err != nil {
		t.Fatalf("get quality failed: %v", err)
	}
	if got.Status != "passed" {
		t.Errorf("expected replaced status, got %q", got.Status)
	}
	if got.Notes != nil {
		t.Errorf("expected notes dropped by full replacement, got %q", *got.Notes)
	}
}

func TestMirror_PartitionsAreIndependent(t *testing.T) {
	// Given: A quality record and a shipment record for the same batch
	m := NewMirror(NewMemory(0))
	ctx := context.Background()
	now := time.Now().UTC()

	if err := m.SetQuality(ctx, "B-100", types.QualityRecord{Status: "passed", CheckedDate: now, UpdatedAt: now}); err != nil {
		t.Fatalf("set quality failed: %v", err)
	}
	if err := m.SetShipment(ctx, "B-100", types.ShipmentRecord{Shipped: true, ShippedDate: now, UpdatedAt: now}); err != nil {
		t.Fatalf("set shipment failed: %v", err)
	}

	// Then: Each partition holds exactly its own record
	quality, err := m.QualityAll(ctx)
	if err != nil {
		t.Fatalf("quality all failed: %v", err)
	}
	shipments, err := m.ShipmentAll(ctx)
	if err != nil {
		t.Fatalf("shipment all failed: %v", err)
	}
	if len(quality) != 1 || len(shipments) != 1 {
		t.Errorf("expected one record per partition, got %d and %d", len(quality), len(shipments))
	}
	if !shipments["B-100"].Shipped {
		t.Errorf("expected shipped=true")
	}
}
