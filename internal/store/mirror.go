package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fabriksoft/fabrikd/internal/types"
)

// Mirror holds the latest value per batch for the two mirrored entities,
// quality and shipment status. A write is a full replacement of the batch's
// record: there is no partial-field merge, so callers supply every field on
// every write or previously stored fields are lost.
type Mirror struct {
	backend Backend
}

// NewMirror creates a mirror store over the given backend.
func NewMirror(backend Backend) *Mirror {
	return &Mirror{backend: backend}
}

// QualityAll returns the quality record for every known batch.
func (m *Mirror) QualityAll(ctx context.Context) (map[string]types.QualityRecord, error) {
	return getAll[types.QualityRecord](ctx, m.backend, PartitionQuality)
}

// Quality returns the quality record for one batch, or ErrNotFound.
func (m *Mirror) Quality(ctx context.Context, batchNumber string) (*types.QualityRecord, error) {
	return getOne[types.QualityRecord](ctx, m.backend, PartitionQuality, batchNumber)
}

// SetQuality replaces the quality record for the batch.
func (m *Mirror) SetQuality(ctx context.Context, batchNumber string, rec types.QualityRecord) error {
	return setOne(ctx, m.backend, PartitionQuality, batchNumber, rec)
}

// ShipmentAll returns the shipment record for every known batch.
func (m *Mirror) ShipmentAll(ctx context.Context) (map[string]types.ShipmentRecord, error) {
	return getAll[types.ShipmentRecord](ctx, m.backend, PartitionShipment)
}

// Shipment returns the shipment record for one batch, or ErrNotFound.
func (m *Mirror) Shipment(ctx context.Context, batchNumber string) (*types.ShipmentRecord, error) {
	return getOne[types.ShipmentRecord](ctx, m.backend, PartitionShipment, batchNumber)
}

// SetShipment replaces the shipment record for the batch.
func (m *Mirror) SetShipment(ctx context.Context, batchNumber string, rec types.ShipmentRecord) error {
	return setOne(ctx, m.backend, PartitionShipment, batchNumber, rec)
}

func getAll[T any](ctx context.Context, b Backend, p Partition) (map[string]T, error) {
	doc, err := b.GetPartition(ctx, p)
	if err != nil {
		return nil, err
	}

	out := make(map[string]T, len(doc))
	for batch, raw := range doc {
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal %s record %q: %w", p, batch, err)
		}
		out[batch] = rec
	}
	return out, nil
}

func getOne[T any](ctx context.Context, b Backend, p Partition, batchNumber string) (*T, error) {
	doc, err := b.GetPartition(ctx, p)
	if err != nil {
		return nil, err
	}

	raw, ok := doc[batchNumber]
	if !ok {
		return nil, ErrNotFound
	}

	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal %s record %q: %w", p, batchNumber, err)
	}
	return &rec, nil
}

// setOne is a full-map read-modify-write: read the current partition map,
// replace the batch's entry, write the whole map back.
func setOne(ctx context.Context, b Backend, p Partition, batchNumber string, rec any) error {
	doc, err := b.GetPartition(ctx, p)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s record %q: %w", p, batchNumber, err)
	}
	doc[batchNumber] = raw

	return b.SetPartition(ctx, p, doc)
}
