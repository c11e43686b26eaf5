package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WarehouseItem is the stocked quantity of one material.
type WarehouseItem struct {
	ID          string    `json:"id"`
	MaterialID  string    `json:"materialId"`
	Quantity    float64   `json:"quantity"`
	LastUpdated time.Time `json:"lastUpdated"`
	Synced      bool      `json:"synced"`
}

type warehousePayload struct {
	ID         string  `json:"id"`
	MaterialID string  `json:"materialId"`
	Quantity   float64 `json:"quantity"`
}

// WarehouseItems returns all stocked items.
func (d *DB) WarehouseItems(ctx context.Context) ([]WarehouseItem, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, material_id, quantity, last_updated, synced
		FROM warehouse
		ORDER BY material_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query warehouse: %w", err)
	}
	defer rows.Close()

	items := make([]WarehouseItem, 0)
	for rows.Next() {
		item, err := scanWarehouseItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// WarehouseItemByMaterial returns the stocked item for a material, or
// ErrNotFound.
func (d *DB) WarehouseItemByMaterial(ctx context.Context, materialID string) (*WarehouseItem, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, material_id, quantity, last_updated, synced
		FROM warehouse
		WHERE material_id = ?
	`, materialID)

	item, err := scanWarehouseItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// AddStock adds quantity for a material, creating the warehouse row on
// first receipt and accumulating into the existing row afterwards.
func (d *DB) AddStock(ctx context.Context, materialID string, quantity float64) (*WarehouseItem, error) {
	existing, err := d.WarehouseItemByMaterial(ctx, materialID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return d.setStock(ctx, existing.ID, materialID, existing.Quantity+quantity)
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO warehouse (id, material_id, quantity, last_updated, synced)
		VALUES (?, ?, ?, ?, 0)
	`, id, materialID, quantity, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert warehouse item: %w", err)
	}

	if err := enqueue(ctx, tx, "warehouse", id, OpInsert,
		warehousePayload{ID: id, MaterialID: materialID, Quantity: quantity}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return d.WarehouseItemByMaterial(ctx, materialID)
}

// AdjustStock applies a signed quantity change for a material. Driving the
// quantity below zero is rejected.
func (d *DB) AdjustStock(ctx context.Context, materialID string, change float64) (*WarehouseItem, error) {
	existing, err := d.WarehouseItemByMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}

	next := existing.Quantity + change
	if next < 0 {
		return nil, ErrInsufficientQuantity
	}
	return d.setStock(ctx, existing.ID, materialID, next)
}

// DeleteWarehouseItem removes the row and journals the deletion.
func (d *DB) DeleteWarehouseItem(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := enqueue(ctx, tx, "warehouse", id, OpDelete, warehousePayload{ID: id}); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM warehouse WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete warehouse item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (d *DB) setStock(ctx context.Context, id, materialID string, quantity float64) (*WarehouseItem, error) {
	now := time.Now().UTC()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE warehouse SET quantity = ?, last_updated = ?, synced = 0
		WHERE id = ?
	`, quantity, now.Format(time.RFC3339Nano), id)
	if err != nil {
		return nil, fmt.Errorf("update warehouse item: %w", err)
	}

	if err := enqueue(ctx, tx, "warehouse", id, OpUpdate,
		warehousePayload{ID: id, MaterialID: materialID, Quantity: quantity}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return d.WarehouseItemByMaterial(ctx, materialID)
}

func scanWarehouseItem(scanner interface{ Scan(...any) error }) (*WarehouseItem, error) {
	var item WarehouseItem
	var lastUpdated string
	var synced int

	if err := scanner.Scan(&item.ID, &item.MaterialID, &item.Quantity, &lastUpdated, &synced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan warehouse item: %w", err)
	}

	item.Synced = synced == 1
	if t, err := time.Parse(time.RFC3339Nano, lastUpdated); err == nil {
		item.LastUpdated = t
	}
	return &item, nil
}
