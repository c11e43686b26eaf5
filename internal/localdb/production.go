package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProductionType is a kind of finished product the factory can make.
type ProductionType struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Synced      bool      `json:"synced"`
}

// ProductionRun is one recorded production event.
type ProductionRun struct {
	ID               string               `json:"id"`
	ProductionTypeID string               `json:"productionTypeId"`
	Quantity         float64              `json:"quantity"`
	ProductionDate   string               `json:"productionDate"`
	Notes            *string              `json:"notes,omitempty"`
	QRCode           *string              `json:"qrCode,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	Synced           bool                 `json:"synced"`
	Materials        []ProductionMaterial `json:"materials,omitempty"`
}

// ProductionMaterial is one material consumed by a production run.
type ProductionMaterial struct {
	ID           string  `json:"id"`
	ProductionID string  `json:"productionId"`
	MaterialID   string  `json:"materialId"`
	Quantity     float64 `json:"quantity"`
}

// MaterialUsage names a material and the quantity a production run consumes.
type MaterialUsage struct {
	MaterialID string  `json:"materialId"`
	Quantity   float64 `json:"quantity"`
}

type productionTypePayload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type productionPayload struct {
	ID               string               `json:"id"`
	ProductionTypeID string               `json:"productionTypeId"`
	Quantity         float64              `json:"quantity"`
	ProductionDate   string               `json:"productionDate"`
	Notes            *string              `json:"notes,omitempty"`
	QRCode           *string              `json:"qrCode,omitempty"`
	Materials        []ProductionMaterial `json:"materials,omitempty"`
}

// ProductionTypes returns all production types ordered by name.
func (d *DB) ProductionTypes(ctx context.Context) ([]ProductionType, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, synced
		FROM production_types
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("query production types: %w", err)
	}
	defer rows.Close()

	types := make([]ProductionType, 0)
	for rows.Next() {
		pt, err := scanProductionType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, *pt)
	}
	return types, rows.Err()
}

// ProductionTypeByID returns one production type or ErrNotFound.
func (d *DB) ProductionTypeByID(ctx context.Context, id string) (*ProductionType, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, synced
		FROM production_types
		WHERE id = ?
	`, id)

	pt, err := scanProductionType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return pt, err
}

// CreateProductionType inserts a production type and journals the mutation.
func (d *DB) CreateProductionType(ctx context.Context, name string, description *string) (*ProductionType, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO production_types (id, name, description, created_at, synced)
		VALUES (?, ?, ?, ?, 0)
	`, id, name, description, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert production type: %w", err)
	}

	if err := enqueue(ctx, tx, "production_types", id, OpInsert,
		productionTypePayload{ID: id, Name: name, Description: description}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return d.ProductionTypeByID(ctx, id)
}

// DeleteProductionType removes the type and journals the deletion.
func (d *DB) DeleteProductionType(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := enqueue(ctx, tx, "production_types", id, OpDelete,
		productionTypePayload{ID: id}); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM production_types WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete production type: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ProductionRuns returns all recorded runs, newest first, with their
// consumed materials attached.
func (d *DB) ProductionRuns(ctx context.Context) ([]ProductionRun, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, production_type_id, quantity, production_date, notes, qr_code, created_at, synced
		FROM production
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query production: %w", err)
	}
	defer rows.Close()

	runs := make([]ProductionRun, 0)
	for rows.Next() {
		run, err := scanProductionRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		materials, err := d.productionMaterials(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Materials = materials
	}
	return runs, nil
}

// ProductionRunByID returns one run with its materials, or ErrNotFound.
func (d *DB) ProductionRunByID(ctx context.Context, id string) (*ProductionRun, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, production_type_id, quantity, production_date, notes, qr_code, created_at, synced
		FROM production
		WHERE id = ?
	`, id)

	run, err := scanProductionRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Materials, err = d.productionMaterials(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// RecordProduction records a production run in one transaction: the run row,
// one production_materials row per consumed material, the matching warehouse
// deductions, and the journal entries. Consuming more of a material than the
// warehouse holds fails the whole transaction.
func (d *DB) RecordProduction(ctx context.Context, typeID string, quantity float64, productionDate string, notes, qrCode *string, usage []MaterialUsage) (*ProductionRun, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	if productionDate == "" {
		productionDate = now.Format(time.RFC3339Nano)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO production (id, production_type_id, quantity, production_date, notes, qr_code, created_at, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, id, typeID, quantity, productionDate, notes, qrCode, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert production: %w", err)
	}

	consumed := make([]ProductionMaterial, 0, len(usage))
	for _, use := range usage {
		pm := ProductionMaterial{
			ID:           uuid.NewString(),
			ProductionID: id,
			MaterialID:   use.MaterialID,
			Quantity:     use.Quantity,
		}

		if err := deductStock(ctx, tx, use.MaterialID, use.Quantity, now); err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO production_materials (id, production_id, material_id, quantity, synced)
			VALUES (?, ?, ?, ?, 0)
		`, pm.ID, pm.ProductionID, pm.MaterialID, pm.Quantity)
		if err != nil {
			return nil, fmt.Errorf("insert production material: %w", err)
		}

		consumed = append(consumed, pm)
	}

	payload := productionPayload{
		ID:               id,
		ProductionTypeID: typeID,
		Quantity:         quantity,
		ProductionDate:   productionDate,
		Notes:            notes,
		QRCode:           qrCode,
		Materials:        consumed,
	}
	if err := enqueue(ctx, tx, "production", id, OpInsert, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return d.ProductionRunByID(ctx, id)
}

// deductStock lowers a material's warehouse quantity inside the caller's
// transaction. A missing warehouse row counts as zero stock.
func deductStock(ctx context.Context, tx *sql.Tx, materialID string, quantity float64, now time.Time) error {
	var current float64
	err := tx.QueryRowContext(ctx,
		`SELECT quantity FROM warehouse WHERE material_id = ?`, materialID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("material %s: %w", materialID, ErrInsufficientQuantity)
	}
	if err != nil {
		return fmt.Errorf("read warehouse quantity: %w", err)
	}

	if current-quantity < 0 {
		return fmt.Errorf("material %s: %w", materialID, ErrInsufficientQuantity)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE warehouse SET quantity = quantity - ?, last_updated = ?, synced = 0
		WHERE material_id = ?
	`, quantity, now.Format(time.RFC3339Nano), materialID)
	if err != nil {
		return fmt.Errorf("deduct warehouse quantity: %w", err)
	}
	return nil
}

func (d *DB) productionMaterials(ctx context.Context, productionID string) ([]ProductionMaterial, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, production_id, material_id, quantity
		FROM production_materials
		WHERE production_id = ?
	`, productionID)
	if err != nil {
		return nil, fmt.Errorf("query production materials: %w", err)
	}
	defer rows.Close()

	materials := make([]ProductionMaterial, 0)
	for rows.Next() {
		var pm ProductionMaterial
		if err := rows.Scan(&pm.ID, &pm.ProductionID, &pm.MaterialID, &pm.Quantity); err != nil {
			return nil, fmt.Errorf("scan production material: %w", err)
		}
		materials = append(materials, pm)
	}
	return materials, rows.Err()
}

func scanProductionType(scanner interface{ Scan(...any) error }) (*ProductionType, error) {
	var pt ProductionType
	var createdAt string
	var synced int

	if err := scanner.Scan(&pt.ID, &pt.Name, &pt.Description, &createdAt, &synced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan production type: %w", err)
	}

	pt.Synced = synced == 1
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		pt.CreatedAt = t
	}
	return &pt, nil
}

func scanProductionRun(scanner interface{ Scan(...any) error }) (*ProductionRun, error) {
	var run ProductionRun
	var createdAt string
	var synced int

	if err := scanner.Scan(&run.ID, &run.ProductionTypeID, &run.Quantity, &run.ProductionDate,
		&run.Notes, &run.QRCode, &createdAt, &synced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan production run: %w", err)
	}

	run.Synced = synced == 1
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		run.CreatedAt = t
	}
	return &run, nil
}
