package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Material is a raw material tracked by the factory.
type Material struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Synced    bool      `json:"synced"`
}

type materialPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// Materials returns all materials ordered by name.
func (d *DB) Materials(ctx context.Context) ([]Material, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, unit, created_at, updated_at, synced
		FROM materials
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("query materials: %w", err)
	}
	defer rows.Close()

	materials := make([]Material, 0)
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		materials = append(materials, *m)
	}
	return materials, rows.Err()
}

// MaterialByID returns one material or ErrNotFound.
func (d *DB) MaterialByID(ctx context.Context, id string) (*Material, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, name, unit, created_at, updated_at, synced
		FROM materials
		WHERE id = ?
	`, id)

	m, err := scanMaterial(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// CreateMaterial inserts a material and journals the mutation in one
// transaction.
func (d *DB) CreateMaterial(ctx context.Context, name, unit string) (*Material, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO materials (id, name, unit, created_at, updated_at, synced)
		VALUES (?, ?, ?, ?, ?, 0)
	`, id, name, unit, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert material: %w", err)
	}

	if err := enqueue(ctx, tx, "materials", id, OpInsert, materialPayload{ID: id, Name: name, Unit: unit}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return d.MaterialByID(ctx, id)
}

// UpdateMaterial replaces the material's fields and journals the mutation.
func (d *DB) UpdateMaterial(ctx context.Context, id, name, unit string) (*Material, error) {
	now := time.Now().UTC()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE materials SET name = ?, unit = ?, updated_at = ?, synced = 0
		WHERE id = ?
	`, name, unit, now.Format(time.RFC3339Nano), id)
	if err != nil {
		return nil, fmt.Errorf("update material: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}

	if err := enqueue(ctx, tx, "materials", id, OpUpdate, materialPayload{ID: id, Name: name, Unit: unit}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return d.MaterialByID(ctx, id)
}

// DeleteMaterial removes the material and journals the deletion.
func (d *DB) DeleteMaterial(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := enqueue(ctx, tx, "materials", id, OpDelete, materialPayload{ID: id}); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM materials WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete material: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanMaterial(scanner interface{ Scan(...any) error }) (*Material, error) {
	var m Material
	var createdAt, updatedAt string
	var synced int

	if err := scanner.Scan(&m.ID, &m.Name, &m.Unit, &createdAt, &updatedAt, &synced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan material: %w", err)
	}

	m.Synced = synced == 1
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		m.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		m.UpdatedAt = t
	}
	return &m, nil
}
