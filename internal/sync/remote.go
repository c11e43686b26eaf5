package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fabriksoft/fabrikd/internal/localdb"
)

// PostgresApplier replays queue items against the remote Postgres database.
// Writes are upserts keyed on id, so replaying an item twice converges on
// the same row.
type PostgresApplier struct {
	db *sql.DB
}

// NewPostgresApplier connects to the remote database.
func NewPostgresApplier(connString string) (*PostgresApplier, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open remote database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(30 * time.Second)
	return &PostgresApplier{db: db}, nil
}

// Ping checks remote reachability before a drain cycle.
func (a *PostgresApplier) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close closes the remote connection pool.
func (a *PostgresApplier) Close() error {
	return a.db.Close()
}

// Apply replays one queue item. Deletes target the id directly; inserts and
// updates both upsert from the journaled payload.
func (a *PostgresApplier) Apply(ctx context.Context, item localdb.QueueItem) error {
	if item.Operation == localdb.OpDelete {
		return a.applyDelete(ctx, item)
	}

	switch item.Table {
	case "materials":
		return a.applyMaterial(ctx, item.Payload)
	case "warehouse":
		return a.applyWarehouse(ctx, item.Payload)
	case "recipes":
		return a.applyRecipe(ctx, item.Payload)
	case "recipe_materials":
		return a.applyRecipeMaterial(ctx, item.Payload)
	case "production_types":
		return a.applyProductionType(ctx, item.Payload)
	case "production":
		return a.applyProduction(ctx, item.Payload)
	case "production_materials":
		return a.applyProductionMaterial(ctx, item.Payload)
	default:
		return fmt.Errorf("unknown table %q", item.Table)
	}
}

func (a *PostgresApplier) applyDelete(ctx context.Context, item localdb.QueueItem) error {
	switch item.Table {
	case "materials", "warehouse", "recipes", "recipe_materials",
		"production_types", "production", "production_materials":
	default:
		return fmt.Errorf("unknown table %q", item.Table)
	}

	// Absent rows are fine; the delete may have been replayed already.
	_, err := a.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, item.Table), item.RecordID)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", item.Table, item.RecordID, err)
	}
	return nil
}

func (a *PostgresApplier) applyMaterial(ctx context.Context, payload json.RawMessage) error {
	var m struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Unit string `json:"unit"`
	}
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("decode material payload: %w", err)
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO materials (id, name, unit, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			unit = EXCLUDED.unit,
			updated_at = NOW()
	`, m.ID, m.Name, m.Unit)
	if err != nil {
		return fmt.Errorf("upsert material %s: %w", m.ID, err)
	}
	return nil
}

func (a *PostgresApplier) applyWarehouse(ctx context.Context, payload json.RawMessage) error {
	var w struct {
		ID         string  `json:"id"`
		MaterialID string  `json:"materialId"`
		Quantity   float64 `json:"quantity"`
	}
	if err := json.Unmarshal(payload, &w); err != nil {
		return fmt.Errorf("decode warehouse payload: %w", err)
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO warehouse (id, material_id, quantity, last_updated)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			material_id = EXCLUDED.material_id,
			quantity = EXCLUDED.quantity,
			last_updated = NOW()
	`, w.ID, w.MaterialID, w.Quantity)
	if err != nil {
		return fmt.Errorf("upsert warehouse item %s: %w", w.ID, err)
	}
	return nil
}

func (a *PostgresApplier) applyRecipe(ctx context.Context, payload json.RawMessage) error {
	var r struct {
		ID               string  `json:"id"`
		ProductionTypeID string  `json:"productionTypeId"`
		Name             string  `json:"name"`
		Description      *string `json:"description"`
		Materials        []struct {
			ID              string  `json:"id"`
			MaterialID      string  `json:"materialId"`
			QuantityPerUnit float64 `json:"quantityPerUnit"`
		} `json:"materials"`
	}
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Errorf("decode recipe payload: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remote transaction: %w", err)
	}
	defer tx.Rollback()

	// Recipe updates journal only the changed fields plus the replacement
	// ingredient list, so production_type_id stays untouched on conflict
	// when the payload omits it.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO recipes (id, production_type_id, name, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			production_type_id = COALESCE(NULLIF(EXCLUDED.production_type_id, ''), recipes.production_type_id),
			name = EXCLUDED.name,
			description = EXCLUDED.description
	`, r.ID, r.ProductionTypeID, r.Name, r.Description)
	if err != nil {
		return fmt.Errorf("upsert recipe %s: %w", r.ID, err)
	}

	// The ingredient list is a full replacement, mirroring the local write
	if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_materials WHERE recipe_id = $1`, r.ID); err != nil {
		return fmt.Errorf("clear recipe materials %s: %w", r.ID, err)
	}
	for _, rm := range r.Materials {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recipe_materials (id, recipe_id, material_id, quantity_per_unit)
			VALUES ($1, $2, $3, $4)
		`, rm.ID, r.ID, rm.MaterialID, rm.QuantityPerUnit)
		if err != nil {
			return fmt.Errorf("insert recipe material %s: %w", rm.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remote transaction: %w", err)
	}
	return nil
}

func (a *PostgresApplier) applyRecipeMaterial(ctx context.Context, payload json.RawMessage) error {
	var rm struct {
		ID              string  `json:"id"`
		RecipeID        string  `json:"recipeId"`
		MaterialID      string  `json:"materialId"`
		QuantityPerUnit float64 `json:"quantityPerUnit"`
	}
	if err := json.Unmarshal(payload, &rm); err != nil {
		return fmt.Errorf("decode recipe material payload: %w", err)
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO recipe_materials (id, recipe_id, material_id, quantity_per_unit)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			recipe_id = EXCLUDED.recipe_id,
			material_id = EXCLUDED.material_id,
			quantity_per_unit = EXCLUDED.quantity_per_unit
	`, rm.ID, rm.RecipeID, rm.MaterialID, rm.QuantityPerUnit)
	if err != nil {
		return fmt.Errorf("upsert recipe material %s: %w", rm.ID, err)
	}
	return nil
}

func (a *PostgresApplier) applyProductionType(ctx context.Context, payload json.RawMessage) error {
	var pt struct {
		ID          string  `json:"id"`
		Name        string  `json:"name"`
		Description *string `json:"description"`
	}
	if err := json.Unmarshal(payload, &pt); err != nil {
		return fmt.Errorf("decode production type payload: %w", err)
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO production_types (id, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description
	`, pt.ID, pt.Name, pt.Description)
	if err != nil {
		return fmt.Errorf("upsert production type %s: %w", pt.ID, err)
	}
	return nil
}

func (a *PostgresApplier) applyProduction(ctx context.Context, payload json.RawMessage) error {
	var p struct {
		ID               string  `json:"id"`
		ProductionTypeID string  `json:"productionTypeId"`
		Quantity         float64 `json:"quantity"`
		ProductionDate   string  `json:"productionDate"`
		Notes            *string `json:"notes"`
		QRCode           *string `json:"qrCode"`
		Materials        []struct {
			ID         string  `json:"id"`
			MaterialID string  `json:"materialId"`
			Quantity   float64 `json:"quantity"`
		} `json:"materials"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode production payload: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remote transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO production (id, production_type_id, quantity, production_date, notes, qr_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			production_type_id = EXCLUDED.production_type_id,
			quantity = EXCLUDED.quantity,
			production_date = EXCLUDED.production_date,
			notes = EXCLUDED.notes,
			qr_code = EXCLUDED.qr_code
	`, p.ID, p.ProductionTypeID, p.Quantity, p.ProductionDate, p.Notes, p.QRCode)
	if err != nil {
		return fmt.Errorf("upsert production %s: %w", p.ID, err)
	}

	for _, pm := range p.Materials {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO production_materials (id, production_id, material_id, quantity)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				production_id = EXCLUDED.production_id,
				material_id = EXCLUDED.material_id,
				quantity = EXCLUDED.quantity
		`, pm.ID, p.ID, pm.MaterialID, pm.Quantity)
		if err != nil {
			return fmt.Errorf("upsert production material %s: %w", pm.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remote transaction: %w", err)
	}
	return nil
}

func (a *PostgresApplier) applyProductionMaterial(ctx context.Context, payload json.RawMessage) error {
	var pm struct {
		ID           string  `json:"id"`
		ProductionID string  `json:"productionId"`
		MaterialID   string  `json:"materialId"`
		Quantity     float64 `json:"quantity"`
	}
	if err := json.Unmarshal(payload, &pm); err != nil {
		return fmt.Errorf("decode production material payload: %w", err)
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO production_materials (id, production_id, material_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			production_id = EXCLUDED.production_id,
			material_id = EXCLUDED.material_id,
			quantity = EXCLUDED.quantity
	`, pm.ID, pm.ProductionID, pm.MaterialID, pm.Quantity)
	if err != nil {
		return fmt.Errorf("upsert production material %s: %w", pm.ID, err)
	}
	return nil
}
