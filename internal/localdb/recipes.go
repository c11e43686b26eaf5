package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Recipe names the materials a production type consumes per produced unit.
type Recipe struct {
	ID               string           `json:"id"`
	ProductionTypeID string           `json:"productionTypeId"`
	Name             string           `json:"name"`
	Description      *string          `json:"description,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	Synced           bool             `json:"synced"`
	Materials        []RecipeMaterial `json:"materials,omitempty"`
}

// RecipeMaterial is one ingredient line of a recipe.
type RecipeMaterial struct {
	ID              string  `json:"id"`
	RecipeID        string  `json:"recipeId"`
	MaterialID      string  `json:"materialId"`
	QuantityPerUnit float64 `json:"quantityPerUnit"`
}

// RecipeIngredient names a material and its per-unit quantity for a recipe
// write.
type RecipeIngredient struct {
	MaterialID      string  `json:"materialId"`
	QuantityPerUnit float64 `json:"quantityPerUnit"`
}

type recipePayload struct {
	ID               string           `json:"id"`
	ProductionTypeID string           `json:"productionTypeId,omitempty"`
	Name             string           `json:"name"`
	Description      *string          `json:"description,omitempty"`
	Materials        []RecipeMaterial `json:"materials,omitempty"`
}

// Recipes returns all recipes ordered by name, each with its ingredient
// lines attached.
func (d *DB) Recipes(ctx context.Context) ([]Recipe, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, production_type_id, name, description, created_at, synced
		FROM recipes
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("query recipes: %w", err)
	}
	defer rows.Close()

	recipes := make([]Recipe, 0)
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range recipes {
		materials, err := d.recipeMaterials(ctx, recipes[i].ID)
		if err != nil {
			return nil, err
		}
		recipes[i].Materials = materials
	}
	return recipes, nil
}

// RecipeByID returns one recipe with its materials, or ErrNotFound.
func (d *DB) RecipeByID(ctx context.Context, id string) (*Recipe, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, production_type_id, name, description, created_at, synced
		FROM recipes
		WHERE id = ?
	`, id)

	r, err := scanRecipe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.Materials, err = d.recipeMaterials(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RecipesByProductionType returns the recipes for one production type.
func (d *DB) RecipesByProductionType(ctx context.Context, productionTypeID string) ([]Recipe, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, production_type_id, name, description, created_at, synced
		FROM recipes
		WHERE production_type_id = ?
		ORDER BY name
	`, productionTypeID)
	if err != nil {
		return nil, fmt.Errorf("query recipes by type: %w", err)
	}
	defer rows.Close()

	recipes := make([]Recipe, 0)
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range recipes {
		materials, err := d.recipeMaterials(ctx, recipes[i].ID)
		if err != nil {
			return nil, err
		}
		recipes[i].Materials = materials
	}
	return recipes, nil
}

// CreateRecipe inserts a recipe with its ingredient lines and journals the
// mutation in one transaction. The queue payload nests the materials so the
// remote apply replays the whole recipe.
func (d *DB) CreateRecipe(ctx context.Context, productionTypeID, name string, description *string, ingredients []RecipeIngredient) (*Recipe, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO recipes (id, production_type_id, name, description, created_at, synced)
		VALUES (?, ?, ?, ?, ?, 0)
	`, id, productionTypeID, name, description, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert recipe: %w", err)
	}

	lines, err := insertRecipeMaterials(ctx, tx, id, ingredients)
	if err != nil {
		return nil, err
	}

	payload := recipePayload{
		ID:               id,
		ProductionTypeID: productionTypeID,
		Name:             name,
		Description:      description,
		Materials:        lines,
	}
	if err := enqueue(ctx, tx, "recipes", id, OpInsert, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return d.RecipeByID(ctx, id)
}

// UpdateRecipe replaces the recipe's fields and its full ingredient list,
// journaling one UPDATE with the replacement nested.
func (d *DB) UpdateRecipe(ctx context.Context, id, name string, description *string, ingredients []RecipeIngredient) (*Recipe, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE recipes SET name = ?, description = ?, synced = 0
		WHERE id = ?
	`, name, description, id)
	if err != nil {
		return nil, fmt.Errorf("update recipe: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}

	// Ingredient lines are replaced wholesale, not merged
	if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_materials WHERE recipe_id = ?`, id); err != nil {
		return nil, fmt.Errorf("clear recipe materials: %w", err)
	}
	lines, err := insertRecipeMaterials(ctx, tx, id, ingredients)
	if err != nil {
		return nil, err
	}

	payload := recipePayload{
		ID:          id,
		Name:        name,
		Description: description,
		Materials:   lines,
	}
	if err := enqueue(ctx, tx, "recipes", id, OpUpdate, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return d.RecipeByID(ctx, id)
}

// DeleteRecipe removes the recipe and journals the deletion. Ingredient
// lines go with it via the cascade.
func (d *DB) DeleteRecipe(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := enqueue(ctx, tx, "recipes", id, OpDelete, recipePayload{ID: id}); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete recipe: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RequiredMaterials scales a recipe's per-unit quantities to a production
// quantity, ready to hand to RecordProduction.
func (d *DB) RequiredMaterials(ctx context.Context, recipeID string, quantity float64) ([]MaterialUsage, error) {
	lines, err := d.recipeMaterials(ctx, recipeID)
	if err != nil {
		return nil, err
	}

	usage := make([]MaterialUsage, 0, len(lines))
	for _, line := range lines {
		usage = append(usage, MaterialUsage{
			MaterialID: line.MaterialID,
			Quantity:   line.QuantityPerUnit * quantity,
		})
	}
	return usage, nil
}

func insertRecipeMaterials(ctx context.Context, tx *sql.Tx, recipeID string, ingredients []RecipeIngredient) ([]RecipeMaterial, error) {
	lines := make([]RecipeMaterial, 0, len(ingredients))
	for _, ing := range ingredients {
		line := RecipeMaterial{
			ID:              uuid.NewString(),
			RecipeID:        recipeID,
			MaterialID:      ing.MaterialID,
			QuantityPerUnit: ing.QuantityPerUnit,
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recipe_materials (id, recipe_id, material_id, quantity_per_unit, synced)
			VALUES (?, ?, ?, ?, 0)
		`, line.ID, line.RecipeID, line.MaterialID, line.QuantityPerUnit)
		if err != nil {
			return nil, fmt.Errorf("insert recipe material: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (d *DB) recipeMaterials(ctx context.Context, recipeID string) ([]RecipeMaterial, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, recipe_id, material_id, quantity_per_unit
		FROM recipe_materials
		WHERE recipe_id = ?
	`, recipeID)
	if err != nil {
		return nil, fmt.Errorf("query recipe materials: %w", err)
	}
	defer rows.Close()

	lines := make([]RecipeMaterial, 0)
	for rows.Next() {
		var line RecipeMaterial
		if err := rows.Scan(&line.ID, &line.RecipeID, &line.MaterialID, &line.QuantityPerUnit); err != nil {
			return nil, fmt.Errorf("scan recipe material: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanRecipe(scanner interface{ Scan(...any) error }) (*Recipe, error) {
	var r Recipe
	var createdAt string
	var synced int

	if err := scanner.Scan(&r.ID, &r.ProductionTypeID, &r.Name, &r.Description, &createdAt, &synced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan recipe: %w", err)
	}

	r.Synced = synced == 1
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		r.CreatedAt = t
	}
	return &r, nil
}
