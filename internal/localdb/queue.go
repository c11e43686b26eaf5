package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Queue operations.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// QueueItem is one pending mutation awaiting replication to the remote
// store. Items are processed strictly in enqueue order and removed only
// after the remote apply succeeds.
type QueueItem struct {
	ID         int64           `json:"id"`
	Table      string          `json:"table"`
	RecordID   string          `json:"recordId"`
	Operation  string          `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempts   int             `json:"attempts"`
	LastError  *string         `json:"lastError,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// SyncStatus summarizes the queue and unsynced local rows for introspection.
type SyncStatus struct {
	QueueCount int            `json:"queueCount"`
	Dead       int            `json:"dead"`
	Unsynced   UnsyncedCounts `json:"unsynced"`
}

// UnsyncedCounts holds per-table counts of rows not yet marked synced.
type UnsyncedCounts struct {
	Materials  int `json:"materials"`
	Warehouse  int `json:"warehouse"`
	Recipes    int `json:"recipes"`
	Production int `json:"production"`
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// enqueue appends a mutation to the sync queue. It runs against either the
// database or an open transaction so domain writes journal atomically with
// the row they describe.
func enqueue(ctx context.Context, ex execer, table, recordID, operation string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO sync_queue (table_name, record_id, operation, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, table, recordID, operation, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("enqueue %s %s: %w", table, recordID, err)
	}
	return nil
}

// QueueItems returns every queued mutation in enqueue order.
func (d *DB) QueueItems(ctx context.Context) ([]QueueItem, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, table_name, record_id, operation, data, attempts, last_error, created_at
		FROM sync_queue
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sync queue: %w", err)
	}
	defer rows.Close()

	items := make([]QueueItem, 0)
	for rows.Next() {
		var item QueueItem
		var data sql.NullString
		var createdAt string
		if err := rows.Scan(&item.ID, &item.Table, &item.RecordID, &item.Operation,
			&data, &item.Attempts, &item.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		if data.Valid {
			item.Payload = json.RawMessage(data.String)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			item.EnqueuedAt = t
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// RemoveQueueItem deletes a queue item after its remote apply succeeded.
func (d *DB) RemoveQueueItem(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove queue item %d: %w", id, err)
	}
	return nil
}

// RecordQueueFailure increments the item's attempt counter and stores the
// latest error. The item stays queued; items past the engine's attempt
// threshold are skipped by later drain cycles.
func (d *DB) RecordQueueFailure(ctx context.Context, id int64, message string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE sync_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?
	`, message, id)
	if err != nil {
		return fmt.Errorf("record queue failure %d: %w", id, err)
	}
	return nil
}

// MarkSynced flags a local row as replicated. Unknown tables are a no-op;
// only domain tables carry a synced column.
func (d *DB) MarkSynced(ctx context.Context, table, recordID string) error {
	switch table {
	case "materials", "warehouse", "recipes", "recipe_materials",
		"production_types", "production", "production_materials":
	default:
		return nil
	}

	_, err := d.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET synced = 1 WHERE id = ?`, table), recordID)
	if err != nil {
		return fmt.Errorf("mark %s %s synced: %w", table, recordID, err)
	}
	return nil
}

// Status reports queue depth, dead items, and unsynced row counts.
// maxAttempts is the engine's dead-letter threshold.
func (d *DB) Status(ctx context.Context, maxAttempts int) (*SyncStatus, error) {
	status := &SyncStatus{}

	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue`).Scan(&status.QueueCount); err != nil {
		return nil, fmt.Errorf("count queue: %w", err)
	}
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE attempts >= ?`, maxAttempts).Scan(&status.Dead); err != nil {
		return nil, fmt.Errorf("count dead items: %w", err)
	}
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM materials WHERE synced = 0`).Scan(&status.Unsynced.Materials); err != nil {
		return nil, fmt.Errorf("count unsynced materials: %w", err)
	}
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM warehouse WHERE synced = 0`).Scan(&status.Unsynced.Warehouse); err != nil {
		return nil, fmt.Errorf("count unsynced warehouse: %w", err)
	}
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recipes WHERE synced = 0`).Scan(&status.Unsynced.Recipes); err != nil {
		return nil, fmt.Errorf("count unsynced recipes: %w", err)
	}
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM production WHERE synced = 0`).Scan(&status.Unsynced.Production); err != nil {
		return nil, fmt.Errorf("count unsynced production: %w", err)
	}

	return status, nil
}
