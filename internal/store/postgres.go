package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fabriksoft/fabrikd/internal/types"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres is the durable storage backend. One row per batch per partition,
// primary-keyed by the batch number, plus a capped append-only change table
// indexed by timestamp and batch number.
type Postgres struct {
	db        *sql.DB
	retention int
}

// NewPostgres opens a connection pool for the given connection string and
// creates the schema if it does not exist. A failure here marks the process
// as in-memory for its lifetime; the caller does not retry.
func NewPostgres(connString string, retention int) (*Postgres, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	p := &Postgres{db: db, retention: retention}
	if err := p.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return p, nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quality (
			batch_number VARCHAR(255) PRIMARY KEY,
			status VARCHAR(50) NOT NULL,
			notes TEXT,
			checked_by VARCHAR(255),
			checked_date TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS shipments (
			batch_number VARCHAR(255) PRIMARY KEY,
			shipped BOOLEAN NOT NULL DEFAULT false,
			shipped_date TIMESTAMPTZ,
			shipped_by VARCHAR(255),
			notes TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sync_changes (
			id SERIAL PRIMARY KEY,
			change_id VARCHAR(255) UNIQUE NOT NULL,
			type VARCHAR(50) NOT NULL,
			batch_number VARCHAR(255) NOT NULL,
			data JSONB,
			source VARCHAR(50),
			timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_timestamp ON sync_changes(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_batch ON sync_changes(batch_number)`,
	}

	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

// GetPartition reads every row of the partition table into a keyed map.
func (p *Postgres) GetPartition(ctx context.Context, part Partition) (map[string]json.RawMessage, error) {
	switch part {
	case PartitionQuality:
		return p.getQuality(ctx)
	case PartitionShipment:
		return p.getShipments(ctx)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartition, part)
	}
}

// SetPartition upserts every entry of doc in one transaction.
func (p *Postgres) SetPartition(ctx context.Context, part Partition, doc map[string]json.RawMessage) error {
	if !validPartition(part) {
		return fmt.Errorf("%w: %s", ErrUnknownPartition, part)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for batch, raw := range doc {
		switch part {
		case PartitionQuality:
			err = upsertQuality(ctx, tx, batch, raw)
		case PartitionShipment:
			err = upsertShipment(ctx, tx, batch, raw)
		}
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) getQuality(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT batch_number, status, notes, checked_by, checked_date, updated_at
		FROM quality
	`)
	if err != nil {
		return nil, fmt.Errorf("query quality: %w", err)
	}
	defer rows.Close()

	doc := make(map[string]json.RawMessage)
	for rows.Next() {
		var batch string
		var rec types.QualityRecord
		if err := rows.Scan(&batch, &rec.Status, &rec.Notes, &rec.CheckedBy, &rec.CheckedDate, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan quality row: %w", err)
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal quality record: %w", err)
		}
		doc[batch] = raw
	}
	return doc, rows.Err()
}

func (p *Postgres) getShipments(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT batch_number, shipped, shipped_date, shipped_by, notes, updated_at
		FROM shipments
	`)
	if err != nil {
		return nil, fmt.Errorf("query shipments: %w", err)
	}
	defer rows.Close()

	doc := make(map[string]json.RawMessage)
	for rows.Next() {
		var batch string
		var rec types.ShipmentRecord
		var shippedDate sql.NullTime
		if err := rows.Scan(&batch, &rec.Shipped, &shippedDate, &rec.ShippedBy, &rec.Notes, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan shipment row: %w", err)
		}
		if shippedDate.Valid {
			rec.ShippedDate = shippedDate.Time
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal shipment record: %w", err)
		}
		doc[batch] = raw
	}
	return doc, rows.Err()
}

func upsertQuality(ctx context.Context, tx *sql.Tx, batch string, raw json.RawMessage) error {
	var rec types.QualityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("unmarshal quality record %q: %w", batch, err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO quality (batch_number, status, notes, checked_by, checked_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (batch_number)
		DO UPDATE SET
			status = EXCLUDED.status,
			notes = EXCLUDED.notes,
			checked_by = EXCLUDED.checked_by,
			checked_date = EXCLUDED.checked_date,
			updated_at = CURRENT_TIMESTAMP
	`, batch, rec.Status, rec.Notes, rec.CheckedBy, rec.CheckedDate)
	if err != nil {
		return fmt.Errorf("upsert quality %q: %w", batch, err)
	}
	return nil
}

func upsertShipment(ctx context.Context, tx *sql.Tx, batch string, raw json.RawMessage) error {
	var rec types.ShipmentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("unmarshal shipment record %q: %w", batch, err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO shipments (batch_number, shipped, shipped_date, shipped_by, notes, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (batch_number)
		DO UPDATE SET
			shipped = EXCLUDED.shipped,
			shipped_date = EXCLUDED.shipped_date,
			shipped_by = EXCLUDED.shipped_by,
			notes = EXCLUDED.notes,
			updated_at = CURRENT_TIMESTAMP
	`, batch, rec.Shipped, rec.ShippedDate, rec.ShippedBy, rec.Notes)
	if err != nil {
		return fmt.Errorf("upsert shipment %q: %w", batch, err)
	}
	return nil
}

// AppendChange inserts the record, ignoring duplicate change IDs, then trims
// the change table back to the retention cap. Trim failures are swallowed;
// the next successful append retries the trim.
func (p *Postgres) AppendChange(ctx context.Context, rec types.ChangeRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sync_changes (change_id, type, batch_number, data, source, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (change_id) DO NOTHING
	`, rec.ID, string(rec.Kind), rec.BatchNumber, nullableRaw(rec.Data), rec.Source, ts)
	if err != nil {
		return fmt.Errorf("append change: %w", err)
	}

	_, _ = p.db.ExecContext(ctx, `
		DELETE FROM sync_changes
		WHERE id NOT IN (
			SELECT id FROM sync_changes
			ORDER BY timestamp DESC
			LIMIT $1
		)
	`, p.retention)
	return nil
}

// QueryChanges returns matching records newest-first, capped at limit.
func (p *Postgres) QueryChanges(ctx context.Context, since *time.Time, batchNumber string, limit int) ([]types.ChangeRecord, error) {
	if limit <= 0 || limit > p.retention {
		limit = p.retention
	}

	query := `
		SELECT change_id, type, batch_number, data, source, timestamp
		FROM sync_changes WHERE 1=1`
	args := []any{}

	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(" AND timestamp > $%d", len(args))
	}
	if batchNumber != "" {
		args = append(args, batchNumber)
		query += fmt.Sprintf(" AND batch_number = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	changes := make([]types.ChangeRecord, 0)
	for rows.Next() {
		var rec types.ChangeRecord
		var kind string
		var data sql.NullString
		var source sql.NullString
		if err := rows.Scan(&rec.ID, &kind, &rec.BatchNumber, &data, &source, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan change row: %w", err)
		}
		rec.Kind = types.ChangeKind(kind)
		if data.Valid {
			rec.Data = json.RawMessage(data.String)
		}
		if source.Valid {
			rec.Source = source.String
		}
		changes = append(changes, rec)
	}
	return changes, rows.Err()
}

// LastUpdate returns the newest change timestamp, or now for an empty log.
func (p *Postgres) LastUpdate(ctx context.Context) (time.Time, error) {
	var last sql.NullTime
	err := p.db.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM sync_changes`).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("query last update: %w", err)
	}
	if !last.Valid {
		return time.Now().UTC(), nil
	}
	return last.Time, nil
}

// Name identifies the backend in health responses and logs.
func (p *Postgres) Name() string { return "postgres" }

// Close closes the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

func nullableRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
