package api

import (
	"context"
	"net/http"
	"time"

	"github.com/fabriksoft/fabrikd/internal/localdb"
	fabsync "github.com/fabriksoft/fabrikd/internal/sync"
	"github.com/fabriksoft/fabrikd/internal/types"
)

// EntityStore serves the per-batch quality and shipment records.
// This interface allows testing with mock implementations.
type EntityStore interface {
	QualityAll(ctx context.Context) (map[string]types.QualityRecord, error)
	Quality(ctx context.Context, batchNumber string) (*types.QualityRecord, error)
	SetQuality(ctx context.Context, batchNumber string, rec types.QualityRecord) error
	ShipmentAll(ctx context.Context) (map[string]types.ShipmentRecord, error)
	Shipment(ctx context.Context, batchNumber string) (*types.ShipmentRecord, error)
	SetShipment(ctx context.Context, batchNumber string, rec types.ShipmentRecord) error
}

// ChangeStore serves the append-only change history.
type ChangeStore interface {
	Append(ctx context.Context, rec types.ChangeRecord) (string, error)
	Query(ctx context.Context, since *time.Time, batchNumber string) ([]types.ChangeRecord, error)
	LastUpdate(ctx context.Context) (time.Time, error)
}

// StatusReporter reports local queue health.
type StatusReporter interface {
	SyncStatus(ctx context.Context) (*localdb.SyncStatus, error)
}

// Drainer runs one sync drain cycle on demand.
type Drainer interface {
	Drain(ctx context.Context) (*fabsync.DrainResult, error)
}

// Handler implements the API handlers. The hub-mode fields (mirror, changes)
// and local-mode fields (status, drainer) are populated per deployment mode;
// NewRouter only mounts the routes whose dependencies exist.
type Handler struct {
	mirror  EntityStore
	changes ChangeStore
	status  StatusReporter
	drainer Drainer

	version       string
	mode          string
	backend       string
	exposeDetails bool
}

// NewHubHandler creates the handler for hub mode.
func NewHubHandler(mirror EntityStore, changes ChangeStore, version, backend string, exposeDetails bool) *Handler {
	return &Handler{
		mirror:        mirror,
		changes:       changes,
		version:       version,
		mode:          "hub",
		backend:       backend,
		exposeDetails: exposeDetails,
	}
}

// NewLocalHandler creates the handler for local mode.
func NewLocalHandler(status StatusReporter, drainer Drainer, version string, exposeDetails bool) *Handler {
	return &Handler{
		status:        status,
		drainer:       drainer,
		version:       version,
		mode:          "local",
		backend:       "sqlite",
		exposeDetails: exposeDetails,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Mode:    h.mode,
		Backend: h.backend,
	})
}
