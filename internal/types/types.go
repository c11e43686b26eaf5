package types

import (
	"encoding/json"
	"time"
)

// ChangeKind classifies a change record by the entity it mirrors.
type ChangeKind string

const (
	KindQuality    ChangeKind = "quality"
	KindShipment   ChangeKind = "shipment"
	KindProduction ChangeKind = "production"
)

// QualityRecord is the current quality status of a batch.
// Writes are full replacements; callers supply every field on every write.
type QualityRecord struct {
	Status      string    `json:"status"`
	Notes       *string   `json:"notes"`
	CheckedBy   *string   `json:"checkedBy"`
	CheckedDate time.Time `json:"checkedDate"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ShipmentRecord is the current shipment status of a batch.
type ShipmentRecord struct {
	Shipped     bool      `json:"shipped"`
	ShippedDate time.Time `json:"shippedDate"`
	ShippedBy   *string   `json:"shippedBy"`
	Notes       *string   `json:"notes"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ChangeRecord is one immutable entry in the change log. Clients poll the
// log with a timestamp cursor to converge on a shared view of batch state.
type ChangeRecord struct {
	ID          string          `json:"id"`
	Kind        ChangeKind      `json:"type"`
	BatchNumber string          `json:"batchNumber"`
	Data        json.RawMessage `json:"data,omitempty"`
	Source      string          `json:"source"`
	Timestamp   time.Time       `json:"timestamp"`
}

// QualityRequest is the body of POST /api/quality.
type QualityRequest struct {
	BatchNumber string  `json:"batchNumber"`
	Status      string  `json:"status"`
	Notes       *string `json:"notes"`
	CheckedBy   *string `json:"checkedBy"`
	Source      string  `json:"source,omitempty"`
}

// ShipmentRequest is the body of POST /api/shipment.
// Shipped defaults to true and ShippedDate to the current time when omitted.
type ShipmentRequest struct {
	BatchNumber string  `json:"batchNumber"`
	Shipped     *bool   `json:"shipped"`
	ShippedDate string  `json:"shippedDate,omitempty"`
	ShippedBy   *string `json:"shippedBy"`
	Notes       *string `json:"notes"`
	Source      string  `json:"source,omitempty"`
}

// RegisterChangeRequest is the body of POST /api/sync in hub mode.
type RegisterChangeRequest struct {
	Type        ChangeKind      `json:"type"`
	BatchNumber string          `json:"batchNumber"`
	Data        json.RawMessage `json:"data,omitempty"`
	Source      string          `json:"source,omitempty"`
}

// RegisterChangeResponse acknowledges a registered change.
type RegisterChangeResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	ChangeID  string    `json:"changeId"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangesResponse is the body of GET /api/sync in hub mode.
type ChangesResponse struct {
	Success    bool           `json:"success"`
	LastUpdate time.Time      `json:"lastUpdate"`
	Changes    []ChangeRecord `json:"changes"`
	Count      int            `json:"count"`
}

// HealthResponse reports process health and the selected storage backend.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Mode    string `json:"mode"`
	Backend string `json:"backend"`
}
